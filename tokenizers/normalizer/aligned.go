// Package normalizer implements the normalization steps applied to the text before segmentation,
// keeping track, for every byte of the normalized text, of the span of the original text it came from.
package normalizer

import (
	"unicode/utf8"

	"github.com/gomlx/go-subword/tokenizers/api"
	"golang.org/x/text/unicode/norm"
)

// Aligned is a transformed text that remembers, for each of its bytes, the span (in bytes) of the
// original text that produced it.
//
// Alignments are monotone: the spans of consecutive bytes never go backwards. All the bytes of one
// rune of the original share the span of the whole rune.
type Aligned struct {
	text  string
	align []api.TokenSpan
}

// NewAligned returns the identity alignment of text.
func NewAligned(text string) *Aligned {
	align := make([]api.TokenSpan, len(text))
	for pos := 0; pos < len(text); {
		_, size := utf8.DecodeRuneInString(text[pos:])
		for i := pos; i < pos+size; i++ {
			align[i] = api.TokenSpan{Start: pos, End: pos + size}
		}
		pos += size
	}
	return &Aligned{text: text, align: align}
}

// Text returns the current (transformed) text.
func (a *Aligned) Text() string {
	return a.text
}

// Len returns the length in bytes of the current text.
func (a *Aligned) Len() int {
	return len(a.text)
}

// Alignment returns the original span of the byte at pos of the current text.
func (a *Aligned) Alignment(pos int) api.TokenSpan {
	return a.align[pos]
}

// Span returns the original span covered by the bytes [start, end) of the current text.
// An empty range maps to a zero-width span at the corresponding original position.
func (a *Aligned) Span(start, end int) api.TokenSpan {
	if start >= end {
		switch {
		case start < len(a.align):
			pos := a.align[start].Start
			return api.TokenSpan{Start: pos, End: pos}
		case len(a.align) > 0:
			pos := a.align[len(a.align)-1].End
			return api.TokenSpan{Start: pos, End: pos}
		default:
			return api.TokenSpan{}
		}
	}
	return api.TokenSpan{Start: a.align[start].Start, End: a.align[end-1].End}
}

// Slice returns the sub-range [start, end) of the current text, with its alignments.
// The returned value shares memory with a.
func (a *Aligned) Slice(start, end int) *Aligned {
	return &Aligned{text: a.text[start:end], align: a.align[start:end]}
}

// runeSpan returns the original span of the rune of the current text starting at pos with the given size.
func (a *Aligned) runeSpan(pos, size int) api.TokenSpan {
	return api.TokenSpan{Start: a.align[pos].Start, End: a.align[pos+size-1].End}
}

// builder accumulates a transformed text and its alignments.
type builder struct {
	text  []byte
	align []api.TokenSpan
}

func newBuilder(capacity int) *builder {
	return &builder{text: make([]byte, 0, capacity), align: make([]api.TokenSpan, 0, capacity)}
}

func (b *builder) writeString(s string, span api.TokenSpan) {
	b.text = append(b.text, s...)
	for range len(s) {
		b.align = append(b.align, span)
	}
}

func (b *builder) writeRune(r rune, span api.TokenSpan) {
	before := len(b.text)
	b.text = utf8.AppendRune(b.text, r)
	for range len(b.text) - before {
		b.align = append(b.align, span)
	}
}

func (b *builder) aligned() *Aligned {
	return &Aligned{text: string(b.text), align: b.align}
}

// MapRunes returns a new Aligned where each rune is replaced by the output of fn, which may be empty
// (to remove the rune) or have several runes. All output bytes take the span of the input rune.
func (a *Aligned) MapRunes(fn func(r rune) string) *Aligned {
	b := newBuilder(len(a.text))
	for pos := 0; pos < len(a.text); {
		r, size := utf8.DecodeRuneInString(a.text[pos:])
		b.writeString(fn(r), a.runeSpan(pos, size))
		pos += size
	}
	return b.aligned()
}

// MapBytes returns a new Aligned where each byte is replaced by the rune returned by fn. It's used by the
// byte-level pre-tokenizer, that maps each byte to a printable rune.
func (a *Aligned) MapBytes(fn func(b byte) rune) *Aligned {
	b := newBuilder(len(a.text) * 2)
	for i := 0; i < len(a.text); i++ {
		b.writeRune(fn(a.text[i]), a.align[i])
	}
	return b.aligned()
}

// Normalize applies the Unicode normalization form. Text is normalized one normalization segment at a
// time (a starter and its combining marks), and each output segment takes the span of its input.
func (a *Aligned) Normalize(form norm.Form) *Aligned {
	if form.IsNormalString(a.text) {
		return a
	}
	b := newBuilder(len(a.text))
	for start := 0; start < len(a.text); {
		size := form.NextBoundaryInString(a.text[start:], true)
		if size <= 0 {
			size = len(a.text) - start
		}
		segment := a.text[start : start+size]
		b.writeString(form.String(segment), a.runeSpan(start, size))
		start += size
	}
	return b.aligned()
}

// Prepend inserts s at the start of the text. The inserted bytes are aligned to a zero-width span at
// the start of the original span of the text.
func (a *Aligned) Prepend(s string) *Aligned {
	var anchor api.TokenSpan
	if len(a.align) > 0 {
		anchor = api.TokenSpan{Start: a.align[0].Start, End: a.align[0].Start}
	}
	b := newBuilder(len(s) + len(a.text))
	b.writeString(s, anchor)
	b.text = append(b.text, a.text...)
	b.align = append(b.align, a.align...)
	return b.aligned()
}

// CollapseSpaces removes leading and trailing ASCII spaces, and replaces runs of spaces with a single one.
func (a *Aligned) CollapseSpaces() *Aligned {
	b := newBuilder(len(a.text))
	pendingSpace := -1
	for i := 0; i < len(a.text); i++ {
		if a.text[i] == ' ' {
			if pendingSpace < 0 && len(b.text) > 0 {
				pendingSpace = i
			}
			continue
		}
		if pendingSpace >= 0 {
			b.text = append(b.text, ' ')
			b.align = append(b.align, a.align[pendingSpace])
			pendingSpace = -1
		}
		b.text = append(b.text, a.text[i])
		b.align = append(b.align, a.align[i])
	}
	return b.aligned()
}
