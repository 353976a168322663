// Package pretokenizer splits normalized text into the units ("words") that the subword engines then
// split into tokens. Splitting never crosses a unit boundary: engines see one unit at a time.
package pretokenizer

import (
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/gomlx/go-subword/tokenizers/normalizer"
	"github.com/pkg/errors"
)

// Unit is one pre-segmented piece of text, with its alignment to the original text.
type Unit struct {
	*normalizer.Aligned

	// Kind is KindPunctuation, KindCJK or KindWhitespace for units made only of those, KindNone otherwise.
	Kind api.TokenKind
}

// PreTokenizer splits an aligned text in units.
//
// The returned sequence is lazy, finite and can be iterated more than once.
// Implementations hold no mutable state and are safe for concurrent use.
type PreTokenizer interface {
	Split(text *normalizer.Aligned) iter.Seq[Unit]
}

// FromConfig returns the PreTokenizer configured in cfg.
func FromConfig(cfg *api.Config) (PreTokenizer, error) {
	switch cfg.PreTokenizer {
	case api.PreTokenizerBert:
		return Bert{HandleCJK: cfg.HandleCJK}, nil
	case api.PreTokenizerWhitespace:
		return Whitespace{}, nil
	case api.PreTokenizerWhitespaceSplit, "":
		return WhitespaceSplit{}, nil
	case api.PreTokenizerByteLevel:
		if cfg.SplitPattern != "" {
			b, err := NewByteLevelWithPattern(cfg.AddPrefixSpace, cfg.SplitPattern)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid split pattern %q", cfg.SplitPattern)
			}
			return b, nil
		}
		return NewByteLevel(cfg.AddPrefixSpace), nil
	case api.PreTokenizerMetaspace:
		return Metaspace{Replacement: MetaspaceReplacement, AddPrefixSpace: cfg.AddPrefixSpace}, nil
	case api.PreTokenizerPunctuation:
		return Punctuation{}, nil
	}
	return nil, errors.Errorf("unknown pre-tokenizer %q", cfg.PreTokenizer)
}

// IsPunctuation reports whether r is punctuation. All non-alphanumeric ASCII symbols count as
// punctuation, even the ones Unicode classifies as symbols (like "$" or "^").
func IsPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

// IsCJK reports whether r is in one of the CJK Unified Ideographs blocks.
func IsCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF,
		r >= 0x3400 && r <= 0x4DBF,
		r >= 0x20000 && r <= 0x2A6DF,
		r >= 0x2A700 && r <= 0x2B73F,
		r >= 0x2B740 && r <= 0x2B81F,
		r >= 0x2B820 && r <= 0x2CEAF,
		r >= 0xF900 && r <= 0xFAFF,
		r >= 0x2F800 && r <= 0x2FA1F:
		return true
	}
	return false
}

// classify returns the rune class of r used to split text: a rune of class KindNone is part of
// a word, KindWhitespace separates words, and KindPunctuation or KindCJK are units of their own.
type classify func(r rune) api.TokenKind

// splitByClass yields the units of text according to the class of each rune.
func splitByClass(text *normalizer.Aligned, class classify) iter.Seq[Unit] {
	return func(yield func(Unit) bool) {
		s := text.Text()
		wordStart := -1
		for pos := 0; pos < len(s); {
			r, size := utf8.DecodeRuneInString(s[pos:])
			kind := class(r)
			if kind == api.KindNone {
				if wordStart < 0 {
					wordStart = pos
				}
				pos += size
				continue
			}
			if wordStart >= 0 {
				if !yield(Unit{Aligned: text.Slice(wordStart, pos)}) {
					return
				}
				wordStart = -1
			}
			if kind != api.KindWhitespace {
				if !yield(Unit{Aligned: text.Slice(pos, pos+size), Kind: kind}) {
					return
				}
			}
			pos += size
		}
		if wordStart >= 0 {
			yield(Unit{Aligned: text.Slice(wordStart, len(s))})
		}
	}
}

// Bert splits on whitespace and punctuation, each punctuation character being a unit of its own.
// With HandleCJK each CJK ideograph is also a unit of its own.
type Bert struct {
	HandleCJK bool
}

// Split implements PreTokenizer.
func (b Bert) Split(text *normalizer.Aligned) iter.Seq[Unit] {
	return splitByClass(text, func(r rune) api.TokenKind {
		switch {
		case unicode.IsSpace(r):
			return api.KindWhitespace
		case IsPunctuation(r):
			return api.KindPunctuation
		case b.HandleCJK && IsCJK(r):
			return api.KindCJK
		}
		return api.KindNone
	})
}

// WhitespaceSplit splits on whitespace only.
type WhitespaceSplit struct{}

// Split implements PreTokenizer.
func (WhitespaceSplit) Split(text *normalizer.Aligned) iter.Seq[Unit] {
	return splitByClass(text, func(r rune) api.TokenKind {
		if unicode.IsSpace(r) {
			return api.KindWhitespace
		}
		return api.KindNone
	})
}

// Punctuation isolates each punctuation character, leaving everything else untouched.
type Punctuation struct{}

// Split implements PreTokenizer.
func (Punctuation) Split(text *normalizer.Aligned) iter.Seq[Unit] {
	return func(yield func(Unit) bool) {
		s := text.Text()
		start := 0
		for pos, r := range s {
			if !IsPunctuation(r) {
				continue
			}
			if start < pos && !yield(Unit{Aligned: text.Slice(start, pos)}) {
				return
			}
			size := utf8.RuneLen(r)
			if !yield(Unit{Aligned: text.Slice(pos, pos+size), Kind: api.KindPunctuation}) {
				return
			}
			start = pos + size
		}
		if start < len(s) {
			yield(Unit{Aligned: text.Slice(start, len(s))})
		}
	}
}

// MetaspaceReplacement is the rune SentencePiece uses to represent spaces.
const MetaspaceReplacement = '▁'

// Metaspace replaces spaces with Replacement and splits the text before each one, so that each unit
// starts with the replacement rune. With AddPrefixSpace a replacement is prepended to the text if it
// doesn't start with one.
type Metaspace struct {
	Replacement    rune
	AddPrefixSpace bool
}

// Split implements PreTokenizer.
func (m Metaspace) Split(text *normalizer.Aligned) iter.Seq[Unit] {
	replacement := m.Replacement
	if replacement == 0 {
		replacement = MetaspaceReplacement
	}
	rs := string(replacement)
	return func(yield func(Unit) bool) {
		if text.Len() == 0 {
			return
		}
		replaced := text.MapRunes(func(r rune) string {
			if r == ' ' {
				return rs
			}
			return string(r)
		})
		if m.AddPrefixSpace && !strings.HasPrefix(replaced.Text(), rs) {
			replaced = replaced.Prepend(rs)
		}
		s := replaced.Text()
		start := 0
		_, first := utf8.DecodeRuneInString(s)
		for pos := first; pos < len(s); {
			next := strings.Index(s[pos:], rs)
			if next < 0 {
				break
			}
			pos += next
			if pos > start {
				if !yield(Unit{Aligned: replaced.Slice(start, pos)}) {
					return
				}
				start = pos
			}
			pos += len(rs)
		}
		if start < len(s) {
			yield(Unit{Aligned: replaced.Slice(start, len(s))})
		}
	}
}

// Sequence applies each PreTokenizer to the units produced by the previous one.
type Sequence []PreTokenizer

// Split implements PreTokenizer.
func (seq Sequence) Split(text *normalizer.Aligned) iter.Seq[Unit] {
	return func(yield func(Unit) bool) {
		var walk func(level int, u Unit) bool
		walk = func(level int, u Unit) bool {
			if level == len(seq) {
				return yield(u)
			}
			for sub := range seq[level].Split(u.Aligned) {
				if sub.Kind == api.KindNone {
					sub.Kind = u.Kind
				}
				if !walk(level+1, sub) {
					return false
				}
			}
			return true
		}
		walk(0, Unit{Aligned: text})
	}
}
