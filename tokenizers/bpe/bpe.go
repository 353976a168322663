// Package bpe implements the byte-pair encoding subword algorithm: starting from the characters of a
// unit, adjacent symbols are repeatedly merged, lowest merge rank first, until no ranked pair is left.
package bpe

import (
	"cmp"
	"fmt"
	"strings"
	"unicode/utf8"

	heap "github.com/emirpasic/gods/v2/trees/binaryheap"
	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/gomlx/go-subword/tokenizers/vocab"
	"k8s.io/klog/v2"
)

// Options of the BPE engine.
type Options struct {
	// ContinuingSubwordPrefix is prepended to every initial symbol but the first of a unit.
	ContinuingSubwordPrefix string

	// EndOfWordSuffix is appended to the last initial symbol of a unit, "</w>" for OpenAI GPT and CTRL.
	EndOfWordSuffix string

	// NonFinalSuffix, if set, is appended to every final piece but the last one, and EndOfWordSuffix is
	// then removed from the last one ("@@" for CTRL).
	NonFinalSuffix string

	// IgnoreMerges returns units found whole in the vocabulary directly, without merging.
	IgnoreMerges bool

	// ByteFallback maps pieces missing from the vocabulary to their "<0xXX>" byte tokens, when the
	// vocabulary has all of them.
	ByteFallback bool

	// FuseUnknown merges consecutive unknown tokens into one spanning them all.
	FuseUnknown bool

	// CacheCapacity is the number of units kept in the cache, 0 disables caching.
	CacheCapacity int
}

// BPE is the byte-pair encoding engine. It is safe for concurrent use: the vocabulary and merges are
// read-only, and the cache is internally synchronized.
type BPE struct {
	vocab  *vocab.Vocabulary
	merges *vocab.MergeTable
	opts   Options
	cache  *Cache
}

var _ api.SubwordAlgorithm = (*BPE)(nil)

// New creates a BPE engine.
func New(v *vocab.Vocabulary, merges *vocab.MergeTable, opts Options) (*BPE, error) {
	cache, err := NewCache(opts.CacheCapacity)
	if err != nil {
		return nil, err
	}
	return &BPE{vocab: v, merges: merges, opts: opts, cache: cache}, nil
}

// Cache returns the engine's cache, nil if disabled.
func (b *BPE) Cache() *Cache {
	return b.cache
}

// symbol is one node of the doubly-linked list of symbols of a unit being merged.
// Merged-away symbols have an empty text.
type symbol struct {
	text       string
	start, end int // Byte span in the unit.
	prev, next int
}

// candidate is a pair of adjacent symbols that can be merged, as stored in the heap.
type candidate struct {
	rank      int
	left      int
	leftText  string
	rightText string
}

// Split implements api.SubwordAlgorithm.
func (b *BPE) Split(unit string) []api.Token {
	if unit == "" {
		return nil
	}
	if tokens, found := b.cache.Get(unit); found {
		return tokens
	}
	tokens := b.split(unit)
	b.cache.Add(unit, tokens)
	return tokens
}

func (b *BPE) split(unit string) []api.Token {
	if b.opts.IgnoreMerges {
		if id, found := b.vocab.Lookup(unit); found {
			return []api.Token{{Text: unit, ID: id, Span: api.TokenSpan{Start: 0, End: len(unit)}}}
		}
	}
	symbols := b.initialSymbols(unit)
	b.merge(symbols)
	return b.tokens(unit, symbols)
}

func (b *BPE) initialSymbols(unit string) []symbol {
	symbols := make([]symbol, 0, utf8.RuneCountInString(unit))
	for pos := 0; pos < len(unit); {
		_, size := utf8.DecodeRuneInString(unit[pos:])
		text := unit[pos : pos+size]
		if pos > 0 && b.opts.ContinuingSubwordPrefix != "" {
			text = b.opts.ContinuingSubwordPrefix + text
		}
		n := len(symbols)
		symbols = append(symbols, symbol{text: text, start: pos, end: pos + size, prev: n - 1, next: n + 1})
		pos += size
	}
	symbols[len(symbols)-1].text += b.opts.EndOfWordSuffix
	return symbols
}

func (b *BPE) pair(symbols []symbol, left int) (candidate, bool) {
	if left < 0 {
		return candidate{}, false
	}
	right := symbols[left].next
	if right >= len(symbols) {
		return candidate{}, false
	}
	rank, found := b.merges.Rank(symbols[left].text, symbols[right].text)
	if !found {
		return candidate{}, false
	}
	return candidate{rank: rank, left: left, leftText: symbols[left].text, rightText: symbols[right].text}, true
}

// merge applies the ranked merges in order, leftmost first among equal ranks.
func (b *BPE) merge(symbols []symbol) {
	candidates := heap.NewWith(func(x, y candidate) int {
		if c := cmp.Compare(x.rank, y.rank); c != 0 {
			return c
		}
		return cmp.Compare(x.left, y.left)
	})
	for i := range len(symbols) - 1 {
		if c, found := b.pair(symbols, i); found {
			candidates.Push(c)
		}
	}
	for !candidates.Empty() {
		c, _ := candidates.Pop()
		left := &symbols[c.left]
		if left.text != c.leftText || left.next >= len(symbols) {
			continue
		}
		rightIdx := left.next
		right := &symbols[rightIdx]
		if right.text != c.rightText {
			// Stale: one of the symbols was merged since the candidate was pushed.
			continue
		}
		left.text += strings.TrimPrefix(right.text, b.opts.ContinuingSubwordPrefix)
		left.end = right.end
		left.next = right.next
		if right.next < len(symbols) {
			symbols[right.next].prev = c.left
		}
		right.text = ""
		if p, found := b.pair(symbols, left.prev); found {
			candidates.Push(p)
		}
		if p, found := b.pair(symbols, c.left); found {
			candidates.Push(p)
		}
	}
}

// tokens converts the remaining symbols to tokens.
func (b *BPE) tokens(unit string, symbols []symbol) []api.Token {
	var pieces []symbol
	for i := 0; i < len(symbols); i = symbols[i].next {
		pieces = append(pieces, symbols[i])
	}
	if b.opts.NonFinalSuffix != "" {
		for i := range pieces {
			if i < len(pieces)-1 {
				pieces[i].text += b.opts.NonFinalSuffix
			} else {
				pieces[i].text = strings.TrimSuffix(pieces[i].text, b.opts.EndOfWordSuffix)
			}
		}
	}
	tokens := make([]api.Token, 0, len(pieces))
	unknownID := b.vocab.UnknownID()
	for i, p := range pieces {
		span := api.TokenSpan{Start: p.start, End: p.end}
		kind := api.KindBegin
		if i > 0 {
			kind = api.KindContinuation
		}
		id, found := b.vocab.Lookup(p.text)
		if !found && b.opts.ByteFallback {
			if byteTokens, ok := b.byteTokens(unit[p.start:p.end], span); ok {
				tokens = append(tokens, byteTokens...)
				continue
			}
		}
		if !found {
			if unknownID < 0 {
				klog.V(3).Infof("bpe: dropping symbol %q of %q, no unknown token in vocabulary", p.text, unit)
				continue
			}
			klog.V(3).Infof("bpe: symbol %q of %q mapped to unknown", p.text, unit)
			if last := len(tokens) - 1; b.opts.FuseUnknown && last >= 0 && tokens[last].Kind == api.KindUnknown {
				tokens[last].Span.End = span.End
				continue
			}
			unknownText, _ := b.vocab.TokenOf(unknownID)
			tokens = append(tokens, api.Token{Text: unknownText, ID: unknownID, Span: span, Kind: api.KindUnknown})
			continue
		}
		tokens = append(tokens, api.Token{Text: p.text, ID: id, Span: span, Kind: kind})
	}
	if len(tokens) == 1 && tokens[0].Kind != api.KindUnknown {
		tokens[0].Kind = api.KindNone
	}
	return tokens
}

// byteTokens returns one "<0xXX>" token per byte of text, all with the span of the whole piece.
func (b *BPE) byteTokens(text string, span api.TokenSpan) ([]api.Token, bool) {
	tokens := make([]api.Token, 0, len(text))
	for i := range len(text) {
		piece := fmt.Sprintf("<0x%02X>", text[i])
		id, found := b.vocab.Lookup(piece)
		if !found {
			return nil, false
		}
		tokens = append(tokens, api.Token{Text: piece, ID: id, Span: span, Kind: api.KindContinuation})
	}
	return tokens, true
}
