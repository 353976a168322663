// Package wordpiece implements the WordPiece subword algorithm: greedy longest-match-first
// splitting of each unit into vocabulary pieces.
package wordpiece

import (
	"unicode/utf8"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/gomlx/go-subword/tokenizers/vocab"
	"k8s.io/klog/v2"
)

// DefaultMaxInputCharsPerWord is the length (in runes) above which a unit is mapped directly to unknown.
const DefaultMaxInputCharsPerWord = 100

// Options of the WordPiece engine.
type Options struct {
	// ContinuingSubwordPrefix marks pieces that continue a word, "##" for BERT.
	ContinuingSubwordPrefix string

	// WordStartPrefix marks pieces that start a word instead, "▁" in GGML vocabularies.
	// If set, ContinuingSubwordPrefix is usually empty.
	WordStartPrefix string

	// MaxInputCharsPerWord defaults to DefaultMaxInputCharsPerWord if 0.
	MaxInputCharsPerWord int
}

// WordPiece splits units in the longest vocabulary pieces, left to right.
// It is read-only after creation and safe for concurrent use.
type WordPiece struct {
	vocab *vocab.Vocabulary
	opts  Options
}

var _ api.SubwordAlgorithm = (*WordPiece)(nil)

// New creates a WordPiece engine over v.
func New(v *vocab.Vocabulary, opts Options) *WordPiece {
	if opts.MaxInputCharsPerWord <= 0 {
		opts.MaxInputCharsPerWord = DefaultMaxInputCharsPerWord
	}
	return &WordPiece{vocab: v, opts: opts}
}

// Split implements api.SubwordAlgorithm.
//
// If at any point no piece matches, the whole unit becomes a single unknown token. If the vocabulary
// has no unknown token, the unit is dropped.
func (wp *WordPiece) Split(unit string) []api.Token {
	if unit == "" {
		return nil
	}
	if utf8.RuneCountInString(unit) > wp.opts.MaxInputCharsPerWord {
		return wp.unknown(unit)
	}
	var tokens []api.Token
	for start := 0; start < len(unit); {
		var (
			piece string
			id    int
			found bool
			end   = len(unit)
		)
		for end > start {
			piece = unit[start:end]
			if start == 0 {
				piece = wp.opts.WordStartPrefix + piece
			} else {
				piece = wp.opts.ContinuingSubwordPrefix + piece
			}
			if id, found = wp.vocab.Lookup(piece); found {
				break
			}
			// Shrink by one rune.
			_, size := utf8.DecodeLastRuneInString(unit[start:end])
			end -= size
		}
		if !found {
			return wp.unknown(unit)
		}
		kind := api.KindBegin
		if start > 0 {
			kind = api.KindContinuation
		}
		tokens = append(tokens, api.Token{Text: piece, ID: id, Span: api.TokenSpan{Start: start, End: end}, Kind: kind})
		start = end
	}
	if len(tokens) == 1 {
		tokens[0].Kind = api.KindNone
	}
	return tokens
}

func (wp *WordPiece) unknown(unit string) []api.Token {
	id := wp.vocab.UnknownID()
	if id < 0 {
		klog.V(3).Infof("wordpiece: dropping %q, no unknown token in vocabulary", unit)
		return nil
	}
	klog.V(3).Infof("wordpiece: %q mapped to unknown", unit)
	text, _ := wp.vocab.TokenOf(id)
	return []api.Token{{Text: text, ID: id, Span: api.TokenSpan{Start: 0, End: len(unit)}, Kind: api.KindUnknown}}
}
