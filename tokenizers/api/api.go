// Package api defines the Tokenizer API and the types shared by all the tokenizer components.
// It's kept free of implementation, so that the normalizers, the subword engines, the encoder and the
// loaders can all depend on it without depending on each other.
package api

import (
	"fmt"
	"iter"
)

// TokenSpan represents the span of a token in the original text.
// By default Start and End are byte offsets (not rune offsets), suitable for slicing
// Go strings directly: originalText[span.Start:span.End].
// If Config.OffsetUnit is OffsetRunes, they are code point offsets instead.
type TokenSpan struct {
	Start int // start position (inclusive)
	End   int // end position (exclusive)
}

// NoSpan is the sentinel span of tokens that don't come from the text, like the special tokens
// inserted by the encoder or padding. It is distinct from any zero-width span {k, k}.
var NoSpan = TokenSpan{Start: -1, End: -1}

// IsNone returns whether the span is the NoSpan sentinel.
func (s TokenSpan) IsNone() bool {
	return s.Start < 0
}

// Len returns the length of the span, 0 for NoSpan.
func (s TokenSpan) Len() int {
	if s.IsNone() {
		return 0
	}
	return s.End - s.Start
}

func (s TokenSpan) String() string {
	if s.IsNone() {
		return "(none)"
	}
	return fmt.Sprintf("(%d,%d)", s.Start, s.End)
}

// TokenKind classifies a token. A token that is neither a word piece nor special keeps KindNone.
type TokenKind int

const (
	// KindNone is the default kind.
	KindNone TokenKind = iota
	// KindWhitespace marks a token representing whitespace.
	KindWhitespace
	// KindPunctuation marks a token made of punctuation.
	KindPunctuation
	// KindCJK marks a single Chinese/Japanese/Korean character.
	KindCJK
	// KindSpecial marks a special token, either matched in the text or inserted by the encoder.
	KindSpecial
	// KindBegin marks the first piece of a word split in several pieces.
	KindBegin
	// KindContinuation marks the following pieces of a word split in several pieces.
	KindContinuation
	// KindUnknown marks a token that fell back to the unknown id.
	KindUnknown
)

var tokenKindNames = [...]string{"none", "whitespace", "punctuation", "cjk", "special", "begin", "continuation", "unknown"}

func (k TokenKind) String() string {
	if k < 0 || int(k) >= len(tokenKindNames) {
		return fmt.Sprintf("TokenKind(%d)", int(k))
	}
	return tokenKindNames[k]
}

// Token is one produced subword unit.
type Token struct {
	Text string
	ID   int
	Span TokenSpan
	Kind TokenKind
}

// Words groups tokens into words: each word is a token followed by its KindContinuation pieces.
// The yielded slices share the backing array of tokens.
func Words(tokens []Token) iter.Seq[[]Token] {
	return func(yield func([]Token) bool) {
		start := 0
		for i := 1; i <= len(tokens); i++ {
			if i < len(tokens) && tokens[i].Kind == KindContinuation {
				continue
			}
			if !yield(tokens[start:i]) {
				return
			}
			start = i
		}
	}
}

// WordSpan returns the span covered by the pieces of a word, NoSpan if none of them has one.
func WordSpan(word []Token) TokenSpan {
	span := NoSpan
	for _, t := range word {
		if t.Span.IsNone() {
			continue
		}
		if span.IsNone() {
			span = t.Span
			continue
		}
		span.Start, span.End = min(span.Start, t.Span.Start), max(span.End, t.Span.End)
	}
	return span
}

// SubwordAlgorithm splits one pre-segmented unit into tokens.
//
// Spans of the returned tokens are byte offsets local to unit. Implementations must be safe for
// concurrent use: they are shared, read-only, by all the workers of a batch.
type SubwordAlgorithm interface {
	Split(unit string) []Token
}

// Tokenizer interface allows one to convert text to "tokens" (integer ids) and back.
//
// It also allows mapping of special tokens: tokens with a common semantic (like padding) but that
// may map to different ids (int) for different tokenizers.
type Tokenizer interface {
	// Tokenize splits text into tokens, with spans in the original text.
	Tokenize(text string) ([]Token, error)

	// Encode builds the model input for one text or text pair.
	Encode(input Input, opts EncodeOptions) (*Encoding, error)

	// EncodeBatch is equivalent to calling Encode on every input, but it runs in parallel.
	// Results are returned in input order.
	EncodeBatch(inputs []Input, opts EncodeOptions) ([]Result, error)

	// Decode converts ids back to text.
	Decode(ids []int, skipSpecialTokens bool) (string, error)

	// SpecialTokenID returns ID for given special token if registered, or an error if not.
	SpecialTokenID(token SpecialToken) (int, error)
}

// SpecialToken is an enum of commonly used special tokens.
type SpecialToken int

const (
	TokBeginningOfSentence SpecialToken = iota
	TokEndOfSentence
	TokUnknown
	TokPad
	TokMask
	TokClassification
	TokSeparator
	TokSpecialTokensCount
)

var specialTokenNames = [...]string{
	"beginning_of_sentence", "end_of_sentence", "unknown", "pad", "mask", "classification", "separator",
}

func (t SpecialToken) String() string {
	if t < 0 || int(t) >= len(specialTokenNames) {
		return fmt.Sprintf("SpecialToken(%d)", int(t))
	}
	return specialTokenNames[t]
}
