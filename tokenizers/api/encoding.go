package api

// Input is one item to encode: a text, and optionally a second text for sequence-pair tasks.
type Input struct {
	Text    string
	Pair    string
	HasPair bool
}

// Single returns an Input with one sequence.
func Single(text string) Input {
	return Input{Text: text}
}

// Pair returns an Input with a pair of sequences.
func Pair(text, pair string) Input {
	return Input{Text: text, Pair: pair, HasPair: true}
}

// TruncationStrategy defines how inputs longer than EncodeOptions.MaxLength are truncated.
type TruncationStrategy int

const (
	// DoNotTruncate fails with ErrTruncation if the input doesn't fit.
	DoNotTruncate TruncationStrategy = iota
	// LongestFirst removes tokens one at a time from whichever sequence is currently the longest.
	LongestFirst
	// OnlyFirst removes tokens from the first sequence only.
	OnlyFirst
	// OnlySecond removes tokens from the second sequence only.
	OnlySecond
)

// PaddingStrategy defines whether and to which length encodings are padded.
type PaddingStrategy int

const (
	// DoNotPad leaves encodings with their natural length.
	DoNotPad PaddingStrategy = iota
	// PadToMaxLength pads every encoding to EncodeOptions.MaxLength.
	PadToMaxLength
	// PadToLongest pads every encoding of a batch to the length of the longest one.
	PadToLongest
)

// Side of the sequence where padding is added.
type Side int

const (
	Right Side = iota
	Left
)

// EncodeOptions configures Tokenizer.Encode and Tokenizer.EncodeBatch.
type EncodeOptions struct {
	// AddSpecialTokens inserts the special tokens of the model template.
	AddSpecialTokens bool

	// MaxLength is the maximum length of the final encoding, special tokens included.
	// 0 means no limit.
	MaxLength int

	Truncation TruncationStrategy

	// Stride is the number of tokens of context kept from the end of a truncated sequence
	// at the start of its overflowing tokens.
	Stride int

	Padding PaddingStrategy
	PadSide Side

	// FailFast aborts the remaining items of a batch on the first error.
	FailFast bool
}

// Encoding is the model input produced for one Input.
//
// IDs, TypeIDs, Tokens, Offsets, Kinds, SpecialTokensMask and AttentionMask always have the same length.
type Encoding struct {
	IDs               []int
	TypeIDs           []int
	Tokens            []string
	Offsets           []TokenSpan
	Kinds             []TokenKind
	SpecialTokensMask []bool
	AttentionMask     []bool

	// Overflowing holds the tokens removed by truncation, first sequence first.
	Overflowing []Token
	// NumTruncated is the number of tokens removed by truncation.
	NumTruncated int
}

// Len returns the length of the encoding.
func (e *Encoding) Len() int {
	return len(e.IDs)
}

// Result is the outcome of encoding one item of a batch.
type Result struct {
	Encoding *Encoding
	Err      error
}

// TemplatePiece is one element of a Template: either a special token, or one of the input sequences.
type TemplatePiece struct {
	// Token is the special token content, used when Sequence is NoSequence.
	Token string
	// Sequence selects the input sequence this piece stands for.
	Sequence Sequence
	// TypeID is the segment id assigned to the piece (or to every token of the sequence).
	TypeID int
}

// Sequence identifies one of the sequences of an Input in a Template.
type Sequence int

const (
	NoSequence Sequence = iota
	SequenceA
	SequenceB
)

// Template describes the arrangement of special tokens and segment ids of a model.
type Template struct {
	Single []TemplatePiece
	Pair   []TemplatePiece
}

// NumSpecialTokens returns the number of special tokens added for a single sequence or a pair.
func (t *Template) NumSpecialTokens(pair bool) int {
	pieces := t.Single
	if pair {
		pieces = t.Pair
	}
	var n int
	for _, p := range pieces {
		if p.Sequence == NoSequence {
			n++
		}
	}
	return n
}

// Special returns a TemplatePiece for a special token.
func Special(token string, typeID int) TemplatePiece {
	return TemplatePiece{Token: token, TypeID: typeID}
}

// Seq returns a TemplatePiece for an input sequence.
func Seq(seq Sequence, typeID int) TemplatePiece {
	return TemplatePiece{Sequence: seq, TypeID: typeID}
}
