// Package encoder assembles the tokens of one or two sequences into the model input: it truncates
// them to the maximum length, inserts the special tokens of the model template, builds the segment
// (type) ids and masks, and pads.
package encoder

import (
	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/gomlx/go-subword/tokenizers/vocab"
	"github.com/pkg/errors"
)

// Encoder is read-only after creation and safe for concurrent use.
type Encoder struct {
	vocab     *vocab.Vocabulary
	template  api.Template
	padTypeID int
}

// New creates an Encoder. Every special token of the template must be in the vocabulary.
func New(v *vocab.Vocabulary, template api.Template, padTypeID int) (*Encoder, error) {
	for _, pieces := range [][]api.TemplatePiece{template.Single, template.Pair} {
		for _, p := range pieces {
			if p.Sequence == api.NoSequence && !v.Contains(p.Token) {
				return nil, errors.Wrapf(api.ErrVocab, "template special token %q not found in the vocabulary", p.Token)
			}
		}
	}
	return &Encoder{vocab: v, template: template, padTypeID: padTypeID}, nil
}

// Template returns the template used by the encoder.
func (e *Encoder) Template() api.Template {
	return e.template
}

// Encode builds the Encoding of the tokens of the first sequence a and, if hasPair, of the second
// sequence b. The token slices are not modified.
func (e *Encoder) Encode(a, b []api.Token, hasPair bool, opts api.EncodeOptions) (*api.Encoding, error) {
	if !hasPair {
		b = nil
	}
	numSpecial := 0
	if opts.AddSpecialTokens {
		numSpecial = e.template.NumSpecialTokens(hasPair)
	}

	var overflowing []api.Token
	var numTruncated int
	if total := len(a) + len(b) + numSpecial; opts.MaxLength > 0 && total > opts.MaxLength {
		removeA, removeB, err := truncation(len(a), len(b), hasPair, total-opts.MaxLength, numSpecial, opts)
		if err != nil {
			return nil, err
		}
		var overflowA, overflowB []api.Token
		a, overflowA = truncate(a, removeA, opts.Stride)
		b, overflowB = truncate(b, removeB, opts.Stride)
		overflowing = append(overflowA, overflowB...)
		numTruncated = removeA + removeB
	}

	pieces := e.template.Single
	if hasPair {
		pieces = e.template.Pair
	}
	enc := &api.Encoding{Overflowing: overflowing, NumTruncated: numTruncated}
	size := len(a) + len(b) + numSpecial
	enc.IDs = make([]int, 0, size)
	enc.TypeIDs = make([]int, 0, size)
	enc.Tokens = make([]string, 0, size)
	enc.Offsets = make([]api.TokenSpan, 0, size)
	enc.Kinds = make([]api.TokenKind, 0, size)
	enc.SpecialTokensMask = make([]bool, 0, size)
	enc.AttentionMask = make([]bool, 0, size)
	for _, p := range pieces {
		switch p.Sequence {
		case api.NoSequence:
			if !opts.AddSpecialTokens {
				continue
			}
			appendToken(enc, api.Token{Text: p.Token, ID: e.vocab.IDOf(p.Token), Span: api.NoSpan, Kind: api.KindSpecial}, p.TypeID, true)
		case api.SequenceA:
			for _, t := range a {
				appendToken(enc, t, p.TypeID, false)
			}
		case api.SequenceB:
			for _, t := range b {
				appendToken(enc, t, p.TypeID, false)
			}
		}
	}

	if opts.Padding == api.PadToMaxLength && opts.MaxLength > 0 {
		if err := e.Pad(enc, opts.MaxLength, opts.PadSide); err != nil {
			return nil, err
		}
	}
	return enc, nil
}

func appendToken(enc *api.Encoding, t api.Token, typeID int, special bool) {
	enc.IDs = append(enc.IDs, t.ID)
	enc.TypeIDs = append(enc.TypeIDs, typeID)
	enc.Tokens = append(enc.Tokens, t.Text)
	enc.Offsets = append(enc.Offsets, t.Span)
	enc.Kinds = append(enc.Kinds, t.Kind)
	enc.SpecialTokensMask = append(enc.SpecialTokensMask, special)
	enc.AttentionMask = append(enc.AttentionMask, true)
}

// truncation returns how many tokens to remove from each sequence.
func truncation(lenA, lenB int, hasPair bool, toRemove, numSpecial int, opts api.EncodeOptions) (removeA, removeB int, err error) {
	if opts.Truncation == api.DoNotTruncate {
		return 0, 0, errors.Wrapf(api.ErrTruncation, "%d tokens exceed the maximum length %d and truncation is disabled",
			lenA+lenB+numSpecial, opts.MaxLength)
	}
	if opts.MaxLength < numSpecial {
		return 0, 0, errors.Wrapf(api.ErrTruncation, "maximum length %d is less than the %d special tokens", opts.MaxLength, numSpecial)
	}
	switch opts.Truncation {
	case api.LongestFirst:
		// One token at a time from the longest sequence, the second one on ties.
		for range toRemove {
			if hasPair && lenB-removeB >= lenA-removeA {
				removeB++
			} else {
				removeA++
			}
		}
	case api.OnlyFirst:
		if toRemove > lenA {
			return 0, 0, errors.Wrapf(api.ErrTruncation, "can't remove %d tokens from the first sequence of length %d", toRemove, lenA)
		}
		removeA = toRemove
	case api.OnlySecond:
		if !hasPair || toRemove > lenB {
			return 0, 0, errors.Wrapf(api.ErrTruncation, "can't remove %d tokens from the second sequence of length %d", toRemove, lenB)
		}
		removeB = toRemove
	default:
		return 0, 0, errors.Errorf("unknown truncation strategy %d", opts.Truncation)
	}
	return removeA, removeB, nil
}

// truncate removes the last n tokens of seq. The overflow holds the removed tokens, preceded by up to
// stride of the kept ones as context.
func truncate(seq []api.Token, n, stride int) (kept, overflow []api.Token) {
	if n <= 0 {
		return seq, nil
	}
	keep := len(seq) - n
	from := max(0, keep-max(0, stride))
	overflow = make([]api.Token, len(seq)-from)
	copy(overflow, seq[from:])
	return seq[:keep], overflow
}

// Pad pads enc up to length tokens on the given side. Encodings already as long are left untouched.
// It fails with api.ErrLookup if the vocabulary has no padding token.
func (e *Encoder) Pad(enc *api.Encoding, length int, side api.Side) error {
	n := length - enc.Len()
	if n <= 0 {
		return nil
	}
	padID, found := e.vocab.SpecialID(api.TokPad)
	if !found {
		return errors.Wrap(api.ErrLookup, "padding requested but the vocabulary has no padding token")
	}
	padText, _ := e.vocab.TokenOf(padID)
	enc.IDs = pad(enc.IDs, padID, n, side)
	enc.TypeIDs = pad(enc.TypeIDs, e.padTypeID, n, side)
	enc.Tokens = pad(enc.Tokens, padText, n, side)
	enc.Offsets = pad(enc.Offsets, api.NoSpan, n, side)
	enc.Kinds = pad(enc.Kinds, api.KindSpecial, n, side)
	enc.SpecialTokensMask = pad(enc.SpecialTokensMask, true, n, side)
	enc.AttentionMask = pad(enc.AttentionMask, false, n, side)
	return nil
}

func pad[T any](values []T, value T, n int, side api.Side) []T {
	padding := make([]T, n)
	for i := range padding {
		padding[i] = value
	}
	if side == api.Left {
		return append(padding, values...)
	}
	return append(values, padding...)
}
