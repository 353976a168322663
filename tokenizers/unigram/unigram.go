// Package unigram implements the Unigram language model subword algorithm: each unit is split in the
// sequence of pieces with the highest total log-probability, found with the Viterbi algorithm.
package unigram

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/gomlx/go-subword/tokenizers/vocab"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// UnknownPenalty is subtracted from the lowest piece score to score unknown runes.
const UnknownPenalty = 10.0

// userDefinedPenalty makes a user-defined piece score slightly less than the best possible
// segmentation of the same length, so that user-defined pieces win over any split of them.
const userDefinedPenalty = 0.1

// Options of the Unigram engine.
type Options struct {
	// ByteFallback splits unknown runes into their UTF-8 bytes, using the "<0xXX>" byte pieces.
	ByteFallback bool

	// FuseUnknown merges consecutive unknown tokens into one.
	FuseUnknown bool
}

type entry struct {
	id    int
	score float64
}

// Unigram is the Unigram engine. It is read-only after creation and safe for concurrent use.
type Unigram struct {
	pieces      map[string]entry
	maxPieceLen int // In bytes.

	unknownID    int
	unknownText  string
	unknownScore float64

	byteIDs [256]int
	opts    Options
}

var _ api.SubwordAlgorithm = (*Unigram)(nil)

// New creates a Unigram engine from a piece model. Only normal and user-defined pieces take part in
// the segmentation.
func New(pm *vocab.PieceModel, opts Options) (*Unigram, error) {
	if err := pm.Validate(); err != nil {
		return nil, err
	}
	u := &Unigram{
		pieces:       make(map[string]entry, len(pm.Pieces)),
		unknownID:    pm.UnknownID,
		unknownText:  pm.Pieces[pm.UnknownID].Text,
		unknownScore: float64(pm.MinScore()) - UnknownPenalty,
		opts:         opts,
	}
	maxScore := math.Inf(-1)
	for _, p := range pm.Pieces {
		if p.Type == vocab.PieceNormal {
			maxScore = max(maxScore, float64(p.Score))
		}
	}
	if math.IsInf(maxScore, -1) {
		maxScore = 0
	}
	for i := range u.byteIDs {
		u.byteIDs[i] = -1
	}
	var numBytePieces int
	for id, p := range pm.Pieces {
		switch p.Type {
		case vocab.PieceNormal:
			u.pieces[p.Text] = entry{id: id, score: float64(p.Score)}
		case vocab.PieceUserDefined:
			score := float64(utf8.RuneCountInString(p.Text))*maxScore - userDefinedPenalty
			u.pieces[p.Text] = entry{id: id, score: score}
		case vocab.PieceByte:
			b, err := parseBytePiece(p.Text)
			if err != nil {
				return nil, errors.WithMessagef(err, "piece %d", id)
			}
			u.byteIDs[b] = id
			numBytePieces++
			continue
		default:
			continue
		}
		u.maxPieceLen = max(u.maxPieceLen, len(p.Text))
	}
	if opts.ByteFallback && numBytePieces < 256 {
		klog.Warningf("unigram: byte fallback enabled with only %d of 256 byte pieces", numBytePieces)
	}
	klog.V(1).Infof("unigram: %d pieces, unknown %q with score %g", len(u.pieces), u.unknownText, u.unknownScore)
	return u, nil
}

// node of the Viterbi lattice: the best segmentation of the prefix ending at a rune boundary.
type node struct {
	score float64
	from  int // Boundary index where the last piece starts, -1 if unreachable.
	id    int // Id of the last piece, -1 for unknown.
}

// Split implements api.SubwordAlgorithm.
func (u *Unigram) Split(unit string) []api.Token {
	if unit == "" {
		return nil
	}
	// Byte offsets of the rune boundaries.
	bounds := make([]int, 0, len(unit)+1)
	for pos := range unit {
		bounds = append(bounds, pos)
	}
	bounds = append(bounds, len(unit))
	n := len(bounds)

	lattice := make([]node, n)
	for i := 1; i < n; i++ {
		lattice[i] = node{score: math.Inf(-1), from: -1, id: -1}
	}
	for i := 0; i < n-1; i++ {
		if lattice[i].from < 0 && i > 0 {
			continue
		}
		base := lattice[i].score
		hasSingle := false
		for j := i + 1; j < n && bounds[j]-bounds[i] <= u.maxPieceLen; j++ {
			e, found := u.pieces[unit[bounds[i]:bounds[j]]]
			if !found {
				continue
			}
			if j == i+1 {
				hasSingle = true
			}
			if score := base + e.score; score > lattice[j].score {
				lattice[j] = node{score: score, from: i, id: e.id}
			}
		}
		if !hasSingle {
			if score := base + u.unknownScore; score > lattice[i+1].score {
				lattice[i+1] = node{score: score, from: i, id: -1}
			}
		}
	}

	// Backtrack.
	var reversed []api.Token
	for j := n - 1; j > 0; j = lattice[j].from {
		nd := lattice[j]
		span := api.TokenSpan{Start: bounds[nd.from], End: bounds[j]}
		if nd.id < 0 {
			reversed = append(reversed, api.Token{Text: u.unknownText, ID: u.unknownID, Span: span, Kind: api.KindUnknown})
			continue
		}
		reversed = append(reversed, api.Token{Text: unit[span.Start:span.End], ID: nd.id, Span: span})
	}
	tokens := make([]api.Token, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		tokens = u.appendToken(tokens, unit, reversed[i])
	}
	if len(tokens) > 1 {
		for i := range tokens {
			switch {
			case tokens[i].Kind == api.KindUnknown:
			case i == 0:
				tokens[i].Kind = api.KindBegin
			default:
				tokens[i].Kind = api.KindContinuation
			}
		}
	}
	return tokens
}

// parseBytePiece parses the byte of a "<0xXX>" piece.
func parseBytePiece(text string) (byte, error) {
	if len(text) != 6 || !strings.HasPrefix(text, "<0x") || text[5] != '>' {
		return 0, errors.Wrapf(api.ErrVocab, "malformed byte piece %q", text)
	}
	b, err := strconv.ParseUint(text[3:5], 16, 8)
	if err != nil {
		return 0, errors.Wrapf(api.ErrVocab, "malformed byte piece %q", text)
	}
	return byte(b), nil
}

// Score returns the total score of a segmentation of unit, as optimized by Split. Each rune of an
// unknown token counts as one unknown. Byte fallback tokens are not scored.
func (u *Unigram) Score(unit string, tokens []api.Token) float64 {
	var total float64
	for _, t := range tokens {
		if t.Kind == api.KindUnknown {
			total += float64(utf8.RuneCountInString(unit[t.Span.Start:t.Span.End])) * u.unknownScore
			continue
		}
		total += u.pieces[unit[t.Span.Start:t.Span.End]].score
	}
	return total
}

// appendToken appends t, applying byte fallback and fusion of consecutive unknowns.
func (u *Unigram) appendToken(tokens []api.Token, unit string, t api.Token) []api.Token {
	if t.Kind != api.KindUnknown {
		return append(tokens, t)
	}
	klog.V(3).Infof("unigram: %q of %q is unknown", unit[t.Span.Start:t.Span.End], unit)
	if u.opts.ByteFallback {
		if byteTokens, ok := u.byteTokens(unit, t.Span); ok {
			return append(tokens, byteTokens...)
		}
	}
	if u.opts.FuseUnknown && len(tokens) > 0 && tokens[len(tokens)-1].Kind == api.KindUnknown {
		tokens[len(tokens)-1].Span.End = t.Span.End
		return tokens
	}
	return append(tokens, t)
}

// byteTokens returns the byte pieces of the text in span. Each byte token gets the span of the whole
// rune, since a byte alone doesn't align to text.
func (u *Unigram) byteTokens(unit string, span api.TokenSpan) ([]api.Token, bool) {
	tokens := make([]api.Token, 0, span.Len())
	for pos := span.Start; pos < span.End; pos++ {
		id := u.byteIDs[unit[pos]]
		if id < 0 {
			return nil, false
		}
		tokens = append(tokens, api.Token{Text: fmt.Sprintf("<0x%02X>", unit[pos]), ID: id, Span: span})
	}
	return tokens, true
}
