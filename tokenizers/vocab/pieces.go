package vocab

import (
	"math"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/pkg/errors"
)

// PieceType is the type tag of a SentencePiece piece. Values match the SentencePiece model proto.
type PieceType int32

const (
	PieceNormal      PieceType = 1
	PieceUnknown     PieceType = 2
	PieceControl     PieceType = 3
	PieceUserDefined PieceType = 4
	PieceUnused      PieceType = 5
	PieceByte        PieceType = 6
)

func (t PieceType) String() string {
	switch t {
	case PieceNormal:
		return "normal"
	case PieceUnknown:
		return "unknown"
	case PieceControl:
		return "control"
	case PieceUserDefined:
		return "user-defined"
	case PieceUnused:
		return "unused"
	case PieceByte:
		return "byte"
	default:
		return "invalid"
	}
}

// ModelKind is the algorithm a piece model was trained for. Values match the SentencePiece trainer spec.
type ModelKind int32

const (
	KindUnigram ModelKind = 1
	KindBPE     ModelKind = 2
	KindWord    ModelKind = 3
	KindChar    ModelKind = 4
)

// Piece is one entry of a PieceModel.
type Piece struct {
	Text  string
	Score float32
	Type  PieceType
}

// PieceModel holds the pieces of a Unigram (SentencePiece) model with their log-probability scores.
// The id of a piece is its index in Pieces.
type PieceModel struct {
	Pieces []Piece

	// UnknownID is the id of the unknown piece.
	UnknownID int
	// BOSID, EOSID and PadID are -1 when disabled.
	BOSID, EOSID, PadID int

	Kind ModelKind

	// NormalizerName is the name of the normalization rule, e.g. "nmt_nfkc".
	NormalizerName         string
	AddDummyPrefix         bool
	RemoveExtraWhitespaces bool
	ByteFallback           bool
}

// Validate checks the invariants of the model: unique piece texts, an unknown piece of type unknown,
// finite scores.
func (pm *PieceModel) Validate() error {
	if len(pm.Pieces) == 0 {
		return errors.Wrap(api.ErrVocab, "piece model has no pieces")
	}
	if pm.UnknownID < 0 || pm.UnknownID >= len(pm.Pieces) {
		return errors.Wrapf(api.ErrVocab, "unknown id %d out of range [0, %d)", pm.UnknownID, len(pm.Pieces))
	}
	if t := pm.Pieces[pm.UnknownID].Type; t != PieceUnknown {
		return errors.Wrapf(api.ErrVocab, "unknown id %d points to a piece of type %s", pm.UnknownID, t)
	}
	seen := make(map[string]int, len(pm.Pieces))
	for id, p := range pm.Pieces {
		if prev, found := seen[p.Text]; found {
			return errors.Wrapf(api.ErrVocab, "duplicate piece %q with ids %d and %d", p.Text, prev, id)
		}
		seen[p.Text] = id
		if math.IsNaN(float64(p.Score)) || math.IsInf(float64(p.Score), 0) {
			return errors.Wrapf(api.ErrVocab, "piece %q has an invalid score %g", p.Text, p.Score)
		}
		if p.Type < PieceNormal || p.Type > PieceByte {
			return errors.Wrapf(api.ErrVocab, "piece %q has an invalid type %d", p.Text, p.Type)
		}
	}
	return nil
}

// Vocabulary builds the Vocabulary of the model. Unknown and control pieces are registered as
// special, besides the given specials.
func (pm *PieceModel) Vocabulary(specials map[api.SpecialToken]string, opts Options) (*Vocabulary, error) {
	tokens := make([]string, len(pm.Pieces))
	for id, p := range pm.Pieces {
		tokens[id] = p.Text
	}
	roles := make(map[api.SpecialToken]string, len(specials)+1)
	for role, content := range specials {
		roles[role] = content
	}
	if _, found := roles[api.TokUnknown]; !found {
		roles[api.TokUnknown] = pm.Pieces[pm.UnknownID].Text
	}
	opts.AdditionalSpecialTokens = append([]string(nil), opts.AdditionalSpecialTokens...)
	for _, p := range pm.Pieces {
		if p.Type == PieceControl || p.Type == PieceUnknown {
			opts.AdditionalSpecialTokens = append(opts.AdditionalSpecialTokens, p.Text)
		}
	}
	return New(tokens, roles, opts)
}

// MinScore returns the lowest score among normal and user-defined pieces.
func (pm *PieceModel) MinScore() float32 {
	minScore := float32(math.MaxFloat32)
	for _, p := range pm.Pieces {
		if (p.Type == PieceNormal || p.Type == PieceUserDefined) && p.Score < minScore {
			minScore = p.Score
		}
	}
	if minScore == math.MaxFloat32 {
		return 0
	}
	return minScore
}
