package unigram

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/gomlx/go-subword/tokenizers/vocab"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModel() *vocab.PieceModel {
	return &vocab.PieceModel{
		Pieces: []vocab.Piece{
			{Text: "<unk>", Type: vocab.PieceUnknown},
			{Text: "<s>", Type: vocab.PieceControl},
			{Text: "a", Score: -1, Type: vocab.PieceNormal},
			{Text: "b", Score: -2, Type: vocab.PieceNormal},
			{Text: "ab", Score: -2.5, Type: vocab.PieceNormal},
			{Text: "abc", Score: -10, Type: vocab.PieceNormal},
			{Text: "c", Score: -3, Type: vocab.PieceNormal},
			{Text: "bc", Score: -1, Type: vocab.PieceNormal},
			{Text: "<sep>", Type: vocab.PieceUserDefined},
			{Text: "<0x78>", Type: vocab.PieceByte},
		},
		UnknownID: 0,
		BOSID:     1,
		EOSID:     -1,
		PadID:     -1,
	}
}

func texts(tokens []api.Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Text
	}
	return out
}

func TestSplit(t *testing.T) {
	u, err := New(testModel(), Options{FuseUnknown: true})
	require.NoError(t, err)

	got := u.Split("ab")
	assert.Equal(t, []string{"ab"}, texts(got))
	assert.Equal(t, api.KindNone, got[0].Kind)

	got = u.Split("abc")
	assert.Equal(t, []string{"a", "bc"}, texts(got))
	assert.Equal(t, []int{2, 7}, []int{got[0].ID, got[1].ID})
	assert.Equal(t, api.TokenSpan{Start: 1, End: 3}, got[1].Span)
	assert.Equal(t, api.KindBegin, got[0].Kind)
	assert.Equal(t, api.KindContinuation, got[1].Kind)
	assert.InDelta(t, -2.0, u.Score("abc", got), 1e-9)

	got = u.Split("x<sep>")
	assert.Equal(t, []string{"<unk>", "<sep>"}, texts(got))
	assert.Equal(t, api.TokenSpan{Start: 1, End: 6}, got[1].Span)

	assert.Empty(t, u.Split(""))
}

func TestUnknown(t *testing.T) {
	fused, err := New(testModel(), Options{FuseUnknown: true})
	require.NoError(t, err)
	got := fused.Split("aéxb")
	assert.Equal(t, []string{"a", "<unk>", "b"}, texts(got))
	assert.Equal(t, api.TokenSpan{Start: 1, End: 4}, got[1].Span)
	assert.Equal(t, api.KindUnknown, got[1].Kind)

	plain, err := New(testModel(), Options{})
	require.NoError(t, err)
	got = plain.Split("aéxb")
	assert.Equal(t, []string{"a", "<unk>", "<unk>", "b"}, texts(got))
	assert.Equal(t, api.TokenSpan{Start: 1, End: 3}, got[1].Span)
	assert.Equal(t, api.TokenSpan{Start: 3, End: 4}, got[2].Span)
}

func TestByteFallback(t *testing.T) {
	u, err := New(testModel(), Options{ByteFallback: true, FuseUnknown: true})
	require.NoError(t, err)
	got := u.Split("axé")
	assert.Equal(t, []string{"a", "<0x78>", "<unk>"}, texts(got), "é has no byte pieces and falls back to unknown")
	assert.Equal(t, 9, got[1].ID)
	assert.Equal(t, api.TokenSpan{Start: 1, End: 2}, got[1].Span)
}

func TestInvalidModel(t *testing.T) {
	pm := testModel()
	pm.UnknownID = 2
	_, err := New(pm, Options{})
	assert.True(t, errors.Is(err, api.ErrVocab))

	pm = testModel()
	pm.Pieces[9].Text = "<0xZZ>"
	_, err = New(pm, Options{})
	assert.True(t, errors.Is(err, api.ErrVocab))
}

// bestScore enumerates all segmentations of unit into pieces and returns the highest total score.
func bestScore(unit string, scores map[string]float64) float64 {
	if unit == "" {
		return 0
	}
	best := math.Inf(-1)
	for end := 1; end <= len(unit); end++ {
		score, found := scores[unit[:end]]
		if !found {
			continue
		}
		best = max(best, score+bestScore(unit[end:], scores))
	}
	return best
}

func TestOptimality(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	alphabet := "abc"
	pm := &vocab.PieceModel{Pieces: []vocab.Piece{{Text: "<unk>", Type: vocab.PieceUnknown}}}
	scores := make(map[string]float64)
	add := func(text string) {
		if _, found := scores[text]; found {
			return
		}
		score := -1 - 10*rng.Float64()
		score = float64(float32(score))
		scores[text] = score
		pm.Pieces = append(pm.Pieces, vocab.Piece{Text: text, Score: float32(score), Type: vocab.PieceNormal})
	}
	for _, r := range alphabet {
		add(string(r))
	}
	randomWord := func(maxLen int) string {
		n := 1 + rng.IntN(maxLen)
		b := make([]byte, n)
		for i := range b {
			b[i] = alphabet[rng.IntN(len(alphabet))]
		}
		return string(b)
	}
	for range 30 {
		add(randomWord(4))
	}
	u, err := New(pm, Options{})
	require.NoError(t, err)

	for i := range 200 {
		word := randomWord(10)
		got := u.Split(word)
		var rebuilt string
		for _, token := range got {
			require.NotEqual(t, api.KindUnknown, token.Kind)
			rebuilt += token.Text
		}
		assert.Equal(t, word, rebuilt)
		assert.InDelta(t, bestScore(word, scores), u.Score(word, got), 1e-6, "case %d: word %q -> %v", i, word, texts(got))
	}
}
