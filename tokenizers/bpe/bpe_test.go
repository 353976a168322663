package bpe

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/gomlx/go-subword/tokenizers/vocab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBPE(t *testing.T, tokens []string, merges []vocab.Pair, opts Options) *BPE {
	t.Helper()
	specials := map[api.SpecialToken]string{}
	for _, token := range tokens {
		if token == "<unk>" {
			specials[api.TokUnknown] = token
		}
	}
	v, err := vocab.New(tokens, specials, vocab.Options{})
	require.NoError(t, err)
	m, err := vocab.NewMergeTable(merges)
	require.NoError(t, err)
	b, err := New(v, m, opts)
	require.NoError(t, err)
	return b
}

func texts(tokens []api.Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Text
	}
	return out
}

func TestLow(t *testing.T) {
	b := newBPE(t, []string{"l", "o", "w", "lo", "low"}, []vocab.Pair{{Left: "l", Right: "o"}, {Left: "lo", Right: "w"}}, Options{})
	got := b.Split("low")
	require.Len(t, got, 1)
	assert.Equal(t, api.Token{Text: "low", ID: 4, Span: api.TokenSpan{Start: 0, End: 3}}, got[0])
}

func TestLowestRankFirst(t *testing.T) {
	b := newBPE(t, []string{"l", "o", "w", "lo", "ow"}, []vocab.Pair{{Left: "o", Right: "w"}, {Left: "l", Right: "o"}}, Options{})
	got := b.Split("low")
	assert.Equal(t, []string{"l", "ow"}, texts(got))
	assert.Equal(t, api.TokenSpan{Start: 1, End: 3}, got[1].Span)
	assert.Equal(t, api.KindBegin, got[0].Kind)
	assert.Equal(t, api.KindContinuation, got[1].Kind)

	// Equal ranks: leftmost first.
	b = newBPE(t, []string{"a", "aa"}, []vocab.Pair{{Left: "a", Right: "a"}}, Options{})
	assert.Equal(t, []string{"aa", "a"}, texts(b.Split("aaa")))
	assert.Equal(t, []string{"aa", "aa"}, texts(b.Split("aaaa")))
}

func TestUnknownSymbols(t *testing.T) {
	b := newBPE(t, []string{"<unk>", "a", "b"}, nil, Options{})
	got := b.Split("axb")
	assert.Equal(t, []string{"a", "<unk>", "b"}, texts(got))
	assert.Equal(t, api.KindUnknown, got[1].Kind)
	assert.Equal(t, api.TokenSpan{Start: 1, End: 2}, got[1].Span)

	b = newBPE(t, []string{"a", "b"}, nil, Options{})
	assert.Equal(t, []string{"a", "b"}, texts(b.Split("axb")), "unknown symbols are dropped without an unknown token")

	sp := func(start, end int) api.TokenSpan { return api.TokenSpan{Start: start, End: end} }
	tests := []struct {
		unit  string
		fuse  bool
		want  []string
		spans []api.TokenSpan
	}{
		{"axyb", false, []string{"a", "<unk>", "<unk>", "b"}, []api.TokenSpan{sp(0, 1), sp(1, 2), sp(2, 3), sp(3, 4)}},
		{"axyb", true, []string{"a", "<unk>", "b"}, []api.TokenSpan{sp(0, 1), sp(1, 3), sp(3, 4)}},
		{"xyéb", true, []string{"<unk>", "b"}, []api.TokenSpan{sp(0, 4), sp(4, 5)}},
		{"xaxy", true, []string{"<unk>", "a", "<unk>"}, []api.TokenSpan{sp(0, 1), sp(1, 2), sp(2, 4)}},
	}
	for _, tt := range tests {
		b := newBPE(t, []string{"<unk>", "a", "b"}, nil, Options{FuseUnknown: tt.fuse})
		got := b.Split(tt.unit)
		assert.Equal(t, tt.want, texts(got), "unit %q fuse=%v", tt.unit, tt.fuse)
		spans := make([]api.TokenSpan, len(got))
		for i, token := range got {
			spans[i] = token.Span
		}
		assert.Equal(t, tt.spans, spans, "unit %q fuse=%v", tt.unit, tt.fuse)
	}
}

func TestByteFallback(t *testing.T) {
	b := newBPE(t, []string{"<unk>", "a", "<0xC3>", "<0xA9>"}, nil, Options{ByteFallback: true})
	got := b.Split("aé")
	assert.Equal(t, []string{"a", "<0xC3>", "<0xA9>"}, texts(got))
	assert.Equal(t, api.TokenSpan{Start: 1, End: 3}, got[1].Span)
	assert.Equal(t, api.TokenSpan{Start: 1, End: 3}, got[2].Span)

	// Missing byte pieces fall back to the unknown token.
	got = b.Split("aü")
	assert.Equal(t, []string{"a", "<unk>"}, texts(got))
}

func TestSuffixes(t *testing.T) {
	openai := newBPE(t, []string{"l", "o", "w</w>", "lo", "low</w>"},
		[]vocab.Pair{{Left: "l", Right: "o"}, {Left: "lo", Right: "w</w>"}}, Options{EndOfWordSuffix: "</w>"})
	assert.Equal(t, []string{"low</w>"}, texts(openai.Split("low")))

	ctrl := newBPE(t, []string{"<unk>", "he@@", "llo"},
		[]vocab.Pair{{Left: "h", Right: "e"}, {Left: "l", Right: "l"}, {Left: "ll", Right: "o</w>"}},
		Options{EndOfWordSuffix: "</w>", NonFinalSuffix: "@@"})
	got := ctrl.Split("hello")
	assert.Equal(t, []string{"he@@", "llo"}, texts(got))
	assert.Equal(t, api.TokenSpan{Start: 2, End: 5}, got[1].Span)

	prefixed := newBPE(t, []string{"a", "##b", "ab"}, []vocab.Pair{{Left: "a", Right: "##b"}}, Options{ContinuingSubwordPrefix: "##"})
	assert.Equal(t, []string{"ab"}, texts(prefixed.Split("ab")))
	assert.Equal(t, []string{"ab", "##b"}, texts(prefixed.Split("abb")))
}

func TestIgnoreMerges(t *testing.T) {
	b := newBPE(t, []string{"a", "b", "ab"}, nil, Options{IgnoreMerges: true})
	assert.Equal(t, []string{"ab"}, texts(b.Split("ab")))
	b = newBPE(t, []string{"a", "b", "ab"}, nil, Options{})
	assert.Equal(t, []string{"a", "b"}, texts(b.Split("ab")))
}

func TestCache(t *testing.T) {
	b := newBPE(t, []string{"l", "o", "w", "lo", "low"}, []vocab.Pair{{Left: "l", Right: "o"}, {Left: "lo", Right: "w"}}, Options{CacheCapacity: 2})
	require.NotNil(t, b.Cache())
	first := b.Split("low")
	assert.Equal(t, 1, b.Cache().Len())
	first[0].Text = "mutated"
	second := b.Split("low")
	assert.Equal(t, "low", second[0].Text, "cached tokens must not be shared with callers")
	b.Split("lo")
	b.Split("ow")
	assert.Equal(t, 2, b.Cache().Len())

	disabled, err := NewCache(0)
	require.NoError(t, err)
	assert.Nil(t, disabled)
	disabled.Add("x", nil)
	_, found := disabled.Get("x")
	assert.False(t, found)
}

// referenceMerge repeatedly merges the lowest ranked, leftmost, adjacent pair.
func referenceMerge(unit string, ranks map[vocab.Pair]int) []string {
	var symbols []string
	for _, r := range unit {
		symbols = append(symbols, string(r))
	}
	for {
		best, bestRank := -1, 0
		for i := 0; i+1 < len(symbols); i++ {
			rank, found := ranks[vocab.Pair{Left: symbols[i], Right: symbols[i+1]}]
			if found && (best < 0 || rank < bestRank) {
				best, bestRank = i, rank
			}
		}
		if best < 0 {
			return symbols
		}
		merged := symbols[best] + symbols[best+1]
		symbols = append(symbols[:best], append([]string{merged}, symbols[best+2:]...)...)
	}
}

func TestMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	alphabet := []string{"a", "b", "c"}
	randomWord := func(maxLen int) string {
		n := 1 + rng.IntN(maxLen)
		var s string
		for range n {
			s += alphabet[rng.IntN(len(alphabet))]
		}
		return s
	}

	// Random merges whose parts are reachable symbols.
	symbols := append([]string{}, alphabet...)
	known := map[string]bool{"a": true, "b": true, "c": true}
	var merges []vocab.Pair
	ranks := make(map[vocab.Pair]int)
	for len(merges) < 20 {
		p := vocab.Pair{Left: symbols[rng.IntN(len(symbols))], Right: symbols[rng.IntN(len(symbols))]}
		if _, found := ranks[p]; found {
			continue
		}
		ranks[p] = len(merges)
		merges = append(merges, p)
		if merged := p.Left + p.Right; !known[merged] {
			known[merged] = true
			symbols = append(symbols, merged)
		}
	}
	b := newBPE(t, symbols, merges, Options{})

	for i := range 200 {
		word := randomWord(12)
		want := referenceMerge(word, ranks)
		assert.Equal(t, want, texts(b.Split(word)), "case %d: word %q", i, word)
	}
}

func TestConcurrentSplit(t *testing.T) {
	b := newBPE(t, []string{"l", "o", "w", "lo", "low"}, []vocab.Pair{{Left: "l", Right: "o"}, {Left: "lo", Right: "w"}}, Options{CacheCapacity: 4})
	var wg sync.WaitGroup
	results := make([][]string, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = texts(b.Split(fmt.Sprintf("low%s", "low"[:i%3])))
		}()
	}
	wg.Wait()
	for i, got := range results {
		want := []string{"low", "l", "lo"}[i%3]
		if i%3 == 0 {
			assert.Equal(t, []string{"low"}, got)
			continue
		}
		assert.Equal(t, []string{"low", want}, got)
	}
}
