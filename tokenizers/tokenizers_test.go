package tokenizers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/gomlx/go-subword/tokenizers/offsets"
	"github.com/gomlx/go-subword/tokenizers/sentencepiece"
	"github.com/gomlx/go-subword/tokenizers/vocab"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

var bertVocab = []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]", "un", "##able", "!", "hello", "world", "cafe"}

func newBERT(t *testing.T, configure func(cfg *api.Config)) *Tokenizer {
	t.Helper()
	cfg := api.DefaultConfig(api.FamilyBERT)
	if configure != nil {
		configure(cfg)
	}
	path := writeFile(t, "vocab.txt", strings.Join(bertVocab, "\n")+"\n")
	tok, err := Load(path, "", cfg)
	require.NoError(t, err)
	return tok
}

func TestWordPieceEncode(t *testing.T) {
	tok := newBERT(t, nil)
	enc, err := tok.Encode(api.Single("Unable!"), api.EncodeOptions{AddSpecialTokens: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"[CLS]", "un", "##able", "!", "[SEP]"}, enc.Tokens)
	assert.Equal(t, []int{2, 5, 6, 7, 3}, enc.IDs)
	assert.Equal(t, []int{0, 0, 0, 0, 0}, enc.TypeIDs)
	assert.Equal(t, []bool{true, false, false, false, true}, enc.SpecialTokensMask)
	assert.Equal(t, []api.TokenSpan{api.NoSpan, {Start: 0, End: 2}, {Start: 2, End: 6}, {Start: 6, End: 7}, api.NoSpan}, enc.Offsets)

	text, err := tok.Decode(enc.IDs, true)
	require.NoError(t, err)
	assert.Equal(t, "unable!", text)
	text, err = tok.Decode(enc.IDs, false)
	require.NoError(t, err)
	assert.Equal(t, "[CLS] unable! [SEP]", text)
}

func TestOffsetUnits(t *testing.T) {
	text := "Café hello"
	for _, tt := range []struct {
		unit api.OffsetUnit
		want []api.TokenSpan
	}{
		{api.OffsetBytes, []api.TokenSpan{{Start: 0, End: 5}, {Start: 6, End: 11}}},
		{api.OffsetRunes, []api.TokenSpan{{Start: 0, End: 4}, {Start: 5, End: 10}}},
	} {
		t.Run(string(tt.unit), func(t *testing.T) {
			tok := newBERT(t, func(cfg *api.Config) { cfg.OffsetUnit = tt.unit })
			tokens, err := tok.Tokenize(text)
			require.NoError(t, err)
			require.Len(t, tokens, 2)
			assert.Equal(t, "cafe", tokens[0].Text)
			spans := []api.TokenSpan{tokens[0].Span, tokens[1].Span}
			assert.Equal(t, tt.want, spans)
			assert.NoError(t, offsets.NewTracker(text, tt.unit).Validate(spans))
		})
	}
}

func TestSpecialTokensInText(t *testing.T) {
	tok := newBERT(t, nil)
	tokens, err := tok.Tokenize("hello [SEP] world")
	require.NoError(t, err)
	require.Len(t, tokens, 3)
	assert.Equal(t, "[SEP]", tokens[1].Text)
	assert.Equal(t, 3, tokens[1].ID)
	assert.Equal(t, api.KindSpecial, tokens[1].Kind)
	assert.Equal(t, api.TokenSpan{Start: 6, End: 11}, tokens[1].Span)
	assert.Equal(t, api.TokenSpan{Start: 12, End: 17}, tokens[2].Span)

	// Without splitting, the brackets are punctuation.
	tok = newBERT(t, func(cfg *api.Config) { cfg.SplitSpecialTokens = false })
	tokens, err = tok.Tokenize("[SEP]")
	require.NoError(t, err)
	assert.Len(t, tokens, 3)
	for _, token := range tokens {
		assert.NotEqual(t, api.KindSpecial, token.Kind)
	}
}

func TestTokenizeErrors(t *testing.T) {
	tok := newBERT(t, nil)
	_, err := tok.Tokenize("hello \xff")
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrMalformedInput))

	_, err = tok.Encode(api.Pair("hello", "\xc3"), api.EncodeOptions{})
	assert.True(t, errors.Is(err, api.ErrMalformedInput))

	tokens, err := tok.Tokenize("")
	require.NoError(t, err)
	assert.Empty(t, tokens)

	_, err = tok.Decode([]int{8, 999}, false)
	assert.True(t, errors.Is(err, api.ErrLookup))
}

func TestPairTruncation(t *testing.T) {
	tok := newBERT(t, nil)
	enc, err := tok.Encode(api.Pair("hello world hello", "world"), api.EncodeOptions{
		AddSpecialTokens: true,
		MaxLength:        5,
		Truncation:       api.LongestFirst,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"[CLS]", "hello", "[SEP]", "world", "[SEP]"}, enc.Tokens)
	assert.Equal(t, []int{0, 0, 0, 1, 1}, enc.TypeIDs)
	assert.Equal(t, 2, enc.NumTruncated)
	require.Len(t, enc.Overflowing, 2)
	assert.Equal(t, "world", enc.Overflowing[0].Text)

	_, err = tok.Encode(api.Pair("hello world hello", "world"), api.EncodeOptions{AddSpecialTokens: true, MaxLength: 5})
	assert.True(t, errors.Is(err, api.ErrTruncation))
}

func TestSpecialTokenID(t *testing.T) {
	tok := newBERT(t, nil)
	id, err := tok.SpecialTokenID(api.TokClassification)
	require.NoError(t, err)
	assert.Equal(t, 2, id)
	id, err = tok.SpecialTokenID(api.TokPad)
	require.NoError(t, err)
	assert.Equal(t, 0, id)
	_, err = tok.SpecialTokenID(api.TokBeginningOfSentence)
	assert.True(t, errors.Is(err, api.ErrLookup))
}

func TestEncodeBatch(t *testing.T) {
	tok := newBERT(t, func(cfg *api.Config) { cfg.NumWorkers = 2 })
	inputs := []api.Input{
		api.Single("hello"),
		api.Single("hello world unable"),
		api.Pair("world", "hello"),
		api.Single(""),
	}
	results, err := tok.EncodeBatch(inputs, api.EncodeOptions{AddSpecialTokens: true, Padding: api.PadToLongest})
	require.NoError(t, err)
	require.Len(t, results, len(inputs))
	for i, r := range results {
		require.NoError(t, r.Err, "input %d", i)
		assert.Equal(t, 6, r.Encoding.Len(), "input %d", i)
		single, err := tok.Encode(inputs[i], api.EncodeOptions{AddSpecialTokens: true})
		require.NoError(t, err)
		assert.Equal(t, single.IDs, r.Encoding.IDs[:single.Len()], "input %d out of order", i)
		for j := single.Len(); j < 6; j++ {
			assert.Equal(t, 0, r.Encoding.IDs[j])
			assert.False(t, r.Encoding.AttentionMask[j])
		}
	}

	// Without FailFast every item runs and errors stay in their own result.
	inputs = []api.Input{api.Single("hello"), api.Single("\xff"), api.Single("world")}
	results, err = tok.EncodeBatch(inputs, api.EncodeOptions{})
	require.NoError(t, err)
	assert.NoError(t, results[0].Err)
	assert.True(t, errors.Is(results[1].Err, api.ErrMalformedInput))
	assert.NoError(t, results[2].Err)
	assert.Equal(t, []int{9}, results[2].Encoding.IDs)

	_, err = tok.EncodeBatch(inputs, api.EncodeOptions{FailFast: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrMalformedInput))
}

func TestEncodeBatchCancelled(t *testing.T) {
	tok := newBERT(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := tok.EncodeBatchContext(ctx, []api.Input{api.Single("hello"), api.Single("world")}, api.EncodeOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, errors.Is(r.Err, api.ErrAborted))
	}
}

func TestTokenizeAndDecodeBatch(t *testing.T) {
	tok := newBERT(t, func(cfg *api.Config) { cfg.NumWorkers = 3 })
	texts := []string{"hello", "unable world", "\xff", "", "world hello !", "cafe unable"}
	tokenized, err := tok.TokenizeBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, tokenized, len(texts))
	ids := make([][]int, 0, len(texts))
	for i, r := range tokenized {
		want, wantErr := tok.Tokenize(texts[i])
		if wantErr != nil {
			assert.True(t, errors.Is(r.Err, api.ErrMalformedInput), "text %d", i)
			continue
		}
		require.NoError(t, r.Err, "text %d", i)
		assert.Equal(t, want, r.Value, "text %d out of order", i)
		seq := make([]int, len(r.Value))
		for j, token := range r.Value {
			seq[j] = token.ID
		}
		ids = append(ids, seq)
	}
	ids = append(ids, []int{8, 999})

	decoded, err := tok.DecodeBatch(context.Background(), ids, true)
	require.NoError(t, err)
	require.Len(t, decoded, len(ids))
	assert.Equal(t, []string{"hello", "unable world", "", "world hello!", "cafe unable"},
		[]string{decoded[0].Value, decoded[1].Value, decoded[2].Value, decoded[3].Value, decoded[4].Value})
	assert.True(t, errors.Is(decoded[5].Err, api.ErrLookup))
}

func TestWordsOfTokenize(t *testing.T) {
	tok := newBERT(t, nil)
	text := "Unable, hello"
	tokens, err := tok.Tokenize(text)
	require.NoError(t, err)
	var words []string
	for word := range api.Words(tokens) {
		span := api.WordSpan(word)
		words = append(words, text[span.Start:span.End])
	}
	assert.Equal(t, []string{"Unable", ",", "hello"}, words)
}

func TestBPE(t *testing.T) {
	cfg := api.DefaultConfig("")
	cfg.Model = api.ModelBPE
	vocabPath := writeFile(t, "vocab.json", `{"l": 0, "o": 1, "w": 2, "lo": 3, "low": 4}`)
	mergesPath := writeFile(t, "merges.txt", "#version: 0.2\nl o\nlo w\n")
	tok, err := Load(vocabPath, mergesPath, cfg)
	require.NoError(t, err)

	enc, err := tok.Encode(api.Single("low lo  w"), api.EncodeOptions{AddSpecialTokens: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"low", "lo", "w"}, enc.Tokens)
	assert.Equal(t, []int{4, 3, 2}, enc.IDs)
	assert.Equal(t, []api.TokenSpan{{Start: 0, End: 3}, {Start: 4, End: 6}, {Start: 8, End: 9}}, enc.Offsets)

	text, err := tok.Decode(enc.IDs, false)
	require.NoError(t, err)
	assert.Equal(t, "low lo w", text)

	_, err = Load(vocabPath, filepath.Join(t.TempDir(), "missing.txt"), cfg)
	assert.True(t, errors.Is(err, api.ErrVocab))
}

func TestLoadSentencePiece(t *testing.T) {
	pm := &vocab.PieceModel{
		Pieces: []vocab.Piece{
			{Text: "<unk>", Type: vocab.PieceUnknown},
			{Text: "<s>", Type: vocab.PieceControl},
			{Text: "</s>", Type: vocab.PieceControl},
			{Text: "▁hello", Score: -1, Type: vocab.PieceNormal},
			{Text: "▁world", Score: -1, Type: vocab.PieceNormal},
			{Text: "▁", Score: -3, Type: vocab.PieceNormal},
			{Text: "h", Score: -5, Type: vocab.PieceNormal},
			{Text: "e", Score: -5, Type: vocab.PieceNormal},
			{Text: "l", Score: -5, Type: vocab.PieceNormal},
			{Text: "o", Score: -5, Type: vocab.PieceNormal},
		},
		UnknownID:              0,
		BOSID:                  1,
		EOSID:                  2,
		PadID:                  -1,
		Kind:                   vocab.KindUnigram,
		NormalizerName:         "nmt_nfkc",
		AddDummyPrefix:         true,
		RemoveExtraWhitespaces: true,
	}
	path := writeFile(t, "spm.model", string(sentencepiece.Marshal(pm)))

	tok, err := LoadSentencePiece(path, nil)
	require.NoError(t, err)
	assert.Equal(t, api.ModelUnigram, tok.Config().Model)
	enc, err := tok.Encode(api.Single("hello   world"), tok.DefaultEncodeOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"<s>", "▁hello", "▁world"}, enc.Tokens)
	assert.Equal(t, []int{1, 3, 4}, enc.IDs)

	text, err := tok.Decode(enc.IDs, true)
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	// Load dispatches ".model" files to SentencePiece.
	tok, err = Load("", path, api.DefaultConfig(api.FamilySentencePiece))
	require.NoError(t, err)
	assert.Equal(t, 10, tok.Vocabulary().Size())
}

func TestLoadTokenizerJSON(t *testing.T) {
	path := writeFile(t, "tokenizer.json", `{
  "truncation": {"max_length": 4, "strategy": "LongestFirst", "stride": 0, "direction": "Right"},
  "padding": null,
  "added_tokens": [
    {"id": 0, "content": "[UNK]", "special": true},
    {"id": 1, "content": "[CLS]", "special": true},
    {"id": 2, "content": "[SEP]", "special": true}
  ],
  "normalizer": {"type": "BertNormalizer", "lowercase": true},
  "pre_tokenizer": {"type": "BertPreTokenizer"},
  "post_processor": {"type": "BertProcessing", "sep": ["[SEP]", 2], "cls": ["[CLS]", 1]},
  "decoder": {"type": "WordPiece", "prefix": "##", "cleanup": true},
  "model": {"type": "WordPiece", "unk_token": "[UNK]", "continuing_subword_prefix": "##",
    "max_input_chars_per_word": 100,
    "vocab": {"[UNK]": 0, "[CLS]": 1, "[SEP]": 2, "un": 3, "##able": 4, "hello": 5}}
}`)
	tok, err := LoadTokenizerJSON(path, nil)
	require.NoError(t, err)
	opts := tok.DefaultEncodeOptions()
	assert.Equal(t, 4, opts.MaxLength)
	assert.Equal(t, api.LongestFirst, opts.Truncation)

	enc, err := tok.Encode(api.Single("Unable hello"), opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"[CLS]", "un", "##able", "[SEP]"}, enc.Tokens)
	assert.Equal(t, 1, enc.NumTruncated)

	_, err = LoadTokenizerJSON(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.True(t, errors.Is(err, api.ErrVocab))
}

func TestNewErrors(t *testing.T) {
	_, err := New(Components{})
	assert.Error(t, err)

	v, err := vocab.New([]string{"[UNK]", "a"}, map[api.SpecialToken]string{api.TokUnknown: "[UNK]"}, vocab.Options{})
	require.NoError(t, err)
	cfg := api.DefaultConfig(api.FamilyBERT)
	tok := newBERT(t, nil)
	_, err = New(Components{Config: cfg, Vocab: v, Engine: tok.engine})
	assert.True(t, errors.Is(err, api.ErrVocab), "[CLS] and [SEP] of the template are missing")

	_, err = Load("", "", nil)
	assert.Error(t, err)
}
