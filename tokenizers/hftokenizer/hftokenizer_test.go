package hftokenizer

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/gomlx/go-subword/tokenizers/vocab"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test tokenizer.json content for a WordPiece model (BERT-style)
var testWordPieceTokenizerJSON = []byte(`{
  "version": "1.0",
  "truncation": {"direction": "Right", "max_length": 16, "strategy": "OnlyFirst", "stride": 2},
  "padding": {"strategy": {"Fixed": 8}, "direction": "Left", "pad_id": 0, "pad_type_id": 0, "pad_token": "[PAD]"},
  "added_tokens": [
    {"id": 0, "content": "[PAD]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 1, "content": "[UNK]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 2, "content": "[CLS]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 3, "content": "[SEP]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 4, "content": "[MASK]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true}
  ],
  "normalizer": {
    "type": "BertNormalizer",
    "clean_text": true,
    "handle_chinese_chars": true,
    "strip_accents": null,
    "lowercase": true
  },
  "pre_tokenizer": {
    "type": "BertPreTokenizer"
  },
  "post_processor": {
    "type": "TemplateProcessing",
    "single": [
      {"SpecialToken": {"id": "[CLS]", "type_id": 0}},
      {"Sequence": {"id": "A", "type_id": 0}},
      {"SpecialToken": {"id": "[SEP]", "type_id": 0}}
    ],
    "pair": [
      {"SpecialToken": {"id": "[CLS]", "type_id": 0}},
      {"Sequence": {"id": "A", "type_id": 0}},
      {"SpecialToken": {"id": "[SEP]", "type_id": 0}},
      {"Sequence": {"id": "B", "type_id": 1}},
      {"SpecialToken": {"id": "[SEP]", "type_id": 1}}
    ],
    "special_tokens": {
      "[CLS]": {"id": "[CLS]", "ids": [2], "tokens": ["[CLS]"]},
      "[SEP]": {"id": "[SEP]", "ids": [3], "tokens": ["[SEP]"]}
    }
  },
  "decoder": {
    "type": "WordPiece",
    "prefix": "##",
    "cleanup": true
  },
  "model": {
    "type": "WordPiece",
    "unk_token": "[UNK]",
    "continuing_subword_prefix": "##",
    "max_input_chars_per_word": 100,
    "vocab": {
      "[PAD]": 0,
      "[UNK]": 1,
      "[CLS]": 2,
      "[SEP]": 3,
      "[MASK]": 4,
      "hello": 5,
      "world": 6,
      "test": 7,
      "##ing": 8,
      "##ed": 9,
      "the": 10,
      ".": 11
    }
  }
}`)

// Test tokenizer.json content for a BPE model (GPT-2-style), with merges as pairs.
var testBPETokenizerJSON = []byte(`{
  "version": "1.0",
  "truncation": null,
  "padding": null,
  "added_tokens": [
    {"id": 0, "content": "<|endoftext|>", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true}
  ],
  "normalizer": null,
  "pre_tokenizer": {
    "type": "ByteLevel",
    "add_prefix_space": false,
    "trim_offsets": true,
    "use_regex": true
  },
  "post_processor": {
    "type": "ByteLevel",
    "add_prefix_space": true,
    "trim_offsets": false,
    "use_regex": true
  },
  "decoder": {
    "type": "ByteLevel"
  },
  "model": {
    "type": "BPE",
    "dropout": null,
    "unk_token": null,
    "continuing_subword_prefix": "",
    "end_of_word_suffix": "",
    "fuse_unk": false,
    "byte_fallback": false,
    "ignore_merges": false,
    "vocab": {
      "<|endoftext|>": 0,
      "h": 1,
      "e": 2,
      "l": 3,
      "o": 4,
      "Ġ": 5,
      "he": 6,
      "ll": 7,
      "llo": 8,
      "hello": 9,
      "Ġhello": 10
    },
    "merges": [["h", "e"], ["l", "l"], ["ll", "o"], ["he", "llo"], ["Ġ", "hello"]]
  }
}`)

// Test tokenizer.json content for a Unigram model (T5-style).
var testUnigramTokenizerJSON = []byte(`{
  "version": "1.0",
  "truncation": null,
  "padding": null,
  "added_tokens": [
    {"id": 0, "content": "<pad>", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 1, "content": "</s>", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 2, "content": "<unk>", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 9, "content": "<extra_id_0>", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true}
  ],
  "normalizer": {
    "type": "Sequence",
    "normalizers": [
      {"type": "Precompiled", "precompiled_charsmap": "ALQCAACEAAAAAACAAQAAgMz8AgC4BQAAhyIAgMzkAgC4PQAA"},
      {"type": "Replace", "pattern": {"Regex": " {2,}"}, "content": " "}
    ]
  },
  "pre_tokenizer": {
    "type": "Sequence",
    "pretokenizers": [
      {"type": "WhitespaceSplit"},
      {"type": "Metaspace", "replacement": "▁", "prepend_scheme": "always", "split": true}
    ]
  },
  "post_processor": {
    "type": "TemplateProcessing",
    "single": [
      {"Sequence": {"id": "A", "type_id": 0}},
      {"SpecialToken": {"id": "</s>", "type_id": 0}}
    ],
    "pair": [
      {"Sequence": {"id": "A", "type_id": 0}},
      {"SpecialToken": {"id": "</s>", "type_id": 0}},
      {"Sequence": {"id": "B", "type_id": 0}},
      {"SpecialToken": {"id": "</s>", "type_id": 0}}
    ],
    "special_tokens": {
      "</s>": {"id": "</s>", "ids": [1], "tokens": ["</s>"]}
    }
  },
  "decoder": {
    "type": "Metaspace",
    "replacement": "▁",
    "prepend_scheme": "always",
    "split": true
  },
  "model": {
    "type": "Unigram",
    "unk_id": 2,
    "byte_fallback": false,
    "vocab": [
      ["<pad>", 0.0],
      ["</s>", 0.0],
      ["<unk>", 0.0],
      ["▁hello", -1.0],
      ["▁", -2.0],
      ["h", -5.0],
      ["e", -5.0],
      ["l", -5.0],
      ["o", -5.0]
    ]
  }
}`)

// Test tokenizer.json content for a SentencePiece BPE model with byte fallback (Llama-style).
var testLlamaTokenizerJSON = []byte(`{
  "version": "1.0",
  "truncation": null,
  "padding": null,
  "added_tokens": [
    {"id": 0, "content": "<unk>", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 1, "content": "<s>", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 2, "content": "</s>", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true}
  ],
  "normalizer": {
    "type": "Sequence",
    "normalizers": [
      {"type": "Prepend", "prepend": "▁"},
      {"type": "Replace", "pattern": {"String": " "}, "content": "▁"}
    ]
  },
  "pre_tokenizer": null,
  "post_processor": {
    "type": "TemplateProcessing",
    "single": [
      {"SpecialToken": {"id": "<s>", "type_id": 0}},
      {"Sequence": {"id": "A", "type_id": 0}}
    ],
    "pair": [
      {"SpecialToken": {"id": "<s>", "type_id": 0}},
      {"Sequence": {"id": "A", "type_id": 0}},
      {"SpecialToken": {"id": "<s>", "type_id": 1}},
      {"Sequence": {"id": "B", "type_id": 1}}
    ],
    "special_tokens": {
      "<s>": {"id": "<s>", "ids": [1], "tokens": ["<s>"]}
    }
  },
  "decoder": {
    "type": "Sequence",
    "decoders": [
      {"type": "Replace", "pattern": {"String": "▁"}, "content": " "},
      {"type": "ByteFallback"},
      {"type": "Fuse"},
      {"type": "Strip", "content": " ", "start": 1, "stop": 0}
    ]
  },
  "model": {
    "type": "BPE",
    "dropout": null,
    "unk_token": "<unk>",
    "continuing_subword_prefix": null,
    "end_of_word_suffix": null,
    "fuse_unk": true,
    "byte_fallback": true,
    "vocab": {
      "<unk>": 0,
      "<s>": 1,
      "</s>": 2,
      "<0xC3>": 3,
      "<0xA9>": 4,
      "▁": 5,
      "h": 6,
      "i": 7,
      "▁h": 8,
      "▁hi": 9
    },
    "merges": ["▁ h", "▁h i"]
  }
}`)

func texts(tokens []api.Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Text
	}
	return out
}

// build configures cfg from the file and returns the vocabulary and engine.
func build(t *testing.T, tj *TokenizerJSON, cfg *api.Config) (*vocab.Vocabulary, api.SubwordAlgorithm) {
	t.Helper()
	require.NoError(t, tj.Configure(cfg))
	v, err := tj.Vocabulary(cfg)
	require.NoError(t, err)
	engine, err := tj.Engine(cfg, v)
	require.NoError(t, err)
	return v, engine
}

func TestWordPiece(t *testing.T) {
	tj, err := Parse(testWordPieceTokenizerJSON)
	require.NoError(t, err)
	cfg := api.DefaultConfig(api.FamilyGPT2)
	v, engine := build(t, tj, cfg)

	assert.Equal(t, api.ModelWordPiece, cfg.Model)
	assert.True(t, cfg.CleanText)
	assert.True(t, cfg.Lowercase)
	assert.True(t, cfg.StripAccents, "strip_accents follows lowercase")
	assert.True(t, cfg.HandleCJK)
	assert.Equal(t, api.PreTokenizerBert, cfg.PreTokenizer)
	assert.Equal(t, api.DecoderWordPiece, cfg.Decoder)
	assert.Equal(t, "##", cfg.ContinuingSubwordPrefix)
	assert.Equal(t, "[UNK]", cfg.UnkToken)
	assert.Equal(t, "[CLS]", cfg.ClsToken)
	assert.Equal(t, "[SEP]", cfg.SepToken)
	assert.Equal(t, "[PAD]", cfg.PadToken)
	assert.Empty(t, cfg.BosToken, "preset tokens missing from the file are cleared")
	assert.Len(t, cfg.AdditionalSpecialTokens, 5)

	assert.Equal(t, 12, v.Size())
	assert.Equal(t, 1, v.UnknownID())
	assert.True(t, v.IsSpecial(4))
	assert.Equal(t, []string{"test", "##ing"}, texts(engine.Split("testing")))

	tmpl, err := tj.Template()
	require.NoError(t, err)
	assert.Equal(t, []api.TemplatePiece{api.Special("[CLS]", 0), api.Seq(api.SequenceA, 0), api.Special("[SEP]", 0)}, tmpl.Single)
	assert.Equal(t, 3, tmpl.NumSpecialTokens(true))
	assert.Equal(t, api.Special("[SEP]", 1), tmpl.Pair[4])

	opts := tj.EncodeOptions()
	assert.Equal(t, api.EncodeOptions{
		AddSpecialTokens: true,
		MaxLength:        16,
		Truncation:       api.OnlyFirst,
		Stride:           2,
		Padding:          api.PadToMaxLength,
		PadSide:          api.Left,
	}, opts)
}

func TestBPEByteLevel(t *testing.T) {
	tj, err := Parse(testBPETokenizerJSON)
	require.NoError(t, err)
	assert.Equal(t, []vocab.Pair{{Left: "h", Right: "e"}, {Left: "l", Right: "l"}, {Left: "ll", Right: "o"},
		{Left: "he", Right: "llo"}, {Left: "Ġ", Right: "hello"}}, tj.Merges())

	cfg := api.DefaultConfig(api.FamilyGPT2)
	_, engine := build(t, tj, cfg)
	assert.Equal(t, api.ModelBPE, cfg.Model)
	assert.Equal(t, api.PreTokenizerByteLevel, cfg.PreTokenizer)
	assert.False(t, cfg.AddPrefixSpace)
	assert.Equal(t, api.DecoderByteLevel, cfg.Decoder)
	assert.False(t, cfg.Lowercase)
	assert.Equal(t, "<|endoftext|>", cfg.EosToken)

	tokens := engine.Split("hello")
	require.Len(t, tokens, 1)
	assert.Equal(t, 9, tokens[0].ID)
	tokens = engine.Split("Ġhello")
	require.Len(t, tokens, 1)
	assert.Equal(t, 10, tokens[0].ID)

	// A ByteLevel post-processor adds no special tokens.
	tmpl, err := tj.Template()
	require.NoError(t, err)
	assert.Zero(t, tmpl.NumSpecialTokens(false))
	assert.Equal(t, []api.TemplatePiece{api.Seq(api.SequenceA, 0), api.Seq(api.SequenceB, 1)}, tmpl.Pair)
	assert.Equal(t, api.EncodeOptions{AddSpecialTokens: true}, tj.EncodeOptions())
}

func TestUnigram(t *testing.T) {
	tj, err := Parse(testUnigramTokenizerJSON)
	require.NoError(t, err)
	cfg := api.DefaultConfig(api.FamilyT5)
	v, engine := build(t, tj, cfg)
	assert.Equal(t, api.ModelUnigram, cfg.Model)
	assert.Equal(t, "nfkc", cfg.UnicodeForm)
	assert.True(t, cfg.CollapseWhitespace)
	assert.Equal(t, api.PreTokenizerMetaspace, cfg.PreTokenizer)
	assert.True(t, cfg.AddPrefixSpace)
	assert.Equal(t, api.DecoderMetaspace, cfg.Decoder)
	assert.Equal(t, "<unk>", cfg.UnkToken)
	assert.Equal(t, "</s>", cfg.EosToken)
	assert.Equal(t, "<pad>", cfg.PadToken)

	assert.Equal(t, 10, v.Size(), "added tokens past the Unigram vocab are appended")
	assert.True(t, v.IsSpecial(9))
	assert.Equal(t, []string{"▁hello", "h"}, texts(engine.Split("▁helloh")))

	pm, err := tj.PieceModel()
	require.NoError(t, err)
	assert.Equal(t, vocab.PieceUnknown, pm.Pieces[2].Type)
	assert.Equal(t, vocab.PieceControl, pm.Pieces[1].Type)
	assert.Equal(t, vocab.Piece{Text: "<extra_id_0>", Type: vocab.PieceControl}, pm.Pieces[9])

	tmpl, err := tj.Template()
	require.NoError(t, err)
	assert.Equal(t, []api.TemplatePiece{api.Seq(api.SequenceA, 0), api.Special("</s>", 0)}, tmpl.Single)
}

func TestLlamaStyle(t *testing.T) {
	tj, err := Parse(testLlamaTokenizerJSON)
	require.NoError(t, err)
	cfg := api.DefaultConfig(api.FamilySentencePiece)
	_, engine := build(t, tj, cfg)
	assert.Equal(t, api.ModelBPE, cfg.Model)
	assert.Equal(t, api.PreTokenizerMetaspace, cfg.PreTokenizer)
	assert.True(t, cfg.AddPrefixSpace)
	assert.Equal(t, api.DecoderMetaspace, cfg.Decoder)
	assert.True(t, cfg.ByteFallback)
	assert.Empty(t, cfg.UnicodeForm)
	assert.False(t, cfg.CollapseWhitespace)
	assert.Equal(t, "<s>", cfg.BosToken)

	tokens := engine.Split("▁hi")
	require.Len(t, tokens, 1)
	assert.Equal(t, 9, tokens[0].ID)
	assert.Equal(t, []string{"▁", "<0xC3>", "<0xA9>"}, texts(engine.Split("▁é")))

	tmpl, err := tj.Template()
	require.NoError(t, err)
	assert.Equal(t, []api.TemplatePiece{api.Special("<s>", 0), api.Seq(api.SequenceA, 0)}, tmpl.Single)
	assert.Equal(t, api.Special("<s>", 1), tmpl.Pair[2])
}

func TestBPEFuseUnknown(t *testing.T) {
	for _, fuse := range []bool{false, true} {
		content := fmt.Sprintf(`{"model": {"type": "BPE", "unk_token": "<unk>", "fuse_unk": %v,
			"vocab": {"<unk>": 0, "a": 1, "b": 2}, "merges": []}}`, fuse)
		tj, err := Parse([]byte(content))
		require.NoError(t, err)
		cfg := api.DefaultConfig("")
		_, engine := build(t, tj, cfg)
		assert.Equal(t, fuse, cfg.FuseUnknown)
		tokens := engine.Split("axyb")
		if !fuse {
			assert.Equal(t, []string{"a", "<unk>", "<unk>", "b"}, texts(tokens))
			continue
		}
		assert.Equal(t, []string{"a", "<unk>", "b"}, texts(tokens))
		assert.Equal(t, api.TokenSpan{Start: 1, End: 3}, tokens[1].Span)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	require.NoError(t, os.WriteFile(path, testWordPieceTokenizerJSON, 0o644))
	tj, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModelWordPiece, tj.Model.Type)
	assert.Len(t, tj.TokenIDs(), 12)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, errors.Is(err, api.ErrVocab))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid json", `{"model": `},
		{"word level", `{"model": {"type": "WordLevel", "vocab": {"a": 0}}}`},
		{"bad vocab", `{"model": {"type": "BPE", "vocab": [["a", 0]]}}`},
		{"bad merge", `{"model": {"type": "BPE", "vocab": {"a": 0}, "merges": ["a"]}}`},
		{"bad merge pair", `{"model": {"type": "BPE", "vocab": {"a": 0}, "merges": [["a"]]}}`},
		{"added token conflict", `{"added_tokens": [{"id": 1, "content": "a", "special": true}],
			"model": {"type": "WordPiece", "vocab": {"a": 0, "b": 1}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			assert.True(t, errors.Is(err, api.ErrVocab), "got %v", err)
		})
	}

	// Ids must be dense.
	tj, err := Parse([]byte(`{"model": {"type": "WordPiece", "unk_token": "[UNK]", "vocab": {"[UNK]": 0, "a": 5}}}`))
	require.NoError(t, err)
	cfg := api.DefaultConfig(api.FamilyBERT)
	require.NoError(t, tj.Configure(cfg))
	_, err = tj.Vocabulary(cfg)
	assert.True(t, errors.Is(err, api.ErrVocab), "got %v", err)

	// A model type is inferred when missing.
	tj, err = Parse([]byte(`{"model": {"vocab": [["<unk>", 0], ["a", -1]], "unk_id": 0}}`))
	require.NoError(t, err)
	assert.Equal(t, ModelUnigram, tj.Model.Type)
}
