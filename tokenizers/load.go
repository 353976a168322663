package tokenizers

import (
	"path/filepath"
	"strings"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/gomlx/go-subword/tokenizers/bpe"
	"github.com/gomlx/go-subword/tokenizers/gguf"
	"github.com/gomlx/go-subword/tokenizers/hftokenizer"
	"github.com/gomlx/go-subword/tokenizers/sentencepiece"
	"github.com/gomlx/go-subword/tokenizers/vocab"
	"github.com/gomlx/go-subword/tokenizers/wordpiece"
	"github.com/pkg/errors"
)

// Load creates a Tokenizer from vocabulary artifacts, following cfg.Model:
//
//   - WordPiece: vocabPath is a plain vocabulary (one token per line), mergesOrModelPath is unused.
//   - BPE: vocabPath is a plain vocabulary or a "vocab.json" token→id object, and mergesOrModelPath
//     the merges file. If mergesOrModelPath is a SentencePiece ".model" file, it is loaded instead.
//   - Unigram: mergesOrModelPath is a SentencePiece ".model" file, vocabPath is unused.
func Load(vocabPath, mergesOrModelPath string, cfg *api.Config) (*Tokenizer, error) {
	if cfg == nil {
		return nil, errors.New("tokenizers.Load requires a config, see api.DefaultConfig")
	}
	if strings.EqualFold(filepath.Ext(mergesOrModelPath), ".model") || cfg.Model == api.ModelUnigram {
		return LoadSentencePiece(mergesOrModelPath, cfg)
	}
	opts := vocab.Options{MaxSize: cfg.MaxVocabSize, AdditionalSpecialTokens: cfg.AdditionalSpecialTokens}
	var (
		v   *vocab.Vocabulary
		err error
	)
	if strings.EqualFold(filepath.Ext(vocabPath), ".json") {
		v, err = vocab.FromJSONFile(vocabPath, cfg.SpecialTokenMap(), opts)
	} else {
		v, err = vocab.FromFile(vocabPath, cfg.SpecialTokenMap(), opts)
	}
	if err != nil {
		return nil, err
	}
	var engine api.SubwordAlgorithm
	switch cfg.Model {
	case api.ModelWordPiece:
		engine = wordpiece.New(v, wordpiece.Options{
			ContinuingSubwordPrefix: cfg.ContinuingSubwordPrefix,
			WordStartPrefix:         cfg.WordStartPrefix,
			MaxInputCharsPerWord:    cfg.MaxInputCharsPerWord,
		})
	case api.ModelBPE:
		merges, err := vocab.LoadMerges(mergesOrModelPath)
		if err != nil {
			return nil, err
		}
		engine, err = bpe.New(v, merges, bpe.Options{
			ContinuingSubwordPrefix: cfg.ContinuingSubwordPrefix,
			EndOfWordSuffix:         cfg.EndOfWordSuffix,
			NonFinalSuffix:          cfg.NonFinalSuffix,
			IgnoreMerges:            cfg.IgnoreMerges,
			ByteFallback:            cfg.ByteFallback,
			FuseUnknown:             cfg.FuseUnknown,
			CacheCapacity:           cfg.CacheCapacity,
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("unknown model %q", cfg.Model)
	}
	return New(Components{Config: cfg, Vocab: v, Engine: engine})
}

// configOrPreset returns a copy of cfg, or the preset of family if cfg is nil.
func configOrPreset(cfg *api.Config, family api.Family) *api.Config {
	if cfg == nil {
		return api.DefaultConfig(family)
	}
	c := *cfg
	return &c
}

// LoadSentencePiece creates a Tokenizer from a SentencePiece ".model" file. The model sets the
// algorithm, the special tokens and the normalization of cfg (copied, nil for the SentencePiece preset).
func LoadSentencePiece(path string, cfg *api.Config) (*Tokenizer, error) {
	m, err := sentencepiece.Load(path)
	if err != nil {
		return nil, err
	}
	c := configOrPreset(cfg, api.FamilySentencePiece)
	m.Configure(c)
	v, err := m.Vocabulary(c)
	if err != nil {
		return nil, err
	}
	engine, err := m.Engine(c)
	if err != nil {
		return nil, err
	}
	return New(Components{Config: c, Vocab: v, Engine: engine})
}

// LoadTokenizerJSON creates a Tokenizer from a HuggingFace "tokenizer.json" file. The file sets the
// pipeline of cfg (copied, nil for an empty configuration), its template and default encode options.
func LoadTokenizerJSON(path string, cfg *api.Config) (*Tokenizer, error) {
	tj, err := hftokenizer.Load(path)
	if err != nil {
		return nil, err
	}
	c := configOrPreset(cfg, "")
	if err := tj.Configure(c); err != nil {
		return nil, err
	}
	v, err := tj.Vocabulary(c)
	if err != nil {
		return nil, err
	}
	engine, err := tj.Engine(c, v)
	if err != nil {
		return nil, err
	}
	template, err := tj.Template()
	if err != nil {
		return nil, err
	}
	defaults := tj.EncodeOptions()
	return New(Components{Config: c, Vocab: v, Engine: engine, Template: &template, Defaults: &defaults})
}

// LoadGGUF creates a Tokenizer from the tokenizer metadata of a GGUF model file. The file sets the
// family and pipeline of cfg (copied, nil for an empty configuration).
func LoadGGUF(path string, cfg *api.Config) (*Tokenizer, error) {
	tok, err := gguf.Load(path)
	if err != nil {
		return nil, err
	}
	c := configOrPreset(cfg, "")
	if err := tok.Configure(c); err != nil {
		return nil, err
	}
	v, err := tok.Vocabulary(c)
	if err != nil {
		return nil, err
	}
	engine, err := tok.Engine(c, v)
	if err != nil {
		return nil, err
	}
	return New(Components{Config: c, Vocab: v, Engine: engine})
}
