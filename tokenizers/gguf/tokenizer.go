package gguf

import (
	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/gomlx/go-subword/tokenizers/bpe"
	"github.com/gomlx/go-subword/tokenizers/sentencepiece"
	"github.com/gomlx/go-subword/tokenizers/unigram"
	"github.com/gomlx/go-subword/tokenizers/vocab"
	"github.com/gomlx/go-subword/tokenizers/wordpiece"
	"github.com/pkg/errors"
)

// Tokenizer model names found in "tokenizer.ggml.model".
const (
	ModelGPT2  = "gpt2"
	ModelLlama = "llama"
	ModelT5    = "t5"
	ModelBert  = "bert"
)

// Tokenizer is the tokenizer stored in the "tokenizer.ggml.*" metadata of a GGUF file.
type Tokenizer struct {
	// Model is the tokenizer model name, see the Model* constants.
	Model string

	Tokens []string
	Scores []float32
	Types  []vocab.PieceType
	Merges []vocab.Pair

	// Special token ids, -1 when absent.
	BOSID, EOSID, UnknownID, PadID, SepID, ClsID, MaskID int

	AddBOS, AddEOS bool
}

// Load reads the tokenizer of the GGUF file at path.
func Load(path string) (*Tokenizer, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	return f.Tokenizer()
}

// Tokenizer extracts the tokenizer from the metadata.
func (f *File) Tokenizer() (*Tokenizer, error) {
	kv, ok := f.GetKeyValue("tokenizer.ggml.model")
	if !ok {
		return nil, errors.Wrap(api.ErrVocab, "gguf: no tokenizer in the metadata")
	}
	t := &Tokenizer{Model: kv.String()}
	kv, _ = f.GetKeyValue("tokenizer.ggml.tokens")
	t.Tokens = kv.Strings()
	if len(t.Tokens) == 0 {
		return nil, errors.Wrap(api.ErrVocab, "gguf: empty or missing tokenizer.ggml.tokens")
	}
	if kv, ok = f.GetKeyValue("tokenizer.ggml.scores"); ok {
		t.Scores = kv.Floats()
		if len(t.Scores) != len(t.Tokens) {
			return nil, errors.Wrapf(api.ErrVocab, "gguf: %d scores for %d tokens", len(t.Scores), len(t.Tokens))
		}
	}
	if kv, ok = f.GetKeyValue("tokenizer.ggml.token_type"); ok {
		types := kv.Ints()
		if len(types) != len(t.Tokens) {
			return nil, errors.Wrapf(api.ErrVocab, "gguf: %d token types for %d tokens", len(types), len(t.Tokens))
		}
		t.Types = make([]vocab.PieceType, len(types))
		for i, typ := range types {
			t.Types[i] = vocab.PieceType(typ)
		}
	}
	if kv, ok = f.GetKeyValue("tokenizer.ggml.merges"); ok {
		lines := kv.Strings()
		t.Merges = make([]vocab.Pair, len(lines))
		for i, line := range lines {
			pair, err := vocab.ParseMerge(line)
			if err != nil {
				return nil, errors.WithMessagef(err, "gguf: merge %d", i)
			}
			t.Merges[i] = pair
		}
	}
	for key, id := range map[string]*int{
		"tokenizer.ggml.bos_token_id":       &t.BOSID,
		"tokenizer.ggml.eos_token_id":       &t.EOSID,
		"tokenizer.ggml.unknown_token_id":   &t.UnknownID,
		"tokenizer.ggml.padding_token_id":   &t.PadID,
		"tokenizer.ggml.seperator_token_id": &t.SepID,
		"tokenizer.ggml.cls_token_id":       &t.ClsID,
		"tokenizer.ggml.mask_token_id":      &t.MaskID,
	} {
		*id = -1
		if kv, ok := f.GetKeyValue(key); ok && kv.IsInt() {
			if v := int(kv.Int()); v >= 0 && v < len(t.Tokens) {
				*id = v
			}
		}
	}
	if kv, ok = f.GetKeyValue("tokenizer.ggml.add_bos_token"); ok {
		t.AddBOS = kv.Bool()
	}
	if kv, ok = f.GetKeyValue("tokenizer.ggml.add_eos_token"); ok {
		t.AddEOS = kv.Bool()
	}
	return t, nil
}

func (t *Tokenizer) token(id int) string {
	if id < 0 {
		return ""
	}
	return t.Tokens[id]
}

// Configure sets in cfg the family, algorithm, special tokens, pre-tokenizer and decoder of the
// tokenizer. Other options of cfg, like lowercasing for BERT, are kept.
func (t *Tokenizer) Configure(cfg *api.Config) error {
	cfg.UnkToken = t.token(t.UnknownID)
	cfg.BosToken = t.token(t.BOSID)
	cfg.EosToken = t.token(t.EOSID)
	cfg.PadToken = t.token(t.PadID)
	cfg.SepToken = t.token(t.SepID)
	cfg.ClsToken = t.token(t.ClsID)
	cfg.MaskToken = t.token(t.MaskID)
	cfg.AddBosToken, cfg.AddEosToken = t.AddBOS, t.AddEOS
	cfg.AdditionalSpecialTokens = nil
	for id, typ := range t.Types {
		if typ == vocab.PieceControl || typ == vocab.PieceUserDefined {
			cfg.AdditionalSpecialTokens = append(cfg.AdditionalSpecialTokens, t.Tokens[id])
		}
	}
	cfg.CleanText, cfg.UnicodeForm, cfg.StripAccents, cfg.CollapseWhitespace = false, "", false, false

	switch t.Model {
	case ModelGPT2:
		cfg.Family, cfg.Model = api.FamilyGPT2, api.ModelBPE
		cfg.Lowercase, cfg.FuseUnknown = false, false
		cfg.PreTokenizer, cfg.Decoder = api.PreTokenizerByteLevel, api.DecoderByteLevel
	case ModelLlama:
		cfg.Family, cfg.Model = api.FamilySentencePiece, api.ModelBPE
		cfg.Lowercase = false
		cfg.PreTokenizer, cfg.AddPrefixSpace = api.PreTokenizerMetaspace, true
		cfg.Decoder = api.DecoderMetaspace
		cfg.ByteFallback, cfg.FuseUnknown = true, true
	case ModelT5:
		cfg.Family, cfg.Model = api.FamilyT5, api.ModelUnigram
		cfg.FuseUnknown = true
		cfg.UnicodeForm, cfg.CollapseWhitespace = "nfkc", true
		cfg.PreTokenizer, cfg.AddPrefixSpace = api.PreTokenizerMetaspace, true
		cfg.Decoder = api.DecoderMetaspace
	case ModelBert:
		cfg.Family, cfg.Model = api.FamilyBERT, api.ModelWordPiece
		cfg.CleanText, cfg.HandleCJK = true, true
		cfg.PreTokenizer = api.PreTokenizerBert
		cfg.ContinuingSubwordPrefix, cfg.WordStartPrefix = "", "▁"
		cfg.Decoder = api.DecoderWordPiece
	default:
		return errors.Wrapf(api.ErrVocab, "gguf: tokenizer model %q is not supported", t.Model)
	}
	return nil
}

// Vocabulary returns the vocabulary with the special tokens of cfg.
func (t *Tokenizer) Vocabulary(cfg *api.Config) (*vocab.Vocabulary, error) {
	return vocab.New(t.Tokens, cfg.SpecialTokenMap(), vocab.Options{
		MaxSize:                 cfg.MaxVocabSize,
		AdditionalSpecialTokens: cfg.AdditionalSpecialTokens,
	})
}

// PieceModel returns the tokens as a piece model, for the score-based models.
func (t *Tokenizer) PieceModel(kind vocab.ModelKind, cfg *api.Config) (*vocab.PieceModel, error) {
	if t.Scores == nil {
		return nil, errors.Wrapf(api.ErrVocab, "gguf: tokenizer model %q requires scores", t.Model)
	}
	if t.UnknownID < 0 {
		return nil, errors.Wrapf(api.ErrVocab, "gguf: tokenizer model %q requires an unknown token", t.Model)
	}
	pm := &vocab.PieceModel{
		Pieces:                 make([]vocab.Piece, len(t.Tokens)),
		UnknownID:              t.UnknownID,
		BOSID:                  t.BOSID,
		EOSID:                  t.EOSID,
		PadID:                  t.PadID,
		Kind:                   kind,
		AddDummyPrefix:         cfg.AddPrefixSpace,
		RemoveExtraWhitespaces: cfg.CollapseWhitespace,
		ByteFallback:           cfg.ByteFallback,
	}
	for id, text := range t.Tokens {
		typ := vocab.PieceNormal
		if t.Types != nil {
			typ = t.Types[id]
		}
		if id == t.UnknownID {
			typ = vocab.PieceUnknown
		}
		pm.Pieces[id] = vocab.Piece{Text: text, Score: t.Scores[id], Type: typ}
	}
	return pm, nil
}

// Engine returns the subword algorithm of the tokenizer, configured by cfg over v.
func (t *Tokenizer) Engine(cfg *api.Config, v *vocab.Vocabulary) (api.SubwordAlgorithm, error) {
	switch t.Model {
	case ModelGPT2:
		merges, err := vocab.NewMergeTable(t.Merges)
		if err != nil {
			return nil, err
		}
		return bpe.New(v, merges, bpe.Options{CacheCapacity: cfg.CacheCapacity})
	case ModelLlama:
		pm, err := t.PieceModel(vocab.KindBPE, cfg)
		if err != nil {
			return nil, err
		}
		m, err := sentencepiece.FromPieceModel(pm)
		if err != nil {
			return nil, err
		}
		return m.Engine(cfg)
	case ModelT5:
		pm, err := t.PieceModel(vocab.KindUnigram, cfg)
		if err != nil {
			return nil, err
		}
		return unigram.New(pm, unigram.Options{ByteFallback: cfg.ByteFallback, FuseUnknown: cfg.FuseUnknown})
	case ModelBert:
		return wordpiece.New(v, wordpiece.Options{
			ContinuingSubwordPrefix: cfg.ContinuingSubwordPrefix,
			WordStartPrefix:         cfg.WordStartPrefix,
			MaxInputCharsPerWord:    cfg.MaxInputCharsPerWord,
		}), nil
	}
	return nil, errors.Wrapf(api.ErrVocab, "gguf: tokenizer model %q is not supported", t.Model)
}
