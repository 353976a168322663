// Package sentencepiece loads SentencePiece models ("tokenizer.model" files) and provides their
// subword engine: the Unigram engine for Unigram models, and a BPE engine backed by
// github.com/eliben/go-sentencepiece for BPE models.
package sentencepiece

import (
	"bytes"
	"strings"
	"unicode/utf8"

	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/gomlx/go-subword/tokenizers/unigram"
	"github.com/gomlx/go-subword/tokenizers/vocab"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Model is a parsed SentencePiece model.
type Model struct {
	*vocab.PieceModel

	// processor is only set for BPE models.
	processor *esentencepiece.Processor
}

// Parse parses a serialized SentencePiece model. The data is not retained.
func Parse(data []byte) (*Model, error) {
	pm, err := ParseModel(data)
	if err != nil {
		return nil, err
	}
	m := &Model{PieceModel: pm}
	if pm.Kind == vocab.KindBPE {
		patched := make([]byte, 0, len(data)+len(processorOverrides))
		patched = append(append(patched, data...), processorOverrides...)
		m.processor, err = esentencepiece.NewProcessor(bytes.NewReader(patched))
		if err != nil {
			return nil, errors.Wrapf(api.ErrVocab, "can't create SentencePiece BPE processor: %v", err)
		}
	}
	return m, nil
}

// Engine returns the subword algorithm of the model.
func (m *Model) Engine(cfg *api.Config) (api.SubwordAlgorithm, error) {
	switch m.Kind {
	case vocab.KindUnigram:
		return unigram.New(m.PieceModel, unigram.Options{ByteFallback: cfg.ByteFallback, FuseUnknown: cfg.FuseUnknown})
	case vocab.KindBPE:
		return &BPE{processor: m.processor, unknownID: m.UnknownID}, nil
	}
	return nil, errors.Wrapf(api.ErrVocab, "SentencePiece model kind %d is not supported", m.Kind)
}

// Vocabulary returns the vocabulary of the model with the special tokens of cfg.
func (m *Model) Vocabulary(cfg *api.Config) (*vocab.Vocabulary, error) {
	return m.PieceModel.Vocabulary(cfg.SpecialTokenMap(), vocab.Options{
		MaxSize:                 cfg.MaxVocabSize,
		AdditionalSpecialTokens: cfg.AdditionalSpecialTokens,
	})
}

// Configure sets in cfg the options stored in the model: algorithm, special pieces, normalization
// and byte fallback. Special tokens whose piece is disabled in the model are cleared.
func (m *Model) Configure(cfg *api.Config) {
	if m.Kind == vocab.KindBPE {
		cfg.Model = api.ModelBPE
	} else {
		cfg.Model = api.ModelUnigram
	}
	cfg.UnkToken = m.Pieces[m.UnknownID].Text
	cfg.BosToken = m.pieceText(m.BOSID)
	cfg.EosToken = m.pieceText(m.EOSID)
	cfg.PadToken = m.pieceText(m.PadID)
	for _, token := range []*string{&cfg.ClsToken, &cfg.SepToken, &cfg.MaskToken} {
		if *token != "" && !m.hasPiece(*token) {
			*token = ""
		}
	}

	name := strings.ToLower(m.NormalizerName)
	switch {
	case name == "identity":
		cfg.UnicodeForm = ""
	case strings.Contains(name, "nfkc"):
		cfg.UnicodeForm = "nfkc"
	case strings.Contains(name, "nfkd"):
		cfg.UnicodeForm = "nfkd"
	}
	if strings.HasSuffix(name, "_cf") {
		cfg.Lowercase = true
	}
	cfg.CollapseWhitespace = m.RemoveExtraWhitespaces
	cfg.PreTokenizer = api.PreTokenizerMetaspace
	cfg.AddPrefixSpace = m.AddDummyPrefix
	cfg.Decoder = api.DecoderMetaspace
	cfg.ByteFallback = m.ByteFallback
	cfg.FuseUnknown = true
}

func (m *Model) pieceText(id int) string {
	if id < 0 || id >= len(m.Pieces) {
		return ""
	}
	return m.Pieces[id].Text
}

func (m *Model) hasPiece(text string) bool {
	for _, p := range m.Pieces {
		if p.Text == text {
			return true
		}
	}
	return false
}

// BPE is the engine of SentencePiece BPE models: pieces are merged by score, highest first.
type BPE struct {
	processor *esentencepiece.Processor
	unknownID int
}

var _ api.SubwordAlgorithm = (*BPE)(nil)

// Split implements api.SubwordAlgorithm.
//
// The processor doesn't report offsets, so they are recovered by matching the token texts against
// the unit. The bytes of a rune split by byte fallback all get the span of the rune.
func (b *BPE) Split(unit string) []api.Token {
	if unit == "" {
		return nil
	}
	pieces := b.processor.Encode(unit)
	tokens := make([]api.Token, 0, len(pieces))
	pos := 0
	runeEnd, runeBytes := 0, 0 // Current rune split in byte tokens and its remaining bytes.
	for _, p := range pieces {
		token := api.Token{Text: p.Text, ID: p.ID}
		switch {
		case runeBytes > 0 && isBytePiece(p.Text):
			token.Span = api.TokenSpan{Start: runeEnd - utf8RuneLenAt(unit, runeEnd), End: runeEnd}
			runeBytes--
		case pos < len(unit) && strings.HasPrefix(unit[pos:], p.Text):
			token.Span = api.TokenSpan{Start: pos, End: pos + len(p.Text)}
			pos += len(p.Text)
		case pos < len(unit) && isBytePiece(p.Text):
			_, size := utf8.DecodeRuneInString(unit[pos:])
			token.Span = api.TokenSpan{Start: pos, End: pos + size}
			pos += size
			runeEnd, runeBytes = pos, size-1
		case pos < len(unit):
			_, size := utf8.DecodeRuneInString(unit[pos:])
			token.Span = api.TokenSpan{Start: pos, End: pos + size}
			token.Kind = api.KindUnknown
			pos += size
		default:
			klog.V(2).Infof("sentencepiece: token %q past the end of %q", p.Text, unit)
			token.Span = api.TokenSpan{Start: len(unit), End: len(unit)}
		}
		if p.ID == b.unknownID {
			token.Kind = api.KindUnknown
		}
		tokens = append(tokens, token)
	}
	if len(tokens) > 1 {
		for i := range tokens {
			if tokens[i].Kind != api.KindNone {
				continue
			}
			if i == 0 {
				tokens[i].Kind = api.KindBegin
			} else {
				tokens[i].Kind = api.KindContinuation
			}
		}
	}
	return tokens
}

// utf8RuneLenAt returns the length of the rune ending at end.
func utf8RuneLenAt(s string, end int) int {
	_, size := utf8.DecodeLastRuneInString(s[:end])
	return size
}

func isBytePiece(text string) bool {
	return len(text) == 6 && strings.HasPrefix(text, "<0x") && text[5] == '>'
}

// FromPieceModel creates a Model from pieces obtained elsewhere, e.g. from GGUF metadata.
func FromPieceModel(pm *vocab.PieceModel) (*Model, error) {
	return Parse(Marshal(pm))
}
