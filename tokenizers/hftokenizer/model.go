package hftokenizer

import (
	"strings"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/gomlx/go-subword/tokenizers/bpe"
	"github.com/gomlx/go-subword/tokenizers/unigram"
	"github.com/gomlx/go-subword/tokenizers/vocab"
	"github.com/gomlx/go-subword/tokenizers/wordpiece"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Vocabulary returns the vocabulary of the model and the added tokens, with the special tokens of cfg.
func (t *TokenizerJSON) Vocabulary(cfg *api.Config) (*vocab.Vocabulary, error) {
	return vocab.FromMap(t.tokenID, cfg.SpecialTokenMap(), vocab.Options{
		MaxSize:                 cfg.MaxVocabSize,
		AdditionalSpecialTokens: cfg.AdditionalSpecialTokens,
	})
}

// PieceModel returns the Unigram vocabulary as a piece model. Added tokens missing from the vocabulary
// are appended as control (special) or user-defined pieces.
func (t *TokenizerJSON) PieceModel() (*vocab.PieceModel, error) {
	if t.Model.Type != ModelUnigram {
		return nil, errors.Wrapf(api.ErrVocab, "piece model requested for a %s model", t.Model.Type)
	}
	if t.Model.UnkID == nil {
		return nil, errors.Wrap(api.ErrVocab, "Unigram model without unk_id")
	}
	pm := &vocab.PieceModel{
		Pieces:       make([]vocab.Piece, len(t.tokenID)),
		UnknownID:    *t.Model.UnkID,
		BOSID:        -1,
		EOSID:        -1,
		PadID:        -1,
		Kind:         vocab.KindUnigram,
		ByteFallback: t.Model.ByteFallback,
	}
	added := make(map[string]AddedToken, len(t.AddedTokens))
	for _, at := range t.AddedTokens {
		added[at.Content] = at
	}
	for id, p := range t.pieces {
		typ := vocab.PieceNormal
		switch {
		case id == pm.UnknownID:
			typ = vocab.PieceUnknown
		case added[p.Text].Special:
			typ = vocab.PieceControl
		case pm.ByteFallback && isBytePiece(p.Text):
			typ = vocab.PieceByte
		}
		pm.Pieces[id] = vocab.Piece{Text: p.Text, Score: float32(p.Score), Type: typ}
	}
	for _, at := range t.AddedTokens {
		if at.ID < len(t.pieces) {
			continue
		}
		if at.ID >= len(pm.Pieces) {
			return nil, errors.Wrapf(api.ErrVocab, "added token %q has id %d out of the dense range [0, %d)", at.Content, at.ID, len(pm.Pieces))
		}
		typ := vocab.PieceUserDefined
		if at.Special {
			typ = vocab.PieceControl
		}
		pm.Pieces[at.ID] = vocab.Piece{Text: at.Content, Type: typ}
	}
	if err := pm.Validate(); err != nil {
		return nil, err
	}
	return pm, nil
}

func isBytePiece(text string) bool {
	return len(text) == 6 && strings.HasPrefix(text, "<0x") && strings.HasSuffix(text, ">")
}

// Engine returns the subword algorithm of the model, configured by cfg over v.
func (t *TokenizerJSON) Engine(cfg *api.Config, v *vocab.Vocabulary) (api.SubwordAlgorithm, error) {
	switch t.Model.Type {
	case ModelWordPiece:
		return wordpiece.New(v, wordpiece.Options{
			ContinuingSubwordPrefix: cfg.ContinuingSubwordPrefix,
			WordStartPrefix:         cfg.WordStartPrefix,
			MaxInputCharsPerWord:    cfg.MaxInputCharsPerWord,
		}), nil
	case ModelBPE:
		merges, err := vocab.NewMergeTable(t.merges)
		if err != nil {
			return nil, err
		}
		return bpe.New(v, merges, bpe.Options{
			ContinuingSubwordPrefix: cfg.ContinuingSubwordPrefix,
			EndOfWordSuffix:         cfg.EndOfWordSuffix,
			NonFinalSuffix:          cfg.NonFinalSuffix,
			IgnoreMerges:            cfg.IgnoreMerges,
			ByteFallback:            cfg.ByteFallback,
			FuseUnknown:             cfg.FuseUnknown,
			CacheCapacity:           cfg.CacheCapacity,
		})
	case ModelUnigram:
		pm, err := t.PieceModel()
		if err != nil {
			return nil, err
		}
		return unigram.New(pm, unigram.Options{ByteFallback: cfg.ByteFallback, FuseUnknown: cfg.FuseUnknown})
	}
	return nil, errors.Wrapf(api.ErrVocab, "tokenizer model type %q is not supported", t.Model.Type)
}

// Template returns the special-token template of the post-processor. Without a post-processor no
// special token is added.
func (t *TokenizerJSON) Template() (api.Template, error) {
	tmpl, found, err := postProcessorTemplate(t.PostProcessor)
	if err != nil || found {
		return tmpl, err
	}
	return api.Template{
		Single: []api.TemplatePiece{api.Seq(api.SequenceA, 0)},
		Pair:   []api.TemplatePiece{api.Seq(api.SequenceA, 0), api.Seq(api.SequenceB, 1)},
	}, nil
}

// postProcessorTemplate returns found=false for post-processors that add no special token.
func postProcessorTemplate(p *PostProcessor) (tmpl api.Template, found bool, err error) {
	if p == nil {
		return tmpl, false, nil
	}
	switch p.Type {
	case "TemplateProcessing":
		if tmpl.Single, err = templatePieces(p.Single, p.SpecialTokens); err != nil {
			return tmpl, false, errors.WithMessage(err, "single template")
		}
		if tmpl.Pair, err = templatePieces(p.Pair, p.SpecialTokens); err != nil {
			return tmpl, false, errors.WithMessage(err, "pair template")
		}
		return tmpl, true, nil
	case "BertProcessing":
		if p.Cls == nil || p.Sep == nil {
			return tmpl, false, errors.Wrap(api.ErrVocab, "BertProcessing without cls or sep")
		}
		cls, sep := p.Cls.Content, p.Sep.Content
		tmpl.Single = []api.TemplatePiece{api.Special(cls, 0), api.Seq(api.SequenceA, 0), api.Special(sep, 0)}
		tmpl.Pair = []api.TemplatePiece{api.Special(cls, 0), api.Seq(api.SequenceA, 0), api.Special(sep, 0),
			api.Seq(api.SequenceB, 1), api.Special(sep, 1)}
		return tmpl, true, nil
	case "RobertaProcessing":
		if p.Cls == nil || p.Sep == nil {
			return tmpl, false, errors.Wrap(api.ErrVocab, "RobertaProcessing without cls or sep")
		}
		cls, sep := p.Cls.Content, p.Sep.Content
		tmpl.Single = []api.TemplatePiece{api.Special(cls, 0), api.Seq(api.SequenceA, 0), api.Special(sep, 0)}
		tmpl.Pair = []api.TemplatePiece{api.Special(cls, 0), api.Seq(api.SequenceA, 0), api.Special(sep, 0),
			api.Special(sep, 0), api.Seq(api.SequenceB, 0), api.Special(sep, 0)}
		return tmpl, true, nil
	case "ByteLevel":
		return tmpl, false, nil
	case "Sequence":
		for i := range p.Processors {
			tmpl, found, err = postProcessorTemplate(&p.Processors[i])
			if err != nil || found {
				return tmpl, found, err
			}
		}
		return tmpl, false, nil
	}
	klog.Warningf("hftokenizer: post-processor %q is not supported, no special tokens added", p.Type)
	return tmpl, false, nil
}

func templatePieces(items []PostProcItem, specials map[string]PostProcSpecialToken) ([]api.TemplatePiece, error) {
	var pieces []api.TemplatePiece
	for i, item := range items {
		switch {
		case item.Sequence != nil:
			switch item.Sequence.ID {
			case "A":
				pieces = append(pieces, api.Seq(api.SequenceA, item.Sequence.TypeID))
			case "B":
				pieces = append(pieces, api.Seq(api.SequenceB, item.Sequence.TypeID))
			default:
				return nil, errors.Wrapf(api.ErrVocab, "item %d: unknown sequence %q", i, item.Sequence.ID)
			}
		case item.SpecialToken != nil:
			tokens := []string{item.SpecialToken.ID}
			if st, found := specials[item.SpecialToken.ID]; found && len(st.Tokens) > 0 {
				tokens = st.Tokens
			}
			for _, token := range tokens {
				pieces = append(pieces, api.Special(token, item.SpecialToken.TypeID))
			}
		default:
			return nil, errors.Wrapf(api.ErrVocab, "item %d is neither a sequence nor a special token", i)
		}
	}
	return pieces, nil
}
