package hftokenizer

import (
	"strings"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/gomlx/go-subword/tokenizers/pretokenizer"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const metaspace = string(pretokenizer.MetaspaceReplacement)

// metaspaceHints records the SentencePiece-style normalizers (Replace " " by "▁", Prepend "▁") used
// by Llama-like files in place of a Metaspace pre-tokenizer.
type metaspaceHints struct {
	replaceSpaces bool
	prepend       bool
}

// Configure translates the model, normalizer, pre-tokenizer, decoder and special tokens of the file
// into cfg. Options the file doesn't cover (offset unit, workers, cache) are kept. Components with no
// equivalent are logged and skipped.
func (t *TokenizerJSON) Configure(cfg *api.Config) error {
	if err := t.configureModel(cfg); err != nil {
		return err
	}

	cfg.CleanText, cfg.UnicodeForm, cfg.Lowercase, cfg.StripAccents, cfg.CollapseWhitespace = false, "", false, false, false
	cfg.HandleCJK, cfg.AddPrefixSpace, cfg.SplitPattern = false, false, ""
	var hints metaspaceHints
	if t.Normalizer != nil {
		configureNormalizer(cfg, t.Normalizer, &hints)
	}
	configurePreTokenizer(cfg, t.PreTokenizer, hints)
	configureDecoder(cfg, t.Decoder, hints)
	t.configureSpecialTokens(cfg)
	if p := t.Padding; p != nil {
		cfg.PadTypeID = p.PadTypeID
		if _, found := t.tokenID[p.PadToken]; found && p.PadToken != "" {
			cfg.PadToken = p.PadToken
		}
	}
	return nil
}

func (t *TokenizerJSON) configureModel(cfg *api.Config) error {
	m := &t.Model
	cfg.ContinuingSubwordPrefix, cfg.WordStartPrefix = "", ""
	cfg.EndOfWordSuffix, cfg.NonFinalSuffix = "", ""
	cfg.ByteFallback, cfg.FuseUnknown, cfg.IgnoreMerges = m.ByteFallback, m.FuseUnk, m.IgnoreMerges
	switch m.Type {
	case ModelWordPiece:
		cfg.Model = api.ModelWordPiece
		cfg.ContinuingSubwordPrefix = "##"
		if m.ContinuingSubwordPrefix != nil {
			cfg.ContinuingSubwordPrefix = *m.ContinuingSubwordPrefix
		}
		cfg.MaxInputCharsPerWord = m.MaxInputCharsPerWord
	case ModelBPE:
		cfg.Model = api.ModelBPE
		if m.ContinuingSubwordPrefix != nil {
			cfg.ContinuingSubwordPrefix = *m.ContinuingSubwordPrefix
		}
		cfg.EndOfWordSuffix = m.EndOfWordSuffix
	case ModelUnigram:
		cfg.Model = api.ModelUnigram
		// Unknown runes are always fused by Unigram models.
		cfg.FuseUnknown = true
	default:
		return errors.Wrapf(api.ErrVocab, "tokenizer model type %q is not supported", m.Type)
	}
	return nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func configureNormalizer(cfg *api.Config, n *Normalizer, hints *metaspaceHints) {
	switch n.Type {
	case "BertNormalizer":
		cfg.CleanText = boolOr(n.CleanText, true)
		cfg.HandleCJK = boolOr(n.HandleChineseChars, true)
		cfg.Lowercase = boolOr(n.Lowercase, true)
		// strip_accents unset follows lowercase.
		cfg.StripAccents = boolOr(n.StripAccents, cfg.Lowercase)
	case "Lowercase":
		cfg.Lowercase = true
	case "NFC", "NFD", "NFKC", "NFKD":
		cfg.UnicodeForm = strings.ToLower(n.Type)
	case "StripAccents":
		cfg.StripAccents = true
	case "Precompiled":
		// The precompiled SentencePiece charsmap is close to NFKC.
		cfg.UnicodeForm = "nfkc"
		klog.V(1).Infof("hftokenizer: Precompiled normalizer approximated with NFKC")
	case "Replace":
		switch {
		case n.Pattern != nil && n.Pattern.String == " " && n.Content == metaspace:
			hints.replaceSpaces = true
		case n.Pattern != nil && n.Pattern.Regex == " {2,}" && n.Content == " ":
			cfg.CollapseWhitespace = true
		default:
			klog.Warningf("hftokenizer: Replace normalizer %+v to %q is not supported, ignored", n.Pattern, n.Content)
		}
	case "Prepend":
		if n.Prepend == metaspace {
			hints.prepend = true
		} else {
			klog.Warningf("hftokenizer: Prepend normalizer of %q is not supported, ignored", n.Prepend)
		}
	case "Sequence":
		for i := range n.Normalizers {
			configureNormalizer(cfg, &n.Normalizers[i], hints)
		}
	default:
		klog.Warningf("hftokenizer: normalizer %q is not supported, ignored", n.Type)
	}
}

func configurePreTokenizer(cfg *api.Config, p *PreTokenizer, hints metaspaceHints) {
	if p == nil {
		if hints.replaceSpaces {
			cfg.PreTokenizer, cfg.AddPrefixSpace = api.PreTokenizerMetaspace, hints.prepend
			return
		}
		klog.V(1).Infof("hftokenizer: no pre-tokenizer, splitting on whitespace")
		cfg.PreTokenizer = api.PreTokenizerWhitespaceSplit
		return
	}
	switch p.Type {
	case "BertPreTokenizer":
		cfg.PreTokenizer = api.PreTokenizerBert
	case "Whitespace":
		cfg.PreTokenizer = api.PreTokenizerWhitespace
	case "WhitespaceSplit":
		cfg.PreTokenizer = api.PreTokenizerWhitespaceSplit
	case "Punctuation":
		cfg.PreTokenizer = api.PreTokenizerPunctuation
	case "ByteLevel":
		cfg.PreTokenizer = api.PreTokenizerByteLevel
		cfg.AddPrefixSpace = boolOr(p.AddPrefixSpace, true)
		if !boolOr(p.UseRegex, true) && cfg.SplitPattern == "" {
			klog.Warningf("hftokenizer: ByteLevel without regex is not supported, using the GPT-2 pattern")
		}
	case "Metaspace":
		cfg.PreTokenizer = api.PreTokenizerMetaspace
		if p.PrependScheme != "" {
			cfg.AddPrefixSpace = p.PrependScheme != "never"
		} else {
			cfg.AddPrefixSpace = boolOr(p.AddPrefixSpace, true)
		}
		if p.Replacement != "" && p.Replacement != metaspace {
			klog.Warningf("hftokenizer: Metaspace replacement %q is not supported, using %q", p.Replacement, metaspace)
		}
	case "Sequence":
		configureSequence(cfg, p.PreTokenizers, hints)
	default:
		klog.Warningf("hftokenizer: pre-tokenizer %q is not supported, splitting on whitespace", p.Type)
		cfg.PreTokenizer = api.PreTokenizerWhitespaceSplit
	}
}

// configureSequence maps the common pre-tokenizer sequences: a Split regex followed by ByteLevel
// (Llama 3, Qwen), and whitespace followed by punctuation splitting (BERT-like).
func configureSequence(cfg *api.Config, seq []PreTokenizer, hints metaspaceHints) {
	byType := make(map[string]*PreTokenizer, len(seq))
	for i := range seq {
		if _, found := byType[seq[i].Type]; !found {
			byType[seq[i].Type] = &seq[i]
		}
	}
	switch {
	case byType["ByteLevel"] != nil:
		if split := byType["Split"]; split != nil && split.Pattern != nil && split.Pattern.Regex != "" {
			cfg.SplitPattern = split.Pattern.Regex
		}
		configurePreTokenizer(cfg, byType["ByteLevel"], hints)
	case byType["Metaspace"] != nil:
		configurePreTokenizer(cfg, byType["Metaspace"], hints)
	case byType["Punctuation"] != nil && (byType["WhitespaceSplit"] != nil || byType["Whitespace"] != nil):
		cfg.PreTokenizer = api.PreTokenizerBert
	case len(seq) > 0:
		if len(seq) > 1 {
			klog.Warningf("hftokenizer: pre-tokenizer sequence approximated by its first element %q", seq[0].Type)
		}
		configurePreTokenizer(cfg, &seq[0], hints)
	default:
		configurePreTokenizer(cfg, nil, hints)
	}
}

func configureDecoder(cfg *api.Config, d *Decoder, hints metaspaceHints) {
	if d == nil {
		if cfg.Model == api.ModelWordPiece {
			cfg.Decoder = api.DecoderWordPiece
		} else {
			cfg.Decoder = api.DecoderSpaces
		}
		return
	}
	switch d.Type {
	case "WordPiece":
		cfg.Decoder = api.DecoderWordPiece
		cfg.CleanUpTokenizationSpaces = boolOr(d.Cleanup, true)
	case "ByteLevel":
		cfg.Decoder = api.DecoderByteLevel
	case "Metaspace":
		cfg.Decoder = api.DecoderMetaspace
	case "BPEDecoder":
		cfg.Decoder = api.DecoderBPE
		if cfg.EndOfWordSuffix == "" {
			cfg.EndOfWordSuffix = d.Suffix
		}
	case "Sequence":
		for _, sub := range d.Decoders {
			switch {
			case sub.Type == "ByteLevel":
				cfg.Decoder = api.DecoderByteLevel
				return
			case sub.Type == "Metaspace", sub.Type == "ByteFallback",
				sub.Type == "Replace" && sub.Pattern != nil && sub.Pattern.String == metaspace:
				cfg.Decoder = api.DecoderMetaspace
				if hints.replaceSpaces {
					cfg.AddPrefixSpace = hints.prepend
				}
				return
			}
		}
		klog.Warningf("hftokenizer: decoder sequence not recognized, joining tokens with spaces")
		cfg.Decoder = api.DecoderSpaces
	default:
		klog.Warningf("hftokenizer: decoder %q is not supported, joining tokens with spaces", d.Type)
		cfg.Decoder = api.DecoderSpaces
	}
}

// specialCandidates are the usual contents of each special token role.
var specialCandidates = []struct {
	role       api.SpecialToken
	candidates []string
}{
	{api.TokUnknown, []string{"[UNK]", "<unk>"}},
	{api.TokPad, []string{"[PAD]", "<pad>", "<|pad|>"}},
	{api.TokClassification, []string{"[CLS]", "<s>", "<cls>"}},
	{api.TokSeparator, []string{"[SEP]", "</s>", "<sep>"}},
	{api.TokMask, []string{"[MASK]", "<mask>"}},
	{api.TokBeginningOfSentence, []string{"<s>", "<|begin_of_text|>", "<bos>", "<|endoftext|>"}},
	{api.TokEndOfSentence, []string{"</s>", "<|end_of_text|>", "<eos>", "<|endoftext|>"}},
}

func roleField(cfg *api.Config, role api.SpecialToken) *string {
	switch role {
	case api.TokUnknown:
		return &cfg.UnkToken
	case api.TokPad:
		return &cfg.PadToken
	case api.TokClassification:
		return &cfg.ClsToken
	case api.TokSeparator:
		return &cfg.SepToken
	case api.TokMask:
		return &cfg.MaskToken
	case api.TokBeginningOfSentence:
		return &cfg.BosToken
	default:
		return &cfg.EosToken
	}
}

// configureSpecialTokens keeps the special tokens of cfg found in the file, and fills the missing
// roles from the model's unk_token and the usual contents of the special added tokens.
func (t *TokenizerJSON) configureSpecialTokens(cfg *api.Config) {
	special := make(map[string]bool, len(t.AddedTokens))
	for _, content := range t.specialAddedTokens() {
		special[content] = true
	}
	for _, sc := range specialCandidates {
		field := roleField(cfg, sc.role)
		if _, found := t.tokenID[*field]; !found {
			*field = ""
		}
		if *field != "" {
			continue
		}
		for _, candidate := range sc.candidates {
			if special[candidate] {
				*field = candidate
				break
			}
		}
	}
	if unk := t.unknownToken(); unk != "" {
		cfg.UnkToken = unk
	}
	cfg.AdditionalSpecialTokens = t.specialAddedTokens()
}

// unknownToken returns the unknown token declared by the model, or "".
func (t *TokenizerJSON) unknownToken() string {
	m := &t.Model
	if m.Type == ModelUnigram {
		if m.UnkID != nil && *m.UnkID >= 0 && *m.UnkID < len(t.pieces) {
			return t.pieces[*m.UnkID].Text
		}
		return ""
	}
	if _, found := t.tokenID[m.UnkToken]; found && m.UnkToken != "" {
		return m.UnkToken
	}
	return ""
}
