package api

// Family names a model family. Families differ in their special tokens, normalization,
// pre-segmentation rules, template and decoder; DefaultConfig holds the presets.
type Family string

const (
	FamilyBERT          Family = "bert"
	FamilyALBERT        Family = "albert"
	FamilyRoBERTa       Family = "roberta"
	FamilyGPT2          Family = "gpt2"
	FamilyOpenAIGPT     Family = "openai-gpt"
	FamilyCTRL          Family = "ctrl"
	FamilyXLNet         Family = "xlnet"
	FamilyT5            Family = "t5"
	FamilySentencePiece Family = "sentencepiece"
)

// ModelType selects the subword algorithm.
type ModelType string

const (
	ModelWordPiece ModelType = "wordpiece"
	ModelBPE       ModelType = "bpe"
	ModelUnigram   ModelType = "unigram"
)

// OffsetUnit selects the coordinates of token spans.
type OffsetUnit string

const (
	OffsetBytes OffsetUnit = "bytes"
	OffsetRunes OffsetUnit = "runes"
)

// Pre-tokenizer names accepted in Config.PreTokenizer.
const (
	PreTokenizerBert            = "bert"
	PreTokenizerWhitespace      = "whitespace"
	PreTokenizerWhitespaceSplit = "whitespace_split"
	PreTokenizerByteLevel       = "byte_level"
	PreTokenizerMetaspace       = "metaspace"
	PreTokenizerPunctuation     = "punctuation"
)

// Decoder names accepted in Config.Decoder.
const (
	DecoderWordPiece = "wordpiece"
	DecoderByteLevel = "byte_level"
	DecoderMetaspace = "metaspace"
	DecoderBPE       = "bpe"
	DecoderCTRL      = "ctrl"
	DecoderSpaces    = "spaces"
)

// Config holds the special tokens and options of a tokenizer.
//
// The special token fields follow the names used in HuggingFace's tokenizer_config.json.
type Config struct {
	Family Family    `json:"family" mapstructure:"family"`
	Model  ModelType `json:"model" mapstructure:"model"`

	BosToken                string   `json:"bos_token" mapstructure:"bos_token"`
	EosToken                string   `json:"eos_token" mapstructure:"eos_token"`
	UnkToken                string   `json:"unk_token" mapstructure:"unk_token"`
	SepToken                string   `json:"sep_token" mapstructure:"sep_token"`
	PadToken                string   `json:"pad_token" mapstructure:"pad_token"`
	ClsToken                string   `json:"cls_token" mapstructure:"cls_token"`
	MaskToken               string   `json:"mask_token" mapstructure:"mask_token"`
	AdditionalSpecialTokens []string `json:"additional_special_tokens" mapstructure:"additional_special_tokens"`

	// AddBosToken and AddEosToken wrap the sequences with BosToken and EosToken, for the families
	// without a template of their own.
	AddBosToken bool `json:"add_bos_token" mapstructure:"add_bos_token"`
	AddEosToken bool `json:"add_eos_token" mapstructure:"add_eos_token"`

	// Normalization.
	CleanText          bool   `json:"clean_text" mapstructure:"clean_text"`
	UnicodeForm        string `json:"unicode_form" mapstructure:"unicode_form"`
	Lowercase          bool   `json:"lowercase" mapstructure:"lowercase"`
	StripAccents       bool   `json:"strip_accents" mapstructure:"strip_accents"`
	CollapseWhitespace bool   `json:"collapse_whitespace" mapstructure:"collapse_whitespace"`

	// Pre-segmentation.
	PreTokenizer       string `json:"pre_tokenizer" mapstructure:"pre_tokenizer"`
	HandleCJK          bool   `json:"handle_cjk" mapstructure:"handle_cjk"`
	AddPrefixSpace     bool   `json:"add_prefix_space" mapstructure:"add_prefix_space"`
	SplitSpecialTokens bool   `json:"split_special_tokens" mapstructure:"split_special_tokens"`

	// SplitPattern replaces the GPT-2 splitting pattern of the byte-level pre-tokenizer.
	SplitPattern string `json:"split_pattern" mapstructure:"split_pattern"`

	// WordPiece.
	ContinuingSubwordPrefix string `json:"continuing_subword_prefix" mapstructure:"continuing_subword_prefix"`
	WordStartPrefix         string `json:"word_start_prefix" mapstructure:"word_start_prefix"`
	MaxInputCharsPerWord    int    `json:"max_input_chars_per_word" mapstructure:"max_input_chars_per_word"`

	// BPE.
	EndOfWordSuffix string `json:"end_of_word_suffix" mapstructure:"end_of_word_suffix"`
	NonFinalSuffix  string `json:"non_final_suffix" mapstructure:"non_final_suffix"`
	IgnoreMerges    bool   `json:"ignore_merges" mapstructure:"ignore_merges"`
	CacheCapacity   int    `json:"cache_capacity" mapstructure:"cache_capacity"`

	// Unigram, and BPE with "<0xXX>" byte tokens.
	ByteFallback bool `json:"byte_fallback" mapstructure:"byte_fallback"`
	FuseUnknown  bool `json:"fuse_unknown" mapstructure:"fuse_unknown"`

	// Output.
	Decoder                   string     `json:"decoder" mapstructure:"decoder"`
	CleanUpTokenizationSpaces bool       `json:"clean_up_tokenization_spaces" mapstructure:"clean_up_tokenization_spaces"`
	OffsetUnit                OffsetUnit `json:"offset_unit" mapstructure:"offset_unit"`
	PadTypeID                 int        `json:"pad_type_id" mapstructure:"pad_type_id"`

	// Limits and scheduling.
	MaxVocabSize int `json:"max_vocab_size" mapstructure:"max_vocab_size"`
	NumWorkers   int `json:"num_workers" mapstructure:"num_workers"`
}

// DefaultCacheCapacity is the default number of resolved words kept by the BPE cache.
const DefaultCacheCapacity = 10_000

// DefaultConfig returns the preset configuration of a model family.
// An unknown family returns a minimal configuration with whitespace splitting.
func DefaultConfig(family Family) *Config {
	c := &Config{
		Family:             family,
		SplitSpecialTokens: true,
		OffsetUnit:         OffsetBytes,
		CacheCapacity:      DefaultCacheCapacity,
	}
	switch family {
	case FamilyBERT:
		c.Model = ModelWordPiece
		c.UnkToken, c.PadToken, c.ClsToken, c.SepToken, c.MaskToken = "[UNK]", "[PAD]", "[CLS]", "[SEP]", "[MASK]"
		c.CleanText, c.Lowercase, c.StripAccents, c.HandleCJK = true, true, true, true
		c.PreTokenizer = PreTokenizerBert
		c.ContinuingSubwordPrefix = "##"
		c.MaxInputCharsPerWord = 100
		c.Decoder = DecoderWordPiece
		c.CleanUpTokenizationSpaces = true
	case FamilyALBERT:
		c.Model = ModelUnigram
		c.FuseUnknown = true
		c.UnkToken, c.PadToken, c.ClsToken, c.SepToken, c.MaskToken = "<unk>", "<pad>", "[CLS]", "[SEP]", "[MASK]"
		c.BosToken, c.EosToken = "[CLS]", "[SEP]"
		c.UnicodeForm, c.Lowercase, c.StripAccents, c.CollapseWhitespace = "nfkc", true, true, true
		c.PreTokenizer, c.AddPrefixSpace = PreTokenizerMetaspace, true
		c.Decoder = DecoderMetaspace
	case FamilyRoBERTa:
		c.Model = ModelBPE
		c.BosToken, c.EosToken, c.SepToken, c.ClsToken = "<s>", "</s>", "</s>", "<s>"
		c.UnkToken, c.PadToken, c.MaskToken = "<unk>", "<pad>", "<mask>"
		c.PreTokenizer = PreTokenizerByteLevel
		c.Decoder = DecoderByteLevel
	case FamilyGPT2:
		c.Model = ModelBPE
		c.BosToken, c.EosToken, c.UnkToken = "<|endoftext|>", "<|endoftext|>", "<|endoftext|>"
		c.PreTokenizer = PreTokenizerByteLevel
		c.Decoder = DecoderByteLevel
	case FamilyOpenAIGPT:
		c.Model = ModelBPE
		c.UnkToken = "<unk>"
		c.CleanText, c.Lowercase = true, true
		c.PreTokenizer = PreTokenizerBert
		c.EndOfWordSuffix = "</w>"
		c.Decoder = DecoderBPE
	case FamilyCTRL:
		c.Model = ModelBPE
		c.UnkToken = "<unk>"
		c.PreTokenizer = PreTokenizerWhitespaceSplit
		c.EndOfWordSuffix, c.NonFinalSuffix = "</w>", "@@"
		c.Decoder = DecoderCTRL
	case FamilyXLNet:
		c.Model = ModelUnigram
		c.FuseUnknown = true
		c.UnkToken, c.PadToken, c.BosToken, c.EosToken = "<unk>", "<pad>", "<s>", "</s>"
		c.SepToken, c.ClsToken, c.MaskToken = "<sep>", "<cls>", "<mask>"
		c.UnicodeForm, c.CollapseWhitespace = "nfkc", true
		c.PreTokenizer, c.AddPrefixSpace = PreTokenizerMetaspace, true
		c.Decoder = DecoderMetaspace
		c.PadTypeID = 3
	case FamilyT5:
		c.Model = ModelUnigram
		c.FuseUnknown = true
		c.UnkToken, c.PadToken, c.EosToken = "<unk>", "<pad>", "</s>"
		c.UnicodeForm, c.CollapseWhitespace = "nfkc", true
		c.PreTokenizer, c.AddPrefixSpace = PreTokenizerMetaspace, true
		c.Decoder = DecoderMetaspace
	case FamilySentencePiece:
		c.Model = ModelUnigram
		c.FuseUnknown = true
		c.UnkToken, c.BosToken, c.EosToken = "<unk>", "<s>", "</s>"
		c.AddBosToken = true
		c.UnicodeForm, c.CollapseWhitespace = "nfkc", true
		c.PreTokenizer, c.AddPrefixSpace = PreTokenizerMetaspace, true
		c.Decoder = DecoderMetaspace
	default:
		c.PreTokenizer = PreTokenizerWhitespaceSplit
		c.Decoder = DecoderSpaces
	}
	return c
}

// SpecialTokenMap returns the configured special tokens by role. Roles left empty are omitted.
func (c *Config) SpecialTokenMap() map[SpecialToken]string {
	m := make(map[SpecialToken]string, int(TokSpecialTokensCount))
	for token, content := range map[SpecialToken]string{
		TokBeginningOfSentence: c.BosToken,
		TokEndOfSentence:       c.EosToken,
		TokUnknown:             c.UnkToken,
		TokPad:                 c.PadToken,
		TokMask:                c.MaskToken,
		TokClassification:      c.ClsToken,
		TokSeparator:           c.SepToken,
	} {
		if content != "" {
			m[token] = content
		}
	}
	return m
}

// Template returns the special-token template of the configured family.
func (c *Config) Template() Template {
	switch c.Family {
	case FamilyBERT, FamilyALBERT:
		return Template{
			Single: []TemplatePiece{Special(c.ClsToken, 0), Seq(SequenceA, 0), Special(c.SepToken, 0)},
			Pair: []TemplatePiece{Special(c.ClsToken, 0), Seq(SequenceA, 0), Special(c.SepToken, 0),
				Seq(SequenceB, 1), Special(c.SepToken, 1)},
		}
	case FamilyRoBERTa:
		return Template{
			Single: []TemplatePiece{Special(c.ClsToken, 0), Seq(SequenceA, 0), Special(c.SepToken, 0)},
			Pair: []TemplatePiece{Special(c.ClsToken, 0), Seq(SequenceA, 0), Special(c.SepToken, 0),
				Special(c.SepToken, 0), Seq(SequenceB, 0), Special(c.SepToken, 0)},
		}
	case FamilyXLNet:
		return Template{
			Single: []TemplatePiece{Seq(SequenceA, 0), Special(c.SepToken, 0), Special(c.ClsToken, 2)},
			Pair: []TemplatePiece{Seq(SequenceA, 0), Special(c.SepToken, 0),
				Seq(SequenceB, 1), Special(c.SepToken, 1), Special(c.ClsToken, 2)},
		}
	case FamilyT5:
		return Template{
			Single: []TemplatePiece{Seq(SequenceA, 0), Special(c.EosToken, 0)},
			Pair:   []TemplatePiece{Seq(SequenceA, 0), Special(c.EosToken, 0), Seq(SequenceB, 0), Special(c.EosToken, 0)},
		}
	default:
		wrap := func(seq Sequence, typeID int) []TemplatePiece {
			var pieces []TemplatePiece
			if c.AddBosToken && c.BosToken != "" {
				pieces = append(pieces, Special(c.BosToken, typeID))
			}
			pieces = append(pieces, Seq(seq, typeID))
			if c.AddEosToken && c.EosToken != "" {
				pieces = append(pieces, Special(c.EosToken, typeID))
			}
			return pieces
		}
		return Template{
			Single: wrap(SequenceA, 0),
			Pair:   append(wrap(SequenceA, 0), wrap(SequenceB, 1)...),
		}
	}
}
