// Package hftokenizer reads HuggingFace's tokenizer.json format, the one used by the HuggingFace
// Tokenizers library (the "fast" tokenizers), for WordPiece (BERT), BPE (GPT-2, RoBERTa, Llama) and
// Unigram (T5, ALBERT) models.
//
// The file is not executed step by step: its normalizer, pre-tokenizer, post-processor and decoder
// are translated to an api.Config, and its model to one of the subword engines.
package hftokenizer

import (
	"encoding/json"
	"os"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/gomlx/go-subword/tokenizers/vocab"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Model types found in "model.type".
const (
	ModelWordPiece = "WordPiece"
	ModelBPE       = "BPE"
	ModelUnigram   = "Unigram"
)

// TokenizerJSON represents the structure of HuggingFace's tokenizer.json file.
type TokenizerJSON struct {
	Version       string         `json:"version"`
	Truncation    *Truncation    `json:"truncation"`
	Padding       *Padding       `json:"padding"`
	AddedTokens   []AddedToken   `json:"added_tokens"`
	Normalizer    *Normalizer    `json:"normalizer"`
	PreTokenizer  *PreTokenizer  `json:"pre_tokenizer"`
	PostProcessor *PostProcessor `json:"post_processor"`
	Decoder       *Decoder       `json:"decoder"`
	Model         Model          `json:"model"`

	// Decoded from Model.Vocab and Model.Merges by Parse.
	modelVocab map[string]int
	pieces     []UnigramPiece
	merges     []vocab.Pair
	tokenID    map[string]int
}

// Truncation holds the default truncation of the tokenizer.
type Truncation struct {
	Direction string `json:"direction"`
	MaxLength int    `json:"max_length"`
	Strategy  string `json:"strategy"`
	Stride    int    `json:"stride"`
}

// Padding holds the default padding of the tokenizer. Strategy is either the string "BatchLongest"
// or an object {"Fixed": length}.
type Padding struct {
	Strategy  json.RawMessage `json:"strategy"`
	Direction string          `json:"direction"`
	PadID     int             `json:"pad_id"`
	PadTypeID int             `json:"pad_type_id"`
	PadToken  string          `json:"pad_token"`
}

// AddedToken is a token added to the vocabulary after training. Added tokens are matched in the raw
// text before normalization.
type AddedToken struct {
	ID         int    `json:"id"`
	Content    string `json:"content"`
	SingleWord bool   `json:"single_word"`
	Lstrip     bool   `json:"lstrip"`
	Rstrip     bool   `json:"rstrip"`
	Normalized bool   `json:"normalized"`
	Special    bool   `json:"special"`
}

// Normalizer represents the normalizer configuration.
type Normalizer struct {
	Type               string       `json:"type"`
	CleanText          *bool        `json:"clean_text"`
	HandleChineseChars *bool        `json:"handle_chinese_chars"`
	StripAccents       *bool        `json:"strip_accents"`
	Lowercase          *bool        `json:"lowercase"`
	Normalizers        []Normalizer `json:"normalizers"`
	Pattern            *Pattern     `json:"pattern"`
	Content            string       `json:"content"`
	Prepend            string       `json:"prepend"`
}

// Pattern for regex-based operations.
type Pattern struct {
	Regex  string `json:"Regex,omitempty"`
	String string `json:"String,omitempty"`
}

// PreTokenizer represents the pre-tokenizer configuration.
type PreTokenizer struct {
	Type           string         `json:"type"`
	AddPrefixSpace *bool          `json:"add_prefix_space"`
	PrependScheme  string         `json:"prepend_scheme"`
	Replacement    string         `json:"replacement"`
	UseRegex       *bool          `json:"use_regex"`
	PreTokenizers  []PreTokenizer `json:"pretokenizers"`
	Pattern        *Pattern       `json:"pattern"`
	Behavior       string         `json:"behavior"`
	Invert         bool           `json:"invert"`
}

// PostProcessor represents the post-processor configuration.
type PostProcessor struct {
	Type          string                          `json:"type"`
	Single        []PostProcItem                  `json:"single"`
	Pair          []PostProcItem                  `json:"pair"`
	SpecialTokens map[string]PostProcSpecialToken `json:"special_tokens"`
	Sep           *TokenRef                       `json:"sep"`
	Cls           *TokenRef                       `json:"cls"`
	Processors    []PostProcessor                 `json:"processors"`
}

// PostProcItem is an item of a TemplateProcessing template.
type PostProcItem struct {
	SpecialToken *struct {
		ID     string `json:"id"`
		TypeID int    `json:"type_id"`
	} `json:"SpecialToken,omitempty"`
	Sequence *struct {
		ID     string `json:"id"`
		TypeID int    `json:"type_id"`
	} `json:"Sequence,omitempty"`
}

// PostProcSpecialToken defines a special token for post-processing.
type PostProcSpecialToken struct {
	ID     string   `json:"id"`
	IDs    []int    `json:"ids"`
	Tokens []string `json:"tokens"`
}

// TokenRef is a [content, id] pair, as used by BertProcessing and RobertaProcessing.
type TokenRef struct {
	Content string
	ID      int
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *TokenRef) UnmarshalJSON(data []byte) error {
	var tuple [2]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[0], &r.Content); err != nil {
		return err
	}
	return json.Unmarshal(tuple[1], &r.ID)
}

// Decoder represents the decoder configuration.
type Decoder struct {
	Type      string    `json:"type"`
	Prefix    string    `json:"prefix"`
	Suffix    string    `json:"suffix"`
	Cleanup   *bool     `json:"cleanup"`
	Decoders  []Decoder `json:"decoders"`
	Pattern   *Pattern  `json:"pattern"`
	Content   string    `json:"content"`
	Start     int       `json:"start"`
	Stop      int       `json:"stop"`
	AddPrefix *bool     `json:"add_prefix_space"`
}

// Model represents the tokenizer model. Vocab is a token→id object for WordPiece and BPE, and a list
// of [piece, score] pairs for Unigram. Merges are either "left right" strings or [left, right] pairs.
type Model struct {
	Type                    string          `json:"type"`
	Vocab                   json.RawMessage `json:"vocab"`
	Merges                  json.RawMessage `json:"merges"`
	UnkToken                string          `json:"unk_token"`
	UnkID                   *int            `json:"unk_id"`
	ContinuingSubwordPrefix *string         `json:"continuing_subword_prefix"`
	EndOfWordSuffix         string          `json:"end_of_word_suffix"`
	MaxInputCharsPerWord    int             `json:"max_input_chars_per_word"`
	FuseUnk                 bool            `json:"fuse_unk"`
	ByteFallback            bool            `json:"byte_fallback"`
	IgnoreMerges            bool            `json:"ignore_merges"`
	Dropout                 *float64        `json:"dropout"`
}

// UnigramPiece is one entry of a Unigram vocabulary.
type UnigramPiece struct {
	Text  string
	Score float64
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *UnigramPiece) UnmarshalJSON(data []byte) error {
	var tuple [2]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[0], &p.Text); err != nil {
		return err
	}
	return json.Unmarshal(tuple[1], &p.Score)
}

// Load reads and parses the tokenizer.json file at path.
func Load(path string) (*TokenizerJSON, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(api.ErrVocab, "failed to read tokenizer.json file %q: %v", path, err)
	}
	t, err := Parse(content)
	if err != nil {
		return nil, errors.WithMessagef(err, "while loading %q", path)
	}
	klog.V(1).Infof("loaded tokenizer.json %q: %s model, %d tokens, %d added", path, t.Model.Type, len(t.tokenID), len(t.AddedTokens))
	return t, nil
}

// Parse parses tokenizer.json content. The vocabulary, with the added tokens, must have dense ids.
func Parse(content []byte) (*TokenizerJSON, error) {
	var t TokenizerJSON
	if err := json.Unmarshal(content, &t); err != nil {
		return nil, errors.Wrapf(api.ErrVocab, "failed to parse tokenizer.json: %v", err)
	}
	m := &t.Model
	if m.Type == "" {
		m.Type = inferModelType(m)
	}
	switch m.Type {
	case ModelWordPiece, ModelBPE:
		if err := json.Unmarshal(m.Vocab, &t.modelVocab); err != nil {
			return nil, errors.Wrapf(api.ErrVocab, "invalid %s vocab: %v", m.Type, err)
		}
	case ModelUnigram:
		if err := json.Unmarshal(m.Vocab, &t.pieces); err != nil {
			return nil, errors.Wrapf(api.ErrVocab, "invalid Unigram vocab: %v", err)
		}
	default:
		return nil, errors.Wrapf(api.ErrVocab, "tokenizer model type %q is not supported", m.Type)
	}
	if m.Type == ModelBPE {
		merges, err := parseMerges(m.Merges)
		if err != nil {
			return nil, err
		}
		t.merges = merges
	}
	if m.Dropout != nil && *m.Dropout > 0 {
		klog.Warningf("hftokenizer: BPE dropout %g ignored, encoding is deterministic", *m.Dropout)
	}
	if err := t.buildTokenIDs(); err != nil {
		return nil, err
	}
	return &t, nil
}

// inferModelType guesses the model type of files that omit it, the way older tokenizer.json
// versions are read.
func inferModelType(m *Model) string {
	switch {
	case len(m.Vocab) > 0 && m.Vocab[0] == '[':
		return ModelUnigram
	case len(m.Merges) > 0 && string(m.Merges) != "null":
		return ModelBPE
	default:
		return ModelWordPiece
	}
}

func parseMerges(raw json.RawMessage) ([]vocab.Pair, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		pairs := make([]vocab.Pair, len(lines))
		for i, line := range lines {
			pair, err := vocab.ParseMerge(line)
			if err != nil {
				return nil, errors.WithMessagef(err, "merge %d", i)
			}
			pairs[i] = pair
		}
		return pairs, nil
	}
	var tuples [][]string
	if err := json.Unmarshal(raw, &tuples); err != nil {
		return nil, errors.Wrapf(api.ErrVocab, "invalid merges: %v", err)
	}
	pairs := make([]vocab.Pair, len(tuples))
	for i, tuple := range tuples {
		if len(tuple) != 2 || tuple[0] == "" || tuple[1] == "" {
			return nil, errors.Wrapf(api.ErrVocab, "merge %d: expected two non-empty symbols, got %q", i, tuple)
		}
		pairs[i] = vocab.Pair{Left: tuple[0], Right: tuple[1]}
	}
	return pairs, nil
}

// buildTokenIDs merges the model vocabulary and the added tokens in one token→id map.
func (t *TokenizerJSON) buildTokenIDs() error {
	ids := make(map[string]int, len(t.modelVocab)+len(t.pieces)+len(t.AddedTokens))
	for token, id := range t.modelVocab {
		ids[token] = id
	}
	for id, p := range t.pieces {
		if prev, found := ids[p.Text]; found {
			return errors.Wrapf(api.ErrVocab, "duplicate Unigram piece %q with ids %d and %d", p.Text, prev, id)
		}
		ids[p.Text] = id
	}
	for _, at := range t.AddedTokens {
		if id, found := ids[at.Content]; found {
			if id != at.ID {
				return errors.Wrapf(api.ErrVocab, "added token %q has id %d but the model vocab has %d", at.Content, at.ID, id)
			}
			continue
		}
		ids[at.Content] = at.ID
	}
	t.tokenID = ids
	return nil
}

// TokenIDs returns the token→id mapping, model vocabulary and added tokens. It must not be modified.
func (t *TokenizerJSON) TokenIDs() map[string]int {
	return t.tokenID
}

// Merges returns the BPE merges in rank order.
func (t *TokenizerJSON) Merges() []vocab.Pair {
	return t.merges
}

// specialAddedTokens returns the content of the added tokens flagged special, in file order.
func (t *TokenizerJSON) specialAddedTokens() []string {
	var tokens []string
	for _, at := range t.AddedTokens {
		if at.Special {
			tokens = append(tokens, at.Content)
		}
	}
	return tokens
}

// EncodeOptions returns the default encoding options stored in the file: special tokens are added,
// and the truncation and padding sections, if present, are applied.
func (t *TokenizerJSON) EncodeOptions() api.EncodeOptions {
	opts := api.EncodeOptions{AddSpecialTokens: true}
	if tr := t.Truncation; tr != nil {
		opts.MaxLength = tr.MaxLength
		opts.Stride = tr.Stride
		switch tr.Strategy {
		case "OnlyFirst":
			opts.Truncation = api.OnlyFirst
		case "OnlySecond":
			opts.Truncation = api.OnlySecond
		default:
			opts.Truncation = api.LongestFirst
		}
		if tr.Direction == "Left" {
			klog.Warningf("hftokenizer: left truncation is not supported, truncating on the right")
		}
	}
	if p := t.Padding; p != nil {
		var fixed struct {
			Fixed int `json:"Fixed"`
		}
		if err := json.Unmarshal(p.Strategy, &fixed); err == nil && fixed.Fixed > 0 {
			// Fixed-length padding implies truncation to the same length.
			opts.Padding = api.PadToMaxLength
			if opts.MaxLength == 0 {
				opts.MaxLength, opts.Truncation = fixed.Fixed, api.LongestFirst
			}
		} else {
			opts.Padding = api.PadToLongest
		}
		if p.Direction == "Left" {
			opts.PadSide = api.Left
		}
	}
	return opts
}
