// Package tokenizers assembles the subword tokenization pipeline: special token splitting,
// normalization, pre-segmentation, one of the subword engines (WordPiece, BPE or Unigram), offset
// tracking, and the encoder that builds model inputs, one at a time or in parallel batches.
//
// A Tokenizer is read-only once created and safe for concurrent use.
package tokenizers

import (
	"context"
	"unicode/utf8"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/gomlx/go-subword/tokenizers/batch"
	"github.com/gomlx/go-subword/tokenizers/decoders"
	"github.com/gomlx/go-subword/tokenizers/encoder"
	"github.com/gomlx/go-subword/tokenizers/normalizer"
	"github.com/gomlx/go-subword/tokenizers/offsets"
	"github.com/gomlx/go-subword/tokenizers/pretokenizer"
	"github.com/gomlx/go-subword/tokenizers/vocab"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Components are the parts a Tokenizer is built from. The normalizer, pre-tokenizer and decoder are
// derived from Config, and so is the template unless Template is set.
type Components struct {
	Config   *api.Config
	Vocab    *vocab.Vocabulary
	Engine   api.SubwordAlgorithm
	Template *api.Template

	// Defaults are the encoding options returned by Tokenizer.DefaultEncodeOptions.
	Defaults *api.EncodeOptions
}

// Tokenizer converts text to tokens and model inputs, and ids back to text.
type Tokenizer struct {
	config       api.Config
	vocab        *vocab.Vocabulary
	engine       api.SubwordAlgorithm
	normalizer   *normalizer.Normalizer
	preTokenizer pretokenizer.PreTokenizer
	specials     *pretokenizer.SpecialSplitter
	encoder      *encoder.Encoder
	decoder      decoders.Decoder
	defaults     api.EncodeOptions
}

// Compile time assert that Tokenizer implements api.Tokenizer interface.
var _ api.Tokenizer = &Tokenizer{}

// New creates a Tokenizer from its components.
func New(c Components) (*Tokenizer, error) {
	if c.Config == nil || c.Vocab == nil || c.Engine == nil {
		return nil, errors.New("tokenizer components require a config, a vocabulary and an engine")
	}
	t := &Tokenizer{
		config:   *c.Config,
		vocab:    c.Vocab,
		engine:   c.Engine,
		defaults: api.EncodeOptions{AddSpecialTokens: true},
	}
	if c.Defaults != nil {
		t.defaults = *c.Defaults
	}
	var err error
	if t.normalizer, err = normalizer.FromConfig(&t.config); err != nil {
		return nil, err
	}
	if t.preTokenizer, err = pretokenizer.FromConfig(&t.config); err != nil {
		return nil, err
	}
	if t.decoder, err = decoders.FromConfig(&t.config); err != nil {
		return nil, err
	}
	template := t.config.Template()
	if c.Template != nil {
		template = *c.Template
	}
	if t.encoder, err = encoder.New(t.vocab, template, t.config.PadTypeID); err != nil {
		return nil, err
	}
	if t.config.SplitSpecialTokens {
		specials := make(map[string]int)
		for _, content := range t.vocab.SpecialTokens() {
			specials[content] = t.vocab.IDOf(content)
		}
		t.specials = pretokenizer.NewSpecialSplitter(specials)
	}
	klog.V(1).Infof("tokenizer: %s %s, %d tokens, %d special", t.config.Family, t.config.Model, t.vocab.Size(), t.specials.Len())
	return t, nil
}

// Config returns a copy of the configuration of the tokenizer.
func (t *Tokenizer) Config() api.Config {
	return t.config
}

// Vocabulary returns the vocabulary of the tokenizer.
func (t *Tokenizer) Vocabulary() *vocab.Vocabulary {
	return t.vocab
}

// Template returns the special-token template used when encoding.
func (t *Tokenizer) Template() api.Template {
	return t.encoder.Template()
}

// DefaultEncodeOptions returns the encoding options stored with the tokenizer (tokenizer.json
// truncation and padding), or just AddSpecialTokens otherwise.
func (t *Tokenizer) DefaultEncodeOptions() api.EncodeOptions {
	return t.defaults
}

// Tokenize splits text into tokens, with spans in the original text in the configured offset unit.
//
// Special tokens found in the text are kept whole, with kind api.KindSpecial. Tokens of units that were
// not split carry the kind of their unit (punctuation, CJK, ...).
func (t *Tokenizer) Tokenize(text string) ([]api.Token, error) {
	if !utf8.ValidString(text) {
		return nil, errors.Wrap(api.ErrMalformedInput, "text is not valid UTF-8")
	}
	tracker := offsets.NewTracker(text, t.config.OffsetUnit)
	original := normalizer.NewAligned(text)
	var tokens []api.Token
	for _, seg := range t.specials.Split(text) {
		if seg.IsSpecial() {
			tokens = append(tokens, api.Token{
				Text: text[seg.Start:seg.End],
				ID:   seg.SpecialID,
				Span: tracker.Convert(api.TokenSpan{Start: seg.Start, End: seg.End}),
				Kind: api.KindSpecial,
			})
			continue
		}
		normalized := t.normalizer.ApplyAligned(original.Slice(seg.Start, seg.End))
		for unit := range t.preTokenizer.Split(normalized) {
			unitTokens := t.engine.Split(unit.Text())
			for _, token := range unitTokens {
				token.Span = tracker.Rebase(unit.Aligned, token.Span)
				if len(unitTokens) == 1 && token.Kind == api.KindNone {
					token.Kind = unit.Kind
				}
				tokens = append(tokens, token)
			}
		}
	}
	return tokens, nil
}

// Encode builds the model input for one text or text pair.
func (t *Tokenizer) Encode(input api.Input, opts api.EncodeOptions) (*api.Encoding, error) {
	a, err := t.Tokenize(input.Text)
	if err != nil {
		return nil, err
	}
	var b []api.Token
	if input.HasPair {
		if b, err = t.Tokenize(input.Pair); err != nil {
			return nil, errors.WithMessage(err, "second sequence")
		}
	}
	return t.encoder.Encode(a, b, input.HasPair, opts)
}

// EncodeBatch is equivalent to calling Encode on every input, but it runs in parallel.
// Results are returned in input order.
func (t *Tokenizer) EncodeBatch(inputs []api.Input, opts api.EncodeOptions) ([]api.Result, error) {
	return t.EncodeBatchContext(context.Background(), inputs, opts)
}

// EncodeBatchContext is EncodeBatch with a context: once ctx is done no new input is started, and the
// inputs never started fail with api.ErrAborted.
//
// With api.PadToLongest the successful encodings are padded to the longest of them.
func (t *Tokenizer) EncodeBatchContext(ctx context.Context, inputs []api.Input, opts api.EncodeOptions) ([]api.Result, error) {
	results, err := batch.Map(ctx, batch.Options{Workers: t.config.NumWorkers, FailFast: opts.FailFast}, inputs,
		func(_ context.Context, input api.Input) (*api.Encoding, error) {
			return t.Encode(input, opts)
		})
	out := make([]api.Result, len(results))
	for i, r := range results {
		out[i] = api.Result{Encoding: r.Value, Err: r.Err}
	}
	if err != nil {
		return out, err
	}
	if opts.Padding == api.PadToLongest {
		longest := 0
		for _, r := range out {
			if r.Err == nil {
				longest = max(longest, r.Encoding.Len())
			}
		}
		for i := range out {
			if out[i].Err != nil {
				continue
			}
			if err := t.encoder.Pad(out[i].Encoding, longest, opts.PadSide); err != nil {
				out[i] = api.Result{Err: err}
			}
		}
	}
	return out, nil
}

// TokenizeBatch tokenizes the texts in parallel. Results are in input order, each with its own error.
func (t *Tokenizer) TokenizeBatch(ctx context.Context, texts []string) ([]batch.Result[[]api.Token], error) {
	return batch.Map(ctx, batch.Options{Workers: t.config.NumWorkers}, texts,
		func(_ context.Context, text string) ([]api.Token, error) {
			return t.Tokenize(text)
		})
}

// DecodeBatch decodes the id sequences in parallel. Results are in input order, each with its own error.
func (t *Tokenizer) DecodeBatch(ctx context.Context, ids [][]int, skipSpecialTokens bool) ([]batch.Result[string], error) {
	return batch.Map(ctx, batch.Options{Workers: t.config.NumWorkers}, ids,
		func(_ context.Context, seq []int) (string, error) {
			return t.Decode(seq, skipSpecialTokens)
		})
}

// Decode converts ids back to text. Unknown ids fail with api.ErrLookup.
func (t *Tokenizer) Decode(ids []int, skipSpecialTokens bool) (string, error) {
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		token, err := t.vocab.TokenOf(id)
		if err != nil {
			return "", err
		}
		if skipSpecialTokens && t.vocab.IsSpecial(id) {
			continue
		}
		tokens = append(tokens, token)
	}
	return t.decoder.Decode(tokens), nil
}

// SpecialTokenID returns ID for given special token if registered, or an error if not.
func (t *Tokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	id, found := t.vocab.SpecialID(token)
	if !found {
		return 0, errors.Wrapf(api.ErrLookup, "special token %s not registered", token)
	}
	return id, nil
}
