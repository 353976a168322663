// Package vocab implements the read-only tables the subword engines run on: the token↔id
// Vocabulary with its special-token registry, the BPE MergeTable and the Unigram PieceModel.
//
// All of them are built once and never mutated afterwards, so they can be shared by any number of
// goroutines without locking.
package vocab

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Options for the construction of a Vocabulary.
type Options struct {
	// MaxSize is the maximum number of tokens accepted. 0 means no limit.
	MaxSize int

	// AdditionalSpecialTokens are registered as special besides the ones given by role.
	AdditionalSpecialTokens []string
}

// Vocabulary is a bijective mapping of tokens to dense ids in [0, Size()), plus the registry of
// special tokens.
type Vocabulary struct {
	tokens    []string
	ids       map[string]int
	special   []bool
	byRole    map[api.SpecialToken]int
	unknownID int
}

// New creates a Vocabulary where the id of each token is its index in tokens.
//
// specials maps the roles (unknown, padding, ...) to their token content: each one must be present in
// tokens. If no unknown token is given, UnknownID returns -1 and unknown words are dropped by the engines.
func New(tokens []string, specials map[api.SpecialToken]string, opts Options) (*Vocabulary, error) {
	if opts.MaxSize > 0 && len(tokens) > opts.MaxSize {
		return nil, errors.Wrapf(api.ErrVocab, "%d tokens exceed the maximum of %d", len(tokens), opts.MaxSize)
	}
	v := &Vocabulary{
		tokens:    tokens,
		ids:       make(map[string]int, len(tokens)),
		special:   make([]bool, len(tokens)),
		byRole:    make(map[api.SpecialToken]int, len(specials)),
		unknownID: -1,
	}
	for id, token := range tokens {
		if prev, found := v.ids[token]; found {
			return nil, errors.Wrapf(api.ErrVocab, "duplicate token %q with ids %d and %d", token, prev, id)
		}
		v.ids[token] = id
	}
	for role, content := range specials {
		id, found := v.ids[content]
		if !found {
			return nil, errors.Wrapf(api.ErrVocab, "special token %s=%q not found in the vocabulary", role, content)
		}
		v.byRole[role] = id
		v.special[id] = true
	}
	for _, content := range opts.AdditionalSpecialTokens {
		id, found := v.ids[content]
		if !found {
			return nil, errors.Wrapf(api.ErrVocab, "additional special token %q not found in the vocabulary", content)
		}
		v.special[id] = true
	}
	if id, found := v.byRole[api.TokUnknown]; found {
		v.unknownID = id
	}
	return v, nil
}

// FromMap creates a Vocabulary from a token→id mapping, as found in tokenizer.json files.
// Ids must be dense over [0, len(m)).
func FromMap(m map[string]int, specials map[api.SpecialToken]string, opts Options) (*Vocabulary, error) {
	tokens := make([]string, len(m))
	seen := make([]bool, len(m))
	for token, id := range m {
		if id < 0 || id >= len(m) {
			return nil, errors.Wrapf(api.ErrVocab, "token %q has id %d out of the dense range [0, %d)", token, id, len(m))
		}
		if seen[id] {
			return nil, errors.Wrapf(api.ErrVocab, "id %d is assigned to %q and %q", id, tokens[id], token)
		}
		seen[id] = true
		tokens[id] = token
	}
	return New(tokens, specials, opts)
}

// FromJSONFile reads a token→id JSON object, the "vocab.json" of GPT-2 and RoBERTa.
func FromJSONFile(path string, specials map[api.SpecialToken]string, opts Options) (*Vocabulary, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(api.ErrVocab, "can't read vocabulary file %q: %v", path, err)
	}
	var m map[string]int
	if err := json.Unmarshal(content, &m); err != nil {
		return nil, errors.Wrapf(api.ErrVocab, "vocabulary file %q is not a token to id JSON object: %v", path, err)
	}
	v, err := FromMap(m, specials, opts)
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading vocabulary file %q", path)
	}
	klog.V(1).Infof("loaded vocabulary %q: %d tokens, %d special", path, v.Size(), v.NumSpecial())
	return v, nil
}

// FromFile reads a plain vocabulary file, one token per line, where the 0-based line number is the id.
func FromFile(path string, specials map[api.SpecialToken]string, opts Options) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(api.ErrVocab, "can't open vocabulary file %q: %v", path, err)
	}
	defer func() { _ = f.Close() }()
	v, err := Read(f, specials, opts)
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading vocabulary file %q", path)
	}
	klog.V(1).Infof("loaded vocabulary %q: %d tokens, %d special", path, v.Size(), v.NumSpecial())
	return v, nil
}

// Read reads a plain vocabulary, one token per line, where the 0-based line number is the id.
func Read(r io.Reader, specials map[api.SpecialToken]string, opts Options) (*Vocabulary, error) {
	var tokens []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		lineNum := len(tokens) + 1
		switch {
		case line == "":
			return nil, errors.Wrapf(api.ErrVocab, "line %d: empty token", lineNum)
		case !utf8.ValidString(line):
			return nil, errors.Wrapf(api.ErrVocab, "line %d: token is not valid UTF-8", lineNum)
		case strings.ContainsAny(line, "\t\r"):
			return nil, errors.Wrapf(api.ErrVocab, "line %d: token %q contains a tab or carriage return", lineNum, line)
		}
		tokens = append(tokens, line)
		if opts.MaxSize > 0 && len(tokens) > opts.MaxSize {
			return nil, errors.Wrapf(api.ErrVocab, "more than the maximum of %d tokens", opts.MaxSize)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(api.ErrVocab, "reading line %d: %v", len(tokens)+1, err)
	}
	return New(tokens, specials, opts)
}

// Size returns the number of tokens.
func (v *Vocabulary) Size() int {
	return len(v.tokens)
}

// NumSpecial returns the number of tokens registered as special.
func (v *Vocabulary) NumSpecial() int {
	var n int
	for _, s := range v.special {
		if s {
			n++
		}
	}
	return n
}

// IDOf returns the id of token, or the unknown id if it is not in the vocabulary.
func (v *Vocabulary) IDOf(token string) int {
	if id, found := v.ids[token]; found {
		return id
	}
	return v.unknownID
}

// Lookup returns the id of a non-special token. It is the lookup used by the subword engines,
// which never produce special tokens.
func (v *Vocabulary) Lookup(token string) (int, bool) {
	id, found := v.ids[token]
	if !found || v.special[id] {
		return 0, false
	}
	return id, true
}

// Contains returns whether token is in the vocabulary, special or not.
func (v *Vocabulary) Contains(token string) bool {
	_, found := v.ids[token]
	return found
}

// TokenOf returns the token with the given id, or an error wrapping api.ErrLookup.
func (v *Vocabulary) TokenOf(id int) (string, error) {
	if id < 0 || id >= len(v.tokens) {
		return "", errors.Wrapf(api.ErrLookup, "id %d (vocabulary size %d)", id, len(v.tokens))
	}
	return v.tokens[id], nil
}

// IsSpecial returns whether id is a registered special token.
func (v *Vocabulary) IsSpecial(id int) bool {
	return id >= 0 && id < len(v.special) && v.special[id]
}

// UnknownID returns the id of the unknown token, or -1 if there is none.
func (v *Vocabulary) UnknownID() int {
	return v.unknownID
}

// SpecialID returns the id registered for the special token role.
func (v *Vocabulary) SpecialID(token api.SpecialToken) (int, bool) {
	id, found := v.byRole[token]
	return id, found
}

// SpecialTokens returns the contents of all special tokens, in id order.
func (v *Vocabulary) SpecialTokens() []string {
	var specials []string
	for id, s := range v.special {
		if s {
			specials = append(specials, v.tokens[id])
		}
	}
	return specials
}
