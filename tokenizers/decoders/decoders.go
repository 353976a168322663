// Package decoders joins token texts back into text, undoing the markers each subword algorithm
// adds (continuation prefixes, end-of-word suffixes, byte-level runes or metaspaces).
package decoders

import (
	"strconv"
	"strings"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/gomlx/go-subword/tokenizers/pretokenizer"
	"github.com/pkg/errors"
)

// Decoder converts a sequence of token texts to text.
type Decoder interface {
	Decode(tokens []string) string
}

// FromConfig returns the Decoder configured in cfg.
func FromConfig(cfg *api.Config) (Decoder, error) {
	switch cfg.Decoder {
	case api.DecoderWordPiece:
		prefix := cfg.ContinuingSubwordPrefix
		if prefix == "" && cfg.WordStartPrefix == "" {
			prefix = "##"
		}
		return WordPiece{Prefix: prefix, WordStartPrefix: cfg.WordStartPrefix, Cleanup: cfg.CleanUpTokenizationSpaces}, nil
	case api.DecoderByteLevel:
		return ByteLevel{}, nil
	case api.DecoderMetaspace:
		return Metaspace{Replacement: pretokenizer.MetaspaceReplacement, AddPrefixSpace: cfg.AddPrefixSpace, ByteFallback: cfg.ByteFallback}, nil
	case api.DecoderBPE:
		return BPE{Suffix: cfg.EndOfWordSuffix}, nil
	case api.DecoderCTRL:
		return CTRL{}, nil
	case api.DecoderSpaces, "":
		return Spaces{Cleanup: cfg.CleanUpTokenizationSpaces}, nil
	}
	return nil, errors.Errorf("unknown decoder %q", cfg.Decoder)
}

var cleanupReplacer = strings.NewReplacer(
	" .", ".",
	" ?", "?",
	" !", "!",
	" ,", ",",
	" ' ", "'",
	" n't", "n't",
	" 'm", "'m",
	" do not", " don't",
	" 's", "'s",
	" 've", "'ve",
	" 're", "'re",
)

// CleanUp removes the spaces a space-joining decoder leaves before punctuation and contractions.
func CleanUp(text string) string {
	return cleanupReplacer.Replace(text)
}

// WordPiece joins tokens with spaces, gluing the tokens that start with the continuation Prefix to
// the previous one. With a WordStartPrefix instead, tokens not starting with it are glued.
type WordPiece struct {
	Prefix          string
	WordStartPrefix string
	Cleanup         bool
}

// Decode implements Decoder.
func (d WordPiece) Decode(tokens []string) string {
	var sb strings.Builder
	for i, token := range tokens {
		switch {
		case d.WordStartPrefix != "":
			if rest, found := strings.CutPrefix(token, d.WordStartPrefix); found {
				token = rest
				if i > 0 {
					sb.WriteByte(' ')
				}
			} else if i > 0 && isBracketed(token) {
				sb.WriteByte(' ')
			}
		case d.Prefix != "" && strings.HasPrefix(token, d.Prefix) && i > 0:
			token = token[len(d.Prefix):]
		case i > 0:
			sb.WriteByte(' ')
		}
		sb.WriteString(token)
	}
	if d.Cleanup {
		return CleanUp(sb.String())
	}
	return sb.String()
}

func isBracketed(token string) bool {
	return len(token) > 1 && (token[0] == '[' && token[len(token)-1] == ']' || token[0] == '<' && token[len(token)-1] == '>')
}

// ByteLevel maps the byte-level runes of the tokens back to bytes.
type ByteLevel struct{}

// Decode implements Decoder. Invalid UTF-8 sequences (from incomplete byte tokens) become U+FFFD.
func (ByteLevel) Decode(tokens []string) string {
	var buf []byte
	for _, token := range tokens {
		for _, r := range token {
			if b, found := pretokenizer.RuneToByte(r); found {
				buf = append(buf, b)
				continue
			}
			buf = append(buf, string(r)...)
		}
	}
	return strings.ToValidUTF8(string(buf), "�")
}

// Metaspace concatenates the tokens and replaces the Replacement rune with spaces. With AddPrefixSpace
// the leading space is removed.
//
// With ByteFallback, runs of "<0xXX>" byte tokens are turned back into the bytes they stand for, and
// invalid UTF-8 sequences among them become the replacement character.
type Metaspace struct {
	Replacement    rune
	AddPrefixSpace bool
	ByteFallback   bool
}

// Decode implements Decoder.
func (d Metaspace) Decode(tokens []string) string {
	replacement := d.Replacement
	if replacement == 0 {
		replacement = pretokenizer.MetaspaceReplacement
	}
	var joined string
	if d.ByteFallback {
		joined = joinByteTokens(tokens)
	} else {
		joined = strings.Join(tokens, "")
	}
	text := strings.ReplaceAll(joined, string(replacement), " ")
	if d.AddPrefixSpace {
		text = strings.TrimPrefix(text, " ")
	}
	return text
}

func joinByteTokens(tokens []string) string {
	var sb strings.Builder
	var pending []byte
	flush := func() {
		if len(pending) > 0 {
			sb.WriteString(strings.ToValidUTF8(string(pending), "\uFFFD"))
			pending = pending[:0]
		}
	}
	for _, token := range tokens {
		if len(token) == 6 && strings.HasPrefix(token, "<0x") && token[5] == '>' {
			if b, err := strconv.ParseUint(token[3:5], 16, 8); err == nil {
				pending = append(pending, byte(b))
				continue
			}
		}
		flush()
		sb.WriteString(token)
	}
	flush()
	return sb.String()
}

// BPE concatenates tokens, replacing the end-of-word Suffix with a space.
type BPE struct {
	Suffix string
}

// Decode implements Decoder.
func (d BPE) Decode(tokens []string) string {
	if d.Suffix == "" {
		return strings.Join(tokens, "")
	}
	var sb strings.Builder
	for _, token := range tokens {
		if rest, found := strings.CutSuffix(token, d.Suffix); found {
			sb.WriteString(rest)
			sb.WriteByte(' ')
			continue
		}
		sb.WriteString(token)
	}
	return strings.TrimSuffix(sb.String(), " ")
}

// CTRL joins tokens with spaces, then glues the pieces marked with the "@@" non-final suffix.
type CTRL struct{}

// Decode implements Decoder.
func (CTRL) Decode(tokens []string) string {
	text := strings.ReplaceAll(strings.Join(tokens, " "), "@@ ", "")
	return strings.TrimSuffix(text, "@@")
}

// Spaces joins tokens with spaces.
type Spaces struct {
	Cleanup bool
}

// Decode implements Decoder.
func (d Spaces) Decode(tokens []string) string {
	text := strings.Join(tokens, " ")
	if d.Cleanup {
		return CleanUp(text)
	}
	return text
}
