package pretokenizer

import (
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/gomlx/go-subword/tokenizers/normalizer"
)

// GPT2Pattern is the regular expression GPT-2 uses to split text before applying byte-level BPE.
const GPT2Pattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`

// WhitespacePattern splits words from sequences of symbols, dropping whitespace.
const WhitespacePattern = `\w+|[^\w\s]+`

// regexpOptions gives \w, \s and \d their Unicode meaning, RE2 alone keeps them ASCII.
const regexpOptions = regexp2.Unicode | regexp2.RE2

var (
	gpt2Regexp       = regexp2.MustCompile(GPT2Pattern, regexpOptions)
	whitespaceRegexp = regexp2.MustCompile(WhitespacePattern, regexpOptions)
)

// byteToRune maps every byte to a printable rune, so that byte-level tokens are valid text.
// Printable Latin-1 bytes map to themselves, the others to runes from 256 on.
var (
	byteToRune [256]rune
	runeToByte = make(map[rune]byte, 256)
)

func init() {
	n := 0
	for b := range 256 {
		printable := (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF)
		if printable {
			byteToRune[b] = rune(b)
		} else {
			byteToRune[b] = rune(256 + n)
			n++
		}
		runeToByte[byteToRune[b]] = byte(b)
	}
}

// ByteToRune returns the printable rune representing byte b in byte-level tokens.
func ByteToRune(b byte) rune {
	return byteToRune[b]
}

// RuneToByte is the inverse of ByteToRune.
func RuneToByte(r rune) (byte, bool) {
	b, found := runeToByte[r]
	return b, found
}

// ByteLevelEncode maps each byte of s to its printable rune.
func ByteLevelEncode(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) * 2)
	for i := 0; i < len(s); i++ {
		sb.WriteRune(byteToRune[s[i]])
	}
	return sb.String()
}

// regexpMatches yields the units matched by re. Text between matches is dropped.
func regexpMatches(text *normalizer.Aligned, re *regexp2.Regexp) iter.Seq[Unit] {
	return func(yield func(Unit) bool) {
		s := text.Text()
		if s == "" {
			return
		}
		// regexp2 works on runes: keep the byte offset of each rune.
		runes := make([]rune, 0, len(s))
		offsets := make([]int, 0, len(s)+1)
		for pos, r := range s {
			runes = append(runes, r)
			offsets = append(offsets, pos)
		}
		offsets = append(offsets, len(s))
		m, _ := re.FindRunesMatch(runes)
		for m != nil {
			start, end := offsets[m.Index], offsets[m.Index+m.Length]
			if end > start {
				unit := Unit{Aligned: text.Slice(start, end)}
				if isAllSpace(s[start:end]) {
					unit.Kind = api.KindWhitespace
				}
				if !yield(unit) {
					return
				}
			}
			m, _ = re.FindNextMatch(m)
		}
	}
}

func isAllSpace(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// Whitespace splits text in sequences of word characters and sequences of other non-space characters.
type Whitespace struct{}

// Split implements PreTokenizer.
func (Whitespace) Split(text *normalizer.Aligned) iter.Seq[Unit] {
	return regexpMatches(text, whitespaceRegexp)
}

// ByteLevel splits text with the GPT-2 pattern and then maps every byte of each unit to a printable rune.
// With AddPrefixSpace a space is added in front of the text, so the first word is treated like the others.
type ByteLevel struct {
	AddPrefixSpace bool
	re             *regexp2.Regexp
}

// NewByteLevel returns a ByteLevel pre-tokenizer using the GPT-2 pattern.
func NewByteLevel(addPrefixSpace bool) *ByteLevel {
	return &ByteLevel{AddPrefixSpace: addPrefixSpace, re: gpt2Regexp}
}

// NewByteLevelWithPattern returns a ByteLevel pre-tokenizer splitting with a custom pattern.
// An empty pattern disables the splitting.
func NewByteLevelWithPattern(addPrefixSpace bool, pattern string) (*ByteLevel, error) {
	b := &ByteLevel{AddPrefixSpace: addPrefixSpace}
	if pattern != "" {
		re, err := regexp2.Compile(pattern, regexpOptions)
		if err != nil {
			return nil, err
		}
		b.re = re
	}
	return b, nil
}

// Split implements PreTokenizer.
func (b *ByteLevel) Split(text *normalizer.Aligned) iter.Seq[Unit] {
	return func(yield func(Unit) bool) {
		if text.Len() == 0 {
			return
		}
		t := text
		if b.AddPrefixSpace {
			if r, _ := utf8.DecodeRuneInString(t.Text()); !unicode.IsSpace(r) {
				t = t.Prepend(" ")
			}
		}
		units := func(yield func(Unit) bool) { yield(Unit{Aligned: t}) }
		if b.re != nil {
			units = regexpMatches(t, b.re)
		}
		for unit := range units {
			unit.Aligned = unit.MapBytes(ByteToRune)
			if !yield(unit) {
				return
			}
		}
	}
}
