package normalizer

import (
	"strings"
	"unicode"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/pkg/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/unicode/norm"
)

// Options of a Normalizer. Steps are applied in the order of the fields.
type Options struct {
	// CleanText removes control characters and the replacement character, and maps every whitespace to a space.
	CleanText bool

	// Form is the Unicode normalization form applied, if HasForm is set.
	Form    norm.Form
	HasForm bool

	Lowercase bool

	// StripAccents decomposes the text and removes the combining marks (Unicode category Mn).
	StripAccents bool

	// CollapseWhitespace maps whitespace to spaces, trims the text and collapses runs of spaces.
	CollapseWhitespace bool
}

// Normalizer transforms the text before segmentation, keeping the alignment to the original text.
// It holds no mutable state and can be used concurrently.
type Normalizer struct {
	opts Options
}

// New creates a Normalizer.
func New(opts Options) *Normalizer {
	return &Normalizer{opts: opts}
}

// FromConfig creates the Normalizer configured in cfg.
func FromConfig(cfg *api.Config) (*Normalizer, error) {
	opts := Options{
		CleanText:          cfg.CleanText,
		Lowercase:          cfg.Lowercase,
		StripAccents:       cfg.StripAccents,
		CollapseWhitespace: cfg.CollapseWhitespace,
	}
	if cfg.UnicodeForm != "" {
		form, err := ParseForm(cfg.UnicodeForm)
		if err != nil {
			return nil, err
		}
		opts.Form, opts.HasForm = form, true
	}
	return New(opts), nil
}

// ParseForm converts the name of a Unicode normalization form ("nfc", "nfd", "nfkc" or "nfkd", case-insensitive).
func ParseForm(name string) (norm.Form, error) {
	switch strings.ToLower(name) {
	case "nfc":
		return norm.NFC, nil
	case "nfd":
		return norm.NFD, nil
	case "nfkc":
		return norm.NFKC, nil
	case "nfkd":
		return norm.NFKD, nil
	}
	return norm.NFC, errors.Errorf("unknown Unicode normalization form %q", name)
}

// Options returns the options of the normalizer.
func (n *Normalizer) Options() Options {
	return n.opts
}

// Apply normalizes text.
func (n *Normalizer) Apply(text string) *Aligned {
	return n.ApplyAligned(NewAligned(text))
}

// ApplyAligned normalizes an already aligned text, e.g. a fragment of the original text.
func (n *Normalizer) ApplyAligned(a *Aligned) *Aligned {
	if n.opts.CleanText {
		a = a.MapRunes(cleanRune)
	}
	if n.opts.HasForm {
		a = a.Normalize(n.opts.Form)
	}
	if n.opts.Lowercase {
		a = lowercase(a)
	}
	if n.opts.StripAccents {
		a = a.Normalize(norm.NFD).MapRunes(dropMarks)
	}
	if n.opts.CollapseWhitespace {
		a = a.MapRunes(func(r rune) string {
			if unicode.IsSpace(r) {
				return " "
			}
			return string(r)
		}).CollapseSpaces()
	}
	return a
}

// IsControl reports whether r is a control character. Tab, newline and carriage return are
// treated as whitespace instead.
func IsControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.In(r, unicode.Cc, unicode.Cf)
}

func cleanRune(r rune) string {
	switch {
	case r == 0 || r == unicode.ReplacementChar || IsControl(r):
		return ""
	case unicode.IsSpace(r):
		return " "
	}
	return string(r)
}

// lowercase converts the text to lower case rune by rune, so each output keeps the span of its rune.
// A Caser is not safe for concurrent use, so one is created per call.
func lowercase(a *Aligned) *Aligned {
	var caser cases.Caser
	var hasCaser bool
	return a.MapRunes(func(r rune) string {
		if r <= unicode.MaxASCII {
			if 'A' <= r && r <= 'Z' {
				r += 'a' - 'A'
			}
			return string(r)
		}
		if !hasCaser {
			caser, hasCaser = cases.Lower(language.Und), true
		}
		return caser.String(string(r))
	})
}

var nonSpacingMarks = runes.In(unicode.Mn)

func dropMarks(r rune) string {
	if nonSpacingMarks.Contains(r) {
		return ""
	}
	return string(r)
}
