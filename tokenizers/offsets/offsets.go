// Package offsets maps the spans of tokens, local to the unit they were split from, back to the
// original text, and converts them to the configured coordinates.
package offsets

import (
	"unicode/utf8"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/gomlx/go-subword/tokenizers/normalizer"
	"github.com/pkg/errors"
)

// Tracker converts spans for one original text. It is cheap to create, one per text.
type Tracker struct {
	original string
	unit     api.OffsetUnit

	// runeIndex[i] is the number of runes in original[:i]. Only built for api.OffsetRunes.
	runeIndex []int
}

// NewTracker creates a Tracker for original text. An empty unit means api.OffsetBytes.
func NewTracker(original string, unit api.OffsetUnit) *Tracker {
	t := &Tracker{original: original, unit: unit}
	if unit == api.OffsetRunes {
		t.runeIndex = make([]int, len(original)+1)
		count := 0
		for pos := 0; pos < len(original); {
			_, size := utf8.DecodeRuneInString(original[pos:])
			for i := pos; i < pos+size; i++ {
				t.runeIndex[i] = count
			}
			count++
			pos += size
		}
		t.runeIndex[len(original)] = count
	}
	return t
}

// Rebase maps a span local to unit (in bytes of the unit's text) to the original text,
// in the tracker's coordinates.
func (t *Tracker) Rebase(unit *normalizer.Aligned, local api.TokenSpan) api.TokenSpan {
	return t.Convert(unit.Span(local.Start, local.End))
}

// Convert converts a byte span of the original text to the tracker's coordinates. NoSpan is kept.
func (t *Tracker) Convert(span api.TokenSpan) api.TokenSpan {
	if span.IsNone() || t.runeIndex == nil {
		return span
	}
	return api.TokenSpan{Start: t.runeIndex[span.Start], End: t.runeIndex[span.End]}
}

// Length returns the length of the original text in the tracker's coordinates.
func (t *Tracker) Length() int {
	if t.runeIndex != nil {
		return t.runeIndex[len(t.original)]
	}
	return len(t.original)
}

// Validate checks that the spans are within the original text and that their starts never go backwards.
// NoSpan entries are skipped.
func (t *Tracker) Validate(spans []api.TokenSpan) error {
	prevStart := 0
	length := t.Length()
	for i, span := range spans {
		if span.IsNone() {
			continue
		}
		if span.Start < 0 || span.Start > span.End || span.End > length {
			return errors.Errorf("span #%d %s out of bounds [0, %d]", i, span, length)
		}
		if span.Start < prevStart {
			return errors.Errorf("span #%d %s starts before the previous span start %d", i, span, prevStart)
		}
		prevStart = span.Start
	}
	return nil
}
