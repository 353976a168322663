package pretokenizer

import (
	"slices"
	"strings"
)

// Segment is a fragment of the raw text: either a special token occurrence (SpecialID >= 0)
// or ordinary text to normalize and split (SpecialID == -1).
type Segment struct {
	Start, End int
	SpecialID  int
}

// IsSpecial returns whether the segment is a special token occurrence.
func (s Segment) IsSpecial() bool {
	return s.SpecialID >= 0
}

// SpecialSplitter finds occurrences of special (and added) tokens in the raw text, so they are
// kept whole instead of being normalized and split.
type SpecialSplitter struct {
	// byFirstByte holds the candidate tokens per first byte, longest first.
	byFirstByte map[byte][]string
	ids         map[string]int
}

// NewSpecialSplitter creates a splitter for the given token contents and their ids.
// Empty contents are ignored.
func NewSpecialSplitter(tokens map[string]int) *SpecialSplitter {
	s := &SpecialSplitter{byFirstByte: make(map[byte][]string), ids: make(map[string]int, len(tokens))}
	for token, id := range tokens {
		if token == "" {
			continue
		}
		s.ids[token] = id
		s.byFirstByte[token[0]] = append(s.byFirstByte[token[0]], token)
	}
	for _, candidates := range s.byFirstByte {
		slices.SortFunc(candidates, func(a, b string) int {
			if len(a) != len(b) {
				return len(b) - len(a)
			}
			return strings.Compare(a, b)
		})
	}
	return s
}

// Len returns the number of tokens the splitter looks for.
func (s *SpecialSplitter) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// Split returns the segments of text, in order, covering all of it. At each position the longest
// matching token wins, and matching resumes after it.
func (s *SpecialSplitter) Split(text string) []Segment {
	if s.Len() == 0 {
		if text == "" {
			return nil
		}
		return []Segment{{Start: 0, End: len(text), SpecialID: -1}}
	}
	var segments []Segment
	start := 0
	for pos := 0; pos < len(text); {
		token := s.match(text[pos:])
		if token == "" {
			pos++
			continue
		}
		if pos > start {
			segments = append(segments, Segment{Start: start, End: pos, SpecialID: -1})
		}
		segments = append(segments, Segment{Start: pos, End: pos + len(token), SpecialID: s.ids[token]})
		pos += len(token)
		start = pos
	}
	if start < len(text) {
		segments = append(segments, Segment{Start: start, End: len(text), SpecialID: -1})
	}
	return segments
}

func (s *SpecialSplitter) match(text string) string {
	for _, candidate := range s.byFirstByte[text[0]] {
		if strings.HasPrefix(text, candidate) {
			return candidate
		}
	}
	return ""
}
