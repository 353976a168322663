package vocab

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Pair of adjacent BPE symbols.
type Pair struct {
	Left, Right string
}

// MergeTable maps adjacent symbol pairs to their merge rank: lower ranks are merged first.
type MergeTable struct {
	ranks map[Pair]int
}

// NewMergeTable creates a MergeTable where the rank of each pair is its index in pairs.
func NewMergeTable(pairs []Pair) (*MergeTable, error) {
	m := &MergeTable{ranks: make(map[Pair]int, len(pairs))}
	for rank, p := range pairs {
		if p.Left == "" || p.Right == "" {
			return nil, errors.Wrapf(api.ErrVocab, "merge %d has an empty symbol: %q", rank, p)
		}
		if prev, found := m.ranks[p]; found {
			return nil, errors.Wrapf(api.ErrVocab, "duplicate merge (%q, %q) with ranks %d and %d", p.Left, p.Right, prev, rank)
		}
		m.ranks[p] = rank
	}
	return m, nil
}

// ParseMerge parses one "left right" merge line.
func ParseMerge(line string) (Pair, error) {
	left, right, found := strings.Cut(line, " ")
	if !found || left == "" || right == "" || strings.Contains(right, " ") {
		return Pair{}, errors.Wrapf(api.ErrVocab, "malformed merge %q, expected two symbols separated by a single space", line)
	}
	return Pair{Left: left, Right: right}, nil
}

// LoadMerges reads a merges file: one pair per line, in rank order.
func LoadMerges(path string) (*MergeTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(api.ErrVocab, "can't open merges file %q: %v", path, err)
	}
	defer func() { _ = f.Close() }()
	m, err := ReadMerges(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading merges file %q", path)
	}
	klog.V(1).Infof("loaded merges %q: %d pairs", path, m.Len())
	return m, nil
}

// ReadMerges reads merges, one pair per line, in rank order.
// A first line starting with "#version" and empty trailing lines are ignored.
func ReadMerges(r io.Reader) (*MergeTable, error) {
	var pairs []Pair
	scanner := bufio.NewScanner(r)
	lineNum := 0
	pendingEmpty := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if lineNum == 1 && strings.HasPrefix(line, "#version") {
			continue
		}
		if line == "" {
			pendingEmpty++
			continue
		}
		if pendingEmpty > 0 {
			return nil, errors.Wrapf(api.ErrVocab, "line %d: empty line inside merges", lineNum-1)
		}
		p, err := ParseMerge(line)
		if err != nil {
			return nil, errors.WithMessagef(err, "line %d", lineNum)
		}
		pairs = append(pairs, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(api.ErrVocab, "reading line %d: %v", lineNum+1, err)
	}
	return NewMergeTable(pairs)
}

// Rank returns the merge rank of the pair (left, right).
func (m *MergeTable) Rank(left, right string) (int, bool) {
	rank, found := m.ranks[Pair{Left: left, Right: right}]
	return rank, found
}

// Len returns the number of merges.
func (m *MergeTable) Len() int {
	return len(m.ranks)
}
