package offsets

import (
	"testing"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/gomlx/go-subword/tokenizers/normalizer"
	"github.com/stretchr/testify/assert"
)

func TestRebase(t *testing.T) {
	original := "Héllo wörld"
	n := normalizer.New(normalizer.Options{Lowercase: true, StripAccents: true})
	text := n.Apply(original)
	assert.Equal(t, "hello world", text.Text())
	unit := text.Slice(6, 11) // "world"

	bytes := NewTracker(original, api.OffsetBytes)
	assert.Equal(t, api.TokenSpan{Start: 7, End: 13}, bytes.Rebase(unit, api.TokenSpan{Start: 0, End: 5}))
	assert.Equal(t, api.TokenSpan{Start: 8, End: 10}, bytes.Rebase(unit, api.TokenSpan{Start: 1, End: 2}))
	assert.Equal(t, "ö", original[8:10])

	runes := NewTracker(original, api.OffsetRunes)
	assert.Equal(t, api.TokenSpan{Start: 6, End: 11}, runes.Rebase(unit, api.TokenSpan{Start: 0, End: 5}))
	assert.Equal(t, api.TokenSpan{Start: 7, End: 8}, runes.Rebase(unit, api.TokenSpan{Start: 1, End: 2}))
	assert.Equal(t, 11, runes.Length())
	assert.Equal(t, 13, bytes.Length())
	assert.Equal(t, api.NoSpan, runes.Convert(api.NoSpan))
}

func TestValidate(t *testing.T) {
	tr := NewTracker("abcdef", "")
	assert.NoError(t, tr.Validate([]api.TokenSpan{api.NoSpan, {Start: 0, End: 2}, {Start: 2, End: 2}, {Start: 2, End: 6}, api.NoSpan}))
	assert.Error(t, tr.Validate([]api.TokenSpan{{Start: 0, End: 7}}))
	assert.Error(t, tr.Validate([]api.TokenSpan{{Start: 3, End: 2}}))
	assert.Error(t, tr.Validate([]api.TokenSpan{{Start: 3, End: 4}, {Start: 1, End: 2}}))
}
