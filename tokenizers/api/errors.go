package api

import "github.com/pkg/errors"

// Error kinds returned by the tokenizer components. They are always wrapped with context, so
// test for them with errors.Is.
var (
	// ErrVocab is returned when a vocabulary, merges or piece model artifact is missing or malformed.
	// It is fatal at construction.
	ErrVocab = errors.New("invalid vocabulary")

	// ErrLookup is returned when an id or token is not in an already loaded vocabulary.
	ErrLookup = errors.New("not found in vocabulary")

	// ErrTruncation is returned when an input doesn't fit and the truncation strategy doesn't allow it
	// to be truncated.
	ErrTruncation = errors.New("truncation not permitted")

	// ErrMalformedInput is returned for input text that is not valid UTF-8.
	ErrMalformedInput = errors.New("malformed input")

	// ErrAborted is set on batch items that were never run because an earlier item failed
	// in fail-fast mode.
	ErrAborted = errors.New("aborted")
)
