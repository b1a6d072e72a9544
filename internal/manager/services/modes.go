package services

import (
	"errors"
	"time"
)

// Mode selects which documents a batch embedding run processes. Each mode
// carries its own selection predicate so the criteria stay independently
// testable.
type Mode string

const (
	// ModeMissing selects documents without an embedding.
	ModeMissing Mode = "missing"
	// ModeOutdated selects documents whose embedding is older than the
	// staleness window or was produced by a different model version.
	ModeOutdated Mode = "outdated"
	// ModeQualityCheck selects every embedded document for a re-score pass.
	ModeQualityCheck Mode = "quality_check"
	// ModeAll selects every document, typically with ForceOverwrite.
	ModeAll Mode = "all"
)

// Embeddings older than this are considered outdated.
const outdatedAfter = 30 * 24 * time.Hour

var ErrUnknownMode = errors.New("unknown batch mode")

// embeddingState is what a selector sees about one document's embedding.
type embeddingState struct {
	exists     bool
	embeddedAt time.Time
	staleModel bool
}

// selector reports whether a document with the given embedding state is
// picked up by the mode.
type selector func(state embeddingState) bool

func selectorFor(mode Mode) (selector, error) {
	switch mode {
	case ModeMissing:
		return func(state embeddingState) bool {
			return !state.exists
		}, nil
	case ModeOutdated:
		return func(state embeddingState) bool {
			if !state.exists {
				return false
			}
			return state.staleModel || time.Since(state.embeddedAt) > outdatedAfter
		}, nil
	case ModeQualityCheck:
		return func(state embeddingState) bool {
			return state.exists
		}, nil
	case ModeAll:
		return func(embeddingState) bool {
			return true
		}, nil
	default:
		return nil, ErrUnknownMode
	}
}
