package models

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable is fatal for a run: missing API key or unresolvable channel.
	ErrSourceUnavailable = errors.New("content source unavailable")

	// ErrAcquisitionFailed means the audio for one video could not be downloaded.
	ErrAcquisitionFailed = errors.New("audio acquisition failed")

	// ErrSummarizationFailed covers provider errors and unparseable or empty output.
	ErrSummarizationFailed = errors.New("summarization failed")

	ErrPersistenceFailed = errors.New("persistence failed")
	ErrDeliveryFailed    = errors.New("delivery failed")
)

// ErrMissingAPIKey is a SummarizationFailed that must stop the run.
var ErrMissingAPIKey = fmt.Errorf("%w: GEMINI_API_KEY is missing", ErrSummarizationFailed)

// ErrNotFound is returned by stores when a lookup matches no row.
var ErrNotFound = errors.New("not found")
