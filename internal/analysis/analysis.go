// Package analysis wraps the external text/media analysis collaborators.
// Redaction, classification and media description are consumed as black
// boxes over HTTP; every failure degrades to a harmless default so a chat
// transition is never aborted by an analyzer outage.
package analysis

import (
	"context"
)

// Redactor strips PII from visitor text before it is stored anywhere.
type Redactor interface {
	Redact(ctx context.Context, text string) string
}

// Classifier labels visitor text with a scam type and confidence.
type Classifier interface {
	Classify(ctx context.Context, text string) (label string, confidence float64)
}

// Describer turns an uploaded media payload into a text observation
// (OCR/QR contents for images, a transcript for audio).
type Describer interface {
	Describe(ctx context.Context, payload []byte, kind string) string
}

// UnknownLabel is the classification used when no classifier is available
// or the classifier call fails.
const UnknownLabel = "unknown"

// DescribeFailed is the observation used when media analysis fails.
const DescribeFailed = "[Media Processing Failed]"

// Disabled implements all three collaborator interfaces as no-ops, used
// when no analyzer service is configured.
type Disabled struct{}

// Redact returns the text unchanged.
func (Disabled) Redact(_ context.Context, text string) string { return text }

// Classify returns the unknown label.
func (Disabled) Classify(context.Context, string) (string, float64) {
	return UnknownLabel, 0
}

// Describe returns the failure placeholder.
func (Disabled) Describe(context.Context, []byte, string) string {
	return DescribeFailed
}
