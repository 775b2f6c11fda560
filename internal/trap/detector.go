// Package trap detects bait requests in visitor messages and stages fake
// payment-proof artifacts whose fetches can be attributed back to a session.
package trap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/timesink-labs/timesink/internal/domain"
)

// baitWords are the proof-request phrases that arm a trap. Matching is
// case-insensitive substring search.
var baitWords = []string{"screenshot", "proof", "photo", "payment done"}

// placeholderHandle is used when the session has not yet leaked a payment
// handle of its own.
const placeholderHandle = "scammer@bank"

// demoAmount is the fixed amount shown on staged payment proofs.
const demoAmount = "5000"

// reasonFakeProof tags trap records created by a proof request.
const reasonFakeProof = "fake_proof"

// Renderer produces a proof artifact and returns its filename. The actual
// image generation is an external concern.
type Renderer interface {
	RenderReceipt(ctx context.Context, amount, handle string) (string, error)
}

// Bait is the outcome of a triggered trap: the one-shot directive to inject
// into the transcript, the trap record to log, and the URL the next reply
// must surface. The detector mutates nothing; the orchestrator applies both.
type Bait struct {
	Directive   domain.Turn
	Record      domain.TrapRecord
	ArtifactURL string
}

// Detector inspects incoming messages for bait requests.
type Detector struct {
	renderer Renderer
	logger   *slog.Logger
	now      func() time.Time
}

// NewDetector creates a detector using the given artifact renderer.
func NewDetector(renderer Renderer, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		renderer: renderer,
		logger:   logger,
		now:      time.Now,
	}
}

// Check inspects message for bait keywords. When triggered it renders an
// artifact for the session's extracted payment handle (or the placeholder)
// and returns the directive turn plus trap record. Repeated triggers in one
// session each produce a fresh artifact; every fetch wastes more visitor
// time. A renderer failure skips the trap for this turn only.
func (d *Detector) Check(ctx context.Context, message string, sess *domain.Session) (*Bait, bool) {
	lower := strings.ToLower(message)

	triggered := false
	for _, word := range baitWords {
		if strings.Contains(lower, word) {
			triggered = true
			break
		}
	}
	if !triggered {
		return nil, false
	}

	handle := sess.PaymentHandle
	if handle == "" {
		handle = placeholderHandle
	}

	filename, err := d.renderer.RenderReceipt(ctx, demoAmount, handle)
	if err != nil {
		d.logger.Error("proof render failed, skipping trap", "session_id", sess.ID, "error", err)
		return nil, false
	}

	url := "/proof/" + filename
	directive := fmt.Sprintf(
		"[SYSTEM INSTRUCTION]: You have just successfully generated a fake GPay payment screenshot. "+
			"The file link is '%s'. You MUST send this link to the user now. Say 'Here is the screenshot' or similar.",
		url,
	)

	return &Bait{
		Directive:   domain.Turn{Role: domain.RoleSystem, Content: directive, Ephemeral: true},
		Record:      domain.TrapRecord{File: filename, Reason: reasonFakeProof, CreatedAt: d.now()},
		ArtifactURL: url,
	}, true
}
