// Package orchestrator drives the per-message honeypot state machine:
// persona selection, redaction, handle extraction, classification, trap
// checks, human-plausible delay, the gateway call, and transcript commit.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/timesink-labs/timesink/internal/analysis"
	"github.com/timesink-labs/timesink/internal/domain"
	"github.com/timesink-labs/timesink/internal/evidence"
	"github.com/timesink-labs/timesink/internal/monitor"
	"github.com/timesink-labs/timesink/internal/persona"
	"github.com/timesink-labs/timesink/internal/store"
	"github.com/timesink-labs/timesink/internal/trap"
)

// ErrSessionNotFound is returned by media and report operations for unseen
// session ids. Chat never returns it; chat creates on first sight.
var ErrSessionNotFound = errors.New("session not found")

// handlePattern matches payment handles of the local-part@domain shape.
var handlePattern = regexp.MustCompile(`[a-zA-Z0-9.\-_]{2,256}@[a-zA-Z]{2,64}`)

// Completer obtains a reply for a transcript. Implemented by the gateway.
type Completer interface {
	Complete(ctx context.Context, transcript []domain.Turn) string
}

// BaitChecker inspects a message for trap triggers. Implemented by the
// trap detector.
type BaitChecker interface {
	Check(ctx context.Context, message string, sess *domain.Session) (*trap.Bait, bool)
}

// Publisher pushes live conversation events to watchers.
type Publisher interface {
	Publish(ev monitor.Event)
}

// Recorder appends conversation evidence.
type Recorder interface {
	Log(ev evidence.Event)
}

// Config holds orchestrator tuning.
type Config struct {
	// DelayMin/DelayMax bound the simulated human response delay.
	DelayMin time.Duration
	DelayMax time.Duration
}

// Deps collects the orchestrator's collaborators. Publisher and Recorder
// may be nil.
type Deps struct {
	Repo       store.Repository
	Gateway    Completer
	Redactor   analysis.Redactor
	Classifier analysis.Classifier
	Describer  analysis.Describer
	Detector   BaitChecker
	Publisher  Publisher
	Recorder   Recorder
}

// Orchestrator serializes message handling per session and composes the
// collaborators into one transition per incoming message.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	locks  *store.KeyedMutex
	logger *slog.Logger

	// seams for tests
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates an orchestrator.
func New(deps Deps, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		locks:  store.NewKeyedMutex(),
		logger: logger,
		sleep:  sleepCtx,
		now:    time.Now,
	}
}

// HandleMessage runs one full chat transition and returns the reply text.
// The session is committed to the store only after the whole transition
// succeeds, so cancellation mid-flight never leaves a half-applied
// transcript behind.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID, message string) (string, error) {
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	sess, err := o.deps.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		p := persona.Select(message)
		sess = domain.NewSession(sessionID, p.Name, p.Directive, o.now())
		o.logger.Info("session created", "session_id", sessionID, "persona", p.Name)
	}

	// Redaction comes before anything is stored so raw PII never lands in
	// the transcript.
	safe := o.deps.Redactor.Redact(ctx, message)

	if handle := handlePattern.FindString(safe); handle != "" {
		sess.PaymentHandle = handle
		o.logger.Info("payment handle extracted", "session_id", sessionID)
	}

	sess.AppendTurn(domain.Turn{Role: domain.RoleUser, Content: safe})

	label, confidence := o.deps.Classifier.Classify(ctx, safe)
	sess.Classification = &domain.Classification{Label: label, Confidence: confidence}

	bait, trapped := o.deps.Detector.Check(ctx, safe, sess)
	if trapped {
		sess.AppendTurn(bait.Directive)
		sess.RecordTrap(bait.Record)
		o.logger.Warn("trap armed", "session_id", sessionID, "file", bait.Record.File)
	}

	if err := o.humanDelay(ctx); err != nil {
		return "", fmt.Errorf("delay interrupted: %w", err)
	}

	reply := o.deps.Gateway.Complete(ctx, sess.Transcript)

	// The directive tells the model to surface the artifact link, but the
	// system guarantees it regardless.
	if trapped && !strings.Contains(reply, bait.ArtifactURL) {
		reply += "\n\n[Attachment]: " + bait.ArtifactURL
	}

	sess.AppendTurn(domain.Turn{Role: domain.RoleAssistant, Content: reply})
	sess.LastSeenAt = o.now()

	if err := o.deps.Repo.UpsertSession(ctx, sess); err != nil {
		return "", fmt.Errorf("commit session: %w", err)
	}

	trapFile := ""
	if trapped {
		trapFile = bait.Record.File
	}
	o.emit(sess, domain.RoleUser, safe, "")
	o.emit(sess, domain.RoleAssistant, reply, trapFile)

	return reply, nil
}

// HandleMedia injects a media observation into an existing session's
// transcript and returns the description. The payload has already been
// analyzed by the external collaborator, so the observation is stored
// unredacted.
func (o *Orchestrator) HandleMedia(ctx context.Context, sessionID string, payload []byte, kind string) (string, error) {
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	sess, err := o.deps.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return "", ErrSessionNotFound
	}

	description := o.deps.Describer.Describe(ctx, payload, kind)
	observation := "[System Observation]: User sent a file. Analysis: " + description

	sess.AppendTurn(domain.Turn{Role: domain.RoleSystem, Content: observation})
	sess.LastSeenAt = o.now()

	if err := o.deps.Repo.UpsertSession(ctx, sess); err != nil {
		return "", fmt.Errorf("commit session: %w", err)
	}

	o.emit(sess, domain.RoleSystem, observation, "")

	return description, nil
}

// RecordArtifactAccess attributes an artifact fetch to the owning session.
// Returns false when no session's traps reference the filename.
func (o *Orchestrator) RecordArtifactAccess(ctx context.Context, filename, ip, userAgent string) (bool, error) {
	owner, err := o.deps.Repo.FindSessionByArtifact(ctx, filename)
	if err != nil {
		return false, fmt.Errorf("find artifact owner: %w", err)
	}
	if owner == nil {
		return false, nil
	}

	unlock := o.locks.Lock(owner.ID)
	defer unlock()

	// Reload under the lock; the copy from the scan may be stale.
	sess, err := o.deps.Repo.GetSession(ctx, owner.ID)
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return false, nil
	}

	sess.RecordAccess(domain.AccessEntry{IP: ip, UserAgent: userAgent, Timestamp: o.now()})
	if err := o.deps.Repo.UpsertSession(ctx, sess); err != nil {
		return false, fmt.Errorf("commit session: %w", err)
	}

	o.logger.Warn("trap sprung", "session_id", sess.ID, "file", filename, "ip", ip, "ua", userAgent)
	return true, nil
}

// Report is the extracted-evidence view of a session.
type Report struct {
	SessionID      string                 `json:"session_id"`
	PersonaUsed    string                 `json:"persona_used"`
	ScammerIPLogs  []domain.AccessEntry   `json:"scammer_ip_logs"`
	TrapsDeployed  []domain.TrapRecord    `json:"traps_deployed"`
	ChatTranscript []domain.Turn          `json:"chat_transcript"`
	Classification *domain.Classification `json:"classification,omitempty"`
}

// BuildReport assembles the report for a session, or ErrSessionNotFound.
func (o *Orchestrator) BuildReport(ctx context.Context, sessionID string) (*Report, error) {
	sess, err := o.deps.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}

	return &Report{
		SessionID:      sess.ID,
		PersonaUsed:    sess.Persona,
		ScammerIPLogs:  sess.Accesses,
		TrapsDeployed:  sess.Traps,
		ChatTranscript: sess.Transcript,
		Classification: sess.Classification,
	}, nil
}

// humanDelay sleeps for a uniform random duration in the configured range.
// It holds only this session's lock, so other sessions keep progressing.
func (o *Orchestrator) humanDelay(ctx context.Context) error {
	if o.cfg.DelayMax <= 0 {
		return nil
	}
	d := o.cfg.DelayMin
	if span := o.cfg.DelayMax - o.cfg.DelayMin; span > 0 {
		d += time.Duration(rand.Int64N(int64(span)))
	}
	o.logger.Info("delaying response", "delay", d)
	return o.sleep(ctx, d)
}

func (o *Orchestrator) emit(sess *domain.Session, role, content, trapFile string) {
	if o.deps.Publisher != nil {
		o.deps.Publisher.Publish(monitor.Event{
			SessionID: sess.ID,
			Persona:   sess.Persona,
			Role:      role,
			Content:   content,
			Trap:      trapFile,
		})
	}
	if o.deps.Recorder != nil {
		label := ""
		if sess.Classification != nil {
			label = sess.Classification.Label
		}
		o.deps.Recorder.Log(evidence.Event{
			SessionID: sess.ID,
			Persona:   sess.Persona,
			Role:      role,
			Content:   content,
			Label:     label,
		})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
