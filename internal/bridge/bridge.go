// Package bridge persists action results in the background. Writes never
// block or alter a result that has already been returned; failures are
// reported through a notifier.
package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/polyglot-lingua/internal/action"
	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
	"github.com/tjfontaine/polyglot-lingua/internal/core/ports"
	"github.com/tjfontaine/polyglot-lingua/internal/telemetry"
)

// Kind names the record type a job writes.
type Kind string

const (
	KindTranslation Kind = "translation"
	KindVoiceMemo   Kind = "voiceMemo"
	KindFeedback    Kind = "feedback"
)

// ErrClosed is reported when a job is submitted after Close.
var ErrClosed = errors.New("bridge closed")

// Writer performs the actual document writes.
type Writer interface {
	AddTranslation(ctx context.Context, uid string, rec domain.TranslationRecord) (string, error)
	AddVoiceMemo(ctx context.Context, uid string, memo domain.VoiceMemo) (string, error)
	AddFeedback(ctx context.Context, rec domain.FeedbackRecord) (string, error)
}

// Config sizes the queue and the de-duplication memory.
type Config struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
	// SessionTTL is how long a session's last fingerprint is remembered
	// after its most recent submission.
	SessionTTL time.Duration
	// MaxSessions caps the remembered sessions; the least recently used
	// are forgotten first.
	MaxSessions int
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 30 * time.Minute
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 10000
	}
	return c
}

type job struct {
	ctx         context.Context
	kind        Kind
	userID      string
	dedupKey    string
	fingerprint string
	write       func(ctx context.Context) error
}

// Bridge is a bounded background write queue with per-session
// de-duplication.
type Bridge struct {
	writer   Writer
	notifier ports.Notifier
	cfg      Config
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	queue chan job
	group errgroup.Group

	mu        sync.Mutex
	last      map[string]seen // session/kind -> last submitted fingerprint
	lastSweep time.Time
	now       func() time.Time
	closed    bool
}

type seen struct {
	fingerprint string
	at          time.Time
}

var _ action.HistorySink = (*Bridge)(nil)

// Option configures a Bridge.
type Option func(*Bridge)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// New starts cfg.Workers workers writing through w.
func New(w Writer, notifier ports.Notifier, cfg Config, opts ...Option) *Bridge {
	cfg = cfg.withDefaults()
	b := &Bridge{
		writer:   w,
		notifier: notifier,
		cfg:      cfg,
		logger:   slog.Default(),
		queue:    make(chan job, cfg.QueueSize),
		last:     make(map[string]seen),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	for i := 0; i < cfg.Workers; i++ {
		b.group.Go(func() error {
			b.work()
			return nil
		})
	}
	return b
}

// Fingerprint identifies a logical result for de-duplication.
func Fingerprint(kind Kind, sourceText, translatedText string, hasAudio bool) string {
	h := sha256.New()
	audio := "0"
	if hasAudio {
		audio = "1"
	}
	for _, part := range []string{string(kind), sourceText, translatedText, audio} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SubmitTranslation queues a translation record for the caller.
func (b *Bridge) SubmitTranslation(ctx context.Context, c action.Caller, rec domain.TranslationRecord, hasAudio bool) {
	b.Submit(ctx, c.SessionID, c.UserID, KindTranslation,
		Fingerprint(KindTranslation, rec.SourceText, rec.TranslatedText, hasAudio),
		func(ctx context.Context) error {
			_, err := b.writer.AddTranslation(ctx, c.UserID, rec)
			return err
		})
}

// SubmitVoiceMemo queues a voice memo for the caller.
func (b *Bridge) SubmitVoiceMemo(ctx context.Context, c action.Caller, memo domain.VoiceMemo, hasAudio bool) bool {
	return b.Submit(ctx, c.SessionID, c.UserID, KindVoiceMemo,
		Fingerprint(KindVoiceMemo, memo.OriginalText, memo.TranslatedText, hasAudio),
		func(ctx context.Context) error {
			_, err := b.writer.AddVoiceMemo(ctx, c.UserID, memo)
			return err
		})
}

// SubmitFeedback queues a correction. Repeating the same correction in a
// session is written once.
func (b *Bridge) SubmitFeedback(ctx context.Context, c action.Caller, rec domain.FeedbackRecord) bool {
	rec.UserID = c.UserID
	return b.Submit(ctx, c.SessionID, c.UserID, KindFeedback,
		Fingerprint(KindFeedback, rec.SourceText, rec.UserCorrectedText, false),
		func(ctx context.Context) error {
			_, err := b.writer.AddFeedback(ctx, rec)
			return err
		})
}

// Submit queues write. It returns false when the job was skipped as a
// duplicate or could not be queued. An empty fingerprint disables
// de-duplication.
func (b *Bridge) Submit(ctx context.Context, sessionID, userID string, kind Kind, fingerprint string, write func(ctx context.Context) error) bool {
	j := job{
		ctx:         context.WithoutCancel(ctx),
		kind:        kind,
		userID:      userID,
		dedupKey:    sessionID + "/" + string(kind),
		fingerprint: fingerprint,
		write:       write,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.fail(j, ErrClosed, "dropped")
		return false
	}
	if fingerprint != "" {
		now := b.now()
		b.evict(now)
		prev, ok := b.last[j.dedupKey]
		if ok && prev.fingerprint == fingerprint {
			prev.at = now
			b.last[j.dedupKey] = prev
			b.mu.Unlock()
			b.metrics.ObserveBridgeWrite(string(kind), "duplicate")
			b.logger.Debug("skipping duplicate write",
				slog.String("kind", string(kind)),
				slog.String("user", userID))
			return false
		}
		b.last[j.dedupKey] = seen{fingerprint: fingerprint, at: now}
	}

	select {
	case b.queue <- j:
		b.metrics.SetBridgeQueueDepth(len(b.queue))
		b.mu.Unlock()
		return true
	default:
		b.forget(j)
		b.mu.Unlock()
		b.fail(j, errors.New("write queue is full"), "dropped")
		return false
	}
}

func (b *Bridge) work() {
	for j := range b.queue {
		b.metrics.SetBridgeQueueDepth(len(b.queue))
		b.run(j)
	}
}

func (b *Bridge) run(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, b.cfg.WriteTimeout)
	defer cancel()

	ctx, span := telemetry.Tracer().Start(ctx, "bridge.write")
	span.SetAttributes(attribute.String("lingua.kind", string(j.kind)))
	defer span.End()

	start := time.Now()
	if err := j.write(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")

		b.mu.Lock()
		b.forget(j)
		b.mu.Unlock()

		b.fail(j, err, "failed")
		return
	}

	b.metrics.ObserveBridgeWrite(string(j.kind), "ok")
	b.logger.Debug("record persisted",
		slog.String("kind", string(j.kind)),
		slog.String("user", j.userID),
		slog.Duration("duration", time.Since(start)))
}

// forget clears the fingerprint of a job that was not written so that a
// retry is accepted. b.mu must be held.
func (b *Bridge) forget(j job) {
	if j.fingerprint != "" && b.last[j.dedupKey].fingerprint == j.fingerprint {
		delete(b.last, j.dedupKey)
	}
}

// evict drops sessions idle past SessionTTL, at most once per tenth of the
// TTL, and trims the oldest entries when MaxSessions is reached. b.mu must
// be held.
func (b *Bridge) evict(now time.Time) {
	if now.Sub(b.lastSweep) >= b.cfg.SessionTTL/10 {
		b.lastSweep = now
		cutoff := now.Add(-b.cfg.SessionTTL)
		for k, v := range b.last {
			if v.at.Before(cutoff) {
				delete(b.last, k)
			}
		}
	}
	if len(b.last) < b.cfg.MaxSessions {
		return
	}

	// free a tenth of the capacity so trimming is not paid on every insert
	keys := make([]string, 0, len(b.last))
	for k := range b.last {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(x, y string) int {
		return b.last[x].at.Compare(b.last[y].at)
	})
	drop := len(b.last) - b.cfg.MaxSessions + max(1, b.cfg.MaxSessions/10)
	for _, k := range keys[:min(drop, len(keys))] {
		delete(b.last, k)
	}
}

func (b *Bridge) fail(j job, cause error, outcome string) {
	err := &domain.PersistenceError{Op: "create", Collection: string(j.kind), Cause: cause}
	b.metrics.ObserveBridgeWrite(string(j.kind), outcome)
	b.logger.Error("failed to persist record",
		slog.String("kind", string(j.kind)),
		slog.String("user", j.userID),
		slog.String("error", err.Error()))

	if b.notifier != nil {
		b.notifier.Notify(j.ctx, ports.Notification{
			UserID:  j.userID,
			Level:   ports.LevelError,
			Message: failureMessage(j.kind),
			Kind:    string(domain.ErrorKindPersistence),
		})
	}
}

func failureMessage(k Kind) string {
	switch k {
	case KindTranslation:
		return "Could not save the translation to your history."
	case KindVoiceMemo:
		return "Could not save the voice memo."
	case KindFeedback:
		return "Could not send your feedback."
	}
	return "Could not save your data."
}

// Close stops accepting jobs and waits for queued ones to finish or for ctx
// to end.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
