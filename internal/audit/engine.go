// Package audit writes the tamper-evident decision log. Events are numbered,
// linked to their predecessor by digest and signed before they are appended.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidahmann/steward/internal/crypto"
	"github.com/davidahmann/steward/internal/ledger"
	"github.com/davidahmann/steward/pkg/types"
)

const DefaultTimeout = 2 * time.Second

// Mirror receives a copy of every committed event. Mirror failures are
// logged and never fail the write.
type Mirror interface {
	Mirror(ctx context.Context, ev types.AuditEvent) error
}

type Engine struct {
	store   ledger.Store
	signer  crypto.Signer
	timeout time.Duration
	now     func() time.Time
	newID   func() string
	logger  *zap.Logger
	mirrors []Mirror

	mu     sync.Mutex
	primed bool
	seq    int64
	prev   string
}

type Option func(*Engine)

func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDs(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMirror(m Mirror) Option {
	return func(e *Engine) { e.mirrors = append(e.mirrors, m) }
}

func NewEngine(store ledger.Store, signer crypto.Signer, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		signer:  signer,
		timeout: DefaultTimeout,
		now:     time.Now,
		newID:   func() string { return "evt_" + uuid.NewString() },
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Record chains, signs and appends ev. The write is detached from the
// caller's cancellation and bounded by the engine timeout. Any failure is
// returned wrapped in ErrAuditWrite.
func (e *Engine) Record(ctx context.Context, ev types.AuditEvent) (types.AuditEvent, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	committed, err := e.append(ctx, ev)
	if err != nil {
		e.logger.Error("audit write failed",
			zap.String("subsystem", ev.Subsystem),
			zap.String("request_id", ev.RequestID),
			zap.Error(err),
		)
		return types.AuditEvent{}, fmt.Errorf("%w: %w", ErrAuditWrite, err)
	}

	for _, m := range e.mirrors {
		if err := m.Mirror(ctx, committed); err != nil {
			e.logger.Warn("audit mirror failed", zap.Int64("seq", committed.Seq), zap.Error(err))
		}
	}
	return committed, nil
}

func (e *Engine) append(ctx context.Context, ev types.AuditEvent) (types.AuditEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.primed {
		last, ok, err := e.store.LastAuditEvent(ctx)
		if err != nil {
			return types.AuditEvent{}, fmt.Errorf("read chain head: %w", err)
		}
		e.seq, e.prev = 0, ""
		if ok {
			e.seq, e.prev = last.Seq, last.Digest
		}
		e.primed = true
	}

	if ev.EventID == "" {
		ev.EventID = e.newID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	ev.Timestamp = ledger.NormalizeTime(ev.Timestamp)
	ev.Seq = e.seq + 1
	ev.PrevDigest = e.prev
	ev.KeyID = e.signer.KeyID()

	digest, digestBytes, err := Digest(ev)
	if err != nil {
		return types.AuditEvent{}, fmt.Errorf("digest: %w", err)
	}
	sig, err := e.signer.Sign(digestBytes)
	if err != nil {
		return types.AuditEvent{}, fmt.Errorf("sign: %w", err)
	}
	ev.Digest = digest
	ev.Sig = sig

	if err := e.store.AppendAuditEvent(ctx, ev); err != nil {
		// Re-read the head next time; another writer may have moved it.
		e.primed = false
		return types.AuditEvent{}, err
	}
	e.seq, e.prev = ev.Seq, ev.Digest
	return ev, nil
}

// PublicKey exposes the verification key for the events this engine signs.
func (e *Engine) PublicKey() (string, []byte) {
	return e.signer.KeyID(), e.signer.PublicKey()
}
