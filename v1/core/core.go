// Package core drives each participant through the session state machine,
// asking the turn coordinator for permission and running recognition and
// rendering on the participant's behalf.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iamanmiglani/Image-to-text/v1/cache"
	"github.com/iamanmiglani/Image-to-text/v1/document"
	turnerrors "github.com/iamanmiglani/Image-to-text/v1/errors"
	"github.com/iamanmiglani/Image-to-text/v1/metrics"
	"github.com/iamanmiglani/Image-to-text/v1/ocr"
	"github.com/iamanmiglani/Image-to-text/v1/render"
	"github.com/iamanmiglani/Image-to-text/v1/session"
	"github.com/iamanmiglani/Image-to-text/v1/turn"
)

var (
	// ErrSessionEnded is returned once for a session that was exited or
	// evicted. The participant id is forgotten afterwards.
	ErrSessionEnded = fmt.Errorf("%w: session ended", turnerrors.ErrEvicted)
	// ErrArtifactMissing means the generated document is no longer cached.
	ErrArtifactMissing = fmt.Errorf("%w: generated document is no longer available", turnerrors.ErrEngine)
)

// DefaultArtifactTTL bounds how long a generated document waits for download.
const DefaultArtifactTTL = 10 * time.Minute

// DefaultSessionRetention is how long an unseen session is kept.
const DefaultSessionRetention = time.Hour

// DefaultMaxEngineRun caps how long a running engine keeps the turn alive.
const DefaultMaxEngineRun = 10 * time.Minute

// Extractor turns an upload batch into a document.
type Extractor interface {
	Extract(ctx context.Context, inputs []ocr.Input) (*document.Document, error)
}

type entry struct {
	mu   sync.Mutex
	s    session.Session
	seen time.Time
}

// App owns every participant session of the process.
type App struct {
	coord     *turn.Coordinator
	extractor Extractor
	artifacts cache.Cache[render.File]
	renderers map[session.Format]render.Renderer
	logger    *slog.Logger
	now       func() time.Time

	artifactTTL  time.Duration
	retention    time.Duration
	renewEvery   time.Duration
	maxEngineRun time.Duration

	mu       sync.RWMutex
	sessions map[string]*entry
}

// Option configures an App.
type Option func(*App)

// WithRenderer sets the renderer used for format f.
func WithRenderer(f session.Format, r render.Renderer) Option {
	return func(a *App) { a.renderers[f] = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides the time source used for session bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		if now != nil {
			a.now = now
		}
	}
}

// WithArtifactTTL sets how long a generated document stays downloadable.
func WithArtifactTTL(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.artifactTTL = d
		}
	}
}

// WithSessionRetention sets how long a session that stopped calling in is
// kept before Sweep drops it.
func WithSessionRetention(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.retention = d
		}
	}
}

// WithRenewInterval sets how often the lease is renewed while an engine
// runs. It defaults to half the lease TTL.
func WithRenewInterval(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.renewEvery = d
		}
	}
}

// WithMaxEngineRun sets how long an engine call may keep the turn. Past it
// the lease is left to lapse.
func WithMaxEngineRun(d time.Duration) Option {
	return func(a *App) {
		if d > 0 {
			a.maxEngineRun = d
		}
	}
}

// New creates an App. Word and PDF renderers are installed by default.
func New(coord *turn.Coordinator, extractor Extractor, artifacts cache.Cache[render.File], opts ...Option) *App {
	a := &App{
		coord:     coord,
		extractor: extractor,
		artifacts: artifacts,
		renderers: map[session.Format]render.Renderer{
			session.FormatWord: render.Word{},
			session.FormatPDF:  render.PDF{Optimize: true},
		},
		logger:       slog.Default(),
		now:          time.Now,
		artifactTTL:  DefaultArtifactTTL,
		retention:    DefaultSessionRetention,
		maxEngineRun: DefaultMaxEngineRun,
		sessions:     make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.renewEvery <= 0 {
		a.renewEvery = max(coord.LeaseTTL()/2, time.Millisecond)
	}
	return a
}

// Coordinator returns the turn coordinator the App asks for permission.
func (a *App) Coordinator() *turn.Coordinator { return a.coord }

// Session returns a copy of p's session.
func (a *App) Session(p string) (session.Session, bool) {
	a.mu.RLock()
	e, ok := a.sessions[p]
	a.mu.RUnlock()
	if !ok {
		return session.Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s, true
}

// Len returns the number of sessions held.
func (a *App) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.sessions)
}

// lock returns p's entry locked, creating a fresh session on first contact.
func (a *App) lock(p string) *entry {
	a.mu.Lock()
	e, ok := a.sessions[p]
	if !ok {
		e = &entry{s: session.New(p)}
		a.sessions[p] = e
		metrics.SessionGauge.Set(float64(len(a.sessions)))
	}
	a.mu.Unlock()
	e.mu.Lock()
	e.seen = a.now()
	return e
}

func (a *App) drop(p string) {
	a.mu.Lock()
	delete(a.sessions, p)
	metrics.SessionGauge.Set(float64(len(a.sessions)))
	a.mu.Unlock()
}

// ended reports a terminated session once and forgets it. Callers hold e.mu.
func (a *App) ended(e *entry) error {
	if e.s.State != session.Terminated {
		return nil
	}
	a.drop(e.s.Participant)
	return fmt.Errorf("%w (%s)", ErrSessionEnded, e.s.EndReason)
}

// Poll asks for the turn. A waiting session is admitted once the coordinator
// grants it; an active session is checked for idleness and lease loss.
func (a *App) Poll(ctx context.Context, p string) (session.Session, turn.Status, error) {
	if p == "" {
		return session.Session{}, turn.Status{}, turn.ErrEmptyParticipant
	}
	e := a.lock(p)
	defer e.mu.Unlock()
	if err := a.ended(e); err != nil {
		return e.s, turn.Status{}, err
	}

	if e.s.State.Active() {
		if err := a.checkIdle(ctx, e); err != nil {
			return e.s, turn.Status{}, err
		}
	}
	st, err := a.coord.Poll(ctx, p)
	if err != nil {
		return e.s, st, err
	}

	switch {
	case e.s.State == session.AwaitingTurn && st.Decision == turn.Proceed:
		next, err := e.s.Admit()
		if err != nil {
			return e.s, st, err
		}
		e.s = next
		a.logger.Info("session admitted", "participant", p)
	case e.s.State.Active() && st.Decision != turn.Proceed:
		// Reclaimed while we were not looking; a Wait or InUse answer also
		// queued us again, which Complete undoes.
		if st.Decision != turn.Evicted {
			if err := a.coord.Complete(ctx, p); err != nil {
				return e.s, st, err
			}
		}
		a.terminate(e, session.ReasonLeaseLost)
		return e.s, turn.Status{Decision: turn.Evicted}, a.ended(e)
	}
	return e.s, st, nil
}

// busy reports whether an engine call is running for the session.
func busy(s session.Session) bool {
	return s.State == session.Extracting || s.State == session.Generating
}

// checkIdle evicts an idle holder. A participant that no longer holds the
// turn is left to the lease-loss path. Callers hold e.mu.
func (a *App) checkIdle(ctx context.Context, e *entry) error {
	if !e.s.IdleGuarded() || busy(e.s) {
		return nil
	}
	holder, held, err := a.coord.Holder(ctx)
	if err != nil || !held || holder != e.s.Participant {
		return err
	}
	expired, err := a.coord.IdleExpired(ctx, e.s.Participant)
	if err != nil || !expired {
		return err
	}
	if err := a.coord.Evict(ctx, e.s.Participant, turn.ReasonIdle); err != nil {
		return err
	}
	a.terminate(e, session.ReasonIdle)
	return a.ended(e)
}

// touch records an action by the holder. Losing the lease ends the session.
// Callers hold e.mu.
func (a *App) touch(ctx context.Context, e *entry) error {
	err := a.coord.Touch(ctx, e.s.Participant)
	if err == nil {
		return nil
	}
	if errors.Is(err, turn.ErrLeaseLost) {
		if cerr := a.coord.Complete(ctx, e.s.Participant); cerr != nil {
			a.logger.Warn("cleanup after lease loss failed", "participant", e.s.Participant, "error", cerr)
		}
		a.terminate(e, session.ReasonLeaseLost)
		return a.ended(e)
	}
	return err
}

// begin runs the checks shared by every holder action: the session must not
// have ended and must not be idle. Callers hold e.mu.
func (a *App) begin(ctx context.Context, e *entry) error {
	if err := a.ended(e); err != nil {
		return err
	}
	if e.s.State.Active() {
		return a.checkIdle(ctx, e)
	}
	return nil
}

func (a *App) terminate(e *entry, reason string) {
	next, err := e.s.Terminate(reason)
	if err != nil {
		return
	}
	a.discardArtifact(e.s)
	e.s = next
	a.logger.Warn("session terminated", "participant", e.s.Participant, "reason", reason)
}

func (a *App) discardArtifact(s session.Session) {
	if s.Artifact == nil {
		return
	}
	if err := a.artifacts.Invalidate(context.Background(), s.Artifact.Key); err != nil {
		a.logger.Warn("discard artifact failed", "participant", s.Participant, "error", err)
	}
}

// SelectFormat records the output format.
func (a *App) SelectFormat(ctx context.Context, p string, f session.Format) (session.Session, error) {
	e := a.lock(p)
	defer e.mu.Unlock()
	if err := a.begin(ctx, e); err != nil {
		return e.s, err
	}
	next, err := e.s.SelectFormat(f)
	if err != nil {
		return e.s, err
	}
	if err := a.touch(ctx, e); err != nil {
		return e.s, err
	}
	e.s = next
	return e.s, nil
}

// Download returns the generated document and moves to the post-download
// prompt. The document can be fetched once.
func (a *App) Download(ctx context.Context, p string) (render.File, session.Session, error) {
	e := a.lock(p)
	defer e.mu.Unlock()
	if err := a.begin(ctx, e); err != nil {
		return render.File{}, e.s, err
	}
	next, err := e.s.Download()
	if err != nil {
		return render.File{}, e.s, err
	}
	f, ok, err := a.artifacts.Get(ctx, e.s.Artifact.Key)
	if err != nil {
		return render.File{}, e.s, fmt.Errorf("load artifact: %w", err)
	}
	if !ok {
		return render.File{}, e.s, ErrArtifactMissing
	}
	if err := a.touch(ctx, e); err != nil {
		return render.File{}, e.s, err
	}
	a.discardArtifact(e.s)
	e.s = next
	a.logger.Info("document downloaded", "participant", p, "file", f.Name, "bytes", f.Size())
	return f, e.s, nil
}

// Reset starts over: the turn is released and the participant rejoins the
// back of the queue with an empty document.
func (a *App) Reset(ctx context.Context, p string) (session.Session, error) {
	e := a.lock(p)
	defer e.mu.Unlock()
	if err := a.ended(e); err != nil {
		return e.s, err
	}
	next, err := e.s.Reset()
	if err != nil {
		return e.s, err
	}
	if err := a.coord.Requeue(ctx, p); err != nil {
		return e.s, err
	}
	a.discardArtifact(e.s)
	e.s = next
	a.logger.Info("session reset", "participant", p)
	return e.s, nil
}

// Exit ends the session and releases the turn. The returned session is
// terminated; the participant id is forgotten.
func (a *App) Exit(ctx context.Context, p string) (session.Session, error) {
	e := a.lock(p)
	defer e.mu.Unlock()
	if err := a.ended(e); err != nil {
		return e.s, err
	}
	next, err := e.s.Exit()
	if err != nil {
		return e.s, err
	}
	if err := a.coord.Complete(ctx, p); err != nil {
		return e.s, err
	}
	a.discardArtifact(e.s)
	e.s = next
	a.drop(p)
	a.logger.Info("session exited", "participant", p)
	return e.s, nil
}
