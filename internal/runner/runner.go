// Package runner owns the single-slot browser visit lifecycle.
//
// The runner is a two-state machine: Idle and Running. An accepted trigger
// moves it to Running and starts the visit in a background goroutine; visit
// completion, success or failure, moves it back to Idle. A trigger that
// arrives while Running is rejected immediately with ErrAlreadyRunning and is
// never queued or retried.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kholt/instance-keepalive/internal/metrics"
)

// Sentinel errors for the trigger path. The API layer maps these onto HTTP
// status codes; none of them mutate run state.
var (
	// ErrUnauthorized means the supplied token did not match the configured
	// secret, or no secret is configured at all (fail closed).
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoTargetURL means neither the request nor the configuration named a
	// URL to visit.
	ErrNoTargetURL = errors.New("no target url resolvable")
	// ErrAlreadyRunning means a visit is in flight; the trigger is rejected,
	// not queued.
	ErrAlreadyRunning = errors.New("visit already running")
)

// Clock abstracts time.Now so tests can control timestamps.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints visit IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Browser launches a headless browser and hands back a scoped session.
type Browser interface {
	Open(ctx context.Context) (Session, error)
}

// Session is one live browser. Close releases it on every exit path and must
// swallow its own errors; cleanup failure never masks the visit's outcome.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Close()
}

// Config controls Runner behavior.
type Config struct {
	Token      string
	DefaultURL string
	Stay       time.Duration
	NavTimeout time.Duration
	// LaunchTimeout bounds the browser launch; zero means unbounded. A hung
	// launch with no timeout blocks that visit indefinitely, which is an
	// accepted operational trade-off.
	LaunchTimeout time.Duration

	// KeepAliveURL, when set, is pinged every KeepAliveInterval while a visit
	// is in flight, each attempt bounded by KeepAliveTimeout.
	KeepAliveURL      string
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
}

// Snapshot is a point-in-time copy of the run state.
type Snapshot struct {
	Running        bool       `json:"running"`
	VisitID        string     `json:"visitId,omitempty"`
	LastRunAt      *time.Time `json:"lastRunAt"`
	LastFinishedAt *time.Time `json:"lastFinishedAt"`
	LastURL        string     `json:"lastUrl,omitempty"`
	LastError      *string    `json:"lastError"`
}

// TriggerRequest carries one trigger's inputs.
type TriggerRequest struct {
	URL          string
	Token        string
	Stay         time.Duration
	StayProvided bool
}

// TriggerResult reports an accepted trigger.
type TriggerResult struct {
	VisitID string
	URL     string
	Stay    time.Duration
}

// Runner executes at most one browser visit at a time.
type Runner struct {
	cfg        Config
	browser    Browser
	clock      Clock
	idGen      IDGenerator
	pingClient *http.Client
	logger     *zap.Logger

	mu    sync.Mutex
	state Snapshot
	wg    sync.WaitGroup
}

// New constructs a Runner.
func New(browser Browser, clock Clock, idGen IDGenerator, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 2 * time.Minute
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = 45 * time.Second
	}
	if cfg.KeepAliveTimeout <= 0 {
		cfg.KeepAliveTimeout = 5 * time.Second
	}
	return &Runner{
		cfg:        cfg,
		browser:    browser,
		clock:      clock,
		idGen:      idGen,
		pingClient: &http.Client{},
		logger:     logger,
	}
}

// Trigger validates the request and, if the runner is idle, starts a visit in
// the background. It returns before the visit finishes; the Running flag is
// already observable when it returns.
func (r *Runner) Trigger(req TriggerRequest) (TriggerResult, error) {
	if r.cfg.Token == "" || req.Token != r.cfg.Token {
		return TriggerResult{}, ErrUnauthorized
	}
	url := req.URL
	if url == "" {
		url = r.cfg.DefaultURL
	}
	if url == "" {
		return TriggerResult{}, ErrNoTargetURL
	}
	stay := r.cfg.Stay
	if req.StayProvided {
		stay = req.Stay
	}

	r.mu.Lock()
	if r.state.Running {
		r.mu.Unlock()
		return TriggerResult{}, ErrAlreadyRunning
	}
	id, err := r.idGen.NewID()
	if err != nil {
		r.mu.Unlock()
		return TriggerResult{}, fmt.Errorf("generate visit id: %w", err)
	}
	now := r.clock.Now()
	r.state.Running = true
	r.state.VisitID = id
	r.state.LastURL = url
	r.state.LastRunAt = &now
	r.state.LastError = nil
	r.mu.Unlock()

	r.wg.Add(1)
	go r.runSession(id, url, stay)

	return TriggerResult{VisitID: id, URL: url, Stay: stay}, nil
}

// Status returns a read-only copy of the run state.
func (r *Runner) Status() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Wait blocks until any in-flight visit has finished, or until ctx is done.
// The shutdown path uses it to drain gracefully instead of interrupting a
// navigation or stay mid-flight.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain interrupted: %w", ctx.Err())
	}
}

// runSession executes one visit end to end. It is detached from the trigger's
// HTTP request context: the triggering call has already returned, so the visit
// runs against context.Background and its errors surface only in run state.
func (r *Runner) runSession(id, url string, stay time.Duration) {
	defer r.wg.Done()

	logger := r.logger.With(zap.String("visit_id", id), zap.String("url", url))
	ctx := context.Background()

	pingCtx, stopPings := context.WithCancel(ctx)
	defer stopPings()
	if r.cfg.KeepAliveURL != "" {
		go r.keepAlive(pingCtx, logger)
	}

	metrics.SetVisitActive(true)
	start := time.Now()
	err := r.visit(ctx, url, stay, logger)
	elapsed := time.Since(start)
	metrics.SetVisitActive(false)

	r.finish(err)

	if err != nil {
		logger.Warn("visit failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		metrics.ObserveVisit("failed", elapsed)
		return
	}
	logger.Info("visit finished", zap.Duration("elapsed", elapsed))
	metrics.ObserveVisit("succeeded", elapsed)
}

func (r *Runner) visit(ctx context.Context, url string, stay time.Duration, logger *zap.Logger) error {
	launchCtx := ctx
	if r.cfg.LaunchTimeout > 0 {
		var cancel context.CancelFunc
		launchCtx, cancel = context.WithTimeout(ctx, r.cfg.LaunchTimeout)
		defer cancel()
	}
	session, err := r.browser.Open(launchCtx)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer session.Close()

	navCtx, cancel := context.WithTimeout(ctx, r.cfg.NavTimeout)
	defer cancel()
	if err := session.Navigate(navCtx, url); err != nil {
		// A failed navigation short-circuits the stay; Close still runs.
		return fmt.Errorf("navigate: %w", err)
	}

	logger.Info("page open", zap.Duration("stay", stay))
	if stay > 0 {
		timer := time.NewTimer(stay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return fmt.Errorf("stay interrupted: %w", ctx.Err())
		}
	}
	return nil
}

// finish records the visit outcome and releases the running slot. The
// timestamp and flag flip happen in one critical section so a status read can
// never observe running=false without lastFinishedAt set.
func (r *Runner) finish(visitErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	r.state.LastFinishedAt = &now
	if visitErr != nil {
		msg := visitErr.Error()
		r.state.LastError = &msg
	}
	r.state.Running = false
}

// keepAlive pings the configured URL until ctx is cancelled at visit end.
// Failures are logged and never abort the visit.
func (r *Runner) keepAlive(ctx context.Context, logger *zap.Logger) {
	ticker := time.NewTicker(r.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.ping(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				metrics.ObservePing("error")
				logger.Warn("keep-alive ping failed", zap.Error(err))
				continue
			}
			metrics.ObservePing("ok")
		}
	}
}

func (r *Runner) ping(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.KeepAliveTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, r.cfg.KeepAliveURL, nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	resp, err := r.pingClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping %s: %w", r.cfg.KeepAliveURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck // fire-and-forget
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("ping %s: status %d", r.cfg.KeepAliveURL, resp.StatusCode)
	}
	return nil
}
