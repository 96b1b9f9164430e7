// Package session lazily creates the single store session shared by all
// retrievals. Concurrent first callers wait on one in-flight creation
// rather than racing to create their own.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	artifactfetcher "github.com/wolfeidau/artifact-fetcher"
	"github.com/wolfeidau/artifact-fetcher/store"
	"github.com/wolfeidau/artifact-fetcher/telemetry"
	"golang.org/x/sync/singleflight"
)

// DefaultInitTimeout bounds a single session creation attempt.
const DefaultInitTimeout = 2 * time.Minute

const flightKey = "session"

// errNilSession is reported when a client returns neither a session nor an error.
var errNilSession = errors.New("store client returned a nil session")

// Lazy holds the process-wide store session. The zero value is not usable;
// create one with New.
type Lazy struct {
	client      store.Client
	logger      *slog.Logger
	initTimeout time.Duration

	group singleflight.Group

	mu      sync.RWMutex
	session store.Session
}

// Option configures a Lazy.
type Option func(*Lazy)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lazy) {
		l.logger = logger
	}
}

// WithInitTimeout bounds each creation attempt. Zero disables the bound.
func WithInitTimeout(d time.Duration) Option {
	return func(l *Lazy) {
		l.initTimeout = d
	}
}

// New returns a Lazy that creates its session from client on first use.
func New(client store.Client, opts ...Option) *Lazy {
	l := &Lazy{
		client:      client,
		logger:      slog.Default(),
		initTimeout: DefaultInitTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Get returns the shared session, creating it if needed.
//
// Creation runs on a context detached from ctx so that one caller giving up
// does not abort a bootstrap that other callers are waiting on. If ctx is
// done first, Get returns ctx.Err() and creation carries on.
//
// A failed creation is returned as a *artifactfetcher.SessionInitError and is
// not remembered; the next call tries again.
func (l *Lazy) Get(ctx context.Context) (store.Session, error) {
	if s := l.load(); s != nil {
		return s, nil
	}

	ch := l.group.DoChan(flightKey, func() (any, error) {
		// A caller that lost the race to an earlier flight may arrive after
		// it stored the session.
		if s := l.load(); s != nil {
			return s, nil
		}
		return l.create(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(store.Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ready reports whether a session has been created.
func (l *Lazy) Ready() bool {
	return l.load() != nil
}

func (l *Lazy) create(ctx context.Context) (store.Session, error) {
	if l.initTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.initTimeout)
		defer cancel()
	}

	start := time.Now()
	l.logger.Debug("creating store session")

	s, err := l.client.CreateSession(ctx)
	if err == nil && s == nil {
		err = errNilSession
	}
	duration := time.Since(start)
	if err != nil {
		telemetry.RecordSessionInit(ctx, duration, "error")
		l.logger.Warn("store session creation failed", "error", err, "duration", duration)
		return nil, &artifactfetcher.SessionInitError{Err: err}
	}

	l.mu.Lock()
	l.session = s
	l.mu.Unlock()

	telemetry.RecordSessionInit(ctx, duration, "success")
	l.logger.Info("store session created", "duration", duration)
	return s, nil
}

func (l *Lazy) load() store.Session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.session
}
