package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is one live client connection subscribed to a watchlist. Send must
// not block; a non-nil error marks the session dead and the registry will
// drop it.
type Session interface {
	ID() string
	Send(payload []byte) error
	Close()
}

// WorkerFactory runs the broadcast loop for one watchlist. It is invoked on
// its own goroutine and must return when ctx is canceled.
type WorkerFactory func(ctx context.Context, watchlistID int64)

type workerHandle struct {
	id     uuid.UUID
	cancel context.CancelFunc
}

// Registry is the single source of truth for which sessions listen to which
// watchlist and whether a broadcast worker is running for it. All table
// mutations happen under one mutex; delivery happens outside it.
//
// Invariants: no worker for a list with zero sessions, never two workers for
// the same list. Workers are spawned on the 0->1 session transition and
// canceled on 1->0, by exactly one actor.
type Registry struct {
	mu       sync.Mutex
	sessions map[int64]map[Session]bool
	workers  map[int64]*workerHandle

	spawn  WorkerFactory
	logger *zap.Logger
}

func New(logger *zap.Logger, spawn WorkerFactory) *Registry {
	return &Registry{
		sessions: make(map[int64]map[Session]bool),
		workers:  make(map[int64]*workerHandle),
		spawn:    spawn,
		logger:   logger,
	}
}

// Register adds a session to a watchlist, starting the broadcast worker if
// it is the first one. Idempotent per session.
func (r *Registry) Register(s Session, watchlistID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.sessions[watchlistID]
	if set == nil {
		set = make(map[Session]bool)
		r.sessions[watchlistID] = set
	}
	if set[s] {
		return
	}
	set[s] = true

	if len(set) == 1 {
		r.startWorkerLocked(watchlistID)
	}
	r.logger.Debug("session registered",
		zap.String("session_id", s.ID()),
		zap.Int64("watchlist_id", watchlistID),
		zap.Int("sessions", len(set)))
}

// Unregister removes a session, canceling the worker if it was the last one.
// No-op for sessions that were never registered.
func (r *Registry) Unregister(s Session, watchlistID int64) {
	r.mu.Lock()
	set, ok := r.sessions[watchlistID]
	if !ok || !set[s] {
		r.mu.Unlock()
		return
	}
	delete(set, s)

	var cancel context.CancelFunc
	if len(set) == 0 {
		delete(r.sessions, watchlistID)
		if h, ok := r.workers[watchlistID]; ok {
			cancel = h.cancel
			delete(r.workers, watchlistID)
		}
	}
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		r.logger.Info("last session gone, worker canceled", zap.Int64("watchlist_id", watchlistID))
	}
	s.Close()
}

// Broadcast delivers payload to every session of the watchlist. The session
// list is snapshotted under the lock but delivery happens outside it, so a
// slow client cannot stall registration. Sessions whose delivery fails are
// unregistered as part of the same call.
func (r *Registry) Broadcast(watchlistID int64, payload []byte) {
	r.mu.Lock()
	targets := make([]Session, 0, len(r.sessions[watchlistID]))
	for s := range r.sessions[watchlistID] {
		targets = append(targets, s)
	}
	r.mu.Unlock()

	for _, s := range targets {
		if err := s.Send(payload); err != nil {
			r.logger.Warn("dropping dead session",
				zap.String("session_id", s.ID()),
				zap.Int64("watchlist_id", watchlistID),
				zap.Error(err))
			r.Unregister(s, watchlistID)
		}
	}
}

// HasActiveSessions reports whether any session is registered for the
// watchlist. Read under the same mutex as Register/Unregister so a worker's
// continue-decision cannot race a concurrent last-disconnect.
func (r *Registry) HasActiveSessions(watchlistID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[watchlistID]) > 0
}

// SessionCount returns the number of live sessions for a watchlist.
func (r *Registry) SessionCount(watchlistID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[watchlistID])
}

// Shutdown cancels every worker and closes every session. Used on process
// exit only.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	var cancels []context.CancelFunc
	var open []Session
	for id, h := range r.workers {
		cancels = append(cancels, h.cancel)
		delete(r.workers, id)
	}
	for id, set := range r.sessions {
		for s := range set {
			open = append(open, s)
		}
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, s := range open {
		s.Close()
	}
}

// startWorkerLocked spawns the broadcast worker for a watchlist. Caller must
// hold r.mu; only reachable on the 0->1 transition.
func (r *Registry) startWorkerLocked(watchlistID int64) {
	if _, ok := r.workers[watchlistID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &workerHandle{id: uuid.New(), cancel: cancel}
	r.workers[watchlistID] = h

	r.logger.Info("starting price worker",
		zap.Int64("watchlist_id", watchlistID),
		zap.String("worker_id", h.id.String()))

	go func() {
		defer r.release(watchlistID, h)
		r.spawn(ctx, watchlistID)
	}()
}

// release drops the worker's handle after its goroutine exits. Idempotent
// with Unregister's own cleanup; the handle comparison prevents an old
// worker from releasing a successor spawned for the same watchlist.
func (r *Registry) release(watchlistID int64, h *workerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.workers[watchlistID]; ok && cur.id == h.id {
		cur.cancel()
		delete(r.workers, watchlistID)
	}
}
