package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lsclear/sandbox/pkg/errdefs"
	"github.com/lsclear/sandbox/pkg/log"
	"github.com/lsclear/sandbox/pkg/metrics"
	"github.com/lsclear/sandbox/pkg/runtime"
	"github.com/lsclear/sandbox/pkg/state"
	"github.com/lsclear/sandbox/pkg/types"
)

// ContainerRuntime is the slice of the container driver the manager needs.
type ContainerRuntime interface {
	EnsureContainer(ctx context.Context, userID string) (string, bool, error)
	RemoveContainer(ctx context.Context, containerID string) error
	ListManaged(ctx context.Context) ([]runtime.ManagedContainer, error)
	Status(ctx context.Context, containerID string) (types.ContainerState, error)
}

// Seeder projects a user's tree into a fresh container.
type Seeder interface {
	Seed(ctx context.Context, userID, containerID string) error
}

// Manager owns the user→container and session→record maps. Sessions are
// ephemeral and in-memory only; container assignments are mirrored to the
// durable state cache for the reaper's benefit.
type Manager struct {
	runtime ContainerRuntime
	seeder  Seeder
	cache   *state.BoltStore

	mu       sync.RWMutex
	sessions map[string]*types.Session
	users    map[string]string // user_id → container_id

	reapInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// StartResult is the outcome of StartSession.
type StartResult struct {
	Session        *types.Session
	IsNewContainer bool
}

// NewManager builds a session manager. The cache may have records from a
// previous process; they re-populate the user map so running containers are
// not reaped after a restart.
func NewManager(rt ContainerRuntime, seeder Seeder, cache *state.BoltStore, reapInterval time.Duration) (*Manager, error) {
	m := &Manager{
		runtime:      rt,
		seeder:       seeder,
		cache:        cache,
		sessions:     make(map[string]*types.Session),
		users:        make(map[string]string),
		reapInterval: reapInterval,
		stopCh:       make(chan struct{}),
	}

	if cache != nil {
		recs, err := cache.ListContainers()
		if err != nil {
			return nil, fmt.Errorf("failed to load container cache: %w", err)
		}
		for _, rec := range recs {
			m.users[rec.UserID] = rec.ContainerID
		}
	}
	metrics.ContainersManaged.Set(float64(len(m.users)))

	return m, nil
}

// Start launches the periodic orphan reaper.
func (m *Manager) Start() {
	go m.reapLoop()
}

// Stop terminates the reaper loop.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) reapLoop() {
	ticker := time.NewTicker(m.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := m.ReapOrphans(context.Background()); err != nil {
				log.WithComponent("session").Warn().Err(err).Msg("orphan reap failed")
			}
		case <-m.stopCh:
			return
		}
	}
}

// StartSession ensures a running, seeded container for the user and mints a
// fresh opaque session id for it.
func (m *Manager) StartSession(ctx context.Context, userID string) (*StartResult, error) {
	if userID == "" {
		return nil, errdefs.InvalidParameterf("user_id is required")
	}

	// Opportunistic cleanup before allocating anything new.
	if _, err := m.ReapOrphans(ctx); err != nil {
		log.WithUserID(userID).Warn().Err(err).Msg("orphan reap failed")
	}

	containerID, created, err := m.runtime.EnsureContainer(ctx, userID)
	if err != nil {
		return nil, err
	}

	m.trackContainer(userID, containerID)

	if err := m.seeder.Seed(ctx, userID, containerID); err != nil {
		return nil, fmt.Errorf("failed to seed workspace: %w", err)
	}

	sess := &types.Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		ContainerID: containerID,
		CreatedAt:   time.Now().UTC(),
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	metrics.SessionsStarted.Inc()
	metrics.SessionsActive.Inc()
	log.WithUserID(userID).Info().
		Str("session_id", sess.ID).
		Str("container_id", containerID).
		Bool("is_new_container", created).
		Msg("session started")

	return &StartResult{Session: sess, IsNewContainer: created}, nil
}

func (m *Manager) trackContainer(userID, containerID string) {
	m.mu.Lock()
	m.users[userID] = containerID
	total := len(m.users)
	m.mu.Unlock()
	metrics.ContainersManaged.Set(float64(total))

	if m.cache != nil {
		rec := &types.ContainerRecord{
			UserID:      userID,
			ContainerID: containerID,
			CreatedAt:   time.Now().UTC(),
		}
		if err := m.cache.PutContainer(rec); err != nil {
			log.WithUserID(userID).Warn().Err(err).Msg("failed to persist container record")
		}
	}
}

func (m *Manager) untrackContainer(userID string) {
	m.mu.Lock()
	delete(m.users, userID)
	total := len(m.users)
	m.mu.Unlock()
	metrics.ContainersManaged.Set(float64(total))

	if m.cache != nil {
		if err := m.cache.DeleteContainer(userID); err != nil {
			log.WithUserID(userID).Warn().Err(err).Msg("failed to drop container record")
		}
	}
}

// ContainerFor returns the container currently assigned to the user, if any.
func (m *Manager) ContainerFor(userID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.users[userID]
	return id, ok
}

// Lookup returns the session record for sid, or nil when unknown or already
// ended.
func (m *Manager) Lookup(sid string) *types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sid]
}

// Status reports the lifecycle state of the container behind a session.
func (m *Manager) Status(ctx context.Context, sid string) (types.ContainerState, error) {
	sess := m.Lookup(sid)
	if sess == nil {
		return "", errdefs.NotFoundf("session %s not found", sid)
	}
	return m.runtime.Status(ctx, sess.ContainerID)
}

// EndSession removes the container behind the session and forgets the
// session itself.
func (m *Manager) EndSession(ctx context.Context, sid string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sid]
	if ok {
		delete(m.sessions, sid)
	}
	m.mu.Unlock()
	if !ok {
		return errdefs.NotFoundf("session %s not found", sid)
	}
	metrics.SessionsActive.Dec()

	if err := m.runtime.RemoveContainer(ctx, sess.ContainerID); err != nil {
		return err
	}
	m.untrackContainer(sess.UserID)

	log.WithSessionID(sid).Info().Msg("session ended")
	return nil
}

// CleanupUser force-removes the user's container and drops every session
// belonging to them. It reports whether a container was actually removed.
func (m *Manager) CleanupUser(ctx context.Context, userID string) (bool, error) {
	m.mu.Lock()
	containerID, tracked := m.users[userID]
	var dropped int
	for sid, sess := range m.sessions {
		if sess.UserID == userID {
			delete(m.sessions, sid)
			dropped++
		}
	}
	m.mu.Unlock()
	for i := 0; i < dropped; i++ {
		metrics.SessionsActive.Dec()
	}

	if !tracked {
		return false, nil
	}

	if err := m.runtime.RemoveContainer(ctx, containerID); err != nil {
		return false, err
	}
	m.untrackContainer(userID)

	log.WithUserID(userID).Info().Str("container_id", containerID).Msg("user cleaned up")
	return true, nil
}

// ReapOrphans removes every managed container whose user is not currently
// tracked. The label set on the runtime is authoritative for what we manage;
// the tracked map decides what we keep.
func (m *Manager) ReapOrphans(ctx context.Context) (int, error) {
	managed, err := m.runtime.ListManaged(ctx)
	if err != nil {
		return 0, err
	}

	m.mu.RLock()
	tracked := make(map[string]string, len(m.users))
	for u, c := range m.users {
		tracked[u] = c
	}
	m.mu.RUnlock()

	reaped := 0
	for _, c := range managed {
		if id, ok := tracked[c.UserID]; ok && id == c.ID {
			continue
		}
		if err := m.runtime.RemoveContainer(ctx, c.ID); err != nil {
			log.WithComponent("session").Warn().Err(err).
				Str("container_id", c.ID).Msg("failed to reap orphan")
			continue
		}
		reaped++
		metrics.ContainersReaped.Inc()
		log.WithComponent("session").Info().
			Str("container_id", c.ID).
			Str("user_id", c.UserID).
			Msg("reaped orphaned container")
	}
	return reaped, nil
}
