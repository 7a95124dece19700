package session

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/internal/protocol"
	"github.com/haasonsaas/forge/internal/turn"
	"github.com/haasonsaas/forge/internal/workspace"
)

// saveDebounce batches rapid state changes into one disk write. Terminal
// events bypass it via Flush so done/cancelled are never reported before
// the state that produced them is durable.
const saveDebounce = 250 * time.Millisecond

// WorkspaceFactory opens a workspace rooted at workdir. The entry point
// supplies local or SSH construction.
type WorkspaceFactory func(workdir string, isSSH bool) (*workspace.Workspace, error)

// EngineFactory builds a turn engine hosted by the session. Injected so
// the session layer stays free of provider and tool wiring.
type EngineFactory func(*Session) (*turn.Engine, error)

// Manager owns the session map and persistence. Sessions are loaded
// lazily from the state directory on first access.
type Manager struct {
	stateDir     string
	newWorkspace WorkspaceFactory
	newEngine    EngineFactory
	metrics      *observability.Metrics
	logger       *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	timers   map[string]*time.Timer
}

// NewManager creates a manager persisting under stateDir.
func NewManager(stateDir string, newWorkspace WorkspaceFactory, newEngine EngineFactory, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		stateDir:     stateDir,
		newWorkspace: newWorkspace,
		newEngine:    newEngine,
		metrics:      metrics,
		logger:       logger,
		sessions:     make(map[string]*Session),
		timers:       make(map[string]*time.Timer),
	}
}

func (m *Manager) sessionsDir() string {
	return filepath.Join(m.stateDir, "sessions")
}

// wire attaches the persistence closures, starts the file watcher for
// local workspaces, and registers the session.
func (m *Manager) wire(s *Session) {
	s.schedulePersist = func() { m.schedule(s) }
	s.persistNow = func() { m.flush(s) }
	if w, err := workspace.NewWatcher(s.ws, m.logger, func(paths []string) {
		s.Emit(protocol.Event{Type: protocol.EventFileChanged, Paths: paths})
	}); err == nil {
		s.watcher = w
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.ActiveSessions.Inc()
	}
}

// schedule arms (or re-arms) the debounce timer for one session.
func (m *Manager) schedule(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[s.ID]; ok {
		t.Reset(saveDebounce)
		return
	}
	m.timers[s.ID] = time.AfterFunc(saveDebounce, func() { m.flush(s) })
}

// flush writes the session synchronously and disarms its timer.
func (m *Manager) flush(s *Session) {
	m.mu.Lock()
	if t, ok := m.timers[s.ID]; ok {
		t.Stop()
		delete(m.timers, s.ID)
	}
	m.mu.Unlock()
	if err := s.save(m.sessionsDir()); err != nil {
		m.logger.Error("session save failed", "session_id", s.ID, "error", err)
	}
}

// Create builds a fresh session for the given workspace root.
func (m *Manager) Create(workdir string, isSSH bool) (*Session, error) {
	ws, err := m.newWorkspace(workdir, isSSH)
	if err != nil {
		return nil, fmt.Errorf("open workspace %s: %w", workdir, err)
	}
	s := newSession("", workdir, isSSH, ws, m.logger, m.metrics)
	engine, err := m.newEngine(s)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	s.AttachEngine(engine)
	m.wire(s)
	m.flush(s)
	m.logger.Info("session created", "session_id", s.ID, "workdir", workdir, "ssh", isSSH)
	return s, nil
}

// Get returns a session by id, loading it from disk when not resident.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return s, nil
	}
	return m.load(id)
}

func (m *Manager) load(id string) (*Session, error) {
	snap, err := readSnapshot(filepath.Join(m.sessionsDir(), id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %s not found", id)
		}
		return nil, err
	}
	ws, err := m.newWorkspace(snap.WorkingDirectory, snap.IsSSH)
	if err != nil {
		return nil, fmt.Errorf("open workspace %s: %w", snap.WorkingDirectory, err)
	}
	s := newSession(snap.ID, snap.WorkingDirectory, snap.IsSSH, ws, m.logger, m.metrics)
	s.restore(snap)
	engine, err := m.newEngine(s)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	s.AttachEngine(engine)

	// A second Get may have raced the load; keep the first.
	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()
	m.wire(s)
	m.logger.Info("session loaded", "session_id", s.ID, "workdir", s.WorkingDirectory)
	return s, nil
}

// Latest returns the most recently updated session for a workspace root,
// creating one when none exists.
func (m *Manager) Latest(workdir string, isSSH bool) (*Session, error) {
	summaries, err := m.List()
	if err != nil {
		return nil, err
	}
	for _, sum := range summaries {
		if sum.WorkingDirectory == workdir {
			return m.Get(sum.ID)
		}
	}
	return m.Create(workdir, isSSH)
}

// Summary is one row in the session list.
type Summary struct {
	ID               string    `json:"id"`
	Name             string    `json:"name,omitempty"`
	WorkingDirectory string    `json:"working_directory"`
	IsSSH            bool      `json:"is_ssh,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// List enumerates all persisted sessions, newest first. Resident
// sessions override their on-disk snapshot.
func (m *Manager) List() ([]Summary, error) {
	byID := make(map[string]Summary)

	entries, err := os.ReadDir(m.sessionsDir())
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		snap, err := readSnapshot(filepath.Join(m.sessionsDir(), name))
		if err != nil {
			m.logger.Warn("skipping unreadable session file", "file", name, "error", err)
			continue
		}
		byID[snap.ID] = Summary{
			ID:               snap.ID,
			Name:             snap.Name,
			WorkingDirectory: snap.WorkingDirectory,
			IsSSH:            snap.IsSSH,
			UpdatedAt:        snap.UpdatedAt,
		}
	}

	m.mu.Lock()
	for id, s := range m.sessions {
		s.mu.Lock()
		byID[id] = Summary{
			ID:               s.ID,
			Name:             s.name,
			WorkingDirectory: s.WorkingDirectory,
			IsSSH:            s.IsSSH,
			UpdatedAt:        s.updatedAt,
		}
		s.mu.Unlock()
	}
	m.mu.Unlock()

	out := make([]Summary, 0, len(byID))
	for _, sum := range byID {
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Close flushes every resident session and stops their watchers. Called
// on shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	resident := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		resident = append(resident, s)
	}
	m.mu.Unlock()
	for _, s := range resident {
		m.flush(s)
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
	}
}
