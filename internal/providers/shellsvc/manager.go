package shellsvc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tinglyhq/agentshell/internal/infrastructure/monitoring"
	"github.com/tinglyhq/agentshell/internal/shell"
)

// ErrNotFound is returned for operations on unknown session IDs.
var ErrNotFound = errors.New("session not found")

// Manager tracks live shell sessions by ID
type Manager struct {
	sessions sync.Map // map[string]*entry
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

type entry struct {
	session   *shell.Session
	createdAt time.Time
	forkedOf  string
}

// SessionInfo describes a session for API responses
type SessionInfo struct {
	ID         string    `json:"id"`
	Shell      string    `json:"shell"`
	WorkDir    string    `json:"work_dir"`
	Persistent bool      `json:"persistent"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	ForkedOf   string    `json:"forked_of,omitempty"`
}

// NewManager creates a session manager
func NewManager(metrics *monitoring.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{metrics: metrics, logger: logger}
}

// Create spawns a new session from the given configuration
func (m *Manager) Create(cfg shell.Config) *shell.Session {
	session := shell.New(cfg)
	m.store(session, "")

	m.logger.Info("session created",
		zap.String("session_id", string(session.ID())),
		zap.String("shell", session.Config().Shell),
		zap.Bool("persistent", session.Config().Persistent),
	)
	return session
}

// Get retrieves a session by ID
func (m *Manager) Get(sessionID string) (*shell.Session, error) {
	value, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return value.(*entry).session, nil
}

// Fork clones a session's environment state into a new session
func (m *Manager) Fork(sessionID string, overrides *shell.Config) (*shell.Session, error) {
	parent, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}

	child, err := parent.Fork(overrides)
	if err != nil {
		return nil, err
	}
	m.store(child, sessionID)
	if m.metrics != nil {
		m.metrics.SessionForks.Inc()
	}

	m.logger.Info("session forked",
		zap.String("parent_id", sessionID),
		zap.String("child_id", string(child.ID())),
	)
	return child, nil
}

// Close shuts down a session and removes it from the manager
func (m *Manager) Close(sessionID string) error {
	value, ok := m.sessions.Load(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	session := value.(*entry).session
	err := session.Close()
	m.sessions.Delete(sessionID)
	if m.metrics != nil {
		m.metrics.SessionsActive.Dec()
	}

	m.logger.Info("session closed", zap.String("session_id", sessionID))
	return err
}

// CloseAll shuts down every session. Used at server shutdown.
func (m *Manager) CloseAll() {
	m.sessions.Range(func(key, value interface{}) bool {
		value.(*entry).session.Close()
		m.sessions.Delete(key)
		if m.metrics != nil {
			m.metrics.SessionsActive.Dec()
		}
		return true
	})
}

// List returns info for all tracked sessions
func (m *Manager) List() []SessionInfo {
	var infos []SessionInfo
	m.sessions.Range(func(_, value interface{}) bool {
		infos = append(infos, describe(value.(*entry)))
		return true
	})
	return infos
}

// Describe returns info for one session
func (m *Manager) Describe(sessionID string) (*SessionInfo, error) {
	value, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	info := describe(value.(*entry))
	return &info, nil
}

// Count returns the number of tracked sessions
func (m *Manager) Count() int {
	count := 0
	m.sessions.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

func (m *Manager) store(session *shell.Session, forkedOf string) {
	m.sessions.Store(string(session.ID()), &entry{
		session:   session,
		createdAt: time.Now(),
		forkedOf:  forkedOf,
	})
	if m.metrics != nil {
		m.metrics.SessionsTotal.Inc()
		m.metrics.SessionsActive.Inc()
	}
}

func describe(e *entry) SessionInfo {
	cfg := e.session.Config()
	return SessionInfo{
		ID:         string(e.session.ID()),
		Shell:      cfg.Shell,
		WorkDir:    cfg.WorkDir,
		Persistent: cfg.Persistent,
		Active:     !e.session.Closed(),
		CreatedAt:  e.createdAt,
		ForkedOf:   e.forkedOf,
	}
}
