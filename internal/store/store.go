// Package store provides storage backends for Mr. French.
//
// It defines the Store interface over task records, conversation history, zone
// state, and the analysis log, with in-memory, SQLite, and PostgreSQL
// implementations selected by DSN.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hareem123931/mr-french/internal/models"
)

// Store defines the persistence operations the engine depends on.
type Store interface {
	// Conversation history (append-only per channel).
	AppendTurn(turn models.ConversationTurn) error
	ListTurns(channel models.ChatChannel) ([]models.ConversationTurn, error)

	// Task ledger.
	CreateTask(task models.Task) error
	GetTask(id string) (*models.Task, error)
	// UpdateTask applies updates to the task identified by id. The caller
	// passes the UpdatedAt it last observed; ErrConflict is returned when the
	// stored row has moved on since then.
	UpdateTask(id string, observedUpdatedAt time.Time, mutate func(*models.Task)) (*models.Task, error)
	DeleteTask(id string) error
	ListTasks(status models.TaskStatus) ([]models.Task, error)

	// Zone state.
	GetZoneState() (*models.ZoneState, error)
	SetZoneState(state models.ZoneState) error

	// Analysis log (audit trail).
	AppendAnalysisLog(entry models.AnalysisLogEntry) error
	ListAnalysisLogs(channel models.ChatChannel) ([]models.AnalysisLogEntry, error)

	// ResetAll atomically clears conversation history, tasks, zone state, and
	// the analysis log. Partial resets are not permitted.
	ResetAll() error

	Close() error
}

// Opts holds store configuration applied via functional options.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite file path as the store DSN.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string as the store DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType determines whether a DSN refers to PostgreSQL or SQLite.
// Postgres DSNs use URL or key=value forms; anything else is treated as a
// SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a mutex-guarded in-process store. It is the zero-config
// default and the backend used throughout tests.
type InMemoryStore struct {
	mu        sync.RWMutex
	turns     map[models.ChatChannel][]models.ConversationTurn
	tasks     map[string]models.Task
	zone      *models.ZoneState
	logs      []models.AnalysisLogEntry
	nextLogID int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		turns: make(map[models.ChatChannel][]models.ConversationTurn),
		tasks: make(map[string]models.Task),
	}
}

// AppendTurn appends a turn to the channel's history.
func (s *InMemoryStore) AppendTurn(turn models.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turn.Channel] = append(s.turns[turn.Channel], turn)
	return nil
}

// ListTurns returns the channel's full history in chronological order.
func (s *InMemoryStore) ListTurns(channel models.ChatChannel) ([]models.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ConversationTurn, len(s.turns[channel]))
	copy(out, s.turns[channel])
	return out, nil
}

// CreateTask inserts a new task record.
func (s *InMemoryStore) CreateTask(task models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

// GetTask returns the task with the given id, or nil when absent.
func (s *InMemoryStore) GetTask(id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tasks[id]; ok {
		cp := t
		return &cp, nil
	}
	return nil, nil
}

// UpdateTask applies mutate to the stored task under an optimistic timestamp
// check. Returns models.ErrConflict when the row changed since observedUpdatedAt.
func (s *InMemoryStore) UpdateTask(id string, observedUpdatedAt time.Time, mutate func(*models.Task)) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, models.ErrTaskNotFound
	}
	if !t.UpdatedAt.Equal(observedUpdatedAt) {
		return nil, models.ErrConflict
	}
	mutate(&t)
	t.UpdatedAt = time.Now().UTC()
	s.tasks[id] = t
	cp := t
	return &cp, nil
}

// DeleteTask removes the task with the given id.
func (s *InMemoryStore) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return models.ErrTaskNotFound
	}
	delete(s.tasks, id)
	return nil
}

// ListTasks returns tasks, optionally filtered by status, newest update first.
func (s *InMemoryStore) ListTasks(status models.TaskStatus) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Task
	for _, t := range s.tasks {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// GetZoneState returns the stored zone state, or nil when never set.
func (s *InMemoryStore) GetZoneState() (*models.ZoneState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.zone == nil {
		return nil, nil
	}
	cp := *s.zone
	return &cp, nil
}

// SetZoneState overwrites the stored zone state.
func (s *InMemoryStore) SetZoneState(state models.ZoneState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zone = &state
	return nil
}

// AppendAnalysisLog appends one audit-trail entry.
func (s *InMemoryStore) AppendAnalysisLog(entry models.AnalysisLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLogID++
	entry.ID = s.nextLogID
	s.logs = append(s.logs, entry)
	return nil
}

// ListAnalysisLogs returns audit entries, optionally filtered by channel.
func (s *InMemoryStore) ListAnalysisLogs(channel models.ChatChannel) ([]models.AnalysisLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AnalysisLogEntry
	for _, e := range s.logs {
		if channel == "" || e.Channel == channel {
			out = append(out, e)
		}
	}
	return out, nil
}

// ResetAll clears all data in one locked section.
func (s *InMemoryStore) ResetAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = make(map[models.ChatChannel][]models.ConversationTurn)
	s.tasks = make(map[string]models.Task)
	s.zone = nil
	s.logs = nil
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
