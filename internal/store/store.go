// Package store provides storage backends for FlowReply.
//
// It includes an in-memory store for tests and development, and persistent
// SQLite and PostgreSQL backends. Flow list columns and session records are
// stored as opaque serialized blobs per the persistence collaborator
// contract.
package store

import (
	"sync"

	"github.com/flowreply/flowreply/internal/models"
)

// Store is the persistence interface the dispatcher depends on. Lookups for
// absent rows return (nil, nil); errors are reserved for backend failures.
type Store interface {
	// GetFlow retrieves a flow definition record, or nil when absent.
	GetFlow(accountID, flowID string) (*models.Flow, error)
	// SaveFlow inserts or replaces a flow definition record.
	SaveFlow(f models.Flow) error
	// SavePreventList persists the serialized suppression list of a flow.
	SavePreventList(accountID, flowID, encoded string) error
	// SaveAIList persists the serialized AI assignment list of a flow.
	SaveAIList(accountID, flowID, encoded string) error

	// GetSession retrieves the session record for a conversation key, or nil.
	GetSession(key string) (*models.Session, error)
	// SaveSession inserts or replaces a session record.
	SaveSession(s models.Session) error

	// GetAgentAssignment retrieves one hand-off row, or nil when absent.
	GetAgentAssignment(ownerID, agentID, chatID string) (*models.AgentAssignment, error)
	// AddAgentAssignment inserts a hand-off row.
	AddAgentAssignment(a models.AgentAssignment) error

	// AddHistory appends an outbound message bookkeeping record.
	AddHistory(h models.HistoryRecord) error
	// GetHistory returns the recorded messages of a conversation.
	GetHistory(accountID, chatID string) ([]models.HistoryRecord, error)

	// Close releases backend resources.
	Close() error
}

// InMemoryStore is a mutex-guarded in-memory Store used by tests and
// development runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	flows    map[string]models.Flow
	sessions map[string]models.Session
	agents   map[string]models.AgentAssignment
	history  []models.HistoryRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		flows:    make(map[string]models.Flow),
		sessions: make(map[string]models.Session),
		agents:   make(map[string]models.AgentAssignment),
	}
}

func flowKey(accountID, flowID string) string {
	return accountID + "/" + flowID
}

func agentKey(ownerID, agentID, chatID string) string {
	return ownerID + "/" + agentID + "/" + chatID
}

func (s *InMemoryStore) GetFlow(accountID, flowID string) (*models.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[flowKey(accountID, flowID)]
	if !ok {
		return nil, nil
	}
	copied := f
	return &copied, nil
}

func (s *InMemoryStore) SaveFlow(f models.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[flowKey(f.AccountID, f.FlowID)] = f
	return nil
}

func (s *InMemoryStore) SavePreventList(accountID, flowID, encoded string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[flowKey(accountID, flowID)]
	if !ok {
		f = models.Flow{AccountID: accountID, FlowID: flowID}
	}
	f.PreventList = encoded
	s.flows[flowKey(accountID, flowID)] = f
	return nil
}

func (s *InMemoryStore) SaveAIList(accountID, flowID, encoded string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[flowKey(accountID, flowID)]
	if !ok {
		f = models.Flow{AccountID: accountID, FlowID: flowID}
	}
	f.AIList = encoded
	s.flows[flowKey(accountID, flowID)] = f
	return nil
}

func (s *InMemoryStore) GetSession(key string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil, nil
	}
	copied := sess
	return &copied, nil
}

func (s *InMemoryStore) SaveSession(sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Key] = sess
	return nil
}

func (s *InMemoryStore) GetAgentAssignment(ownerID, agentID, chatID string) (*models.AgentAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[agentKey(ownerID, agentID, chatID)]
	if !ok {
		return nil, nil
	}
	copied := a
	return &copied, nil
}

func (s *InMemoryStore) AddAgentAssignment(a models.AgentAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agentKey(a.OwnerID, a.AgentID, a.ChatID)] = a
	return nil
}

func (s *InMemoryStore) AddHistory(h models.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, h)
	return nil
}

func (s *InMemoryStore) GetHistory(accountID, chatID string) ([]models.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.HistoryRecord
	for _, h := range s.history {
		if h.AccountID == accountID && h.ChatID == chatID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
