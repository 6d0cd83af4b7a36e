package store

import (
	"sync"

	"github.com/hwojcik/camstream/internal/models"
)

// Store is the per-device signaling mailbox: at most one pending answer and
// a queue of ICE candidates not yet delivered to the client.
//
// Contract: SetAnswer replaces any previous answer. Drain returns the
// current answer (without clearing it, so repeated polls re-deliver it) and
// atomically empties the candidate queue, so no candidate is ever delivered
// twice or lost between concurrent polls.
type Store interface {
	SetAnswer(deviceID string, answer models.SessionDescription) error
	AppendCandidate(deviceID string, c models.ICECandidate) error
	Drain(deviceID string) (*models.SessionDescription, []models.ICECandidate, error)
	Clear(deviceID string) error
}

type mailbox struct {
	answer     *models.SessionDescription
	candidates []models.ICECandidate
}

// MemoryStore keeps mailboxes in process memory. This is the default
// backend; a single server instance needs nothing more.
type MemoryStore struct {
	mu        sync.Mutex
	mailboxes map[string]*mailbox
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{mailboxes: make(map[string]*mailbox)}
}

func (s *MemoryStore) box(deviceID string) *mailbox {
	b, ok := s.mailboxes[deviceID]
	if !ok {
		b = &mailbox{}
		s.mailboxes[deviceID] = b
	}
	return b
}

func (s *MemoryStore) SetAnswer(deviceID string, answer models.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.box(deviceID).answer = &answer
	return nil
}

func (s *MemoryStore) AppendCandidate(deviceID string, c models.ICECandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.box(deviceID)
	b.candidates = append(b.candidates, c)
	return nil
}

func (s *MemoryStore) Drain(deviceID string) (*models.SessionDescription, []models.ICECandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.mailboxes[deviceID]
	if !ok {
		return nil, nil, nil
	}
	candidates := b.candidates
	b.candidates = nil
	return b.answer, candidates, nil
}

func (s *MemoryStore) Clear(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mailboxes, deviceID)
	return nil
}
