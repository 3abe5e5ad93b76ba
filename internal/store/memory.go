// Package store provides storage backends for EnrollPipe.
//
// This file implements an in-memory store used by tests and local development.
package store

import (
	"sync"
	"time"

	"github.com/BTreeMap/EnrollPipe/internal/models"
	"github.com/BTreeMap/EnrollPipe/internal/util"
)

// InMemoryStore is a mutex-guarded map-backed store.
type InMemoryStore struct {
	mu            sync.Mutex
	programs      map[int64]models.Program
	registrations map[string]models.Registration // keyed by wa_id
	sessions      map[string]models.UserSession
	conversations map[string][]models.ConversationMessage
	nextProgramID int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		programs:      make(map[int64]models.Program),
		registrations: make(map[string]models.Registration),
		sessions:      make(map[string]models.UserSession),
		conversations: make(map[string][]models.ConversationMessage),
		nextProgramID: 1,
	}
}

func (s *InMemoryStore) ListPrograms() ([]models.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	programs := make([]models.Program, 0, len(s.programs))
	for id := int64(1); id < s.nextProgramID; id++ {
		if p, ok := s.programs[id]; ok {
			programs = append(programs, p)
		}
	}
	return programs, nil
}

func (s *InMemoryStore) GetProgram(id int64) (*models.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.programs[id]
	if !ok {
		return nil, ErrProgramNotFound
	}
	return &p, nil
}

func (s *InMemoryStore) SaveProgram(p *models.Program) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.nextProgramID
		s.nextProgramID++
	} else if p.ID >= s.nextProgramID {
		s.nextProgramID = p.ID + 1
	}
	s.programs[p.ID] = *p
	return nil
}

func (s *InMemoryStore) CreateRegistration(reg *models.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.registrations[reg.WaID]; exists {
		return ErrAlreadyRegistered
	}
	p, ok := s.programs[reg.ProgramID]
	if !ok {
		return ErrProgramNotFound
	}
	if p.AvailableSpots <= 0 {
		return ErrNoSpotsAvailable
	}
	p.AvailableSpots--
	s.programs[reg.ProgramID] = p
	if reg.ID == "" {
		reg.ID = util.GenerateRegistrationID()
	}
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now().UTC()
	}
	s.registrations[reg.WaID] = *reg
	return nil
}

func (s *InMemoryStore) GetRegistrationByWaID(waID string) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.registrations[waID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *InMemoryStore) ListRegistrations() ([]models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	regs := make([]models.Registration, 0, len(s.registrations))
	for _, r := range s.registrations {
		regs = append(regs, r)
	}
	return regs, nil
}

func (s *InMemoryStore) GetSession(waID string) (*models.UserSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[waID]
	if !ok {
		return nil, nil
	}
	// Copy the map so callers cannot mutate stored state.
	info := make(map[string]string, len(sess.PersonalInfo))
	for k, v := range sess.PersonalInfo {
		info[k] = v
	}
	sess.PersonalInfo = info
	return &sess, nil
}

func (s *InMemoryStore) SaveSession(sess models.UserSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := make(map[string]string, len(sess.PersonalInfo))
	for k, v := range sess.PersonalInfo {
		info[k] = v
	}
	sess.PersonalInfo = info
	s.sessions[sess.WaID] = sess
	return nil
}

func (s *InMemoryStore) GetConversation(waID string) ([]models.ConversationMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.conversations[waID]
	out := make([]models.ConversationMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) AppendConversation(waID string, msgs ...models.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := append(s.conversations[waID], msgs...)
	if len(all) > MaxConversationMessages {
		all = all[len(all)-MaxConversationMessages:]
	}
	s.conversations[waID] = all
	return nil
}

func (s *InMemoryStore) ClearConversation(waID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, waID)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
