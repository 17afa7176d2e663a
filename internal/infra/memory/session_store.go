package memory

import (
	"context"
	"sort"
	"sync"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore.
// Lock order is store -> session -> participant. Session transitions take the
// session lock exclusively; answers hold it shared and serialize per participant.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	codes    map[string]string
}

type sessionEntry struct {
	mu           sync.RWMutex
	session      domain.Session
	participants map[string]*participantEntry // by user id
}

type participantEntry struct {
	mu          sync.Mutex
	participant domain.Participant
	answers     map[string]domain.Answer // by question id
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*sessionEntry),
		codes:    make(map[string]string),
	}
}

func (s *SessionStore) CreateSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[session.AccessCode]; ok {
		return domain.ErrAccessCodeTaken
	}
	s.codes[session.AccessCode] = session.ID
	s.sessions[session.ID] = &sessionEntry{
		session:      cloneSession(session),
		participants: make(map[string]*participantEntry),
	}
	return nil
}

func (s *SessionStore) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	entry, ok := s.entry(sessionID)
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return cloneSession(entry.session), nil
}

func (s *SessionStore) FindSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	s.mu.RLock()
	id, ok := s.codes[code]
	s.mu.RUnlock()
	if !ok {
		return domain.Session{}, domain.ErrCodeNotFound
	}
	return s.GetSession(ctx, id)
}

func (s *SessionStore) UpdateSession(_ context.Context, sessionID string, mutate func(*domain.Session) error) (domain.Session, error) {
	entry, ok := s.entry(sessionID)
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	working := cloneSession(entry.session)
	if err := mutate(&working); err != nil {
		return domain.Session{}, err
	}
	entry.session = working
	return cloneSession(working), nil
}

func (s *SessionStore) AddParticipant(_ context.Context, p domain.Participant, admit func(domain.Session) error) (domain.Participant, error) {
	entry, ok := s.entry(p.SessionID)
	if !ok {
		return domain.Participant{}, domain.ErrSessionNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := admit(cloneSession(entry.session)); err != nil {
		return domain.Participant{}, err
	}
	if _, exists := entry.participants[p.UserID]; exists {
		return domain.Participant{}, domain.ErrAlreadyJoined
	}
	entry.participants[p.UserID] = &participantEntry{
		participant: p,
		answers:     make(map[string]domain.Answer),
	}
	return p, nil
}

func (s *SessionStore) GetParticipant(_ context.Context, sessionID, userID string) (domain.Participant, error) {
	entry, ok := s.entry(sessionID)
	if !ok {
		return domain.Participant{}, domain.ErrSessionNotFound
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	pe, ok := entry.participants[userID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	pe.mu.Lock()
	defer pe.mu.Unlock()
	return pe.participant, nil
}

func (s *SessionStore) ListParticipants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	entry, ok := s.entry(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()

	participants := make([]domain.Participant, 0, len(entry.participants))
	for _, pe := range entry.participants {
		pe.mu.Lock()
		participants = append(participants, pe.participant)
		pe.mu.Unlock()
	}
	sort.Slice(participants, func(i, j int) bool {
		if !participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].JoinedAt.Before(participants[j].JoinedAt)
		}
		return participants[i].ID < participants[j].ID
	})
	return participants, nil
}

func (s *SessionStore) RecordAnswer(_ context.Context, p domain.Participant, prepare app.AnswerPreparer) (domain.Answer, domain.Participant, error) {
	entry, ok := s.entry(p.SessionID)
	if !ok {
		return domain.Answer{}, domain.Participant{}, domain.ErrSessionNotFound
	}
	// Shared: other participants may answer concurrently, transitions wait.
	entry.mu.RLock()
	defer entry.mu.RUnlock()

	pe, ok := entry.participants[p.UserID]
	if !ok || pe.participant.ID != p.ID {
		return domain.Answer{}, domain.Participant{}, domain.ErrParticipantNotFound
	}
	pe.mu.Lock()
	defer pe.mu.Unlock()

	answer, err := prepare(cloneSession(entry.session), func(questionID string) (bool, error) {
		_, done := pe.answers[questionID]
		return done, nil
	})
	if err != nil {
		return domain.Answer{}, domain.Participant{}, err
	}
	if _, done := pe.answers[answer.QuestionID]; done {
		return domain.Answer{}, domain.Participant{}, domain.ErrDuplicateAnswer
	}
	pe.answers[answer.QuestionID] = answer
	pe.participant.Score += answer.Points
	return answer, pe.participant, nil
}

func (s *SessionStore) ListAnswers(_ context.Context, sessionID string) ([]domain.Answer, error) {
	entry, ok := s.entry(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()

	var answers []domain.Answer
	for _, pe := range entry.participants {
		pe.mu.Lock()
		for _, a := range pe.answers {
			answers = append(answers, a)
		}
		pe.mu.Unlock()
	}
	sort.Slice(answers, func(i, j int) bool {
		if !answers[i].AnsweredAt.Equal(answers[j].AnsweredAt) {
			return answers[i].AnsweredAt.Before(answers[j].AnsweredAt)
		}
		return answers[i].ID < answers[j].ID
	})
	return answers, nil
}

func (s *SessionStore) entry(sessionID string) (*sessionEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[sessionID]
	return entry, ok
}

func cloneSession(session domain.Session) domain.Session {
	if session.QuestionIDs != nil {
		session.QuestionIDs = append([]string(nil), session.QuestionIDs...)
	}
	return session
}
