package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// ErrContention is returned when an optimistic transaction kept conflicting.
var ErrContention = errors.New("redis: too much contention on session keys")

const defaultMaxRetries = 32

// SessionStore keeps sessions in Redis. Every write runs under WATCH/MULTI on
// the keys it read, so a concurrent change aborts and retries the unit, and
// resets the expiry of the whole session family so its keys expire together.
//
// Keys:
//
//	quiz:session:{id}                              session JSON
//	quiz:session:code:{code}                       session id
//	quiz:session:{id}:members                      set of user ids
//	quiz:session:{id}:participant:{userID}         participant JSON
//	quiz:session:{id}:answers:{userID}             hash question id -> answer JSON
type SessionStore struct {
	client     *redis.Client
	ttl        time.Duration
	maxRetries int
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl, maxRetries: defaultMaxRetries}
}

func (s *SessionStore) CreateSession(ctx context.Context, session domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	reserved, err := s.client.SetNX(ctx, s.codeKey(session.AccessCode), session.ID, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("reserve access code: %w", err)
	}
	if !reserved {
		return domain.ErrAccessCodeTaken
	}
	if err := s.client.Set(ctx, s.sessionKey(session.ID), data, s.ttl).Err(); err != nil {
		_ = s.client.Del(ctx, s.codeKey(session.AccessCode)).Err()
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return readSession(ctx, s.client, s.sessionKey(sessionID))
}

func (s *SessionStore) FindSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	id, err := s.client.Get(ctx, s.codeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrCodeNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("lookup access code: %w", err)
	}
	return s.GetSession(ctx, id)
}

func (s *SessionStore) UpdateSession(ctx context.Context, sessionID string, mutate func(*domain.Session) error) (domain.Session, error) {
	key := s.sessionKey(sessionID)
	var updated domain.Session
	err := s.watch(ctx, func(tx *redis.Tx) error {
		session, err := readSession(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := mutate(&session); err != nil {
			return err
		}
		data, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		members, err := s.members(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			s.touch(ctx, pipe, session, members)
			return nil
		})
		updated = session
		return err
	}, key)
	if err != nil {
		return domain.Session{}, err
	}
	return updated, nil
}

func (s *SessionStore) AddParticipant(ctx context.Context, p domain.Participant, admit func(domain.Session) error) (domain.Participant, error) {
	sessionKey := s.sessionKey(p.SessionID)
	participantKey := s.participantKey(p.SessionID, p.UserID)
	membersKey := s.membersKey(p.SessionID)

	data, err := json.Marshal(p)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("marshal participant: %w", err)
	}
	err = s.watch(ctx, func(tx *redis.Tx) error {
		session, err := readSession(ctx, tx, sessionKey)
		if err != nil {
			return err
		}
		if err := admit(session); err != nil {
			return err
		}
		exists, err := tx.Exists(ctx, participantKey).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return domain.ErrAlreadyJoined
		}
		members, err := s.members(ctx, tx, p.SessionID)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, participantKey, data, s.ttl)
			pipe.SAdd(ctx, membersKey, p.UserID)
			s.touch(ctx, pipe, session, append(members, p.UserID))
			return nil
		})
		return err
	}, sessionKey, participantKey)
	if err != nil {
		return domain.Participant{}, err
	}
	return p, nil
}

func (s *SessionStore) GetParticipant(ctx context.Context, sessionID, userID string) (domain.Participant, error) {
	return readParticipant(ctx, s.client, s.participantKey(sessionID, userID))
}

func (s *SessionStore) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	userIDs, err := s.client.SMembers(ctx, s.membersKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	if len(userIDs) == 0 {
		return []domain.Participant{}, nil
	}
	keys := make([]string, len(userIDs))
	for i, userID := range userIDs {
		keys[i] = s.participantKey(sessionID, userID)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}

	participants := make([]domain.Participant, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // expired between SMEMBERS and MGET
		}
		var p domain.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("unmarshal participant: %w", err)
		}
		participants = append(participants, p)
	}
	sort.Slice(participants, func(i, j int) bool {
		if !participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].JoinedAt.Before(participants[j].JoinedAt)
		}
		return participants[i].ID < participants[j].ID
	})
	return participants, nil
}

func (s *SessionStore) RecordAnswer(ctx context.Context, p domain.Participant, prepare app.AnswerPreparer) (domain.Answer, domain.Participant, error) {
	sessionKey := s.sessionKey(p.SessionID)
	participantKey := s.participantKey(p.SessionID, p.UserID)
	answersKey := s.answersKey(p.SessionID, p.UserID)

	var (
		recorded domain.Answer
		updated  domain.Participant
	)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		session, err := readSession(ctx, tx, sessionKey)
		if err != nil {
			return err
		}
		current, err := readParticipant(ctx, tx, participantKey)
		if err != nil {
			return err
		}
		if current.ID != p.ID {
			return domain.ErrParticipantNotFound
		}

		answered := func(questionID string) (bool, error) {
			return tx.HExists(ctx, answersKey, questionID).Result()
		}
		answer, err := prepare(session, answered)
		if err != nil {
			return err
		}
		done, err := answered(answer.QuestionID)
		if err != nil {
			return err
		}
		if done {
			return domain.ErrDuplicateAnswer
		}

		current.Score += answer.Points
		answerData, err := json.Marshal(answer)
		if err != nil {
			return fmt.Errorf("marshal answer: %w", err)
		}
		participantData, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("marshal participant: %w", err)
		}
		members, err := s.members(ctx, tx, p.SessionID)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, answersKey, answer.QuestionID, answerData)
			pipe.Set(ctx, participantKey, participantData, s.ttl)
			s.touch(ctx, pipe, session, append(members, p.UserID))
			return nil
		})
		recorded, updated = answer, current
		return err
	}, sessionKey, participantKey, answersKey)
	if err != nil {
		return domain.Answer{}, domain.Participant{}, err
	}
	return recorded, updated, nil
}

func (s *SessionStore) ListAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error) {
	participants, err := s.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(participants))
	for i, p := range participants {
		cmds[i] = pipe.HGetAll(ctx, s.answersKey(p.SessionID, p.UserID))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load answers: %w", err)
	}

	var answers []domain.Answer
	for _, cmd := range cmds {
		for _, raw := range cmd.Val() {
			var a domain.Answer
			if err := json.Unmarshal([]byte(raw), &a); err != nil {
				return nil, fmt.Errorf("unmarshal answer: %w", err)
			}
			answers = append(answers, a)
		}
	}
	sort.Slice(answers, func(i, j int) bool {
		if !answers[i].AnsweredAt.Equal(answers[j].AnsweredAt) {
			return answers[i].AnsweredAt.Before(answers[j].AnsweredAt)
		}
		return answers[i].ID < answers[j].ID
	})
	return answers, nil
}

// watch runs fn under WATCH keys and retries when another client touched them.
func (s *SessionStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < s.maxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return ErrContention
}

func (s *SessionStore) members(ctx context.Context, tx *redis.Tx, sessionID string) ([]string, error) {
	userIDs, err := tx.SMembers(ctx, s.membersKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return userIDs, nil
}

// touch queues an expiry reset for every key of the session: the session
// itself, its access code, the members set and each member's participant and
// answers keys.
func (s *SessionStore) touch(ctx context.Context, pipe redis.Pipeliner, session domain.Session, userIDs []string) {
	if s.ttl <= 0 {
		return
	}
	pipe.Expire(ctx, s.sessionKey(session.ID), s.ttl)
	pipe.Expire(ctx, s.codeKey(session.AccessCode), s.ttl)
	pipe.Expire(ctx, s.membersKey(session.ID), s.ttl)
	for _, userID := range userIDs {
		pipe.Expire(ctx, s.participantKey(session.ID, userID), s.ttl)
		pipe.Expire(ctx, s.answersKey(session.ID, userID), s.ttl)
	}
}

func (s *SessionStore) sessionKey(sessionID string) string {
	return "quiz:session:" + sessionID
}

func (s *SessionStore) codeKey(code string) string {
	return "quiz:session:code:" + code
}

func (s *SessionStore) membersKey(sessionID string) string {
	return "quiz:session:" + sessionID + ":members"
}

func (s *SessionStore) participantKey(sessionID, userID string) string {
	return "quiz:session:" + sessionID + ":participant:" + userID
}

func (s *SessionStore) answersKey(sessionID, userID string) string {
	return "quiz:session:" + sessionID + ":answers:" + userID
}

// getter is satisfied by both *redis.Client and a watched *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readSession(ctx context.Context, c getter, key string) (domain.Session, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return session, nil
}

func readParticipant(ctx context.Context, c getter, key string) (domain.Participant, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("load participant: %w", err)
	}
	var p domain.Participant
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Participant{}, fmt.Errorf("unmarshal participant: %w", err)
	}
	return p, nil
}
