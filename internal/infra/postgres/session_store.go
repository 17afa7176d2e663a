package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

const uniqueViolation = "23505"

const sessionColumns = `id, quiz_id, host_id, access_code, status, current_question_index,
	question_ids, created_at, started_at, ended_at`

const participantColumns = `id, session_id, user_id, username, full_name, joined_at, score`

const answerColumns = `id, session_id, participant_id, question_id, COALESCE(selected_option_id, ''),
	text_answer, is_correct, points, response_time_ms, answered_at`

// SessionStore persists sessions in Postgres. Uniqueness of access codes,
// (session, user) and (participant, question) is enforced by constraints;
// transitions lock the session row FOR UPDATE while joins and answers take
// FOR SHARE, so answers for different participants proceed concurrently but
// never overlap a transition.
type SessionStore struct {
	pool *pgxpool.Pool
}

func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

func (s *SessionStore) CreateSession(ctx context.Context, session domain.Session) error {
	questionIDs, err := marshalQuestionIDs(session.QuestionIDs)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO quiz_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		session.ID, session.QuizID, session.HostID, session.AccessCode, string(session.Status),
		session.CurrentQuestionIndex, questionIDs, session.CreatedAt, session.StartedAt, session.EndedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "quiz_sessions_access_code_key" {
		return domain.ErrAccessCodeTaken
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return scanSession(s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM quiz_sessions WHERE id=$1`, sessionID))
}

func (s *SessionStore) FindSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	session, err := scanSession(s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM quiz_sessions WHERE access_code=$1`, code))
	if errors.Is(err, domain.ErrSessionNotFound) {
		return domain.Session{}, domain.ErrCodeNotFound
	}
	return session, err
}

func (s *SessionStore) UpdateSession(ctx context.Context, sessionID string, mutate func(*domain.Session) error) (domain.Session, error) {
	var updated domain.Session
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		session, err := scanSession(tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM quiz_sessions WHERE id=$1 FOR UPDATE`, sessionID))
		if err != nil {
			return err
		}
		if err := mutate(&session); err != nil {
			return err
		}
		questionIDs, err := marshalQuestionIDs(session.QuestionIDs)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE quiz_sessions
			SET status=$2, current_question_index=$3, question_ids=$4, started_at=$5, ended_at=$6
			WHERE id=$1`,
			session.ID, string(session.Status), session.CurrentQuestionIndex, questionIDs, session.StartedAt, session.EndedAt)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		updated = session
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	return updated, nil
}

func (s *SessionStore) AddParticipant(ctx context.Context, p domain.Participant, admit func(domain.Session) error) (domain.Participant, error) {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		session, err := scanSession(tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM quiz_sessions WHERE id=$1 FOR SHARE`, p.SessionID))
		if err != nil {
			return err
		}
		if err := admit(session); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO participants (`+participantColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (session_id, user_id) DO NOTHING`,
			p.ID, p.SessionID, p.UserID, p.Username, p.FullName, p.JoinedAt, p.Score)
		if err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrAlreadyJoined
		}
		return nil
	})
	if err != nil {
		return domain.Participant{}, err
	}
	return p, nil
}

func (s *SessionStore) GetParticipant(ctx context.Context, sessionID, userID string) (domain.Participant, error) {
	return scanParticipant(s.pool.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE session_id=$1 AND user_id=$2`, sessionID, userID))
}

func (s *SessionStore) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE session_id=$1 ORDER BY joined_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	participants := []domain.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (s *SessionStore) RecordAnswer(ctx context.Context, p domain.Participant, prepare app.AnswerPreparer) (domain.Answer, domain.Participant, error) {
	var (
		recorded domain.Answer
		updated  domain.Participant
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		session, err := scanSession(tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM quiz_sessions WHERE id=$1 FOR SHARE`, p.SessionID))
		if err != nil {
			return err
		}

		answered := func(questionID string) (bool, error) {
			var exists bool
			err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM answers WHERE participant_id=$1 AND question_id=$2)`,
				p.ID, questionID).Scan(&exists)
			return exists, err
		}
		answer, err := prepare(session, answered)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO answers (id, session_id, participant_id, question_id, selected_option_id,
				text_answer, is_correct, points, response_time_ms, answered_at)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10)
			ON CONFLICT (participant_id, question_id) DO NOTHING`,
			answer.ID, answer.SessionID, answer.ParticipantID, answer.QuestionID, answer.SelectedOptionID,
			answer.TextAnswer, answer.Correct, answer.Points, answer.ResponseTimeMs, answer.AnsweredAt)
		if err != nil {
			return fmt.Errorf("insert answer: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrDuplicateAnswer
		}

		updated, err = scanParticipant(tx.QueryRow(ctx, `
			UPDATE participants SET score = score + $2
			WHERE id=$1
			RETURNING `+participantColumns,
			p.ID, answer.Points))
		if err != nil {
			return err
		}
		recorded = answer
		return nil
	})
	if err != nil {
		return domain.Answer{}, domain.Participant{}, err
	}
	return recorded, updated, nil
}

func (s *SessionStore) ListAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+answerColumns+` FROM answers WHERE session_id=$1 ORDER BY answered_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	var answers []domain.Answer
	for rows.Next() {
		var a domain.Answer
		if err := rows.Scan(&a.ID, &a.SessionID, &a.ParticipantID, &a.QuestionID, &a.SelectedOptionID,
			&a.TextAnswer, &a.Correct, &a.Points, &a.ResponseTimeMs, &a.AnsweredAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (s *SessionStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (domain.Session, error) {
	var (
		session     domain.Session
		status      string
		questionIDs []byte
	)
	err := row.Scan(&session.ID, &session.QuizID, &session.HostID, &session.AccessCode, &status,
		&session.CurrentQuestionIndex, &questionIDs, &session.CreatedAt, &session.StartedAt, &session.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("scan session: %w", err)
	}
	session.Status = domain.SessionStatus(status)
	if len(questionIDs) > 0 {
		if err := json.Unmarshal(questionIDs, &session.QuestionIDs); err != nil {
			return domain.Session{}, fmt.Errorf("decode question ids: %w", err)
		}
	}
	if len(session.QuestionIDs) == 0 {
		session.QuestionIDs = nil
	}
	return session, nil
}

func scanParticipant(row pgx.Row) (domain.Participant, error) {
	var p domain.Participant
	err := row.Scan(&p.ID, &p.SessionID, &p.UserID, &p.Username, &p.FullName, &p.JoinedAt, &p.Score)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("scan participant: %w", err)
	}
	return p, nil
}

func marshalQuestionIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode question ids: %w", err)
	}
	return string(data), nil
}
