package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pavelanni/viva/internal/model"

	_ "modernc.org/sqlite"
)

// SQLite is a Store on top of modernc.org/sqlite. By default it runs on a
// private in-memory database, so sessions still end with the process.
// Questions are kept as JSON exactly as they were generated.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens dsn (":memory:" when empty) and creates the schema.
func NewSQLite(dsn string) (*SQLite, error) {
	inMemory := dsn == "" || dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
	if dsn == "" {
		dsn = ":memory:"
	}
	if !inMemory && !strings.Contains(dsn, "?") {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if inMemory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		topic TEXT NOT NULL,
		key_points TEXT NOT NULL DEFAULT '[]',
		questions TEXT NOT NULL,
		current_index INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS answers (
		session_id TEXT NOT NULL,
		question_index INTEGER NOT NULL,
		answer_text TEXT NOT NULL,
		score INTEGER NOT NULL,
		feedback TEXT NOT NULL DEFAULT '',
		missing_keywords TEXT NOT NULL DEFAULT '[]',
		answered_at DATETIME NOT NULL,
		PRIMARY KEY (session_id, question_index),
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create inserts a new session together with any answers it already has.
func (s *SQLite) Create(ctx context.Context, sess *model.Session) error {
	keyPoints, err := json.Marshal(sess.KeyPoints)
	if err != nil {
		return fmt.Errorf("marshal key points: %w", err)
	}
	questions, err := json.Marshal(sess.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sess.ID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return ErrExists
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, subject, topic, key_points, questions, current_index, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Subject, sess.Topic, string(keyPoints), string(questions), sess.CurrentIndex, sess.CreatedAt,
	)
	if err != nil {
		return err
	}
	for _, a := range sess.Answers {
		if err := insertAnswer(ctx, tx, sess.ID, a); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Get loads a session and its answers.
func (s *SQLite) Get(ctx context.Context, id string) (*model.Session, error) {
	return load(ctx, s.db, id)
}

// Update loads the session, applies fn and writes back the cursor and any
// answers fn appended, all in one transaction. Other fields are immutable
// after creation and are not written.
func (s *SQLite) Update(ctx context.Context, id string, fn func(*model.Session) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	sess, err := load(ctx, tx, id)
	if err != nil {
		return err
	}
	before := len(sess.Answers)

	if err := fn(sess); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `UPDATE sessions SET current_index = ? WHERE id = ?`, sess.CurrentIndex, id)
	if err != nil {
		return err
	}
	if len(sess.Answers) > before {
		for _, a := range sess.Answers[before:] {
			if err := insertAnswer(ctx, tx, id, a); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// Count returns the number of stored sessions.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func load(ctx context.Context, q querier, id string) (*model.Session, error) {
	var (
		sess      model.Session
		keyPoints string
		questions string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, subject, topic, key_points, questions, current_index, created_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Subject, &sess.Topic, &keyPoints, &questions, &sess.CurrentIndex, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(keyPoints), &sess.KeyPoints); err != nil {
		return nil, fmt.Errorf("decode key points: %w", err)
	}
	if err := json.Unmarshal([]byte(questions), &sess.Questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT question_index, answer_text, score, feedback, missing_keywords, answered_at
		 FROM answers WHERE session_id = ? ORDER BY question_index`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sess.Answers = []model.AnswerRecord{}
	for rows.Next() {
		var (
			a       model.AnswerRecord
			missing string
		)
		if err := rows.Scan(&a.QuestionIndex, &a.AnswerText, &a.Grading.Score, &a.Grading.Feedback, &missing, &a.AnsweredAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(missing), &a.Grading.MissingKeywords); err != nil {
			return nil, fmt.Errorf("decode missing keywords: %w", err)
		}
		sess.Answers = append(sess.Answers, a)
	}
	return &sess, rows.Err()
}

func insertAnswer(ctx context.Context, tx *sql.Tx, sessionID string, a model.AnswerRecord) error {
	missing := a.Grading.MissingKeywords
	if missing == nil {
		missing = []string{}
	}
	data, err := json.Marshal(missing)
	if err != nil {
		return fmt.Errorf("marshal missing keywords: %w", err)
	}
	answeredAt := a.AnsweredAt
	if answeredAt.IsZero() {
		answeredAt = time.Now()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO answers (session_id, question_index, answer_text, score, feedback, missing_keywords, answered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, a.QuestionIndex, a.AnswerText, a.Grading.Score, a.Grading.Feedback, string(data), answeredAt,
	)
	return err
}
