// Package session runs the viva state machine: it creates sessions from
// generated questions, hands out questions in order, grades answers and
// reports statistics.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/viva/internal/grade"
	appI18n "github.com/pavelanni/viva/internal/i18n"
	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/store"
)

const idAttempts = 5

// QuestionGenerator produces exactly count questions for a brief.
type QuestionGenerator interface {
	Generate(ctx context.Context, subject, topic string, keyPoints []string, count int) ([]model.Question, error)
}

// AnswerGrader grades one answer against its question.
type AnswerGrader interface {
	Grade(ctx context.Context, question model.Question, answer string) (model.Grading, error)
}

// Manager owns the session lifecycle. It never holds a store lock while the
// upstream model is working.
type Manager struct {
	store     store.Store
	generator QuestionGenerator
	grader    AnswerGrader
	now       func() time.Time
	newID     func() string
}

// NewManager creates a Manager.
func NewManager(s store.Store, g QuestionGenerator, gr AnswerGrader) *Manager {
	return &Manager{
		store:     s,
		generator: g,
		grader:    gr,
		now:       time.Now,
		newID:     newSessionID,
	}
}

func newSessionID() string {
	return "session_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// CreateSession generates the questions for a brief and stores a new session.
// Nothing is stored unless generation succeeds.
func (m *Manager) CreateSession(ctx context.Context, subject, topic string, keyPoints []string, count int) (string, error) {
	subject = strings.TrimSpace(subject)
	topic = strings.TrimSpace(topic)
	points := cleanKeyPoints(keyPoints)

	switch {
	case subject == "":
		return "", fmt.Errorf("%w: subject is required", model.ErrValidation)
	case topic == "":
		return "", fmt.Errorf("%w: topic is required", model.ErrValidation)
	case len(points) == 0:
		return "", fmt.Errorf("%w: at least one key point is required", model.ErrValidation)
	case count < model.MinQuestions || count > model.MaxQuestions:
		return "", fmt.Errorf("%w: question count must be between %d and %d, got %d",
			model.ErrValidation, model.MinQuestions, model.MaxQuestions, count)
	}

	questions, err := m.generator.Generate(ctx, subject, topic, points, count)
	if err != nil {
		slog.Error("question generation failed", "subject", subject, "topic", topic, "error", err)
		return "", fmt.Errorf("generate questions: %w", err)
	}
	if len(questions) != count {
		return "", fmt.Errorf("%w: got %d questions, want %d", model.ErrGenerationFailure, len(questions), count)
	}

	sess := &model.Session{
		Subject:   subject,
		Topic:     topic,
		KeyPoints: points,
		Questions: questions,
		Answers:   []model.AnswerRecord{},
		CreatedAt: m.now(),
	}
	for attempt := 0; ; attempt++ {
		sess.ID = m.newID()
		err = m.store.Create(ctx, sess)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrExists) || attempt+1 >= idAttempts {
			return "", fmt.Errorf("store session: %w", err)
		}
	}

	slog.Info("session created", "session_id", sess.ID, "subject", subject, "topic", topic, "questions", count)
	return sess.ID, nil
}

// NextQuestion returns the question at the cursor without moving it, or a
// completed marker once every question has been answered.
func (m *Manager) NextQuestion(ctx context.Context, id string) (model.NextQuestion, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return model.NextQuestion{}, err
	}

	total := len(s.Questions)
	if s.CurrentIndex >= total {
		return model.NextQuestion{
			Completed:      true,
			Message:        appI18n.T(ctx, "SessionCompleted"),
			Index:          total,
			TotalQuestions: total,
		}, nil
	}

	q := s.Questions[s.CurrentIndex]
	return model.NextQuestion{
		Index:          s.CurrentIndex,
		TotalQuestions: total,
		Question:       q.Text,
		ExpectedPoints: q.ExpectedPoints,
		Keywords:       q.Keywords,
	}, nil
}

// SubmitAnswer grades the answer to the current question and advances the
// cursor. index must equal the cursor; anything else fails with
// model.ErrInvalidIndex and leaves the session unchanged. When two submissions
// for the same index race, exactly one is recorded.
func (m *Manager) SubmitAnswer(ctx context.Context, id string, index int, answer string) (model.Grading, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return model.Grading{}, fmt.Errorf("%w: answer text is required", model.ErrValidation)
	}

	s, err := m.store.Get(ctx, id)
	if err != nil {
		return model.Grading{}, err
	}
	if err := checkIndex(s, index); err != nil {
		return model.Grading{}, err
	}
	question := s.Questions[index]

	g, err := m.grader.Grade(ctx, question, answer)
	if err != nil {
		slog.Error("grading failed", "session_id", id, "index", index, "error", err)
		return model.Grading{}, fmt.Errorf("grade answer: %w", err)
	}
	g.Score = min(max(g.Score, 0), 100)
	g.MissingKeywords = grade.Restrict(g.MissingKeywords, question.Keywords)

	record := model.AnswerRecord{
		QuestionIndex: index,
		AnswerText:    answer,
		Grading:       g,
		AnsweredAt:    m.now(),
	}
	err = m.store.Update(ctx, id, func(s *model.Session) error {
		if err := checkIndex(s, index); err != nil {
			return err
		}
		s.Answers = append(s.Answers, record)
		s.CurrentIndex++
		return nil
	})
	if err != nil {
		return model.Grading{}, err
	}

	slog.Info("answer graded", "session_id", id, "index", index, "score", g.Score, "missing", len(g.MissingKeywords))
	return g, nil
}

func checkIndex(s *model.Session, index int) error {
	if index != s.CurrentIndex || index >= len(s.Questions) {
		return fmt.Errorf("%w: got %d, expected %d of %d", model.ErrInvalidIndex, index, s.CurrentIndex, len(s.Questions))
	}
	return nil
}

// GetStats summarises the session's progress.
func (m *Manager) GetStats(ctx context.Context, id string) (model.Stats, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return model.Stats{}, err
	}
	return statsFor(s), nil
}

// GetSession returns the full session with its statistics.
func (m *Manager) GetSession(ctx context.Context, id string) (model.SessionView, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return model.SessionView{}, err
	}
	st := statsFor(s)
	return model.SessionView{
		Session:        *s,
		State:          s.State(),
		TotalQuestions: st.TotalQuestions,
		Answered:       st.Answered,
		AverageScore:   st.AverageScore,
	}, nil
}

// ActiveSessions reports how many sessions are held.
func (m *Manager) ActiveSessions(ctx context.Context) (int, error) {
	return m.store.Count(ctx)
}

func statsFor(s *model.Session) model.Stats {
	st := model.Stats{
		Subject:        s.Subject,
		Topic:          s.Topic,
		Answered:       len(s.Answers),
		TotalQuestions: len(s.Questions),
		Completed:      s.State() == model.StateCompleted,
	}
	if st.Answered > 0 {
		total := 0
		for _, a := range s.Answers {
			total += a.Grading.Score
		}
		st.AverageScore = int(math.Round(float64(total) / float64(st.Answered)))
	}
	return st
}

func cleanKeyPoints(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
