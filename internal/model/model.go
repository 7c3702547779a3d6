package model

import (
	"slices"
	"time"
)

// MinQuestions and MaxQuestions bound the number of questions per session.
const (
	MinQuestions = 1
	MaxQuestions = 20
)

// SessionState is derived from a session's cursor; it is never stored.
type SessionState string

const (
	StateCreated    SessionState = "created"
	StateInProgress SessionState = "in_progress"
	StateCompleted  SessionState = "completed"
)

// Question is a single viva question produced by the upstream model.
type Question struct {
	Text           string   `json:"question"`
	ExpectedPoints []string `json:"expected_answer"`
	Keywords       []string `json:"keywords"`
}

// Grading is the outcome of evaluating one submitted answer.
type Grading struct {
	Score           int      `json:"score"`
	Feedback        string   `json:"feedback"`
	MissingKeywords []string `json:"missing_keywords"`
}

// AnswerRecord stores a graded answer for the question at QuestionIndex.
type AnswerRecord struct {
	QuestionIndex int       `json:"question_index"`
	AnswerText    string    `json:"answer_text"`
	Grading       Grading   `json:"grade"`
	AnsweredAt    time.Time `json:"answered_at"`
}

// Session is one student's walk through a fixed question sequence.
// Answers are recorded strictly in order, so Answers[i].QuestionIndex == i.
type Session struct {
	ID           string         `json:"session_id"`
	Subject      string         `json:"subject"`
	Topic        string         `json:"topic"`
	KeyPoints    []string       `json:"key_points"`
	Questions    []Question     `json:"questions"`
	CurrentIndex int            `json:"current_index"`
	Answers      []AnswerRecord `json:"answers"`
	CreatedAt    time.Time      `json:"created_at"`
}

// State reports where the session is in its lifecycle.
func (s *Session) State() SessionState {
	switch {
	case s.CurrentIndex >= len(s.Questions):
		return StateCompleted
	case s.CurrentIndex == 0 && len(s.Answers) == 0:
		return StateCreated
	default:
		return StateInProgress
	}
}

// Clone returns a deep copy so callers can read a snapshot without holding locks.
func (s *Session) Clone() *Session {
	c := *s
	c.KeyPoints = slices.Clone(s.KeyPoints)
	c.Questions = make([]Question, len(s.Questions))
	for i, q := range s.Questions {
		c.Questions[i] = Question{
			Text:           q.Text,
			ExpectedPoints: slices.Clone(q.ExpectedPoints),
			Keywords:       slices.Clone(q.Keywords),
		}
	}
	c.Answers = make([]AnswerRecord, len(s.Answers))
	for i, a := range s.Answers {
		a.Grading.MissingKeywords = slices.Clone(a.Grading.MissingKeywords)
		c.Answers[i] = a
	}
	return &c
}

// NextQuestion is what the student sees when asking for the next question.
// When Completed is true, Index equals TotalQuestions, Message carries the
// localized completion text and the question fields are empty.
type NextQuestion struct {
	Completed      bool     `json:"completed"`
	Message        string   `json:"message,omitempty"`
	Index          int      `json:"index"`
	TotalQuestions int      `json:"total_questions"`
	Question       string   `json:"question,omitempty"`
	ExpectedPoints []string `json:"expected,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
}

// Stats summarises a session's progress.
type Stats struct {
	Subject        string `json:"subject"`
	Topic          string `json:"topic"`
	Answered       int    `json:"answered"`
	TotalQuestions int    `json:"total_questions"`
	AverageScore   int    `json:"average_score"`
	Completed      bool   `json:"completed"`
}

// VivaConfig holds runtime parameters set via CLI flags.
type VivaConfig struct {
	Lang          string // UI and fallback text language (en, ru)
	PromptVariant string // Grading prompt variant (strict, standard, lenient)
}
