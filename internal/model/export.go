package model

// SessionView is the full snapshot of a session, including statistics.
type SessionView struct {
	Session
	State          SessionState `json:"state"`
	TotalQuestions int          `json:"total_questions"`
	Answered       int          `json:"answered"`
	AverageScore   int          `json:"average_score"`
}

// QuestionSet is a generated question list written by the questions command.
type QuestionSet struct {
	Subject   string     `json:"subject"`
	Topic     string     `json:"topic"`
	KeyPoints []string   `json:"key_points"`
	Model     string     `json:"model"`
	Questions []Question `json:"questions"`
}
