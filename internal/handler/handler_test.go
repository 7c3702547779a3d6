package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/viva/internal/generate"
	"github.com/pavelanni/viva/internal/grade"
	appI18n "github.com/pavelanni/viva/internal/i18n"
	"github.com/pavelanni/viva/internal/llm"
	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/session"
	"github.com/pavelanni/viva/internal/store"
)

const questionsReply = `{"questions": [
	{"question": "What does a mutex guarantee?", "expected_answer": ["mutual exclusion"], "keywords": ["mutex"]},
	{"question": "How does a deadlock arise?", "expected_answer": ["circular wait"], "keywords": ["deadlock"]}
]}`

const gradeReply = `{"score": 75, "feedback": "Good coverage.", "missing_keywords": []}`

func newTestServer(t *testing.T, genErr error) *httptest.Server {
	t.Helper()
	gen := llm.GeneratorFunc(func(context.Context, string) (string, error) {
		if genErr != nil {
			return "", genErr
		}
		return questionsReply, nil
	})
	gr := llm.GeneratorFunc(func(context.Context, string) (string, error) {
		return gradeReply, nil
	})

	st := store.NewMemory()
	m := session.NewManager(st, generate.New(gen), grade.New(gr, "standard"))

	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	New(m).Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		st.Close()
	})
	return srv
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("%s %s: unexpected content type %q", method, url, ct)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func createSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	var created createSessionResponse
	code := doJSON(t, http.MethodPost, srv.URL+"/api/sessions",
		`{"subject":"OS","topic":"Sync","key_points":["mutex","deadlock"],"question_count":2}`, &created)
	if code != http.StatusCreated {
		t.Fatalf("create session: status %d", code)
	}
	if created.SessionID == "" || created.TotalQuestions != 2 {
		t.Fatalf("unexpected create response %+v", created)
	}
	return created.SessionID
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	createSession(t, srv)

	var health healthResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/", "", &health); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if health.Status != "ok" || health.ActiveSessions != 1 {
		t.Errorf("unexpected health %+v", health)
	}
	if health.Message != "AI Viva Agent" || health.Summary != "1 active session" {
		t.Errorf("unexpected localized text %+v", health)
	}
}

func TestSessionFlow(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createSession(t, srv)
	base := srv.URL + "/api/sessions/" + id

	var next model.NextQuestion
	if code := doJSON(t, http.MethodGet, base+"/next", "", &next); code != http.StatusOK {
		t.Fatalf("next: status %d", code)
	}
	if next.Index != 0 || next.Question != "What does a mutex guarantee?" || next.TotalQuestions != 2 {
		t.Errorf("unexpected next question %+v", next)
	}

	var submitted submitAnswerResponse
	code := doJSON(t, http.MethodPost, base+"/answers",
		`{"question_index":0,"answer_text":"Only one thread holds a mutex at a time"}`, &submitted)
	if code != http.StatusOK {
		t.Fatalf("submit: status %d", code)
	}
	if submitted.Grade.Score != 75 || submitted.Grade.Feedback != "Good coverage." || !submitted.NextAvailable {
		t.Errorf("unexpected submit response %+v", submitted)
	}

	var conflict errorResponse
	code = doJSON(t, http.MethodPost, base+"/answers", `{"question_index":0,"answer_text":"again"}`, &conflict)
	if code != http.StatusConflict || conflict.Error == "" {
		t.Errorf("resubmit: expected 409 with message, got %d %+v", code, conflict)
	}

	code = doJSON(t, http.MethodPost, base+"/answers", `{"question_index":1,"answer_text":"circular wait"}`, &submitted)
	if code != http.StatusOK || submitted.NextAvailable {
		t.Errorf("last answer: status %d, %+v", code, submitted)
	}

	doJSON(t, http.MethodGet, base+"/next", "", &next)
	if !next.Completed || next.Message != "All questions completed" {
		t.Errorf("expected completion marker, got %+v", next)
	}

	var stats model.Stats
	if code := doJSON(t, http.MethodGet, base+"/stats", "", &stats); code != http.StatusOK {
		t.Fatalf("stats: status %d", code)
	}
	if stats.Answered != 2 || stats.AverageScore != 75 || !stats.Completed {
		t.Errorf("unexpected stats %+v", stats)
	}

	var view model.SessionView
	if code := doJSON(t, http.MethodGet, base, "", &view); code != http.StatusOK {
		t.Fatalf("session: status %d", code)
	}
	if view.ID != id || view.State != model.StateCompleted || len(view.Answers) != 2 {
		t.Errorf("unexpected session view %+v", view)
	}
}

func TestErrorStatuses(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createSession(t, srv)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"zero questions", http.MethodPost, "/api/sessions", `{"subject":"OS","topic":"Sync","key_points":["mutex"],"question_count":0}`, http.StatusBadRequest},
		{"no key points", http.MethodPost, "/api/sessions", `{"subject":"OS","topic":"Sync","key_points":[],"question_count":2}`, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/sessions", `{"subject":`, http.StatusBadRequest},
		{"unknown session", http.MethodGet, "/api/sessions/session_missing/next", "", http.StatusNotFound},
		{"unknown session stats", http.MethodGet, "/api/sessions/session_missing/stats", "", http.StatusNotFound},
		{"missing index", http.MethodPost, "/api/sessions/" + id + "/answers", `{"answer_text":"x"}`, http.StatusBadRequest},
		{"blank answer", http.MethodPost, "/api/sessions/" + id + "/answers", `{"question_index":0,"answer_text":"  "}`, http.StatusBadRequest},
		{"wrong index", http.MethodPost, "/api/sessions/" + id + "/answers", `{"question_index":1,"answer_text":"x"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp errorResponse
			code := doJSON(t, tt.method, srv.URL+tt.path, tt.body, &resp)
			if code != tt.want {
				t.Errorf("status = %d, want %d (%s)", code, tt.want, resp.Error)
			}
			if resp.Error == "" {
				t.Error("expected an error message")
			}
		})
	}
}

func TestCreateSessionUpstreamDown(t *testing.T) {
	srv := newTestServer(t, errors.New("connection refused"))

	var resp errorResponse
	code := doJSON(t, http.MethodPost, srv.URL+"/api/sessions",
		`{"subject":"OS","topic":"Sync","key_points":["mutex"],"question_count":2}`, &resp)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 (%s)", code, resp.Error)
	}

	var health healthResponse
	doJSON(t, http.MethodGet, srv.URL+"/", "", &health)
	if health.ActiveSessions != 0 {
		t.Errorf("failed create left %d sessions", health.ActiveSessions)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.ErrValidation, http.StatusBadRequest},
		{model.ErrSessionNotFound, http.StatusNotFound},
		{model.ErrInvalidIndex, http.StatusConflict},
		{model.ErrUpstreamUnavailable, http.StatusServiceUnavailable},
		{model.ErrGenerationFailure, http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		wrapped := errors.Join(errors.New("context"), tt.err)
		if got := statusFor(wrapped); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
