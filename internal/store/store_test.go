package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/viva/internal/model"
)

func newTestStores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	stores := map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
	for _, s := range stores {
		s := s
		t.Cleanup(func() { s.Close() })
	}
	return stores
}

func testSession(id string) *model.Session {
	return &model.Session{
		ID:        id,
		Subject:   "OS",
		Topic:     "Sync",
		KeyPoints: []string{"mutex", "deadlock"},
		Questions: []model.Question{
			{Text: "Q1", ExpectedPoints: []string{"p1"}, Keywords: []string{"mutex"}},
			{Text: "Q2", ExpectedPoints: []string{"p2"}, Keywords: []string{"deadlock", "cycle"}},
		},
		Answers:   []model.AnswerRecord{},
		CreatedAt: time.Now(),
	}
}

// advance records an answer for the current question and moves the cursor.
func advance(score int) func(*model.Session) error {
	return func(s *model.Session) error {
		s.Answers = append(s.Answers, model.AnswerRecord{
			QuestionIndex: s.CurrentIndex,
			AnswerText:    "answer",
			Grading:       model.Grading{Score: score, Feedback: "f", MissingKeywords: []string{"mutex"}},
			AnsweredAt:    time.Now(),
		})
		s.CurrentIndex++
		return nil
	}
}

func TestCreateAndGet(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Create(ctx, testSession("s1")); err != nil {
				t.Fatalf("Create: %v", err)
			}

			got, err := s.Get(ctx, "s1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Subject != "OS" || got.Topic != "Sync" {
				t.Errorf("unexpected subject/topic %q/%q", got.Subject, got.Topic)
			}
			if len(got.Questions) != 2 || got.Questions[1].Keywords[1] != "cycle" {
				t.Errorf("questions not stored verbatim: %+v", got.Questions)
			}
			if len(got.KeyPoints) != 2 {
				t.Errorf("expected 2 key points, got %v", got.KeyPoints)
			}
			if got.CurrentIndex != 0 || len(got.Answers) != 0 {
				t.Errorf("new session should have no progress, got index %d, %d answers", got.CurrentIndex, len(got.Answers))
			}

			if err := s.Create(ctx, testSession("s1")); !errors.Is(err, ErrExists) {
				t.Errorf("duplicate Create: expected ErrExists, got %v", err)
			}

			n, err := s.Count(ctx)
			if err != nil {
				t.Fatalf("Count: %v", err)
			}
			if n != 1 {
				t.Errorf("expected 1 session, got %d", n)
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.Get(ctx, "nope"); !errors.Is(err, model.ErrSessionNotFound) {
				t.Errorf("Get: expected ErrSessionNotFound, got %v", err)
			}
			err := s.Update(ctx, "nope", func(*model.Session) error { return nil })
			if !errors.Is(err, model.ErrSessionNotFound) {
				t.Errorf("Update: expected ErrSessionNotFound, got %v", err)
			}
		})
	}
}

func TestSnapshotIsolation(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			orig := testSession("s1")
			if err := s.Create(ctx, orig); err != nil {
				t.Fatalf("Create: %v", err)
			}
			orig.Questions[0].Text = "mutated after create"

			got, _ := s.Get(ctx, "s1")
			got.Questions[0].Keywords[0] = "mutated snapshot"
			got.CurrentIndex = 2

			again, _ := s.Get(ctx, "s1")
			if again.Questions[0].Text != "Q1" || again.Questions[0].Keywords[0] != "mutex" || again.CurrentIndex != 0 {
				t.Errorf("stored session changed through a copy: %+v", again)
			}
		})
	}
}

func TestUpdate(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Create(ctx, testSession("s1")); err != nil {
				t.Fatalf("Create: %v", err)
			}

			if err := s.Update(ctx, "s1", advance(80)); err != nil {
				t.Fatalf("Update: %v", err)
			}
			got, _ := s.Get(ctx, "s1")
			if got.CurrentIndex != 1 || len(got.Answers) != 1 {
				t.Fatalf("expected index 1 and one answer, got %d and %d", got.CurrentIndex, len(got.Answers))
			}
			a := got.Answers[0]
			if a.QuestionIndex != 0 || a.Grading.Score != 80 || a.Grading.MissingKeywords[0] != "mutex" {
				t.Errorf("unexpected answer record %+v", a)
			}

			// A failing fn leaves the session untouched.
			boom := errors.New("boom")
			err := s.Update(ctx, "s1", func(s *model.Session) error {
				_ = advance(10)(s)
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("expected fn error, got %v", err)
			}
			got, _ = s.Get(ctx, "s1")
			if got.CurrentIndex != 1 || len(got.Answers) != 1 {
				t.Errorf("failed update leaked: index %d, %d answers", got.CurrentIndex, len(got.Answers))
			}
		})
	}
}

func TestConcurrentUpdatesAreAtomic(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Create(ctx, testSession("s1")); err != nil {
				t.Fatalf("Create: %v", err)
			}

			// Every goroutine tries to answer question 0; only one may win.
			const workers = 16
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := s.Update(ctx, "s1", func(s *model.Session) error {
						if s.CurrentIndex != 0 {
							return fmt.Errorf("index moved to %d", s.CurrentIndex)
						}
						return advance(50)(s)
					})
					if err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			if wins != 1 {
				t.Errorf("expected exactly one successful update, got %d", wins)
			}
			got, _ := s.Get(ctx, "s1")
			if got.CurrentIndex != 1 || len(got.Answers) != 1 {
				t.Errorf("expected one recorded answer, got index %d, %d answers", got.CurrentIndex, len(got.Answers))
			}
		})
	}
}

func TestIndependentSessions(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				if err := s.Create(ctx, testSession(fmt.Sprintf("s%d", i))); err != nil {
					t.Fatalf("Create: %v", err)
				}
			}

			var wg sync.WaitGroup
			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func(id string) {
					defer wg.Done()
					for j := 0; j < 2; j++ {
						if err := s.Update(ctx, id, advance(60)); err != nil {
							t.Errorf("Update %s: %v", id, err)
						}
					}
				}(fmt.Sprintf("s%d", i))
			}
			wg.Wait()

			for i := 0; i < 5; i++ {
				got, _ := s.Get(ctx, fmt.Sprintf("s%d", i))
				if got.CurrentIndex != 2 || len(got.Answers) != 2 {
					t.Errorf("session s%d: index %d, %d answers", i, got.CurrentIndex, len(got.Answers))
				}
			}
		})
	}
}

func TestOpen(t *testing.T) {
	for _, kind := range []string{"", "memory", "sqlite"} {
		s, err := Open(kind, "")
		if err != nil {
			t.Errorf("Open(%q): %v", kind, err)
			continue
		}
		s.Close()
	}
	if _, err := Open("redis", ""); err == nil {
		t.Error("expected error for unknown store kind")
	}
}
