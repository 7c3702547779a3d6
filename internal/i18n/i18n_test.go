package i18n

import (
	"context"
	"strings"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "AppMessage")
	if got != "AI Viva Agent" {
		t.Errorf("T(AppMessage) = %q, want 'AI Viva Agent'", got)
	}

	got = T(ctx, "SessionCompleted")
	if got != "All questions completed" {
		t.Errorf("T(SessionCompleted) = %q, want 'All questions completed'", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	got := T(ctx, "SessionCompleted")
	if got != "Все вопросы пройдены" {
		t.Errorf("T(SessionCompleted) = %q, want 'Все вопросы пройдены'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got1 := Tp(ctx, "ActiveSessions", 1)
	if got1 != "1 active session" {
		t.Errorf("Tp(ActiveSessions, 1) = %q, want '1 active session'", got1)
	}

	got5 := Tp(ctx, "ActiveSessions", 5)
	if got5 != "5 active sessions" {
		t.Errorf("Tp(ActiveSessions, 5) = %q, want '5 active sessions'", got5)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "PlaceholderQuestion", map[string]any{"Subject": "OS", "Topic": "Sync", "Focus": "mutex"})
	if got != "In the context of Sync (OS), explain mutex." {
		t.Errorf("Td(PlaceholderQuestion) = %q", got)
	}

	got = Td(ctx, "FeedbackGood", map[string]any{"Score": 75})
	if !strings.Contains(got, "75/100") {
		t.Errorf("Td(FeedbackGood) = %q, want score in text", got)
	}
}

func TestContextWithoutLocalizer(t *testing.T) {
	initLang(t, "ru")
	t.Cleanup(func() { _ = Init("en") })

	got := T(context.Background(), "SessionCompleted")
	if got != "Все вопросы пройдены" {
		t.Errorf("T without localizer = %q, want the initialised language", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestInitInvalidLanguage(t *testing.T) {
	if err := Init("not a language!"); err == nil {
		t.Error("expected error for invalid language tag")
	}
}
