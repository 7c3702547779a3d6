// Package generate turns a teacher's brief into a fixed-length list of
// validated questions using the upstream model.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	appI18n "github.com/pavelanni/viva/internal/i18n"
	"github.com/pavelanni/viva/internal/llm"
	"github.com/pavelanni/viva/internal/llm/extract"
	"github.com/pavelanni/viva/internal/llm/prompts"
	"github.com/pavelanni/viva/internal/model"
)

const previewRunes = 200

var (
	textFields     = []string{"question", "text", "question_text", "prompt", "q"}
	expectedFields = []string{"expected_answer", "expected_points", "expected", "expected_answers", "answer_points", "points", "answer"}
	keywordFields  = []string{"keywords", "keyword", "key_terms", "key_words", "terms", "tags"}
	listFields     = []string{"questions", "items", "data", "results"}
)

// Generator is the question generation adapter.
type Generator struct {
	llm llm.Generator
}

// New creates a Generator backed by g.
func New(g llm.Generator) *Generator {
	return &Generator{llm: g}
}

// Generate asks the model for count questions about the brief and returns
// exactly count questions, or an error. keyPoints must be non-empty and count
// within [model.MinQuestions, model.MaxQuestions]; the caller validates both.
//
// Errors wrap model.ErrUpstreamUnavailable when the model cannot be reached and
// model.ErrGenerationFailure when its reply contains no usable questions.
func (g *Generator) Generate(ctx context.Context, subject, topic string, keyPoints []string, count int) ([]model.Question, error) {
	prompt, err := prompts.BuildGeneratePrompt(subject, topic, keyPoints, count)
	if err != nil {
		return nil, fmt.Errorf("build generation prompt: %w", err)
	}

	slog.Info("generating questions", "subject", subject, "topic", topic, "count", count)
	raw, err := g.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, llm.Unavailable(err)
	}

	entries, err := parseEntries(raw)
	if err != nil {
		slog.Error("unusable generation response", "error", err, "raw", extract.Preview(raw, previewRunes))
		return nil, fmt.Errorf("%w: %v", model.ErrGenerationFailure, err)
	}

	b := builder{ctx: ctx, subject: subject, topic: topic, keyPoints: keyPoints}
	var questions []model.Question
	for _, e := range entries {
		if q, ok := b.fromEntry(len(questions), e); ok {
			questions = append(questions, q)
		}
	}
	if len(questions) == 0 {
		slog.Error("no usable questions in response", "entries", len(entries), "raw", extract.Preview(raw, previewRunes))
		return nil, fmt.Errorf("%w: no usable question entries", model.ErrGenerationFailure)
	}

	switch {
	case len(questions) > count:
		slog.Info("trimming generated questions", "got", len(questions), "want", count)
		questions = questions[:count]
	case len(questions) < count:
		slog.Warn("padding generated questions with placeholders", "got", len(questions), "want", count)
		for i := len(questions); i < count; i++ {
			questions = append(questions, b.placeholder(i))
		}
	}
	return questions, nil
}

// parseEntries finds the list of question entries in a model reply.
// It tries, in order: a JSON array, a wrapping object with a list field, a
// single question object, and finally every standalone object in the text.
func parseEntries(raw string) ([]any, error) {
	clean := extract.StripFences(raw)
	if clean == "" {
		return nil, errors.New("empty response")
	}

	if arr := extract.Array(clean); arr != "" {
		var entries []any
		if err := json.Unmarshal([]byte(arr), &entries); err == nil && !isWrapped(clean, arr) {
			return entries, nil
		}
	}

	objects := extract.Objects(clean)
	var parsed []map[string]any
	for _, obj := range objects {
		var m map[string]any
		if err := json.Unmarshal([]byte(obj), &m); err != nil {
			slog.Debug("skipping unparsable object", "error", err)
			continue
		}
		parsed = append(parsed, m)
	}
	if len(parsed) == 0 {
		return nil, errors.New("no JSON array or object found")
	}

	if len(parsed) == 1 {
		if _, isQuestion := extract.Field(parsed[0], textFields...); !isQuestion {
			if list, ok := findList(parsed[0], 1); ok {
				return list, nil
			}
		}
	}

	entries := make([]any, len(parsed))
	for i, m := range parsed {
		entries[i] = m
	}
	return entries, nil
}

// findList locates the question list inside a wrapping object. A known list
// field wins; otherwise the first list of objects, then the first list of
// strings, in key order. Fields that name question parts are never taken.
// With depth > 0 it also looks one object level down, as in
// {"data": {"questions": [...]}}.
func findList(m map[string]any, depth int) ([]any, bool) {
	if v, ok := extract.Field(m, listFields...); ok {
		if list, ok := v.([]any); ok {
			return list, true
		}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		if !isQuestionPart(k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	for _, want := range []func(any) bool{isObject, isString} {
		for _, k := range keys {
			if list, ok := m[k].([]any); ok && len(list) > 0 && allOf(list, want) {
				return list, true
			}
		}
	}

	if depth > 0 {
		for _, k := range keys {
			if sub, ok := m[k].(map[string]any); ok {
				if list, ok := findList(sub, depth-1); ok {
					return list, true
				}
			}
		}
	}
	return nil, false
}

func isQuestionPart(key string) bool {
	_, ok := extract.Field(map[string]any{key: nil}, slices.Concat(expectedFields, keywordFields)...)
	return ok
}

func isObject(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func allOf(list []any, pred func(any) bool) bool {
	for _, v := range list {
		if !pred(v) {
			return false
		}
	}
	return true
}

// isWrapped reports whether the array found in clean sits inside an object,
// as in {"questions": [...]}. Such replies are handled by the object path.
func isWrapped(clean, arr string) bool {
	start := strings.Index(clean, arr)
	return strings.Contains(clean[:start], "{")
}

type builder struct {
	ctx       context.Context
	subject   string
	topic     string
	keyPoints []string
}

// fromEntry converts one decoded entry into a Question, backfilling any
// missing field. It reports false for entries with nothing usable in them.
func (b builder) fromEntry(i int, e any) (model.Question, bool) {
	var q model.Question
	switch v := e.(type) {
	case string:
		q.Text = strings.TrimSpace(v)
	case map[string]any:
		if t, ok := extract.Field(v, textFields...); ok {
			q.Text, _ = extract.String(t)
		}
		if p, ok := extract.Field(v, expectedFields...); ok {
			q.ExpectedPoints = extract.StringList(p)
		}
		if k, ok := extract.Field(v, keywordFields...); ok {
			q.Keywords = extract.Dedupe(extract.StringList(k))
		}
	default:
		return model.Question{}, false
	}

	if q.Text == "" && len(q.ExpectedPoints) == 0 && len(q.Keywords) == 0 {
		return model.Question{}, false
	}
	if q.Text == "" {
		q.Text = b.placeholderText(i)
	}
	if len(q.ExpectedPoints) == 0 {
		q.ExpectedPoints = clone(b.keyPoints)
	}
	if len(q.Keywords) == 0 {
		q.Keywords = extract.Dedupe(clone(b.keyPoints))
	}
	return q, true
}

// placeholder builds the deterministic stand-in for question i.
func (b builder) placeholder(i int) model.Question {
	return model.Question{
		Text:           b.placeholderText(i),
		ExpectedPoints: clone(b.keyPoints),
		Keywords:       extract.Dedupe(clone(b.keyPoints)),
	}
}

func (b builder) placeholderText(i int) string {
	focus := strings.Join(b.keyPoints, ", ")
	if len(b.keyPoints) > 1 {
		focus = b.keyPoints[i%len(b.keyPoints)]
	}
	return appI18n.Td(b.ctx, "PlaceholderQuestion", map[string]any{
		"Subject": b.subject,
		"Topic":   b.topic,
		"Focus":   focus,
	})
}

func clone(s []string) []string {
	return append([]string(nil), s...)
}
