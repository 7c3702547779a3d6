// Package grade scores a student's answer with the upstream model and
// repairs whatever the model gets wrong.
package grade

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	appI18n "github.com/pavelanni/viva/internal/i18n"
	"github.com/pavelanni/viva/internal/llm"
	"github.com/pavelanni/viva/internal/llm/extract"
	"github.com/pavelanni/viva/internal/llm/prompts"
	"github.com/pavelanni/viva/internal/model"
)

const previewRunes = 200

var (
	scoreFields    = []string{"score", "grade", "mark", "rating", "points"}
	feedbackFields = []string{"feedback", "comment", "comments", "explanation", "remarks"}
	missingFields  = []string{"missing_keywords", "missing", "missed_keywords", "missing_terms", "missed"}
)

var (
	scoreRegex    = regexp.MustCompile(`(?i)\bscore\b["']?\s*[:=]?\s*["']?(-?\d+(?:\.\d+)?)([eE][+-]?\d+)?`)
	outOf100Regex = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*/\s*100\b`)
	feedbackRegex = regexp.MustCompile(`(?i)\bfeedback\b["']?\s*[:=]\s*"((?:[^"\\]|\\.)*)"`)
)

// Grader is the answer grading adapter.
type Grader struct {
	llm     llm.Generator
	variant prompts.PromptVariant
}

// New creates a Grader that builds prompts with the given variant.
// Unknown variants fall back to prompts.PromptStandard.
func New(g llm.Generator, variant string) *Grader {
	v := prompts.PromptVariant(variant)
	if !prompts.IsValidVariant(variant) {
		v = prompts.PromptStandard
	}
	return &Grader{llm: g, variant: v}
}

// Grade scores answer against question. It only fails when the model cannot
// be reached (model.ErrUpstreamUnavailable); malformed replies are repaired
// field by field, down to a keyword-overlap heuristic.
func (g *Grader) Grade(ctx context.Context, question model.Question, answer string) (model.Grading, error) {
	prompt, err := prompts.BuildGradePrompt(g.variant, question, answer)
	if err != nil {
		return model.Grading{}, fmt.Errorf("build grading prompt: %w", err)
	}

	raw, err := g.llm.Generate(ctx, prompt)
	if err != nil {
		return model.Grading{}, llm.Unavailable(err)
	}

	return Parse(ctx, raw, question, answer), nil
}

// Parse turns a raw grading reply into a Grading that always satisfies the
// invariants: score in [0,100] and missing keywords drawn from question.Keywords.
func Parse(ctx context.Context, raw string, question model.Question, answer string) model.Grading {
	obj := extract.FirstObject(extract.StripFences(raw))

	score, ok := parseScore(obj, raw)
	if !ok {
		score = Heuristic(question.Keywords, answer)
		slog.Warn("grading reply had no score, using keyword overlap",
			"score", score, "raw", extract.Preview(raw, previewRunes))
	}

	feedback, ok := parseFeedback(obj, raw)
	if !ok {
		feedback = BandFeedback(ctx, score)
	}

	var missing []string
	if v, ok := extract.Field(obj, missingFields...); ok && v != nil {
		missing = Restrict(extract.StringList(v), question.Keywords)
	} else {
		missing = Missing(question.Keywords, answer)
	}

	return model.Grading{Score: score, Feedback: feedback, MissingKeywords: missing}
}

func parseScore(obj map[string]any, raw string) (int, bool) {
	if v, ok := extract.Field(obj, scoreFields...); ok {
		if f, ok := extract.Number(v); ok {
			return clamp(f), true
		}
	}
	for _, re := range []*regexp.Regexp{scoreRegex, outOf100Regex} {
		m := re.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		// An exponent belongs to the number; "1e400" must not read as 1.
		num := strings.Join(m[1:], "")
		if f, err := strconv.ParseFloat(num, 64); err == nil {
			return clamp(f), true
		}
	}
	return 0, false
}

func parseFeedback(obj map[string]any, raw string) (string, bool) {
	if v, ok := extract.Field(obj, feedbackFields...); ok {
		if s, ok := extract.String(v); ok {
			return s, true
		}
	}
	if obj == nil {
		if m := feedbackRegex.FindStringSubmatch(raw); m != nil {
			if s := strings.TrimSpace(strings.ReplaceAll(m[1], `\"`, `"`)); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func clamp(f float64) int {
	return int(math.Round(math.Max(0, math.Min(100, f))))
}

// Mentioned reports whether keyword appears in answer, case-insensitively.
func Mentioned(answer, keyword string) bool {
	return strings.Contains(strings.ToLower(answer), strings.ToLower(strings.TrimSpace(keyword)))
}

// Heuristic scores an answer by the share of keywords it mentions.
func Heuristic(keywords []string, answer string) int {
	if len(keywords) == 0 {
		return 0
	}
	hit := 0
	for _, k := range keywords {
		if Mentioned(answer, k) {
			hit++
		}
	}
	return int(math.Round(100 * float64(hit) / float64(len(keywords))))
}

// Missing lists the keywords that answer does not mention.
func Missing(keywords []string, answer string) []string {
	out := []string{}
	for _, k := range keywords {
		if !Mentioned(answer, k) {
			out = append(out, k)
		}
	}
	return out
}

// Restrict keeps only the candidates that match one of keywords, ignoring
// case and surrounding space, and returns them in the keywords' spelling.
func Restrict(candidates, keywords []string) []string {
	want := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		want[strings.ToLower(strings.TrimSpace(c))] = true
	}
	out := []string{}
	for _, k := range keywords {
		key := strings.ToLower(strings.TrimSpace(k))
		if want[key] {
			out = append(out, k)
			delete(want, key)
		}
	}
	return out
}

// BandFeedback returns the localized stock sentence for score's band.
func BandFeedback(ctx context.Context, score int) string {
	var id string
	switch {
	case score >= 90:
		id = "FeedbackExcellent"
	case score >= 70:
		id = "FeedbackGood"
	case score >= 50:
		id = "FeedbackAcceptable"
	case score >= 30:
		id = "FeedbackPoor"
	default:
		id = "FeedbackInadequate"
	}
	return appI18n.Td(ctx, id, map[string]any{"Score": score})
}
