package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/viva/internal/model"
)

//go:embed templates/*.txt
var Templates embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxAnswerRunes = 10000

// PromptVariant represents a grading prompt variant.
type PromptVariant string

const (
	// PromptStrict is a strict grading variant for majors.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient is a lenient grading variant for electives.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var funcs = template.FuncMap{"join": strings.Join}

var (
	loadOnce       sync.Once
	loadErr        error
	generateTmpl   *template.Template
	gradeTemplates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// GenerateData holds template data for question generation prompts.
type GenerateData struct {
	Subject   string
	Topic     string
	KeyPoints []string
	Count     int
}

// GradeData holds template data for grading prompts.
type GradeData struct {
	QuestionText   string
	ExpectedPoints []string
	Keywords       []string
	Answer         string
}

// Load parses prompt templates from fsys. Only the first call has any effect.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		content, err := fs.ReadFile(fsys, "templates/generate.txt")
		if err != nil {
			loadErr = fmt.Errorf("read generation prompt: %w", err)
			return
		}
		generateTmpl, err = template.New("generate").Funcs(funcs).Parse(string(content))
		if err != nil {
			loadErr = fmt.Errorf("parse generation prompt: %w", err)
			return
		}

		gradeTemplates = make(map[PromptVariant]*template.Template)
		for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
			file := "templates/grade_" + string(v) + ".txt"
			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + file + ": " + err.Error())
				return
			}
			tmpl, err := template.New("grade").Funcs(funcs).Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + file + ": " + err.Error())
				return
			}
			gradeTemplates[v] = tmpl
		}
	})
	return loadErr
}

// BuildGeneratePrompt builds the question generation prompt.
func BuildGeneratePrompt(subject, topic string, keyPoints []string, count int) (string, error) {
	if err := Load(Templates); err != nil {
		return "", err
	}

	data := GenerateData{
		Subject:   strings.TrimSpace(subject),
		Topic:     strings.TrimSpace(topic),
		KeyPoints: keyPoints,
		Count:     count,
	}

	var buf bytes.Buffer
	if err := generateTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildGradePrompt builds a grading prompt using the specified variant.
func BuildGradePrompt(variant PromptVariant, question model.Question, answer string) (string, error) {
	if err := Load(Templates); err != nil {
		return "", err
	}
	tmpl, ok := gradeTemplates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	data := GradeData{
		QuestionText:   question.Text,
		ExpectedPoints: question.ExpectedPoints,
		Keywords:       question.Keywords,
		Answer:         SanitizeAnswer(answer),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SanitizeAnswer strips tags that could break out of the answer block and
// truncates very long answers.
func SanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		runes = runes[:maxAnswerRunes]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
