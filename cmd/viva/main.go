package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/viva/internal/generate"
	"github.com/pavelanni/viva/internal/grade"
	"github.com/pavelanni/viva/internal/handler"
	appI18n "github.com/pavelanni/viva/internal/i18n"
	"github.com/pavelanni/viva/internal/llm"
	"github.com/pavelanni/viva/internal/llm/prompts"
	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/session"
	"github.com/pavelanni/viva/internal/store"
)

const (
	defaultOpenAIModel = "llama3.2"
	defaultGeminiModel = "gemini-1.5-flash"
	shutdownTimeout    = 10 * time.Second
)

func main() {
	// A missing .env file is fine; flags, env and config files still apply.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "viva",
		Short: "AI viva agent: generated oral-exam questions with automated grading",
	}

	serve := serveCmd()
	root.AddCommand(serve, questionsCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `viva --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP viva server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8000", "HTTP listen address")
	addLLMFlags(f)
	f.StringP("lang", "l", "en", "Language for fallback texts (en, ru)")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
	f.String("store", "memory", "Session store (memory, sqlite)")
	f.String("db", ":memory:", "SQLite DSN when --store=sqlite")
	f.StringSlice("cors-origins", []string{"*"}, "Allowed CORS origins")
	addLogFlags(f)
	return cmd
}

func questionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "questions",
		Short: "Generate a question set for a brief and print it as JSON",
		RunE:  runQuestions,
	}
	f := cmd.Flags()
	f.StringP("subject", "s", "", "Subject of the viva (required)")
	f.StringP("topic", "t", "", "Topic within the subject (required)")
	f.StringSliceP("key-point", "k", nil, "Key point the questions must cover (repeatable, required)")
	f.IntP("count", "n", 5, fmt.Sprintf("Number of questions (%d-%d)", model.MinQuestions, model.MaxQuestions))
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.StringP("lang", "l", "en", "Language for fallback texts (en, ru)")
	addLLMFlags(f)
	addLogFlags(f)

	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("topic")
	_ = cmd.MarkFlagRequired("key-point")

	return cmd
}

func addLLMFlags(f *pflag.FlagSet) {
	f.String("llm-provider", "openai", "Upstream model provider (openai, gemini)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for the upstream model")
	f.String("llm-model", "", "Model name (default depends on provider)")
	f.Duration("llm-timeout", 2*time.Minute, "Timeout for a single upstream call")
	f.Float32("llm-temperature", 0.3, "Sampling temperature")
	f.Bool("skip-ping", false, "Do not check the upstream model at startup")
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("VIVA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("viva")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/viva")
	v.AddConfigPath("/etc/viva")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// upstream is what the commands need from a provider client.
type upstream interface {
	llm.Generator
	Model() string
	Ping(ctx context.Context) error
}

// newUpstream builds the configured provider client. The returned func
// releases it.
func newUpstream(ctx context.Context, v *viper.Viper) (upstream, func(), error) {
	opts := llm.Options{
		Timeout:     v.GetDuration("llm-timeout"),
		Temperature: float32(v.GetFloat64("llm-temperature")),
		JSONMode:    true,
	}
	modelName := strings.TrimSpace(v.GetString("llm-model"))

	var (
		client  upstream
		release = func() {}
	)
	switch provider := strings.ToLower(strings.TrimSpace(v.GetString("llm-provider"))); provider {
	case "", "openai":
		if modelName == "" {
			modelName = defaultOpenAIModel
		}
		client = llm.New(v.GetString("llm-url"), v.GetString("llm-key"), modelName, opts)
	case "gemini":
		if modelName == "" {
			modelName = defaultGeminiModel
		}
		g, err := llm.NewGemini(ctx, v.GetString("llm-key"), modelName, opts)
		if err != nil {
			return nil, nil, err
		}
		client = g
		release = func() {
			if err := g.Close(); err != nil {
				slog.Warn("close gemini client", "error", err)
			}
		}
	default:
		return nil, nil, fmt.Errorf("unknown llm-provider %q (want openai or gemini)", provider)
	}

	if v.GetBool("skip-ping") {
		return client, release, nil
	}
	if err := client.Ping(ctx); err != nil {
		release()
		return nil, nil, fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "provider", v.GetString("llm-provider"), "model", client.Model())
	return client, release, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(promptVariant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
		promptVariant = string(prompts.PromptStandard)
	}

	client, release, err := newUpstream(ctx, v)
	if err != nil {
		return err
	}
	defer release()

	st, err := store.Open(v.GetString("store"), v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	manager := session.NewManager(st, generate.New(client), grade.New(client, promptVariant))
	h := handler.New(manager)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: v.GetStringSlice("cors-origins"),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Accept-Language", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"provider", v.GetString("llm-provider"),
			"model", client.Model(),
			"lang", lang,
			"prompt_variant", promptVariant,
			"store", v.GetString("store"),
		)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runQuestions(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)
	ctx := cmd.Context()

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	subject := strings.TrimSpace(v.GetString("subject"))
	topic := strings.TrimSpace(v.GetString("topic"))
	var keyPoints []string
	for _, kp := range v.GetStringSlice("key-point") {
		if kp = strings.TrimSpace(kp); kp != "" {
			keyPoints = append(keyPoints, kp)
		}
	}
	count := v.GetInt("count")
	if len(keyPoints) == 0 {
		return fmt.Errorf("%w: at least one --key-point is required", model.ErrValidation)
	}
	if count < model.MinQuestions || count > model.MaxQuestions {
		return fmt.Errorf("%w: --count must be between %d and %d", model.ErrValidation, model.MinQuestions, model.MaxQuestions)
	}

	client, release, err := newUpstream(ctx, v)
	if err != nil {
		return err
	}
	defer release()

	questions, err := generate.New(client).Generate(ctx, subject, topic, keyPoints, count)
	if err != nil {
		return fmt.Errorf("generate questions: %w", err)
	}

	set := model.QuestionSet{
		Subject:   subject,
		Topic:     topic,
		KeyPoints: keyPoints,
		Model:     client.Model(),
		Questions: questions,
	}
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	slog.Info("wrote question set", "output", outPath, "count", len(questions))
	return nil
}
