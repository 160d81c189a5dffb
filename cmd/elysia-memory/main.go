package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/linke370/elysia-ai-companion/pkg/conversation"
	conversationSQLite "github.com/linke370/elysia-ai-companion/pkg/conversation/sqlite"
	"github.com/linke370/elysia-ai-companion/pkg/core"
	"github.com/linke370/elysia-ai-companion/pkg/intelligence"
	"github.com/linke370/elysia-ai-companion/pkg/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	envFile          string
	configFile       string
	conversationPath string
	userFlag         string
)

var rootCmd = &cobra.Command{
	Use:   "elysia-memory",
	Short: "elysia-memory - conversation memory fragments",
	Long: "Extracts memory fragments from conversation turns, keeps them within the " +
		"per-user cap and serves relevance-ranked context for replies.",
	SilenceUsage: true,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Record a conversation turn and extract fragments from it",
	RunE:  runIngest,
}

var processCmd = &cobra.Command{
	Use:   "process <conversation-id>",
	Short: "Extract fragments from a recorded conversation turn",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcess,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Re-run extraction over a user's important past turns",
	RunE:  runHistory,
}

var contextCmd = &cobra.Command{
	Use:   "context <query>",
	Short: "Show the fragments relevant to a message",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runContext,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show fragment statistics for a user",
	RunE:  runStats,
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every fragment of a user",
	RunE:  runPurge,
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback <positive|neutral|negative> <fragment-id>...",
	Short: "Adjust fragment importance from a user reaction",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runFeedback,
}

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Serve Prometheus metrics and health",
	RunE:  runServeMetrics,
}

var (
	ingestMessage    string
	ingestResponse   string
	ingestEmotion    string
	ingestConfidence float64
	ingestMeaningful bool
	historyLimit     int
	contextK         int
	contextPrompt    bool
	metricsAddr      string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Path to a .env file (default: search upwards)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a JSON config file")
	rootCmd.PersistentFlags().StringVar(&conversationPath, "conversations", "", "SQLite conversation database (overrides CONVERSATION_DB_PATH)")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "User ID")

	ingestCmd.Flags().StringVarP(&ingestMessage, "message", "m", "", "User message")
	ingestCmd.Flags().StringVar(&ingestResponse, "response", "", "Assistant reply")
	ingestCmd.Flags().StringVar(&ingestEmotion, "emotion", "", "Emotion label (classified when empty)")
	ingestCmd.Flags().Float64Var(&ingestConfidence, "confidence", 0, "Emotion confidence")
	ingestCmd.Flags().BoolVar(&ingestMeaningful, "meaningful", false, "Mark the turn as meaningful")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "Maximum number of past turns")
	contextCmd.Flags().IntVarP(&contextK, "k", "k", 0, "Number of fragments (default from config)")
	contextCmd.Flags().BoolVar(&contextPrompt, "prompt", false, "Print the prompt block instead of JSON")
	serveMetricsCmd.Flags().StringVar(&metricsAddr, "addr", "", "Listen address (default from config)")

	rootCmd.AddCommand(ingestCmd, processCmd, historyCmd, contextCmd, statsCmd, purgeCmd, feedbackCmd, serveMetricsCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves configuration from --config, --env or the environment.
func loadConfig() (*core.Config, error) {
	var (
		cfg *core.Config
		err error
	)
	switch {
	case configFile != "":
		cfg, err = core.LoadConfigFromJSON(configFile)
	case envFile != "":
		cfg, err = core.LoadConfigFromEnvFile(envFile)
	default:
		cfg, err = core.LoadConfigFromEnv()
	}
	if err != nil {
		return nil, err
	}
	if conversationPath != "" {
		cfg.Conversations.DBPath = conversationPath
	}
	return cfg, nil
}

// session is an open client plus the conversation store the CLI writes to.
type session struct {
	client        *core.Client
	conversations *conversationSQLite.Store
}

func (s *session) Close() error {
	err := s.client.Close()
	if s.conversations != nil {
		if cerr := s.conversations.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func openSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	opts := []core.ClientOption{core.WithLogger(logger)}

	s := &session{}
	if cfg.Conversations.DBPath != "" {
		s.conversations, err = conversationSQLite.NewStore(&conversationSQLite.Config{
			DBPath:    cfg.Conversations.DBPath,
			TableName: cfg.Conversations.TableName,
		})
		if err != nil {
			return nil, fmt.Errorf("open conversations: %w", err)
		}
		opts = append(opts, core.WithConversationStore(s.conversations))
	}

	s.client, err = core.NewClient(cfg, opts...)
	if err != nil {
		if s.conversations != nil {
			_ = s.conversations.Close()
		}
		return nil, err
	}
	return s, nil
}

func requireUser() (string, error) {
	if userFlag == "" {
		return "", errors.New("--user is required")
	}
	return userFlag, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	userID, err := requireUser()
	if err != nil {
		return err
	}
	if strings.TrimSpace(ingestMessage) == "" {
		return errors.New("--message is required")
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	conv := &conversation.Conversation{
		UserID:            userID,
		UserMessage:       ingestMessage,
		AIResponse:        ingestResponse,
		EmotionLabel:      ingestEmotion,
		EmotionConfidence: ingestConfidence,
		Meaningful:        ingestMeaningful,
		CreatedAt:         time.Now(),
	}

	if s.conversations != nil {
		id, err := s.conversations.SaveConversation(cmd.Context(), conv)
		if err != nil {
			return err
		}
		conv.ID = id
	}

	result, err := s.client.ProcessTurn(cmd.Context(), conv)
	if err != nil {
		return err
	}
	s.client.Wait()
	return printJSON(cmd.OutOrStdout(), result)
}

func runProcess(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid conversation id %q", args[0])
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	result, err := s.client.ProcessConversation(cmd.Context(), id)
	if err != nil {
		return err
	}
	s.client.Wait()
	return printJSON(cmd.OutOrStdout(), result)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	userID, err := requireUser()
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	result, err := s.client.ExtractHistorical(cmd.Context(), userID, historyLimit)
	if err != nil {
		return err
	}
	s.client.Wait()
	return printJSON(cmd.OutOrStdout(), result)
}

func runContext(cmd *cobra.Command, args []string) error {
	userID, err := requireUser()
	if err != nil {
		return err
	}
	query := strings.Join(args, " ")

	s, err := openSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	var opts []core.ContextOption
	if contextK > 0 {
		opts = append(opts, core.WithK(contextK))
	}

	if contextPrompt {
		block, err := s.client.BuildContext(cmd.Context(), userID, query, opts...)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), block)
		return err
	}

	frags, err := s.client.GetContextual(cmd.Context(), userID, query, opts...)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), frags)
}

func runStats(cmd *cobra.Command, _ []string) error {
	userID, err := requireUser()
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	stats, err := s.client.GetStats(cmd.Context(), userID)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), stats)
}

func runPurge(cmd *cobra.Command, _ []string) error {
	userID, err := requireUser()
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	n, err := s.client.PurgeUser(cmd.Context(), userID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "purged %d fragments of %s\n", n, userID)
	return err
}

func runFeedback(cmd *cobra.Command, args []string) error {
	userID, err := requireUser()
	if err != nil {
		return err
	}
	fb, err := intelligence.ParseFeedback(args[0])
	if err != nil {
		return err
	}

	ids := make([]int64, 0, len(args)-1)
	for _, arg := range args[1:] {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid fragment id %q", arg)
		}
		ids = append(ids, id)
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	updated, err := s.client.RecordFeedback(cmd.Context(), userID, ids, fb)
	if err != nil {
		return err
	}
	s.client.Wait()
	return printJSON(cmd.OutOrStdout(), updated)
}

func runServeMetrics(cmd *cobra.Command, _ []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	addr := metricsAddr
	if addr == "" {
		addr = s.client.Config().Metrics.Addr
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h := s.client.HealthCheck(r.Context())
		if !h.StoreOK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = printJSON(w, map[string]interface{}{
			"health": h,
			"cache":  s.client.CacheStats(r.Context()),
		})
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.ErrOrStderr(), "serving metrics on %s\n", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
