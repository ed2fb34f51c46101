package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neoclaw-ai/interviewer/internal/config"
	"github.com/neoclaw-ai/interviewer/internal/costs"
	"github.com/neoclaw-ai/interviewer/internal/interview"
	"github.com/neoclaw-ai/interviewer/internal/logging"
	"github.com/neoclaw-ai/interviewer/internal/metrics"
	"github.com/neoclaw-ai/interviewer/internal/provider"
	"github.com/neoclaw-ai/interviewer/internal/transcript"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		questionsPath string
		metricsAddr   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an interactive voice interview",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if questionsPath == "" {
				questionsPath = cfg.QuestionsPath()
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Metrics.Addr = metricsAddr
			}

			bank, ids, err := loadQuestionBank(questionsPath)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			collector := metrics.New()
			if cfg.Metrics.Addr != "" {
				shutdown, err := serveMetrics(cfg.Metrics.Addr, collector)
				if err != nil {
					return err
				}
				defer shutdown()
			}

			source, err := questionSource(cfg, bank, collector)
			if err != nil {
				return err
			}
			pipeline := newPipeline(cfg, collector)
			engine := interview.NewEngine(cfg.Interview, source, pipeline, interview.EngineOptions{
				TranscriptionOptions: pipeline.DefaultOptions(),
				Metrics:              collector,
				Logger:               logging.Logger(),
			})
			defer engine.Close()

			logging.Logger().Info(
				"starting interview",
				"questions", len(ids),
				"source", cfg.Interview.QuestionSource,
				"timeout_policy", cfg.Interview.TimeoutPolicy,
				"home", cfg.HomeDir,
			)

			channel := newPromptChannel(cmd.InOrStdin(), cmd.OutOrStdout(), replHistoryPath(cfg.DataDir()))
			if closer, ok := channel.(io.Closer); ok {
				defer closer.Close()
			}

			sessionID, err := engine.StartSession(runCtx, ids...)
			if err != nil {
				return err
			}
			messages, err := engine.Messages(sessionID)
			if err != nil {
				return err
			}

			store := transcript.New(cfg.SessionLogPath(sessionID))
			finished := make(chan error, 1)
			go func() {
				// Recording outlives an interrupt so the closing messages are persisted.
				finished <- store.Record(context.WithoutCancel(runCtx), messages, func(m interview.Message) {
					channel.WriteMeta(runCtx, formatMessage(m))
				})
			}()

			if err := channel.WriteMeta(runCtx, replHelp); err != nil {
				return err
			}
			repl := &interviewREPL{engine: engine, sessionID: sessionID, channel: channel}
			if err := repl.run(runCtx, finished); err != nil {
				return err
			}
			return channel.WriteMeta(runCtx, "Transcript saved to "+store.Path())
		},
	}

	cmd.Flags().StringVarP(&questionsPath, "questions", "q", "", "Question bank file (defaults to questions.txt in the home dir)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.addr)")

	return cmd
}

func loadQuestionBank(path string) (interview.QuestionBank, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open question bank %q: %w", path, err)
	}
	defer f.Close()

	bank, ids, err := interview.ParseQuestionBank(f)
	if err != nil {
		return nil, nil, fmt.Errorf("question bank %q: %w", path, err)
	}
	return bank, ids, nil
}

// questionSource returns the bank itself, or an LLM phrasing of each entry when
// interview.question_source is "generated".
func questionSource(cfg *config.Config, bank interview.QuestionBank, collector *metrics.Collector) (interview.QuestionSource, error) {
	if cfg.Interview.QuestionSource != config.QuestionSourceGenerated {
		return bank, nil
	}
	router, err := routerFactory(cfg.LLMProfile(cfg.Interview.LLMProfile), provider.RouterOptions{
		Metrics: collector,
		Sink:    costs.New(cfg.CostsPath()),
		Logger:  logging.Logger(),
	})
	if err != nil {
		return nil, err
	}
	return &interview.GeneratedQuestions{
		Generator:   router,
		Topics:      bank,
		MaxTokens:   cfg.Interview.QuestionMaxTokens,
		Temperature: cfg.Interview.QuestionTemperature,
	}, nil
}

// serveMetrics exposes the collector over HTTP until the returned shutdown func runs.
func serveMetrics(addr string, collector *metrics.Collector) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on metrics addr %q: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Logger().Error("metrics server stopped", "err", err)
		}
	}()
	logging.Logger().Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}
