package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/neoclaw-ai/interviewer/internal/channels"
	"github.com/neoclaw-ai/interviewer/internal/interview"
	"github.com/neoclaw-ai/interviewer/internal/logging"
	"github.com/neoclaw-ai/interviewer/internal/metrics"
	"github.com/spf13/cobra"
)

func newTelegramCmd() *cobra.Command {
	var questionsPath string

	cmd := &cobra.Command{
		Use:   "telegram",
		Short: "Serve voice interviews over a Telegram bot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Telegram.Validate(); err != nil {
				return fmt.Errorf("telegram: %w", err)
			}
			if questionsPath == "" {
				questionsPath = cfg.QuestionsPath()
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

			channel := channels.NewTelegram(engine, channels.TelegramOptions{
				Token:          cfg.Telegram.Token,
				APIURL:         cfg.Telegram.APIURL,
				AllowedUsers:   cfg.Telegram.AllowedUsers,
				QuestionIDs:    ids,
				TranscriptPath: cfg.SessionLogPath,
				MaxAudioBytes:  cfg.Transcription.MaxFileSize,
				Logger:         logging.Logger(),
			})
			logging.Logger().Info("starting telegram channel", "questions", len(ids), "allowed_users", len(cfg.Telegram.AllowedUsers))
			return channel.Listen(runCtx)
		},
	}

	cmd.Flags().StringVarP(&questionsPath, "questions", "q", "", "Question bank file (defaults to questions.txt in the home dir)")
	return cmd
}
