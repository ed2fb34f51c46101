package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/neoclaw-ai/interviewer/internal/logging"
	"github.com/neoclaw-ai/interviewer/internal/provider"
	"github.com/spf13/cobra"
)

const probeTimeout = 10 * time.Second

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Probe every configured LLM profile and the speech-to-text backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			down := 0
			for _, name := range cfg.LLMProfileNames() {
				llmCfg := cfg.LLMProfile(name)
				router, err := routerFactory(llmCfg, provider.RouterOptions{Logger: logging.Logger()})
				if err != nil {
					return err
				}
				ok := probe(cmd.Context(), router.IsAvailable)
				if !ok {
					down++
				}
				info := router.ModelInfo()
				fmt.Fprintf(out, "llm.%s (%s/%s): %s\n", name, info.Provider, info.Model, availability(ok))
			}

			ok := probe(cmd.Context(), newPipeline(cfg, nil).IsServiceAvailable)
			if !ok {
				down++
			}
			fmt.Fprintf(out, "transcription (%s/%s): %s\n", cfg.Transcription.Provider, cfg.Transcription.ModelID, availability(ok))

			if down > 0 {
				return fmt.Errorf("%d backend(s) unavailable", down)
			}
			return nil
		},
	}
}

func probe(ctx context.Context, fn func(context.Context) bool) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return fn(ctx)
}

func availability(ok bool) string {
	if ok {
		return "available"
	}
	return "unavailable"
}
