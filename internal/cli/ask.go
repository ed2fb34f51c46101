package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/neoclaw-ai/interviewer/internal/costs"
	"github.com/neoclaw-ai/interviewer/internal/logging"
	"github.com/neoclaw-ai/interviewer/internal/provider"
	"github.com/neoclaw-ai/interviewer/internal/usage"
	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	var (
		prompt      string
		system      string
		profile     string
		count       int
		maxTokens   int
		temperature float64
	)

	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Generate text through an LLM profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			trimmed := strings.TrimSpace(prompt)
			if trimmed == "" {
				return fmt.Errorf("prompt is required (-p)")
			}
			if count < 1 {
				return fmt.Errorf("count must be >= 1, got %d", count)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			llmCfg := cfg.LLMProfile(profile)
			router, err := routerFactory(llmCfg, provider.RouterOptions{
				Sink:   costs.New(cfg.CostsPath()),
				Logger: logging.Logger(),
			})
			if err != nil {
				return err
			}

			req := provider.GenerationRequest{
				SystemPrompt: system,
				Prompt:       trimmed,
				MaxTokens:    maxTokens,
			}
			if req.MaxTokens == 0 {
				req.MaxTokens = llmCfg.MaxTokens
			}
			if cmd.Flags().Changed("temperature") {
				req.Temperature = temperature
			} else {
				req.Temperature = llmCfg.Temperature
			}

			var results []provider.GenerationResult
			if count == 1 {
				res, err := router.Generate(cmd.Context(), req)
				if err != nil {
					return err
				}
				results = append(results, *res)
			} else {
				results, err = router.GenerateList(cmd.Context(), req, count)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			for i, res := range results {
				if len(results) > 1 {
					fmt.Fprintf(out, "[%d] ", i+1)
				}
				fmt.Fprintln(out, res.Text)
			}
			writeUsageSnapshot(cmd.ErrOrStderr(), router.UsageStats())
			return nil
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Prompt message")
	cmd.Flags().StringVar(&system, "system", "", "System prompt")
	cmd.Flags().StringVar(&profile, "profile", "default", "LLM profile name under [llm]")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of independent completions")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Max output tokens (0 uses the profile setting)")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "Sampling temperature (defaults to the profile setting)")

	return cmd
}

func writeUsageSnapshot(w io.Writer, stats usage.Stats) {
	fmt.Fprintf(
		w,
		"usage: provider=%s requests=%d ok=%d failed=%d tokens=%d (in %d, out %d) avg=%.0fms cost=$%.6f\n",
		stats.Provider,
		stats.TotalRequests,
		stats.SuccessfulRequests,
		stats.FailedRequests,
		stats.TotalTokens,
		stats.InputTokens,
		stats.OutputTokens,
		stats.AverageResponseTimeMs,
		stats.EstimatedCostUSD,
	)
}
