package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/neoclaw-ai/interviewer/internal/config"
	"github.com/neoclaw-ai/interviewer/internal/costs"
	"github.com/neoclaw-ai/interviewer/internal/logging"
	"github.com/neoclaw-ai/interviewer/internal/metrics"
	"github.com/neoclaw-ai/interviewer/internal/transcription"
	"github.com/spf13/cobra"
)

func newTranscribeCmd() *cobra.Command {
	var (
		language string
		modelID  string
		keyterms []string
		emotions bool
		speakers bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe a local audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			audio, err := readAudioFile(args[0])
			if err != nil {
				return err
			}

			pipeline := newPipeline(cfg, nil)
			opts := pipeline.DefaultOptions()
			if cmd.Flags().Changed("language") {
				opts.LanguageCode = language
			}
			if cmd.Flags().Changed("model") {
				opts.ModelID = modelID
			}
			opts.WordBoost = keyterms
			opts.EmotionDetection = emotions
			opts.SpeakerDetection = speakers

			res, err := pipeline.Transcribe(cmd.Context(), audio, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				encoded, err := json.MarshalIndent(res, "", "  ")
				if err != nil {
					return fmt.Errorf("encode transcript: %w", err)
				}
				fmt.Fprintln(out, string(encoded))
				return nil
			}

			fmt.Fprintln(out, res.Text)
			if res.Confidence != nil {
				fmt.Fprintf(out, "confidence: %.2f\n", *res.Confidence)
			}
			if res.Emotion != "" {
				fmt.Fprintf(out, "emotion: %s\n", res.Emotion)
			}
			if res.SpeakerID != "" {
				fmt.Fprintf(out, "speaker: %s\n", res.SpeakerID)
			}
			fmt.Fprintf(out, "duration: %.1fs cost: $%.6f\n", res.DurationSeconds, res.CostUSD)
			return nil
		},
	}

	cmd.Flags().StringVar(&language, "language", "", "Language code (defaults to transcription.language_code)")
	cmd.Flags().StringVar(&modelID, "model", "", "Speech-to-text model (defaults to transcription.model_id)")
	cmd.Flags().StringSliceVar(&keyterms, "keyterm", nil, "Words to bias recognition toward (repeatable)")
	cmd.Flags().BoolVar(&emotions, "emotions", false, "Tag audio events such as laughter")
	cmd.Flags().BoolVar(&speakers, "speakers", false, "Label speakers")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the normalized transcript as JSON")

	return cmd
}

func newPipeline(cfg *config.Config, collector *metrics.Collector) *transcription.Pipeline {
	return transcription.NewPipeline(cfg.Transcription, transcription.PipelineOptions{
		Metrics: collector,
		Sink:    costs.New(cfg.CostsPath()),
		Logger:  logging.Logger(),
	})
}

// readAudioFile loads a local file as an audio asset; format checks happen in the pipeline.
func readAudioFile(path string) (transcription.AudioAsset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return transcription.AudioAsset{}, fmt.Errorf("read audio file %q: %w", path, err)
	}
	name := filepath.Base(path)
	return transcription.AudioAsset{
		Data:        data,
		Size:        int64(len(data)),
		ContentType: transcription.ContentTypeForFilename(name),
		Filename:    name,
	}, nil
}
