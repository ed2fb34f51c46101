// Package transcription validates candidate audio and turns it into text through a speech-to-text backend.
package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/neoclaw-ai/interviewer/internal/config"
	"github.com/neoclaw-ai/interviewer/internal/costs"
	"github.com/neoclaw-ai/interviewer/internal/logging"
	"github.com/neoclaw-ai/interviewer/internal/metrics"
	"github.com/neoclaw-ai/interviewer/internal/providererr"
)

const providerName = "elevenlabs"

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Options tunes one transcription call.
type Options struct {
	ModelID          string
	LanguageCode     string
	Temperature      float64
	WordBoost        []string
	EmotionDetection bool
	SpeakerDetection bool
}

// Segment is a contiguous stretch of speech from one speaker.
type Segment struct {
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
	SpeakerID  string   `json:"speaker_id,omitempty"`
}

// Result is a normalized transcript. Empty Text is a valid result.
type Result struct {
	Text            string        `json:"text"`
	Confidence      *float64      `json:"confidence,omitempty"`
	Language        string        `json:"language,omitempty"`
	Segments        []Segment     `json:"segments,omitempty"`
	Emotion         string        `json:"emotion,omitempty"`
	SpeakerID       string        `json:"speaker_id,omitempty"`
	DurationSeconds float64       `json:"duration_seconds,omitempty"`
	CostUSD         float64       `json:"cost_usd,omitempty"`
	ProcessingTime  time.Duration `json:"processing_time"`
}

// UsageSink receives one record per successful transcription.
type UsageSink interface {
	Append(ctx context.Context, rec costs.Record) error
}

// PipelineOptions carries optional collaborators for a Pipeline.
type PipelineOptions struct {
	HTTPClient *http.Client
	Metrics    *metrics.Collector
	Sink       UsageSink
	Logger     *slog.Logger
}

// Pipeline transcribes audio through an ElevenLabs speech-to-text endpoint.
type Pipeline struct {
	cfg        config.TranscriptionConfig
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.Collector
	sink       UsageSink
	logger     *slog.Logger
}

// NewPipeline returns a pipeline for cfg.
func NewPipeline(cfg config.TranscriptionConfig, opts PipelineOptions) *Pipeline {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Pipeline{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		metrics:    opts.Metrics,
		sink:       opts.Sink,
		logger:     logging.Component(opts.Logger, "transcription"),
	}
}

// DefaultOptions returns the options configured for the backend.
func (p *Pipeline) DefaultOptions() Options {
	return Options{
		ModelID:      p.cfg.ModelID,
		LanguageCode: p.cfg.LanguageCode,
		Temperature:  p.cfg.Temperature,
	}
}

// Transcribe validates audio locally, sends it to the backend and normalizes the transcript.
func (p *Pipeline) Transcribe(ctx context.Context, audio AudioAsset, opts Options) (*Result, error) {
	start := time.Now()
	res, err := p.transcribe(ctx, audio, opts)
	elapsed := time.Since(start)

	if err != nil {
		classified := providererr.Classify(providerName, err)
		p.metrics.ObserveTranscription(providerName, elapsed, string(classified.Kind))
		p.logger.Warn("transcription failed",
			"kind", classified.Kind,
			"filename", audio.Filename,
			"bytes", audio.size(),
			"elapsed", elapsed.Round(time.Millisecond),
			"error", classified.Message,
		)
		return nil, classified
	}

	res.ProcessingTime = elapsed
	p.metrics.ObserveTranscription(providerName, elapsed, "")
	p.logger.Info("transcription complete",
		"filename", audio.Filename,
		"bytes", audio.size(),
		"chars", len(res.Text),
		"audio_seconds", res.DurationSeconds,
		"elapsed", elapsed.Round(time.Millisecond),
	)

	if p.sink != nil {
		rec := costs.Record{
			Timestamp:    start,
			Kind:         costs.KindTranscription,
			Provider:     providerName,
			Model:        opts.ModelID,
			AudioSeconds: res.DurationSeconds,
			CostUSD:      res.CostUSD,
		}
		if err := p.sink.Append(context.WithoutCancel(ctx), rec); err != nil {
			p.logger.Warn("record transcription usage", "error", err)
		}
	}
	return res, nil
}

func (p *Pipeline) transcribe(ctx context.Context, audio AudioAsset, opts Options) (*Result, error) {
	if err := validateAudio(audio, p.cfg.MaxFileSize, p.cfg.AllowedExtensions); err != nil {
		return nil, err
	}
	opts = p.withDefaults(opts)
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, fmt.Errorf("elevenlabs: %w", providererr.ErrMissingAPIKey)
	}

	body, contentType, err := buildSpeechToTextForm(audio, opts)
	if err != nil {
		return nil, err
	}

	if p.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
	}

	parsed, err := p.postSpeechToText(ctx, body, contentType)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Text:            strings.TrimSpace(parsed.Text),
		Confidence:      parsed.confidence(),
		Language:        parsed.LanguageCode,
		Segments:        parsed.segments(),
		DurationSeconds: parsed.duration(),
	}
	if opts.EmotionDetection {
		res.Emotion = parsed.firstEmotion()
	}
	if opts.SpeakerDetection {
		res.SpeakerID = parsed.firstSpeaker()
	}
	res.CostUSD = costs.EstimateTranscriptionUSD(res.DurationSeconds, p.cfg.PricePerHour)
	return res, nil
}

func (p *Pipeline) withDefaults(opts Options) Options {
	if strings.TrimSpace(opts.ModelID) == "" {
		opts.ModelID = p.cfg.ModelID
	}
	if strings.TrimSpace(opts.LanguageCode) == "" {
		opts.LanguageCode = p.cfg.LanguageCode
	}
	return opts
}

func validateOptions(opts Options) error {
	if strings.TrimSpace(opts.ModelID) == "" {
		return providererr.New(providererr.KindInvalidRequest, "", "model_id is required")
	}
	if opts.Temperature < 0 || opts.Temperature > 1 {
		return providererr.Newf(providererr.KindInvalidRequest, "", "temperature %v outside [0, 1]", opts.Temperature)
	}
	return nil
}

func buildSpeechToTextForm(audio AudioAsset, opts Options) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(audio.Filename)))
	header.Set("Content-Type", audio.ContentType)
	filePart, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create file form field: %w", err)
	}
	if _, err := filePart.Write(audio.Data); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}

	fields := [][2]string{
		{"model_id", opts.ModelID},
		{"temperature", strconv.FormatFloat(opts.Temperature, 'f', -1, 64)},
		{"tag_audio_events", strconv.FormatBool(opts.EmotionDetection)},
		{"diarize", strconv.FormatBool(opts.SpeakerDetection)},
	}
	if opts.LanguageCode != "" {
		fields = append(fields, [2]string{"language_code", opts.LanguageCode})
	}
	for _, term := range opts.WordBoost {
		if term = strings.TrimSpace(term); term != "" {
			fields = append(fields, [2]string{"keyterms", term})
		}
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write %s field: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

func (p *Pipeline) postSpeechToText(ctx context.Context, body *bytes.Buffer, contentType string) (*speechToTextResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/speech-to-text", body)
	if err != nil {
		return nil, fmt.Errorf("build speech-to-text request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", contentType)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("speech-to-text request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech-to-text response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &providererr.StatusError{
			StatusCode: httpResp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil, fmt.Errorf("empty speech-to-text body: %w", providererr.ErrMalformedResponse)
	}

	var parsed speechToTextResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode speech-to-text response: %w", err)
	}
	return &parsed, nil
}

// IsServiceAvailable probes the model listing endpoint. It never fails.
func (p *Pipeline) IsServiceAvailable(ctx context.Context) bool {
	if strings.TrimSpace(p.cfg.APIKey) == "" || p.baseURL == "" {
		return false
	}
	if p.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	httpReq.Header.Set("xi-api-key", p.cfg.APIKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.logger.Debug("speech-to-text probe failed", "error", err)
		return false
	}
	defer httpResp.Body.Close()
	_, _ = io.Copy(io.Discard, httpResp.Body)
	return httpResp.StatusCode >= 200 && httpResp.StatusCode < 300
}
