package transcription

import (
	"context"
	"io"
	"math"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neoclaw-ai/interviewer/internal/config"
	"github.com/neoclaw-ai/interviewer/internal/costs"
	"github.com/neoclaw-ai/interviewer/internal/providererr"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) config.TranscriptionConfig {
	return config.TranscriptionConfig{
		Provider:          "elevenlabs",
		APIKey:            "xi-test",
		BaseURL:           baseURL,
		ModelID:           "scribe_v1",
		LanguageCode:      "en",
		MaxFileSize:       1024,
		AllowedExtensions: []string{"mp3", "wav"},
		RequestTimeout:    5 * time.Second,
		PricePerHour:      0.36,
	}
}

func testAudio() AudioAsset {
	data := []byte("fake-audio-bytes")
	return AudioAsset{Data: data, Size: int64(len(data)), ContentType: "audio/mpeg", Filename: "answer.mp3"}
}

type capturedRequest struct {
	apiKey   string
	fields   map[string][]string
	fileName string
	fileType string
	fileData string
}

func parseForm(t *testing.T, r *http.Request) capturedRequest {
	t.Helper()
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data", mediaType)

	got := capturedRequest{apiKey: r.Header.Get("xi-api-key"), fields: map[string][]string{}}
	reader := multipart.NewReader(r.Body, params["boundary"])
	for {
		part, err := reader.NextPart()
		if err != nil {
			break
		}
		data, _ := io.ReadAll(part)
		if part.FormName() == "file" {
			got.fileName = part.FileName()
			got.fileType = part.Header.Get("Content-Type")
			got.fileData = string(data)
			continue
		}
		got.fields[part.FormName()] = append(got.fields[part.FormName()], string(data))
	}
	return got
}

type recordingSink struct {
	mu      sync.Mutex
	records []costs.Record
}

func (s *recordingSink) Append(_ context.Context, rec costs.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func TestTranscribe_RequestAndNormalization(t *testing.T) {
	var got capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/speech-to-text", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		got = parseForm(t, r)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"language_code": "en",
			"language_probability": 0.97,
			"text": "  Hello there. Hi!  ",
			"words": [
				{"text": "(laughter)", "start": 0.0, "end": 0.4, "type": "audio_event"},
				{"text": "Hello", "start": 0.5, "end": 0.9, "type": "word", "speaker_id": "speaker_0", "logprob": 0},
				{"text": " ", "start": 0.9, "end": 1.0, "type": "spacing", "speaker_id": "speaker_0"},
				{"text": "there.", "start": 1.0, "end": 1.4, "type": "word", "speaker_id": "speaker_0", "logprob": -0.6931471805599453},
				{"text": " ", "start": 1.4, "end": 1.5, "type": "spacing", "speaker_id": "speaker_1"},
				{"text": "Hi!", "start": 1.5, "end": 10.0, "type": "word", "speaker_id": "speaker_1", "logprob": 0}
			]
		}`))
	}))
	defer srv.Close()

	sink := &recordingSink{}
	p := NewPipeline(testConfig(srv.URL+"/v1"), PipelineOptions{HTTPClient: srv.Client(), Sink: sink})

	opts := p.DefaultOptions()
	opts.WordBoost = []string{"goroutine", "channel"}
	opts.EmotionDetection = true
	opts.SpeakerDetection = true

	res, err := p.Transcribe(context.Background(), testAudio(), opts)
	require.NoError(t, err)

	require.Equal(t, "xi-test", got.apiKey)
	require.Equal(t, "answer.mp3", got.fileName)
	require.Equal(t, "audio/mpeg", got.fileType)
	require.Equal(t, "fake-audio-bytes", got.fileData)
	require.Equal(t, []string{"scribe_v1"}, got.fields["model_id"])
	require.Equal(t, []string{"en"}, got.fields["language_code"])
	require.Equal(t, []string{"0"}, got.fields["temperature"])
	require.Equal(t, []string{"true"}, got.fields["tag_audio_events"])
	require.Equal(t, []string{"true"}, got.fields["diarize"])
	require.Equal(t, []string{"goroutine", "channel"}, got.fields["keyterms"])

	require.Equal(t, "Hello there. Hi!", res.Text)
	require.Equal(t, "en", res.Language)
	require.NotNil(t, res.Confidence)
	require.InDelta(t, (1+0.5+1)/3.0, *res.Confidence, 1e-9)
	require.Equal(t, "laughter", res.Emotion)
	require.Equal(t, "speaker_0", res.SpeakerID)
	require.Equal(t, 10.0, res.DurationSeconds)
	require.InDelta(t, 0.001, res.CostUSD, 1e-9)
	require.Positive(t, res.ProcessingTime)

	require.Len(t, res.Segments, 2)
	require.Equal(t, "Hello there.", res.Segments[0].Text)
	require.Equal(t, "speaker_0", res.Segments[0].SpeakerID)
	require.Equal(t, 0.5, res.Segments[0].Start)
	require.Equal(t, 1.4, res.Segments[0].End)
	require.InDelta(t, 0.75, *res.Segments[0].Confidence, 1e-9)
	require.Equal(t, "Hi!", res.Segments[1].Text)
	require.Equal(t, "speaker_1", res.Segments[1].SpeakerID)

	require.Len(t, sink.records, 1)
	require.Equal(t, costs.KindTranscription, sink.records[0].Kind)
	require.Equal(t, 10.0, sink.records[0].AudioSeconds)
}

func TestTranscribe_OversizeAudioFailsBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	p := NewPipeline(testConfig(srv.URL), PipelineOptions{HTTPClient: srv.Client()})
	audio := testAudio()
	audio.Data = make([]byte, 2048)
	audio.Size = 2048

	_, err := p.Transcribe(context.Background(), audio, p.DefaultOptions())
	require.True(t, providererr.Is(err, providererr.KindInvalidRequest), "got %v", err)
	require.Zero(t, calls.Load())
}

func TestTranscribe_LocalValidationFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	p := NewPipeline(testConfig(srv.URL), PipelineOptions{HTTPClient: srv.Client()})

	cases := []struct {
		name   string
		mutate func(*AudioAsset, *Options)
	}{
		{name: "empty audio", mutate: func(a *AudioAsset, _ *Options) { a.Data = nil; a.Size = 0 }},
		{name: "declared size too large", mutate: func(a *AudioAsset, _ *Options) { a.Size = 4096 }},
		{name: "non-audio content type", mutate: func(a *AudioAsset, _ *Options) { a.ContentType = "video/mp4" }},
		{name: "missing content type", mutate: func(a *AudioAsset, _ *Options) { a.ContentType = "" }},
		{name: "extension not allowed", mutate: func(a *AudioAsset, _ *Options) { a.Filename = "answer.flac" }},
		{name: "no extension", mutate: func(a *AudioAsset, _ *Options) { a.Filename = "answer" }},
		{name: "temperature", mutate: func(_ *AudioAsset, o *Options) { o.Temperature = 1.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			audio := testAudio()
			opts := p.DefaultOptions()
			tc.mutate(&audio, &opts)

			_, err := p.Transcribe(context.Background(), audio, opts)
			require.True(t, providererr.Is(err, providererr.KindInvalidRequest), "got %v", err)
		})
	}
	require.Zero(t, calls.Load())
}

func TestTranscribe_MissingKeyFailsBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.APIKey = ""
	p := NewPipeline(cfg, PipelineOptions{HTTPClient: srv.Client()})

	_, err := p.Transcribe(context.Background(), testAudio(), p.DefaultOptions())
	require.True(t, providererr.Is(err, providererr.KindAPIKeyMissing), "got %v", err)
	require.False(t, p.IsServiceAvailable(context.Background()))
	require.Zero(t, calls.Load())
}

func TestTranscribe_EmptyTextIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"language_code":"en","language_probability":0.4,"text":"   ","words":[]}`))
	}))
	defer srv.Close()

	p := NewPipeline(testConfig(srv.URL), PipelineOptions{HTTPClient: srv.Client()})
	res, err := p.Transcribe(context.Background(), testAudio(), p.DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, "", res.Text)
	require.Empty(t, res.Segments)
	require.NotNil(t, res.Confidence)
	require.InDelta(t, 0.4, *res.Confidence, 1e-9)
}

func TestTranscribe_ClassifiesBackendFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   providererr.Kind
	}{
		{name: "rate limit", status: http.StatusTooManyRequests, body: `{"detail":"too many"}`, want: providererr.KindRateLimitExceeded},
		{name: "server error", status: http.StatusInternalServerError, body: `upstream exploded`, want: providererr.KindAPIUnavailable},
		{name: "bad request", status: http.StatusUnprocessableEntity, body: `{"detail":"bad file"}`, want: providererr.KindInvalidRequest},
		{name: "empty body", status: http.StatusOK, body: ``, want: providererr.KindResponseParsingError},
		{name: "bad json", status: http.StatusOK, body: `{"text":`, want: providererr.KindResponseParsingError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			p := NewPipeline(testConfig(srv.URL), PipelineOptions{HTTPClient: srv.Client()})
			_, err := p.Transcribe(context.Background(), testAudio(), p.DefaultOptions())
			require.Equal(t, tc.want, providererr.KindOf(err), "got %v", err)

			var classified *providererr.Error
			require.ErrorAs(t, err, &classified)
			require.Equal(t, "elevenlabs", classified.Provider)
			if tc.status != http.StatusOK {
				require.Contains(t, classified.Message, tc.body)
			}
		})
	}
}

func TestTranscribe_DoesNotMutateAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	p := NewPipeline(testConfig(srv.URL), PipelineOptions{HTTPClient: srv.Client()})
	audio := testAudio()
	original := string(audio.Data)

	_, err := p.Transcribe(context.Background(), audio, p.DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, original, string(audio.Data))
}

func TestIsServiceAvailable(t *testing.T) {
	var unhealthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models", r.URL.Path)
		require.Equal(t, "xi-test", r.Header.Get("xi-api-key"))
		if unhealthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))

	p := NewPipeline(testConfig(srv.URL), PipelineOptions{HTTPClient: srv.Client()})
	require.True(t, p.IsServiceAvailable(context.Background()))

	unhealthy.Store(true)
	require.False(t, p.IsServiceAvailable(context.Background()))

	srv.Close()
	require.False(t, p.IsServiceAvailable(context.Background()))
}

func TestConfidenceClampedToUnitRange(t *testing.T) {
	positive := 0.5
	resp := speechToTextResponse{Words: []wordToken{{Type: tokenWord, Logprob: &positive}}}
	c := resp.confidence()
	require.NotNil(t, c)
	require.Equal(t, 1.0, *c)

	nan := math.NaN()
	require.Equal(t, 0.0, clamp01(nan))
	require.Nil(t, speechToTextResponse{}.confidence())
}

func TestContentTypeForFilename(t *testing.T) {
	require.Equal(t, "audio/mpeg", ContentTypeForFilename("a.MP3"))
	require.Equal(t, "audio/wav", ContentTypeForFilename("dir/b.wav"))
	require.Equal(t, "application/octet-stream", ContentTypeForFilename("noext"))
}
