package transcription

import (
	"math"
	"strings"
)

// speechToTextResponse is the subset of the ElevenLabs speech-to-text body the pipeline reads.
type speechToTextResponse struct {
	LanguageCode        string      `json:"language_code"`
	LanguageProbability float64     `json:"language_probability"`
	Text                string      `json:"text"`
	Words               []wordToken `json:"words"`
}

type wordToken struct {
	Text      string   `json:"text"`
	Start     float64  `json:"start"`
	End       float64  `json:"end"`
	Type      string   `json:"type"`
	SpeakerID string   `json:"speaker_id"`
	Logprob   *float64 `json:"logprob"`
}

const (
	tokenWord       = "word"
	tokenSpacing    = "spacing"
	tokenAudioEvent = "audio_event"
)

// confidence averages per-word probabilities, falling back to the language probability.
func (r speechToTextResponse) confidence() *float64 {
	if c, ok := meanWordProbability(r.Words); ok {
		return &c
	}
	if r.LanguageProbability > 0 {
		c := clamp01(r.LanguageProbability)
		return &c
	}
	return nil
}

func (r speechToTextResponse) duration() float64 {
	var end float64
	for _, w := range r.Words {
		end = max(end, w.End)
	}
	return end
}

func (r speechToTextResponse) firstEmotion() string {
	for _, w := range r.Words {
		if w.Type == tokenAudioEvent {
			return strings.Trim(strings.TrimSpace(w.Text), "()[]")
		}
	}
	return ""
}

func (r speechToTextResponse) firstSpeaker() string {
	for _, w := range r.Words {
		if w.Type == tokenWord && w.SpeakerID != "" {
			return w.SpeakerID
		}
	}
	return ""
}

// segments groups consecutive tokens by speaker.
func (r speechToTextResponse) segments() []Segment {
	var out []Segment
	var current []wordToken
	flush := func() {
		if seg, ok := buildSegment(current); ok {
			out = append(out, seg)
		}
		current = nil
	}

	for _, w := range r.Words {
		if w.Type == tokenWord && len(current) > 0 && w.SpeakerID != segmentSpeaker(current) {
			flush()
		}
		current = append(current, w)
	}
	flush()
	return out
}

func segmentSpeaker(tokens []wordToken) string {
	for _, t := range tokens {
		if t.Type == tokenWord {
			return t.SpeakerID
		}
	}
	return ""
}

func buildSegment(tokens []wordToken) (Segment, bool) {
	var words []wordToken
	var b strings.Builder
	for _, t := range tokens {
		switch t.Type {
		case tokenWord:
			words = append(words, t)
			b.WriteString(t.Text)
		case tokenSpacing:
			b.WriteString(t.Text)
		}
	}
	if len(words) == 0 {
		return Segment{}, false
	}

	seg := Segment{
		Start:     words[0].Start,
		End:       words[len(words)-1].End,
		Text:      strings.TrimSpace(b.String()),
		SpeakerID: words[0].SpeakerID,
	}
	if c, ok := meanWordProbability(words); ok {
		seg.Confidence = &c
	}
	return seg, true
}

func meanWordProbability(tokens []wordToken) (float64, bool) {
	var sum float64
	var n int
	for _, t := range tokens {
		if t.Type != tokenWord || t.Logprob == nil {
			continue
		}
		sum += math.Exp(*t.Logprob)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return clamp01(sum / float64(n)), true
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return min(v, 1)
}
