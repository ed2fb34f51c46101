// Package costs keeps an append-only JSONL ledger of provider usage and spend.
package costs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/neoclaw-ai/interviewer/internal/store"
)

// Record kinds.
const (
	KindGeneration    = "generation"
	KindTranscription = "transcription"
)

// Record is one persisted usage entry.
type Record struct {
	Timestamp    time.Time `json:"timestamp"`
	Kind         string    `json:"kind"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
	TotalTokens  int       `json:"total_tokens,omitempty"`
	AudioSeconds float64   `json:"audio_seconds,omitempty"`
	CostUSD      float64   `json:"cost_usd"`
}

// Spend holds aggregated spend totals in USD.
type Spend struct {
	TodayUSD   float64
	MonthUSD   float64
	ByProvider map[string]float64
}

// Tracker appends usage records and computes period spend totals.
type Tracker struct {
	path string
}

// New returns a Tracker for the configured costs JSONL path.
func New(path string) *Tracker {
	return &Tracker{path: path}
}

// Append writes one usage record to the JSONL file.
func (t *Tracker) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t == nil || t.path == "" {
		return errors.New("costs path is required")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.Kind == "" {
		rec.Kind = KindGeneration
	}

	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal costs record: %w", err)
	}
	if err := store.AppendFile(t.path, append(encoded, '\n')); err != nil {
		return fmt.Errorf("append costs record: %w", err)
	}
	return nil
}

// Spend returns today's and this month's spend totals in USD.
// Malformed lines are skipped.
func (t *Tracker) Spend(ctx context.Context, now time.Time) (Spend, error) {
	totals := Spend{ByProvider: map[string]float64{}}

	if err := ctx.Err(); err != nil {
		return Spend{}, err
	}
	if t == nil || t.path == "" {
		return Spend{}, errors.New("costs path is required")
	}
	if now.IsZero() {
		now = time.Now()
	}

	lines, err := store.ReadLines(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return totals, nil
	}
	if err != nil {
		return Spend{}, fmt.Errorf("read costs file: %w", err)
	}

	nowLocal := now.In(time.Local)
	todayYear, todayMonth, todayDay := nowLocal.Date()

	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return Spend{}, err
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		y, m, d := rec.Timestamp.In(time.Local).Date()
		if y != todayYear || m != todayMonth {
			continue
		}
		totals.MonthUSD += rec.CostUSD
		totals.ByProvider[rec.Provider] += rec.CostUSD
		if d == todayDay {
			totals.TodayUSD += rec.CostUSD
		}
	}

	return totals, nil
}
