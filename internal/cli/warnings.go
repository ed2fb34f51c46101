package cli

import (
	"strings"

	"github.com/neoclaw-ai/interviewer/internal/config"
	"github.com/neoclaw-ai/interviewer/internal/logging"
)

// Emit startup warnings derived from non-fatal config conditions.
func warnStartupConditions(cfg *config.Config) {
	if cfg == nil {
		return
	}

	for _, name := range cfg.LLMProfileNames() {
		if strings.TrimSpace(cfg.LLM[name].APIKey) == "" {
			logging.Logger().Warn("llm profile has no api_key; generation calls will fail with API_KEY_MISSING", "profile", name)
		}
	}
	if strings.TrimSpace(cfg.Transcription.APIKey) == "" {
		logging.Logger().Warn("transcription.api_key is empty; transcription calls will fail with API_KEY_MISSING")
	}
	if cfg.Telegram.Token != "" && len(cfg.Telegram.AllowedUsers) == 0 {
		logging.Logger().Warn("telegram.allowed_users is empty; no one can start a Telegram interview")
	}
}
