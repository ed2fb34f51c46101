// Package bootstrap prepares the interviewer home directory on first run.
package bootstrap

import (
	"fmt"
	"os"

	"github.com/neoclaw-ai/interviewer/internal/config"
)

const defaultQuestions = `# One question per line. "id: text" keeps the id, bare lines are numbered q1, q2, ...
intro: Tell me about a project you are proud of and your role in it.
debugging: Describe the hardest bug you have tracked down and how you found it.
concurrency: How would you explain the difference between concurrency and parallelism?
design: Walk me through how you would design a rate limiter for a public API.
`

// Initialize creates the expected interviewer home tree if missing.
// Existing files are never overwritten.
func Initialize(cfg *config.Config) error {
	dirs := []string{
		cfg.HomeDir,
		cfg.DataDir(),
		cfg.LogsDir(),
		cfg.SessionsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	userConfig, err := config.DefaultUserConfigTOML()
	if err != nil {
		return err
	}

	files := []struct {
		path    string
		content string
		mode    os.FileMode
	}{
		{path: cfg.ConfigPath(), content: userConfig, mode: 0o600},
		{path: cfg.CostsPath(), content: "", mode: 0o644},
		{path: cfg.QuestionsPath(), content: defaultQuestions, mode: 0o644},
	}
	for _, file := range files {
		if err := writeFileIfMissing(file.path, file.content, file.mode); err != nil {
			return err
		}
	}
	return nil
}

func writeFileIfMissing(path, content string, mode os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %q: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return fmt.Errorf("write file %q: %w", path, err)
	}
	return nil
}
