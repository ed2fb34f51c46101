package config

import "path/filepath"

const (
	// Layout under INTERVIEWER_HOME.
	ConfigFilePath  = "config.toml"
	DataDirPath     = "data"
	LogsDirPath     = "logs"
	SessionsDirPath = "sessions"
	CostsFileName   = "costs.jsonl"
	QuestionsFile   = "questions.txt"
)

func homeConfigPath(home string) string {
	return filepath.Join(home, ConfigFilePath)
}

func defaultHomePath(home string) string {
	return filepath.Join(home, ".interviewer")
}

// ConfigPath returns the config file location.
func (c *Config) ConfigPath() string {
	return homeConfigPath(c.HomeDir)
}

// DataDir returns the runtime data directory.
func (c *Config) DataDir() string {
	return filepath.Join(c.HomeDir, DataDirPath)
}

// LogsDir returns the ledger directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir(), LogsDirPath)
}

// CostsPath returns the JSONL cost ledger path.
func (c *Config) CostsPath() string {
	return filepath.Join(c.LogsDir(), CostsFileName)
}

// SessionsDir returns the directory holding per-session message logs.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.DataDir(), SessionsDirPath)
}

// SessionLogPath returns the message log path for one interview session.
func (c *Config) SessionLogPath(sessionID string) string {
	return filepath.Join(c.SessionsDir(), sessionID+".jsonl")
}

// QuestionsPath returns the default question bank used by `interviewer run`.
func (c *Config) QuestionsPath() string {
	return filepath.Join(c.HomeDir, QuestionsFile)
}
