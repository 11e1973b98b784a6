package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/release-tools/cherry-pick-action/internal/labels"
)

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

// Config captures runtime options sourced from GitHub Action inputs or environment variables.
type Config struct {
	GitHubToken     string
	GitHubBaseURL   string
	GitHubUploadURL string
	LabelPrefix     string
	DryRun          bool
	Verbose         bool
	LogLevel        string
	LogFormat       string
	TargetBranches  []string
}

// LoadConfig reads action inputs from the environment, applies defaults, and performs validation.
func LoadConfig() (Config, error) {
	cfg := Config{
		LabelPrefix: strings.TrimSpace(envOrDefault("INPUT_LABEL_PREFIX", labels.DefaultPrefix)),
		LogLevel:    strings.ToLower(strings.TrimSpace(envOrDefault("INPUT_LOG_LEVEL", defaultLogLevel))),
		LogFormat:   strings.ToLower(strings.TrimSpace(envOrDefault("INPUT_LOG_FORMAT", defaultLogFormat))),
	}

	cfg.GitHubToken = strings.TrimSpace(os.Getenv("INPUT_GITHUB_TOKEN"))
	if cfg.GitHubToken == "" {
		cfg.GitHubToken = strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
	}

	cfg.GitHubBaseURL = strings.TrimSpace(os.Getenv("INPUT_GITHUB_BASE_URL"))
	cfg.GitHubUploadURL = strings.TrimSpace(os.Getenv("INPUT_GITHUB_UPLOAD_URL"))

	if rawTargets := strings.TrimSpace(os.Getenv("INPUT_TARGET_BRANCHES")); rawTargets != "" {
		cfg.TargetBranches = parseBranchList(rawTargets)
	}

	var err error
	if cfg.DryRun, err = boolInput("INPUT_DRY_RUN"); err != nil {
		return Config{}, err
	}
	if cfg.Verbose, err = boolInput("INPUT_VERBOSE"); err != nil {
		return Config{}, err
	}

	if cfg.GitHubToken == "" {
		return Config{}, fmt.Errorf("github token is required (set INPUT_GITHUB_TOKEN or GITHUB_TOKEN)")
	}

	if (cfg.GitHubBaseURL == "") != (cfg.GitHubUploadURL == "") {
		return Config{}, fmt.Errorf("INPUT_GITHUB_BASE_URL and INPUT_GITHUB_UPLOAD_URL must both be set for GitHub Enterprise")
	}

	if cfg.LabelPrefix == "" {
		cfg.LabelPrefix = labels.DefaultPrefix
	}

	supportedFormats := map[string]struct{}{"text": {}, "json": {}}
	if _, ok := supportedFormats[cfg.LogFormat]; !ok {
		return Config{}, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return Config{}, err
	}

	if cfg.Verbose {
		cfg.LogLevel = "debug"
	}

	return cfg, nil
}

func boolInput(key string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseBranchList(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})

	branches := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			branches = append(branches, trimmed)
		}
	}

	return branches
}
