package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// TaskExample is a suggested task shown by the chat UI.
type TaskExample struct {
	Title string `yaml:"title"`
	Task  string `yaml:"task"`
}

// DefaultExamples are written by `webpilot init`.
var DefaultExamples = []TaskExample{
	{Title: "College programs", Task: "Search computer science programs at Collège Boréal"},
	{Title: "AI news", Task: "Find the latest news about AI"},
	{Title: "Weather", Task: "Check the weather in Sudbury"},
}

// LoadExamples reads task suggestions from a YAML file. A missing file is
// not an error; the UI simply shows no suggestions.
func LoadExamples(path string, logger *slog.Logger) ([]TaskExample, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("examples file does not exist, skipping", "path", path)
			return nil, nil
		}
		return nil, fmt.Errorf("read examples file: %w", err)
	}

	var examples []TaskExample
	if err := yaml.Unmarshal(data, &examples); err != nil {
		return nil, fmt.Errorf("parse examples file %s: %w", path, err)
	}

	out := examples[:0]
	for _, ex := range examples {
		if ex.Task == "" {
			logger.Warn("skipping example without a task", "title", ex.Title)
			continue
		}
		out = append(out, ex)
	}
	return out, nil
}

// SaveExamples writes task suggestions as YAML.
func SaveExamples(path string, examples []TaskExample) error {
	data, err := yaml.Marshal(examples)
	if err != nil {
		return fmt.Errorf("marshal examples: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
