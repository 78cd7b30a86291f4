package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"time"

	"webpilot/internal/browser"
)

// Runner executes one agent task, reporting progress as it goes.
type Runner interface {
	Run(ctx context.Context, task string, progress func(step string)) (string, error)
}

// SimulatedRunner fakes an agent run with scripted progress. Used for tests
// and for running the gateway without Chrome.
type SimulatedRunner struct {
	Delay time.Duration // pause between progress steps (default 800ms)
}

var simulatedSteps = []string{
	"Analyzing the task...",
	"Planning browser actions...",
	"Executing steps...",
	"Finalizing...",
}

func (r *SimulatedRunner) Run(ctx context.Context, task string, progress func(string)) (string, error) {
	delay := r.Delay
	if delay <= 0 {
		delay = 800 * time.Millisecond
	}
	for _, step := range simulatedSteps {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		progress(step)
	}
	return fmt.Sprintf("Simulation finished for task: %q", task), nil
}

// BrowserRunner drives a real browser through the chromedp bridge.
type BrowserRunner struct {
	Bridge  *browser.Bridge
	Timeout time.Duration
	Logger  *slog.Logger
}

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// taskURL picks the page to visit: an explicit URL in the task, or a web
// search for the task text.
func taskURL(task string) string {
	if u := urlPattern.FindString(task); u != "" {
		return u
	}
	return "https://duckduckgo.com/html/?q=" + url.QueryEscape(task)
}

func (r *BrowserRunner) Run(ctx context.Context, task string, progress func(string)) (string, error) {
	target := taskURL(task)

	progress("Launching the browser...")
	progress("Navigating to " + target)

	summary, err := r.Bridge.Visit(ctx, target, r.Timeout)
	if err != nil {
		return "", fmt.Errorf("run browser task: %w", err)
	}

	progress("Extracting page content...")
	r.Logger.Info("browser task finished", "url", summary.URL, "title", summary.Title)

	return fmt.Sprintf("%s\n\n%s", summary.Title, summary.Excerpt), nil
}
