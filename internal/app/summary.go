package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/release-tools/cherry-pick-action/internal/orchestrator"
)

func (r *Runner) writeStepSummary(result orchestrator.Result) error {
	path := strings.TrimSpace(os.Getenv("GITHUB_STEP_SUMMARY"))
	if path == "" {
		return nil
	}

	var builder strings.Builder
	builder.WriteString("## Cherry-pick action summary\n\n")
	builder.WriteString(renderResultDetails(result))

	file, err := openForAppend(path)
	if err != nil {
		return fmt.Errorf("open step summary: %w", err)
	}
	defer closeQuietly(file)

	if _, err := file.WriteString(builder.String()); err != nil {
		return fmt.Errorf("write step summary: %w", err)
	}

	if !strings.HasSuffix(builder.String(), "\n") {
		if _, err := file.WriteString("\n"); err != nil {
			return fmt.Errorf("terminate step summary: %w", err)
		}
	}

	return nil
}

func (r *Runner) writeGitHubOutputs(result orchestrator.Result) error {
	path := strings.TrimSpace(os.Getenv("GITHUB_OUTPUT"))
	if path == "" {
		return nil
	}

	created := make([]outputCreatedPR, 0)
	skippedTargets := make([]outputSkippedTarget, 0)

	for _, target := range result.Targets {
		switch target.Status {
		case orchestrator.TargetStatusSucceeded:
			if target.CreatedPR != nil {
				created = append(created, outputCreatedPR{
					Branch: target.Target.Branch,
					Number: target.CreatedPR.Number,
					URL:    target.CreatedPR.URL,
					Head:   target.CreatedPR.Head,
					Base:   target.CreatedPR.Base,
				})
			}
		case orchestrator.TargetStatusSkippedExistingPR,
			orchestrator.TargetStatusFailed,
			orchestrator.TargetStatusDryRun:
			skipped := outputSkippedTarget{
				Branch: target.Target.Branch,
				Status: string(target.Status),
				Reason: target.Reason,
			}
			if target.ExistingPR != nil {
				skipped.URL = target.ExistingPR.URL
			}
			skippedTargets = append(skippedTargets, skipped)
		}
	}

	createdJSON, err := json.Marshal(created)
	if err != nil {
		return fmt.Errorf("marshal created_prs: %w", err)
	}

	skippedJSON, err := json.Marshal(skippedTargets)
	if err != nil {
		return fmt.Errorf("marshal skipped_targets: %w", err)
	}

	summary := struct {
		Skipped       bool   `json:"skipped"`
		SkippedReason string `json:"skipped_reason"`
		Created       int    `json:"created"`
		Failed        int    `json:"failed"`
	}{Skipped: result.Skipped, SkippedReason: result.SkippedReason, Created: len(created), Failed: len(result.Failed())}

	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run_summary: %w", err)
	}

	file, err := openForAppend(path)
	if err != nil {
		return fmt.Errorf("open github output: %w", err)
	}
	defer closeQuietly(file)

	if err := writeMultilineOutput(file, "created_prs", string(createdJSON)); err != nil {
		return err
	}

	if err := writeMultilineOutput(file, "skipped_targets", string(skippedJSON)); err != nil {
		return err
	}

	if err := writeMultilineOutput(file, "run_summary", string(summaryJSON)); err != nil {
		return err
	}

	return nil
}

func renderResultDetails(result orchestrator.Result) string {
	var builder strings.Builder

	if result.Skipped {
		reason := result.SkippedReason
		if reason == "" {
			reason = "run skipped"
		}
		builder.WriteString(fmt.Sprintf("Skipped cherry-pick orchestration: %s\n", sanitizeMarkdownCell(reason)))
		return builder.String()
	}

	if len(result.Targets) == 0 {
		builder.WriteString("No cherry-pick targets were evaluated.\n")
		return builder.String()
	}

	builder.WriteString("| Branch | Cherry-pick branch | Status | Details | PR |\n")
	builder.WriteString("| --- | --- | --- | --- | --- |\n")
	for _, target := range result.Targets {
		status := string(target.Status)
		details := target.Reason
		if details == "" {
			details = "-"
		}

		prCell := "-"
		if target.CreatedPR != nil {
			if target.CreatedPR.URL != "" {
				prCell = fmt.Sprintf("[PR #%d](%s)", target.CreatedPR.Number, target.CreatedPR.URL)
			} else {
				prCell = fmt.Sprintf("PR #%d", target.CreatedPR.Number)
			}
		} else if target.ExistingPR != nil && target.ExistingPR.URL != "" {
			prCell = fmt.Sprintf("[Existing #%d](%s)", target.ExistingPR.Number, target.ExistingPR.URL)
		}

		builder.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
			sanitizeMarkdownCell(target.Target.Branch),
			sanitizeMarkdownCell(target.Branch),
			sanitizeMarkdownCell(status),
			sanitizeMarkdownCell(details),
			sanitizeMarkdownCell(prCell),
		))
	}

	return builder.String()
}

type outputCreatedPR struct {
	Branch string `json:"branch"`
	Number int    `json:"number"`
	URL    string `json:"url"`
	Head   string `json:"head"`
	Base   string `json:"base"`
}

type outputSkippedTarget struct {
	Branch string `json:"branch"`
	Status string `json:"status"`
	Reason string `json:"reason"`
	URL    string `json:"url,omitempty"`
}

func writeMultilineOutput(file *os.File, key, value string) error {
	if _, err := fmt.Fprintf(file, "%s<<EOF\n%s\nEOF\n", key, value); err != nil {
		return fmt.Errorf("write output %s: %w", key, err)
	}
	return nil
}

func sanitizeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	value = strings.ReplaceAll(value, "\n", "<br>")
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return value
}

// openForAppend opens one of the files GitHub Actions collects after the step, creating
// its directory when running outside of a runner.
func openForAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func closeQuietly(file *os.File) {
	if err := file.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close %s: %v\n", file.Name(), err)
	}
}
