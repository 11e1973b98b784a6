package labels

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultPrefix marks labels that request a cherry-pick, e.g. "cherry-pick:release/1.0".
const DefaultPrefix = "cherry-pick:"

// Target represents a branch a pull request should be cherry-picked onto.
type Target struct {
	LabelName string
	Branch    string
}

var (
	errEmptyPrefix = errors.New("label prefix cannot be empty")
)

// CollectTargets scans the provided label names, extracts those that match the given
// prefix, and returns deduplicated Target entries (preserving first-seen order).
func CollectTargets(labelNames []string, prefix string) ([]Target, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, errEmptyPrefix
	}

	targets := make([]Target, 0, len(labelNames))
	seen := make(map[string]struct{})

	for _, name := range labelNames {
		branch, ok := parseBranch(name, prefix)
		if !ok {
			continue
		}

		if _, exists := seen[branch]; exists {
			continue
		}

		seen[branch] = struct{}{}
		targets = append(targets, Target{LabelName: strings.TrimSpace(name), Branch: branch})
	}

	return targets, nil
}

// HasPrefix reports whether labelName is a cherry-pick label for prefix.
func HasPrefix(labelName, prefix string) bool {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(labelName)), prefix)
}

// Without returns the labels that are not cherry-pick labels for prefix.
func Without(labelNames []string, prefix string) []string {
	if len(labelNames) == 0 {
		return nil
	}

	kept := make([]string, 0, len(labelNames))
	for _, name := range labelNames {
		if HasPrefix(name, prefix) {
			continue
		}
		kept = append(kept, name)
	}
	return kept
}

// Select keeps the target created by labelName. It is used for labeled events, where
// only the label that was just added should trigger work.
func Select(targets []Target, labelName string) []Target {
	labelName = strings.TrimSpace(labelName)

	selected := make([]Target, 0, 1)
	for _, t := range targets {
		if strings.EqualFold(t.LabelName, labelName) {
			selected = append(selected, t)
		}
	}
	return selected
}

// parseBranch returns the normalized branch if the label matches the prefix.
func parseBranch(labelName, prefix string) (string, bool) {
	labelName = strings.TrimSpace(labelName)
	if labelName == "" || !HasPrefix(labelName, prefix) {
		return "", false
	}

	branch := NormalizeBranch(labelName[len(prefix):])

	if branch == "" {
		return "", false
	}

	return branch, true
}

// ValidateBranch rejects branch names git would refuse or that could be mistaken for
// revision syntax.
func ValidateBranch(branch string) error {
	if branch == "" {
		return errors.New("branch cannot be empty")
	}

	if strings.ContainsAny(branch, " \t\n\r") {
		return errors.New("branch cannot contain whitespace")
	}

	if strings.Contains(branch, "..") {
		return errors.New("branch cannot contain '..'")
	}

	if strings.ContainsAny(branch, "~^:?*[]@{\\") {
		return errors.New("branch contains forbidden git characters")
	}

	if strings.HasSuffix(branch, ".lock") || strings.HasSuffix(branch, ".") {
		return errors.New("branch cannot end with '.lock' or '.'")
	}

	return nil
}

// MergeTargets merges multiple slices of targets preserving order and removing duplicates.
func MergeTargets(groups ...[]Target) []Target {
	result := make([]Target, 0)
	seen := make(map[string]struct{})

	for _, group := range groups {
		for _, t := range group {
			if _, ok := seen[t.Branch]; ok {
				continue
			}
			seen[t.Branch] = struct{}{}
			result = append(result, t)
		}
	}

	return result
}

// ManualTargets turns branch overrides into targets labelled "input:<branch>".
func ManualTargets(branches []string) []Target {
	manual := make([]Target, 0, len(branches))
	for _, branch := range branches {
		trimmed := strings.TrimSpace(branch)
		normalized := NormalizeBranch(trimmed)
		if normalized == "" {
			continue
		}
		manual = append(manual, Target{
			LabelName: fmt.Sprintf("input:%s", trimmed),
			Branch:    normalized,
		})
	}
	return manual
}

// Branches returns the branch names extracted from the targets.
func Branches(targets []Target) []string {
	branches := make([]string, 0, len(targets))
	for _, t := range targets {
		branches = append(branches, t.Branch)
	}
	return branches
}

// NormalizeBranch trims whitespace, removes leading/trailing slashes, and strips
// refs/heads prefixes from a branch name. It returns an empty string when the
// normalized branch would otherwise be empty.
func NormalizeBranch(branch string) string {
	branch = strings.TrimSpace(branch)
	branch = strings.Trim(branch, "/")

	if len(branch) >= len("refs/heads/") && strings.EqualFold(branch[:len("refs/heads/")], "refs/heads/") {
		branch = branch[len("refs/heads/"):]
	}

	branch = strings.TrimSpace(branch)
	branch = strings.Trim(branch, "/")

	return strings.TrimSpace(branch)
}
