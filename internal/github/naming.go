package gh

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

var invalidRefChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// BranchNaming derives the branches cherry-picks are pushed to.
type BranchNaming struct {
	// Prefix is the leading path component, "cherry-pick" by default.
	Prefix string
	// MaxLength caps the full branch name; longer names are shortened and hashed.
	MaxLength int
	// HashLength is the number of hex digits kept from the hash of a shortened name (at most 8).
	HashLength int
}

// DefaultBranchNaming is used by BranchNameForCherryPick.
var DefaultBranchNaming = BranchNaming{Prefix: "cherry-pick", MaxLength: 100, HashLength: 8}

// BranchNameForCherryPick returns DefaultBranchNaming.Name(sourcePR, sourceBranch, targetBranch).
func BranchNameForCherryPick(sourcePR int, sourceBranch, targetBranch string) string {
	return DefaultBranchNaming.Name(sourcePR, sourceBranch, targetBranch)
}

// Name computes the deterministic branch that carries the cherry-pick of sourcePR
// (opened from sourceBranch) into targetBranch:
//
//	cherry-pick/<pr>/<source-branch>-<target-branch>
//
// Every path component of both branches is cleaned so the result is a valid ref name.
// The target's "/" separators become "--" (cleaned components never contain "--"), so
// targets such as "release" and "release/1.0" on one pull request cannot produce a ref
// nested under another. When the name exceeds MaxLength the branch part is cut and
// suffixed with a hash of the full value, so distinct inputs keep distinct names.
func (n BranchNaming) Name(sourcePR int, sourceBranch, targetBranch string) string {
	n = n.withDefaults()

	head := fmt.Sprintf("%s/%d/", n.Prefix, sourcePR)
	tail := cleanRefPath(sourceBranch) + "-" + strings.ReplaceAll(cleanRefPath(targetBranch), "/", "--")
	if len(head)+len(tail) <= n.MaxLength {
		return head + tail
	}
	return head + truncateWithHash(tail, n.MaxLength-len(head), n.HashLength)
}

func (n BranchNaming) withDefaults() BranchNaming {
	if n.Prefix = strings.Trim(strings.TrimSpace(n.Prefix), "/"); n.Prefix == "" {
		n.Prefix = DefaultBranchNaming.Prefix
	}
	if n.MaxLength <= 0 {
		n.MaxLength = DefaultBranchNaming.MaxLength
	}
	if n.HashLength <= 0 || n.HashLength > 8 {
		n.HashLength = DefaultBranchNaming.HashLength
	}
	return n
}

// cleanRefPath rewrites branch into path components git accepts: runs of forbidden
// characters become "-", ".." collapses, and no component starts or ends with "." or
// "-" or ends with ".lock". Empty components are dropped; an empty result is "branch".
func cleanRefPath(branch string) string {
	parts := strings.Split(strings.TrimSpace(branch), "/")

	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		part = invalidRefChars.ReplaceAllString(part, "-")
		for strings.Contains(part, "..") {
			part = strings.ReplaceAll(part, "..", ".")
		}
		for strings.Contains(part, "--") {
			part = strings.ReplaceAll(part, "--", "-")
		}
		part = strings.TrimSuffix(strings.Trim(part, "-."), ".lock")
		if part = strings.Trim(part, "-."); part != "" {
			cleaned = append(cleaned, part)
		}
	}

	if len(cleaned) == 0 {
		return "branch"
	}
	return strings.Join(cleaned, "/")
}

// truncateWithHash shortens value to at most limit bytes, ending in "-<hash>".
func truncateWithHash(value string, limit, hashLength int) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(value))
	hash := fmt.Sprintf("%08x", h.Sum32())[:hashLength]

	if limit <= len(hash)+1 {
		return hash[:max(1, min(limit, len(hash)))]
	}

	base := strings.TrimRight(value[:limit-len(hash)-1], "-./")
	if base == "" {
		return hash
	}
	return base + "-" + hash
}
