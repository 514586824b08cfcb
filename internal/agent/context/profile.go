package context

import "regexp"

// OptimizationProfile tunes how aggressively the builder trims history for
// the kind of turn it thinks is happening, inferred from the latest user
// message.
type OptimizationProfile string

const (
	ProfileDebug    OptimizationProfile = "debug"
	ProfilePlanning OptimizationProfile = "planning"
	ProfileBalanced OptimizationProfile = "balanced"
)

var (
	debugProfileRe    = regexp.MustCompile(`(?i)(debug|fix|error|panic)`)
	planningProfileRe = regexp.MustCompile(`(?i)(plan|design|roadmap)`)
)

// DetectProfile inspects the latest user message text and picks the
// optimization profile: Debug when it contains debug|fix|error|panic,
// Planning when it contains plan|design|roadmap (checked only if Debug
// didn't already match), Balanced otherwise.
func DetectProfile(latestUserMessage string) OptimizationProfile {
	switch {
	case debugProfileRe.MatchString(latestUserMessage):
		return ProfileDebug
	case planningProfileRe.MatchString(latestUserMessage):
		return ProfilePlanning
	default:
		return ProfileBalanced
	}
}

// taskKeywordRe matches candidate keyword tokens: alphanumeric plus
// underscore/hyphen, length >= 4.
var taskKeywordRe = regexp.MustCompile(`[A-Za-z0-9_-]{4,}`)

// maxTaskKeywords bounds how many keywords ExtractTaskKeywords returns.
const maxTaskKeywords = 10

// ExtractTaskKeywords pulls up to 10 candidate keywords (length >= 4,
// alphanumeric/underscore/hyphen) from the latest user message, in the
// order they first appear, deduplicated.
func ExtractTaskKeywords(latestUserMessage string) []string {
	matches := taskKeywordRe.FindAllString(latestUserMessage, -1)
	seen := make(map[string]struct{}, len(matches))
	keywords := make([]string, 0, maxTaskKeywords)
	for _, m := range matches {
		if len(keywords) >= maxTaskKeywords {
			break
		}
		key := m
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keywords = append(keywords, key)
	}
	return keywords
}
