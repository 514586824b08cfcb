package context

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/haasonsaas/nexus/pkg/models"
)

// DefaultSummaryCacheMaxEntries is summary_cache_max_entries's default.
const DefaultSummaryCacheMaxEntries = 64

// SummaryCache memoizes compacted summaries of omitted-message complements,
// keyed by a fingerprint of the exact (role, content) sequence summarized,
// so an unchanged complement never re-pays the summarizer round trip.
type SummaryCache struct {
	cache *lru.Cache
}

// NewSummaryCache creates a cache with the given capacity, falling back to
// DefaultSummaryCacheMaxEntries for a non-positive value.
func NewSummaryCache(maxEntries int) *SummaryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultSummaryCacheMaxEntries
	}
	c, _ := lru.New(maxEntries) // error only on non-positive size, already guarded
	return &SummaryCache{cache: c}
}

// Fingerprint hashes the (role, content) sequence of the given messages.
func Fingerprint(messages []*models.Message) string {
	h := sha256.New()
	for _, m := range messages {
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached summary text for fingerprint, if present.
func (c *SummaryCache) Get(fingerprint string) (string, bool) {
	v, ok := c.cache.Get(fingerprint)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, true
}

// Put stores a summary under fingerprint, evicting the least recently used
// entry if the cache is at capacity.
func (c *SummaryCache) Put(fingerprint, summary string) {
	c.cache.Add(fingerprint, summary)
}

// heuristicMaxMessages and heuristicMaxCharsPerMessage bound the fallback
// summary used when no summarizer is configured, or the real one times out.
const (
	heuristicMaxMessages        = 6
	heuristicMaxCharsPerMessage = 120
)

// HeuristicSummary compacts the last few messages of a complement into a
// single line: each message truncated to heuristicMaxCharsPerMessage chars,
// prefixed by its role, joined with " | ". Used whenever a real summarizer
// is absent, times out, or errors.
func HeuristicSummary(messages []*models.Message) string {
	start := 0
	if len(messages) > heuristicMaxMessages {
		start = len(messages) - heuristicMaxMessages
	}
	parts := make([]string, 0, len(messages)-start)
	for _, m := range messages[start:] {
		content := m.Content
		if len(content) > heuristicMaxCharsPerMessage {
			content = content[:heuristicMaxCharsPerMessage]
		}
		parts = append(parts, string(m.Role)+": "+content)
	}
	return strings.Join(parts, " | ")
}
