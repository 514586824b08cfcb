// Package context selects, scores, and compresses conversation history
// into a token-budgeted message list for a provider request.
//
// Grounded on internal/agent/context/packer.go's newest-first single-tier
// Pack() for overall shape (accept history + incoming + summary, return an
// ordered slice within a character budget) and summarize.go's
// summary-message metadata convention, generalized to the full
// keyword/profile/importance-tier/fingerprint-cache pipeline.
package context

import (
	"context"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

const charsPerToken = 4

// estimateTokens applies the 1-token-per-4-characters heuristic to a
// message's content.
func estimateTokens(m *models.Message) int {
	return (len(m.Content) + charsPerToken - 1) / charsPerToken
}

// Summarizer compresses a set of messages into a short text, used to cover
// the complement of messages the greedy fill omitted.
type Summarizer interface {
	Summarize(ctx context.Context, messages []*models.Message, maxTokens int) (string, error)
}

// BuilderOptions configures Build.
type BuilderOptions struct {
	// ContextWindowTokens is the total token budget for the returned list,
	// including the system prompt.
	ContextWindowTokens int

	// SummarizeEnabled toggles step 7 (summarizing omitted messages).
	SummarizeEnabled bool

	// SummaryMaxTokens bounds the summarizer call's own output.
	SummaryMaxTokens int

	// SummaryTimeout bounds how long a Summarizer call may run before the
	// heuristic fallback takes over. Defaults to 15 seconds.
	SummaryTimeout time.Duration

	// Summarizer is optional; nil means every summarization falls back to
	// the heuristic immediately.
	Summarizer Summarizer

	// Cache memoizes summaries by fingerprint of the omitted complement.
	// Required for step 7's cache lookup; a nil Cache disables caching.
	Cache *SummaryCache
}

func (o BuilderOptions) timeout() time.Duration {
	if o.SummaryTimeout <= 0 {
		return 15 * time.Second
	}
	return o.SummaryTimeout
}

// Build runs the full 8-step selection algorithm and returns the final
// ordered message list, led by the system prompt and (when applicable) a
// synthetic summary message, followed by the selected history in
// chronological order.
func Build(ctx context.Context, history []*models.Message, systemPrompt string, opts BuilderOptions) []*models.Message {
	budget := opts.ContextWindowTokens
	systemMsg := &models.Message{Role: models.RoleSystem, Content: systemPrompt}
	budget -= estimateTokens(systemMsg)

	latestUser := latestUserContent(history)
	keywords := ExtractTaskKeywords(latestUser)
	profile := DetectProfile(latestUser)

	deduped := DedupKeepLatest(history)

	kept, omitted := greedyFill(deduped, profile, keywords, budget)

	result := []*models.Message{systemMsg}
	if opts.SummarizeEnabled && len(omitted) > 0 {
		summaryText := summarizeComplement(ctx, omitted, opts)
		result = append(result, &models.Message{
			Role:    models.RoleSystem,
			Content: summaryText,
			Metadata: map[string]any{
				SummaryMetadataKey: true,
			},
		})
	}
	result = append(result, kept...)
	return result
}

// latestUserContent returns the content of the most recent user message, or
// "" if there is none.
func latestUserContent(history []*models.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return history[i].Content
		}
	}
	return ""
}

// tieredMessage pairs a message with its computed importance and original
// index, so recency tie-breaking and chronological restoration both have
// something stable to sort on.
type tieredMessage struct {
	msg        *models.Message
	importance Importance
	index      int
}

// greedyFill implements steps 5-6: score every message, then admit from
// most recent to oldest, Critical before High before Medium before Low,
// until the budget is exhausted. Returns the admitted messages in
// chronological order and the omitted ones in their original order.
func greedyFill(messages []*models.Message, profile OptimizationProfile, keywords []string, budget int) (kept, omitted []*models.Message) {
	tiered := make([]tieredMessage, len(messages))
	for i, m := range messages {
		tiered[i] = tieredMessage{msg: m, importance: ScoreImportance(m, profile, keywords), index: i}
	}

	admitted := make(map[int]bool, len(tiered))
	remaining := budget
	for tier := ImportanceCritical; tier >= ImportanceLow; tier-- {
		for i := len(tiered) - 1; i >= 0; i-- {
			tm := tiered[i]
			if tm.importance != tier {
				continue
			}
			cost := estimateTokens(tm.msg)
			if cost > remaining {
				continue
			}
			admitted[tm.index] = true
			remaining -= cost
		}
	}

	for i, m := range messages {
		if admitted[i] {
			kept = append(kept, m)
		} else {
			omitted = append(omitted, m)
		}
	}
	return kept, omitted
}

// summarizeComplement implements step 7: cache lookup by fingerprint, then
// (if a Summarizer is configured) a bounded-time call to it, falling back to
// the heuristic summary on cache miss with no summarizer, on timeout, or on
// error.
func summarizeComplement(ctx context.Context, omitted []*models.Message, opts BuilderOptions) string {
	var fingerprint string
	if opts.Cache != nil {
		fingerprint = Fingerprint(omitted)
		if cached, ok := opts.Cache.Get(fingerprint); ok {
			return cached
		}
	}

	summary := summarizeWithFallback(ctx, omitted, opts)

	if opts.Cache != nil {
		opts.Cache.Put(fingerprint, summary)
	}
	return summary
}

func summarizeWithFallback(ctx context.Context, omitted []*models.Message, opts BuilderOptions) string {
	if opts.Summarizer == nil {
		return HeuristicSummary(omitted)
	}

	callCtx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := opts.Summarizer.Summarize(callCtx, omitted, opts.SummaryMaxTokens)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return HeuristicSummary(omitted)
		}
		return r.text
	case <-callCtx.Done():
		return HeuristicSummary(omitted)
	}
}
