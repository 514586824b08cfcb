package context

import (
	"context"
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
)

func msg(role models.Role, content string) *models.Message {
	return &models.Message{Role: role, Content: content}
}

func TestDetectProfile(t *testing.T) {
	cases := map[string]OptimizationProfile{
		"it panics with a stack overflow": ProfileDebug,
		"let's design the roadmap":        ProfilePlanning,
		"what's the weather today":        ProfileBalanced,
	}
	for input, want := range cases {
		if got := DetectProfile(input); got != want {
			t.Errorf("DetectProfile(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestExtractTaskKeywords_CapsAtTenAndDedupes(t *testing.T) {
	kws := ExtractTaskKeywords("retry retry backoff backoff timeout connection request error panic stream decode extract")
	if len(kws) > 10 {
		t.Fatalf("got %d keywords, want <= 10", len(kws))
	}
	seen := map[string]bool{}
	for _, k := range kws {
		if seen[k] {
			t.Fatalf("duplicate keyword %q", k)
		}
		seen[k] = true
	}
}

func TestScoreImportance_SystemAlwaysCritical(t *testing.T) {
	if got := ScoreImportance(msg(models.RoleSystem, "anything"), ProfileBalanced, nil); got != ImportanceCritical {
		t.Fatalf("system message importance = %v, want Critical", got)
	}
}

func TestScoreImportance_DebugProfileToolIsCritical(t *testing.T) {
	got := ScoreImportance(msg(models.RoleTool, "ran ls"), ProfileDebug, nil)
	if got != ImportanceCritical {
		t.Fatalf("debug-profile tool message importance = %v, want Critical", got)
	}
}

func TestScoreImportance_ErrorLanguageIsHigh(t *testing.T) {
	got := ScoreImportance(msg(models.RoleAssistant, "the request failed with permission denied"), ProfileBalanced, nil)
	if got != ImportanceHigh {
		t.Fatalf("error-language message importance = %v, want High", got)
	}
}

func TestScoreImportance_UserDefaultsMedium(t *testing.T) {
	got := ScoreImportance(msg(models.RoleUser, "hello there"), ProfileBalanced, nil)
	if got != ImportanceMedium {
		t.Fatalf("plain user message importance = %v, want Medium", got)
	}
}

func TestDedupKeepLatest_KeepsLatestOccurrenceInOrder(t *testing.T) {
	a := msg(models.RoleUser, "hello")
	b := msg(models.RoleAssistant, "hi")
	aAgain := msg(models.RoleUser, "hello")
	history := []*models.Message{a, b, aAgain}

	result := DedupKeepLatest(history)
	if len(result) != 2 {
		t.Fatalf("got %d messages, want 2", len(result))
	}
	if result[0] != b || result[1] != aAgain {
		t.Fatalf("expected [b, aAgain] in chronological order, got %+v", result)
	}
}

func TestBuild_SystemPromptAlwaysFirst(t *testing.T) {
	history := []*models.Message{msg(models.RoleUser, "hi there")}
	out := Build(context.Background(), history, "be helpful", BuilderOptions{ContextWindowTokens: 1000})
	if len(out) == 0 || out[0].Role != models.RoleSystem || out[0].Content != "be helpful" {
		t.Fatalf("expected system prompt first, got %+v", out)
	}
}

func TestBuild_TightBudgetSummarizesOmittedComplement(t *testing.T) {
	history := make([]*models.Message, 0, 20)
	for i := 0; i < 20; i++ {
		history = append(history, msg(models.RoleUser, "some moderately long filler message number"))
	}
	cache := NewSummaryCache(4)
	out := Build(context.Background(), history, "system", BuilderOptions{
		ContextWindowTokens: 20,
		SummarizeEnabled:    true,
		Cache:               cache,
	})

	foundSummary := false
	for _, m := range out {
		if v, ok := m.Metadata[SummaryMetadataKey]; ok {
			if b, ok := v.(bool); ok && b {
				foundSummary = true
			}
		}
	}
	if !foundSummary {
		t.Fatal("expected a synthetic summary message when history exceeds budget")
	}
}

func TestBuild_ChronologicalOrderRestored(t *testing.T) {
	history := []*models.Message{
		msg(models.RoleUser, "first"),
		msg(models.RoleAssistant, "second"),
		msg(models.RoleUser, "third"),
	}
	out := Build(context.Background(), history, "sys", BuilderOptions{ContextWindowTokens: 10000})

	var contents []string
	for _, m := range out {
		if m.Role != models.RoleSystem {
			contents = append(contents, m.Content)
		}
	}
	want := []string{"first", "second", "third"}
	if len(contents) != len(want) {
		t.Fatalf("got %v, want %v", contents, want)
	}
	for i := range want {
		if contents[i] != want[i] {
			t.Fatalf("got %v, want %v", contents, want)
		}
	}
}

type stubSummarizer struct {
	text string
	err  error
}

func (s stubSummarizer) Summarize(ctx context.Context, messages []*models.Message, maxTokens int) (string, error) {
	return s.text, s.err
}

func TestSummarizeComplement_CacheHitSkipsSummarizer(t *testing.T) {
	cache := NewSummaryCache(4)
	omitted := []*models.Message{msg(models.RoleUser, "old stuff")}
	fp := Fingerprint(omitted)
	cache.Put(fp, "cached summary")

	got := summarizeComplement(context.Background(), omitted, BuilderOptions{
		Cache:      cache,
		Summarizer: stubSummarizer{text: "should not be used"},
	})
	if got != "cached summary" {
		t.Fatalf("got %q, want cache hit", got)
	}
}
