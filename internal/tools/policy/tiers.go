package policy

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// Tier is one level of the four-tier permission rule set, in precedence
// order from innermost (most specific) to outermost.
type Tier int

const (
	TierSession Tier = iota
	TierProject
	TierGlobal
	TierDefault
	tierCount
)

func (t Tier) String() string {
	switch t {
	case TierSession:
		return "session"
	case TierProject:
		return "project"
	case TierGlobal:
		return "global"
	case TierDefault:
		return "default"
	default:
		return "unknown"
	}
}

// TierRules is what a single tier holds: allow/deny tool names, allow/deny
// shell command patterns, and allow/deny filesystem path prefixes.
type TierRules struct {
	AllowTools           []string
	DenyTools            []string
	AllowCommandPatterns []string
	DenyCommandPatterns  []string
	AllowPathPrefixes    []string
	DenyPathPrefixes     []string
}

// shellTools and filesystemTools classify a tool name for step 3 of the
// decision procedure: shell-like tools are matched by extracted program
// name, filesystem-like tools by canonicalized path prefix, everything
// else by tool name alone.
var (
	shellTools      = map[string]bool{"exec": true, "sandbox": true}
	filesystemTools = map[string]bool{"read": true, "write": true, "edit": true}
)

// PermissionContext carries the request-scoped facts the policy needs to
// classify and resolve a tool invocation.
type PermissionContext struct {
	SessionID        string
	AgentName        string
	WorkingDirectory string
}

// Resolution is the outcome of Decide.
type Resolution string

const (
	ResolutionAllow Resolution = "allow"
	ResolutionDeny  Resolution = "deny"
	ResolutionAsk   Resolution = "ask"
)

// TierDecision explains a Decide outcome for audit/debugging.
type TierDecision struct {
	Resolution Resolution
	Tier       Tier
	Reason     string
}

// TieredPolicy implements the four-tier session→project→global→default
// permission model: at the same tier, a deny beats an allow; across tiers,
// the innermost tier that matches wins, with any deny at any tier
// short-circuiting the whole walk.
//
// Grounded on the teacher's single-profile Resolver (reused here for group
// expansion and tool-name wildcard matching via ExpandGroups/matchToolPattern)
// generalized to the tier model original's permissions/policy.rs describes:
// a PermissionPolicy trait with per-tier administrative mutators.
type TieredPolicy struct {
	mu       sync.RWMutex
	resolver *Resolver
	tiers    [tierCount]*TierRules
	configs  map[string]models.ToolConfig // tool name -> starting disposition etc.

	sudoMu             sync.Mutex
	sudoTTL            time.Duration
	sudoCacheUntil     map[string]time.Time // privileged pattern -> suppress-reprompt-until
	privilegedPatterns []string
}

// SetPrivilegedPatterns configures the shell patterns that trigger sudo
// handling in addition to a literal "sudo " prefix.
func (tp *TieredPolicy) SetPrivilegedPatterns(patterns []string) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.privilegedPatterns = patterns
}

// NewTieredPolicy creates an empty four-tier policy backed by resolver for
// group expansion and tool-name pattern matching.
func NewTieredPolicy(resolver *Resolver, sudoCacheTTL time.Duration) *TieredPolicy {
	tp := &TieredPolicy{
		resolver:       resolver,
		configs:        make(map[string]models.ToolConfig),
		sudoTTL:        sudoCacheTTL,
		sudoCacheUntil: make(map[string]time.Time),
	}
	for i := range tp.tiers {
		tp.tiers[i] = &TierRules{}
	}
	return tp
}

// SetToolConfig registers a tool's starting disposition and other executor
// overrides.
func (tp *TieredPolicy) SetToolConfig(cfg models.ToolConfig) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.configs[cfg.Name] = cfg
}

// AllowTool adds name to tier's allow list.
func (tp *TieredPolicy) AllowTool(tier Tier, name string) { tp.mutateTools(tier, name, true, true) }

// DenyTool adds name to tier's deny list.
func (tp *TieredPolicy) DenyTool(tier Tier, name string) { tp.mutateTools(tier, name, false, true) }

func (tp *TieredPolicy) mutateTools(tier Tier, name string, allow, add bool) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if !add {
		return
	}
	if allow {
		tp.tiers[tier].AllowTools = append(tp.tiers[tier].AllowTools, name)
	} else {
		tp.tiers[tier].DenyTools = append(tp.tiers[tier].DenyTools, name)
	}
}

// AllowCommandPattern adds a shell command pattern to tier's allow list.
func (tp *TieredPolicy) AllowCommandPattern(tier Tier, pattern string) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.tiers[tier].AllowCommandPatterns = append(tp.tiers[tier].AllowCommandPatterns, pattern)
}

// DenyCommandPattern adds a shell command pattern to tier's deny list.
func (tp *TieredPolicy) DenyCommandPattern(tier Tier, pattern string) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.tiers[tier].DenyCommandPatterns = append(tp.tiers[tier].DenyCommandPatterns, pattern)
}

// AllowPathPrefix adds a filesystem path prefix to tier's allow list.
func (tp *TieredPolicy) AllowPathPrefix(tier Tier, prefix string) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.tiers[tier].AllowPathPrefixes = append(tp.tiers[tier].AllowPathPrefixes, prefix)
}

// DenyPathPrefix adds a filesystem path prefix to tier's deny list.
func (tp *TieredPolicy) DenyPathPrefix(tier Tier, prefix string) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.tiers[tier].DenyPathPrefixes = append(tp.tiers[tier].DenyPathPrefixes, prefix)
}

// Decide runs the five-step decision procedure for a tool invocation.
// allowedTools is the calling agent's AgentConfig.AllowedTools (step 1);
// pass nil when no agent scoping applies. commandOrPath is the shell
// command line or filesystem target, used only for shell-like/fs-like
// tools; it is ignored for everything else.
func (tp *TieredPolicy) Decide(toolName string, allowedTools []string, commandOrPath string, ctx PermissionContext) TierDecision {
	normalized := tp.resolver.CanonicalName(toolName)

	if allowedTools != nil && !containsString(allowedTools, normalized) {
		return TierDecision{Resolution: ResolutionDeny, Reason: "tool not in agent's allowed_tools"}
	}

	tp.mu.RLock()
	defer tp.mu.RUnlock()

	matchItem := tp.classify(normalized, commandOrPath)

	for tier := TierSession; tier < tierCount; tier++ {
		rules := tp.tiers[tier]
		if tp.matchesDeny(rules, normalized, matchItem) {
			return TierDecision{Resolution: ResolutionDeny, Tier: tier, Reason: "denied at " + tier.String()}
		}
	}
	for tier := TierSession; tier < tierCount; tier++ {
		rules := tp.tiers[tier]
		if tp.matchesAllow(rules, normalized, matchItem) {
			return tp.finalize(normalized, commandOrPath, ResolutionAllow, tier, "allowed at "+tier.String())
		}
	}

	cfg, hasConfig := tp.configs[normalized]
	if hasConfig {
		switch cfg.PermissionMode {
		case models.DispositionDeny:
			return TierDecision{Resolution: ResolutionDeny, Tier: TierDefault, Reason: "tool default disposition deny"}
		case models.DispositionAllow:
			return tp.finalize(normalized, commandOrPath, ResolutionAllow, TierDefault, "tool default disposition allow")
		}
	}
	return TierDecision{Resolution: ResolutionAsk, Tier: TierDefault, Reason: "no rule matched, tool default is ask"}
}

// finalize handles the sudo path for otherwise-Allow decisions on shell
// tools: a privileged-pattern command downgrades Allow to Ask (the
// orchestrator's cue to raise SudoSecretPrompt) unless the TTL cache still
// suppresses re-prompting for that command.
func (tp *TieredPolicy) finalize(normalized, commandOrPath string, res Resolution, tier Tier, reason string) TierDecision {
	if res == ResolutionAllow && shellTools[normalized] && commandOrPath != "" {
		if IsSudoCommand(commandOrPath, tp.privilegedPatterns) {
			if tp.sudoCacheAllows(commandOrPath) {
				return TierDecision{Resolution: ResolutionAllow, Tier: tier, Reason: reason + " (sudo cached)"}
			}
			return TierDecision{Resolution: ResolutionAsk, Tier: tier, Reason: "sudo secret prompt required"}
		}
	}
	return TierDecision{Resolution: res, Tier: tier, Reason: reason}
}

func (tp *TieredPolicy) sudoCacheAllows(command string) bool {
	program := extractProgram(command)
	tp.sudoMu.Lock()
	defer tp.sudoMu.Unlock()
	until, ok := tp.sudoCacheUntil[program]
	return ok && time.Now().Before(until)
}

// classify implements step 3: shell tools yield the extracted program name,
// filesystem tools yield the canonicalized path, everything else yields "".
func (tp *TieredPolicy) classify(normalized, commandOrPath string) string {
	switch {
	case shellTools[normalized]:
		return extractProgram(commandOrPath)
	case filesystemTools[normalized]:
		return filepath.Clean(commandOrPath)
	default:
		return ""
	}
}

func (tp *TieredPolicy) matchesDeny(rules *TierRules, toolName, item string) bool {
	for _, d := range tp.resolver.ExpandGroups(rules.DenyTools) {
		if d == toolName || matchToolPattern(d, toolName) {
			return true
		}
	}
	if item == "" {
		return false
	}
	for _, d := range rules.DenyCommandPatterns {
		if matchToolPattern(d, item) {
			return true
		}
	}
	for _, d := range rules.DenyPathPrefixes {
		if strings.HasPrefix(item, d) {
			return true
		}
	}
	return false
}

func (tp *TieredPolicy) matchesAllow(rules *TierRules, toolName, item string) bool {
	for _, a := range tp.resolver.ExpandGroups(rules.AllowTools) {
		if a == toolName || matchToolPattern(a, toolName) {
			return true
		}
	}
	if item == "" {
		return false
	}
	for _, a := range rules.AllowCommandPatterns {
		if matchToolPattern(a, item) {
			return true
		}
	}
	for _, a := range rules.AllowPathPrefixes {
		if strings.HasPrefix(item, a) {
			return true
		}
	}
	return false
}

// extractProgram returns the first whitespace-delimited token of a command
// line, basename-matched (e.g. "/usr/bin/git" -> "git").
func extractProgram(command string) string {
	command = strings.TrimSpace(command)
	if command == "" {
		return ""
	}
	fields := strings.Fields(command)
	return filepath.Base(fields[0])
}

func containsString(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}

// RecordResolution implements record_permission: AllowInSession sticks the
// tool (or, for shell/fs tools, the classified item) onto the session tier;
// AllowOnce and Deny have no persistent side effect beyond the caller's own
// decision-event emission.
func (tp *TieredPolicy) RecordResolution(toolName, commandOrPath string, resolution models.AskResolution) {
	if resolution != models.AskAllowInSession {
		return
	}
	normalized := tp.resolver.CanonicalName(toolName)
	tp.mu.Lock()
	defer tp.mu.Unlock()
	switch {
	case shellTools[normalized]:
		tp.tiers[TierSession].AllowCommandPatterns = append(tp.tiers[TierSession].AllowCommandPatterns, extractProgram(commandOrPath))
	case filesystemTools[normalized]:
		tp.tiers[TierSession].AllowPathPrefixes = append(tp.tiers[TierSession].AllowPathPrefixes, filepath.Clean(commandOrPath))
	default:
		tp.tiers[TierSession].AllowTools = append(tp.tiers[TierSession].AllowTools, normalized)
	}
}

// IsSudoCommand reports whether command is a sudo invocation or matches a
// configured privileged pattern.
func IsSudoCommand(command string, privilegedPatterns []string) bool {
	trimmed := strings.TrimSpace(command)
	if strings.HasPrefix(trimmed, "sudo ") || trimmed == "sudo" {
		return true
	}
	program := extractProgram(trimmed)
	for _, p := range privilegedPatterns {
		if matchToolPattern(p, program) {
			return true
		}
	}
	return false
}

// SudoCacheCheck reports whether command's privileged pattern is still
// within the TTL window from a prior sudo prompt, suppressing a re-prompt.
func (tp *TieredPolicy) SudoCacheCheck(command string) bool {
	program := extractProgram(command)
	tp.sudoMu.Lock()
	defer tp.sudoMu.Unlock()
	until, ok := tp.sudoCacheUntil[program]
	return ok && time.Now().Before(until)
}

// SudoCacheRecord marks command's privileged pattern as recently prompted,
// suppressing re-prompts for sudoTTL.
func (tp *TieredPolicy) SudoCacheRecord(command string) {
	program := extractProgram(command)
	tp.sudoMu.Lock()
	defer tp.sudoMu.Unlock()
	tp.sudoCacheUntil[program] = time.Now().Add(tp.sudoTTL)
}
