package models

// PermissionMode bounds what kinds of tool operations an agent may
// perform regardless of the permission policy's own decision.
type PermissionMode string

const (
	PermissionReadOnly  PermissionMode = "read_only"
	PermissionReadWrite PermissionMode = "read_write"
	PermissionAdmin     PermissionMode = "admin"
)

// AgentConfig is a named configuration of provider, tools, and
// permission mode that participates in sessions.
type AgentConfig struct {
	Name              string         `yaml:"name" json:"name"`
	ProviderName      string         `yaml:"provider_name" json:"provider_name"`
	Model             string         `yaml:"model" json:"model,omitempty"`
	SystemPrompt      string         `yaml:"system_prompt" json:"system_prompt,omitempty"`
	AllowedTools      []string       `yaml:"allowed_tools" json:"allowed_tools,omitempty"`
	AllowedSkills     []string       `yaml:"allowed_skills" json:"allowed_skills,omitempty"`
	PermissionMode    PermissionMode `yaml:"permission_mode" json:"permission_mode"`
	AutoCreateTodos   bool           `yaml:"auto_create_todos" json:"auto_create_todos"`
	TaxonomyMembership []string      `yaml:"taxonomy_membership" json:"taxonomy_membership,omitempty"`
	MaxSubAgentDepth  int            `yaml:"max_sub_agent_depth" json:"max_sub_agent_depth"`
}

// AllowsTool reports whether name is present in AllowedTools. An empty
// AllowedTools list is treated as "no restriction at the agent level";
// the permission policy tiers still apply on top.
func (c *AgentConfig) AllowsTool(name string) bool {
	if c == nil || len(c.AllowedTools) == 0 {
		return true
	}
	for _, t := range c.AllowedTools {
		if t == name {
			return true
		}
	}
	return false
}

// Disposition is a tool's default permission outcome before any tier rule
// is consulted: the starting point the permission policy falls back to
// when no session/project/global rule matches.
type Disposition string

const (
	DispositionAllow Disposition = "allow"
	DispositionDeny  Disposition = "deny"
	DispositionAsk   Disposition = "ask"
)

// ToolConfig is the per-tool override applied by the Tool Registry &
// Executor: starting permission disposition, timeout, retry, and
// concurrency priority.
type ToolConfig struct {
	Name           string      `yaml:"name" json:"name"`
	PermissionMode Disposition `yaml:"permission_mode" json:"permission_mode"`
	Timeout        int         `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	MaxRetries     int         `yaml:"max_retries" json:"max_retries,omitempty"`
	Priority       int         `yaml:"priority" json:"priority,omitempty"`
	EnvPassthrough bool        `yaml:"env_passthrough" json:"env_passthrough,omitempty"`
}
