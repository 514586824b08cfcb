package policy

import (
	"testing"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

func newTestPolicy() *TieredPolicy {
	return NewTieredPolicy(NewResolver(), time.Minute)
}

func TestDecide_AgentAllowedToolsDeniesUnlisted(t *testing.T) {
	tp := newTestPolicy()
	got := tp.Decide("websearch", []string{"read", "write"}, "", PermissionContext{})
	if got.Resolution != ResolutionDeny {
		t.Fatalf("got %v, want Deny", got.Resolution)
	}
}

func TestDecide_DenyBeatsAllowAtSameTier(t *testing.T) {
	tp := newTestPolicy()
	tp.AllowTool(TierProject, "exec")
	tp.DenyTool(TierProject, "exec")

	got := tp.Decide("exec", nil, "ls -la", PermissionContext{})
	if got.Resolution != ResolutionDeny {
		t.Fatalf("got %v, want Deny (same-tier deny beats allow)", got.Resolution)
	}
}

func TestDecide_InnerTierDenyShortCircuitsOuterAllow(t *testing.T) {
	tp := newTestPolicy()
	tp.AllowTool(TierGlobal, "exec")
	tp.DenyTool(TierSession, "exec")

	got := tp.Decide("exec", nil, "ls -la", PermissionContext{})
	if got.Resolution != ResolutionDeny || got.Tier != TierSession {
		t.Fatalf("got %+v, want Deny at TierSession", got)
	}
}

func TestDecide_MostSpecificAllowWins(t *testing.T) {
	tp := newTestPolicy()
	tp.AllowTool(TierGlobal, "exec")
	tp.AllowTool(TierSession, "exec")

	got := tp.Decide("exec", nil, "ls -la", PermissionContext{})
	if got.Resolution != ResolutionAllow || got.Tier != TierSession {
		t.Fatalf("got %+v, want Allow at TierSession", got)
	}
}

func TestDecide_ShellToolMatchesByExtractedProgram(t *testing.T) {
	tp := newTestPolicy()
	tp.AllowCommandPattern(TierProject, "git")

	got := tp.Decide("exec", nil, "/usr/bin/git status", PermissionContext{})
	if got.Resolution != ResolutionAllow {
		t.Fatalf("got %v, want Allow for git via basename match", got.Resolution)
	}

	got2 := tp.Decide("exec", nil, "rm -rf /", PermissionContext{})
	if got2.Resolution == ResolutionAllow {
		t.Fatalf("got %v, want non-Allow for unrelated program", got2.Resolution)
	}
}

func TestDecide_FilesystemToolMatchesByPathPrefix(t *testing.T) {
	tp := newTestPolicy()
	tp.AllowPathPrefix(TierProject, "/workspace/repo")

	got := tp.Decide("read", nil, "/workspace/repo/main.go", PermissionContext{})
	if got.Resolution != ResolutionAllow {
		t.Fatalf("got %v, want Allow for path under allowed prefix", got.Resolution)
	}

	got2 := tp.Decide("read", nil, "/etc/passwd", PermissionContext{})
	if got2.Resolution == ResolutionAllow {
		t.Fatalf("got %v, want non-Allow for path outside allowed prefix", got2.Resolution)
	}
}

func TestDecide_ToolDefaultDispositionAsFallback(t *testing.T) {
	tp := newTestPolicy()
	tp.SetToolConfig(models.ToolConfig{Name: "websearch", PermissionMode: models.DispositionAllow})

	got := tp.Decide("websearch", nil, "", PermissionContext{})
	if got.Resolution != ResolutionAllow {
		t.Fatalf("got %v, want Allow from tool default disposition", got.Resolution)
	}
}

func TestDecide_NoRuleAndNoConfigDefaultsToAsk(t *testing.T) {
	tp := newTestPolicy()
	got := tp.Decide("mystery_tool", nil, "", PermissionContext{})
	if got.Resolution != ResolutionAsk {
		t.Fatalf("got %v, want Ask", got.Resolution)
	}
}

func TestDecide_SudoCommandDowngradesAllowToAsk(t *testing.T) {
	tp := newTestPolicy()
	tp.AllowCommandPattern(TierProject, "sudo")

	got := tp.Decide("exec", nil, "sudo systemctl restart nginx", PermissionContext{})
	if got.Resolution != ResolutionAsk {
		t.Fatalf("got %v, want Ask for sudo command pending secret prompt", got.Resolution)
	}
}

func TestDecide_SudoCacheSuppressesRepeatPrompt(t *testing.T) {
	tp := newTestPolicy()
	tp.AllowCommandPattern(TierProject, "sudo")
	tp.SudoCacheRecord("sudo systemctl restart nginx")

	got := tp.Decide("exec", nil, "sudo systemctl restart nginx", PermissionContext{})
	if got.Resolution != ResolutionAllow {
		t.Fatalf("got %v, want Allow once sudo cache suppresses re-prompt", got.Resolution)
	}
}

func TestRecordResolution_AllowInSessionPersistsToSessionTier(t *testing.T) {
	tp := newTestPolicy()
	tp.RecordResolution("exec", "npm test", models.AskAllowInSession)

	got := tp.Decide("exec", nil, "npm test", PermissionContext{})
	if got.Resolution != ResolutionAllow || got.Tier != TierSession {
		t.Fatalf("got %+v, want Allow at TierSession after AllowInSession", got)
	}
}

func TestRecordResolution_AllowOnceHasNoSideEffect(t *testing.T) {
	tp := newTestPolicy()
	tp.RecordResolution("exec", "npm test", models.AskAllowOnce)

	got := tp.Decide("exec", nil, "npm test", PermissionContext{})
	if got.Resolution == ResolutionAllow {
		t.Fatalf("got %v, want no persisted allow from AllowOnce", got.Resolution)
	}
}
