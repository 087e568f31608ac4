package roles

import "testing"

func TestBuiltInOperatorPermissionsGateShell(t *testing.T) {
	registry := BuiltIn()
	shell := registry.ResolveToolAccess("operator", "shell", nil)
	if !shell.Allowed || !shell.RequiresTOTP {
		t.Fatalf("expected operator shell access gated by totp, got %+v", shell)
	}

	memoryForget := registry.ResolveToolAccess("operator", "memory_forget", nil)
	if memoryForget.Allowed {
		t.Fatal("expected operator to be denied memory_forget")
	}
}

func TestBuiltInViewerIsReadOnly(t *testing.T) {
	registry := BuiltIn()
	fileRead := registry.ResolveToolAccess("viewer", "file_read", nil)
	if !fileRead.Allowed || fileRead.RequiresTOTP {
		t.Fatalf("expected viewer file_read allowed without totp, got %+v", fileRead)
	}

	shell := registry.ResolveToolAccess("viewer", "shell", nil)
	if shell.Allowed {
		t.Fatal("expected viewer to be denied shell")
	}
}

func TestOwnerUsesGlobalGatedActionsForTOTP(t *testing.T) {
	registry := BuiltIn()
	global := []string{"shell", "browser_open"}

	shell := registry.ResolveToolAccess("owner", "shell", global)
	if !shell.Allowed || !shell.RequiresTOTP {
		t.Fatalf("expected owner shell gated via global list, got %+v", shell)
	}

	fileRead := registry.ResolveToolAccess("owner", "file_read", global)
	if !fileRead.Allowed || fileRead.RequiresTOTP {
		t.Fatalf("expected owner file_read ungated, got %+v", fileRead)
	}
}

func TestCustomRoleInheritsParentAllowlistAndTOTP(t *testing.T) {
	registry, err := FromConfig([]RoleConfig{{
		Name:         "developer",
		AllowedTools: []string{"git"},
		DeniedTools:  []string{"memory_forget"},
		TOTPGated:    []string{"git"},
		Inherits:     "operator",
	}})
	if err != nil {
		t.Fatalf("unexpected error building registry: %v", err)
	}

	git := registry.ResolveToolAccess("developer", "git", nil)
	if !git.Allowed || !git.RequiresTOTP {
		t.Fatalf("expected developer git access gated by totp, got %+v", git)
	}

	shell := registry.ResolveToolAccess("developer", "shell", nil)
	if !shell.Allowed || !shell.RequiresTOTP {
		t.Fatalf("expected developer to inherit operator's gated shell access, got %+v", shell)
	}

	memoryForget := registry.ResolveToolAccess("developer", "memory_forget", nil)
	if memoryForget.Allowed {
		t.Fatal("expected developer's own denylist to override inherited allowance")
	}
}

func TestInheritanceCycleIsRejected(t *testing.T) {
	_, err := FromConfig([]RoleConfig{
		{Name: "role_a", Inherits: "role_b"},
		{Name: "role_b", Inherits: "role_a"},
	})
	if err == nil {
		t.Fatal("expected inheritance cycle to be rejected")
	}
}

func TestUnknownParentIsRejected(t *testing.T) {
	_, err := FromConfig([]RoleConfig{{Name: "orphan", Inherits: "nonexistent"}})
	if err == nil {
		t.Fatal("expected unknown parent to be rejected")
	}
}
