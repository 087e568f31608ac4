// Package roles resolves which tools a role may invoke and which of those
// calls require a TOTP step-up, with role inheritance chains.
package roles

import (
	"fmt"
	"strings"
)

// ToolAccess is the resolved decision for one role/tool pair.
type ToolAccess struct {
	Allowed      bool
	RequiresTOTP bool
}

// RoleConfig is a custom role definition supplied by configuration.
type RoleConfig struct {
	Name         string
	AllowedTools []string
	DeniedTools  []string
	TOTPGated    []string
	Inherits     string
}

type roleDefinition struct {
	allowedTools          []string
	deniedTools           []string
	totpGated             []string
	inherits              string
	useGlobalGatedActions bool
}

// Registry resolves tool access per role, consulting inherited parent roles
// when a role doesn't mention a tool directly.
type Registry struct {
	roles map[string]roleDefinition
}

// BuiltIn returns the registry's five baked-in roles: owner and admin get
// unrestricted access gated by the global TOTP action list; operator gets
// broad access minus a denylist and its own TOTP-gated tools; viewer is
// read-only; guest has no tool access at all.
func BuiltIn() *Registry {
	return &Registry{roles: map[string]roleDefinition{
		"owner": {
			allowedTools:          []string{"*"},
			useGlobalGatedActions: true,
		},
		"admin": {
			allowedTools:          []string{"*"},
			useGlobalGatedActions: true,
		},
		"operator": {
			allowedTools: []string{"*"},
			deniedTools:  []string{"memory_forget", "users_manage", "roles_manage"},
			totpGated:    []string{"shell", "file_write", "browser_open", "browser"},
		},
		"viewer": {
			allowedTools: []string{"file_read", "memory_search"},
		},
		"guest": {},
	}}
}

// FromConfig builds a registry from the built-in roles overlaid with custom
// role definitions, validating that every `inherits` parent exists and that
// no inheritance cycle exists.
func FromConfig(customRoles []RoleConfig) (*Registry, error) {
	registry := BuiltIn()
	for _, role := range customRoles {
		name := strings.ToLower(strings.TrimSpace(role.Name))
		if name == "" {
			continue
		}
		inherits := strings.ToLower(strings.TrimSpace(role.Inherits))
		registry.roles[name] = roleDefinition{
			allowedTools: role.AllowedTools,
			deniedTools:  role.DeniedTools,
			totpGated:    role.TOTPGated,
			inherits:     inherits,
		}
	}

	if err := registry.validateInheritance(); err != nil {
		return nil, err
	}
	return registry, nil
}

// ResolveToolAccess decides whether roleName may call toolName, and whether
// that call additionally requires a TOTP step-up, consulting globalGated
// when the resolved role (or an ancestor) opts into the global gated-action
// list.
func (r *Registry) ResolveToolAccess(roleName, toolName string, globalGated []string) ToolAccess {
	normalizedRole := strings.ToLower(strings.TrimSpace(roleName))
	normalizedTool := strings.TrimSpace(toolName)
	if normalizedRole == "" || normalizedTool == "" {
		return ToolAccess{}
	}

	role, ok := r.roles[normalizedRole]
	if !ok {
		return ToolAccess{}
	}

	allowed, ok := r.resolveAllowDecision(role, normalizedTool, nil)
	if !ok || !allowed {
		return ToolAccess{}
	}

	roleTOTP := r.toolInTOTPList(role, normalizedTool, nil)
	usesGlobal := r.usesGlobalGatedActions(role, nil)
	globalTOTP := usesGlobal && matchesTool(globalGated, normalizedTool)

	return ToolAccess{Allowed: true, RequiresTOTP: roleTOTP || globalTOTP}
}

// resolveAllowDecision walks the inheritance chain: a deny entry wins
// outright, an allow entry at the same level wins, otherwise it recurses
// into the parent. The second return is false only when no ancestor in the
// chain mentions the tool at all.
func (r *Registry) resolveAllowDecision(role roleDefinition, toolName string, seen []string) (bool, bool) {
	if matchesTool(role.deniedTools, toolName) {
		return false, true
	}
	if matchesTool(role.allowedTools, toolName) {
		return true, true
	}
	if role.inherits == "" || contains(seen, role.inherits) {
		return false, false
	}
	parent, ok := r.roles[role.inherits]
	if !ok {
		return false, false
	}
	return r.resolveAllowDecision(parent, toolName, append(seen, role.inherits))
}

func (r *Registry) toolInTOTPList(role roleDefinition, toolName string, seen []string) bool {
	if matchesTool(role.totpGated, toolName) {
		return true
	}
	if role.inherits == "" || contains(seen, role.inherits) {
		return false
	}
	parent, ok := r.roles[role.inherits]
	if !ok {
		return false
	}
	return r.toolInTOTPList(parent, toolName, append(seen, role.inherits))
}

func (r *Registry) usesGlobalGatedActions(role roleDefinition, seen []string) bool {
	if role.useGlobalGatedActions {
		return true
	}
	if role.inherits == "" || contains(seen, role.inherits) {
		return false
	}
	parent, ok := r.roles[role.inherits]
	if !ok {
		return false
	}
	return r.usesGlobalGatedActions(parent, append(seen, role.inherits))
}

func (r *Registry) validateInheritance() error {
	for name, role := range r.roles {
		if role.inherits != "" {
			if _, ok := r.roles[role.inherits]; !ok {
				return fmt.Errorf("role %q inherits unknown parent %q", name, role.inherits)
			}
		}
	}

	marks := make(map[string]int, len(r.roles))
	for name := range r.roles {
		if err := r.visit(name, marks); err != nil {
			return err
		}
	}
	return nil
}

// visit runs a DFS cycle check over the inheritance graph: 1 marks a node
// on the current path, 2 marks it fully resolved.
func (r *Registry) visit(name string, marks map[string]int) error {
	switch marks[name] {
	case 2:
		return nil
	case 1:
		return fmt.Errorf("role inheritance cycle detected at %q", name)
	}
	marks[name] = 1
	if role, ok := r.roles[name]; ok && role.inherits != "" {
		if err := r.visit(role.inherits, marks); err != nil {
			return err
		}
	}
	marks[name] = 2
	return nil
}

func matchesTool(rules []string, toolName string) bool {
	for _, rule := range rules {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		if rule == "*" || strings.EqualFold(rule, toolName) {
			return true
		}
	}
	return false
}

func contains(entries []string, target string) bool {
	for _, e := range entries {
		if e == target {
			return true
		}
	}
	return false
}
