// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package authz

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// EnforcerConfig selects where role capabilities come from. Empty paths use
// the embedded defaults, which cover the built-in viewer/editor/admin roles.
type EnforcerConfig struct {
	// ModelPath overrides the embedded RBAC model.
	ModelPath string

	// PolicyPath overrides the embedded capability policy.
	PolicyPath string

	// AutoReload re-reads a file-backed policy on an interval so capability
	// changes land without a restart.
	AutoReload bool

	// ReloadInterval is how often to re-read. Only meaningful with a
	// PolicyPath.
	ReloadInterval time.Duration

	// DefaultRole is consulted for subjects with no role assignment. Empty
	// means unassigned subjects carry no capabilities, which keeps role
	// grants opt-in; ownership and shares still apply.
	DefaultRole string
}

// DefaultEnforcerConfig returns the embedded-policy configuration.
func DefaultEnforcerConfig() *EnforcerConfig {
	return &EnforcerConfig{
		AutoReload:     true,
		ReloadInterval: 30 * time.Second,
	}
}

// Enforcer answers whether a subject's role carries a capability for an
// operation on a resource class. It wraps a casbin synced enforcer; decision
// caching happens in the tiered cache above the pipeline, not here.
type Enforcer struct {
	cfg      *EnforcerConfig
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer builds the capability enforcer.
func NewEnforcer(cfg *EnforcerConfig) (*Enforcer, error) {
	if cfg == nil {
		cfg = DefaultEnforcerConfig()
	}

	var m model.Model
	var err error
	if cfg.ModelPath != "" && fileExists(cfg.ModelPath) {
		m, err = model.NewModelFromFile(cfg.ModelPath)
	} else {
		m, err = model.NewModelFromString(embeddedModel)
	}
	if err != nil {
		return nil, fmt.Errorf("load capability model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	if cfg.PolicyPath != "" && fileExists(cfg.PolicyPath) {
		adapter := fileadapter.NewAdapter(cfg.PolicyPath)
		enforcer, err = casbin.NewSyncedEnforcer(m, adapter)
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadPolicyLines(enforcer, embeddedPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create capability enforcer: %w", err)
	}

	if cfg.AutoReload && cfg.PolicyPath != "" {
		enforcer.StartAutoLoadPolicy(cfg.ReloadInterval)
	}

	return &Enforcer{cfg: cfg, enforcer: enforcer}, nil
}

// loadPolicyLines parses the embedded CSV into the enforcer: p lines are
// capability rules, g lines are role assignments and inheritance.
func loadPolicyLines(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		switch parts[0] {
		case "p":
			if len(parts) >= 4 {
				if _, err := enforcer.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
					return fmt.Errorf("add capability rule %v: %w", parts[1:], err)
				}
			}
		case "g":
			if len(parts) >= 3 {
				if _, err := enforcer.AddGroupingPolicy(parts[1], parts[2]); err != nil {
					return fmt.Errorf("add role rule %v: %w", parts[1:], err)
				}
			}
		}
	}
	return nil
}

// HasCapability reports whether the subject (directly or through its roles)
// may perform the operation on the resource class. A subject with no roles
// falls back to the default role.
func (e *Enforcer) HasCapability(subject, resourceType, operation string) (bool, error) {
	allowed, err := e.enforcer.Enforce(subject, resourceType, operation)
	if err != nil {
		return false, fmt.Errorf("capability check: %w", err)
	}
	if allowed {
		return true, nil
	}

	if e.cfg.DefaultRole != "" {
		roles, err := e.enforcer.GetRolesForUser(subject)
		if err != nil {
			return false, fmt.Errorf("role lookup: %w", err)
		}
		if len(roles) == 0 {
			allowed, err = e.enforcer.Enforce(e.cfg.DefaultRole, resourceType, operation)
			if err != nil {
				return false, fmt.Errorf("default-role capability check: %w", err)
			}
			return allowed, nil
		}
	}
	return false, nil
}

// AssignRole gives a subject a role.
func (e *Enforcer) AssignRole(subject, role string) (bool, error) {
	added, err := e.enforcer.AddGroupingPolicy(subject, role)
	if err != nil {
		return false, fmt.Errorf("assign role %q to %q: %w", role, subject, err)
	}
	return added, nil
}

// RevokeRole removes a role from a subject.
func (e *Enforcer) RevokeRole(subject, role string) (bool, error) {
	removed, err := e.enforcer.RemoveGroupingPolicy(subject, role)
	if err != nil {
		return false, fmt.Errorf("revoke role %q from %q: %w", role, subject, err)
	}
	return removed, nil
}

// RolesOf returns the subject's assigned roles.
func (e *Enforcer) RolesOf(subject string) ([]string, error) {
	return e.enforcer.GetRolesForUser(subject)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
