package predict

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRules_Defaults(t *testing.T) {
	pack, err := LoadRules("")
	if err != nil {
		t.Fatalf("LoadRules(\"\") unexpected error = %v", err)
	}
	if pack.InclusionThreshold != 30 {
		t.Errorf("InclusionThreshold = %f, want 30", pack.InclusionThreshold)
	}
	if pack.CascadeDecay != 0.6 {
		t.Errorf("CascadeDecay = %f, want 0.6", pack.CascadeDecay)
	}
	if len(pack.Actions) != 3 {
		t.Errorf("Actions has %d entries, want 3", len(pack.Actions))
	}
}

func TestLoadRules_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `inclusion_threshold: 50
cascade_decay: 0.4
actions:
  error_cascade:
    - "Page the on-call for {service}"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	pack, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules() unexpected error = %v", err)
	}
	if pack.InclusionThreshold != 50 {
		t.Errorf("InclusionThreshold = %f, want 50", pack.InclusionThreshold)
	}
	if pack.CascadeDecay != 0.4 {
		t.Errorf("CascadeDecay = %f, want 0.4", pack.CascadeDecay)
	}
	// Unset fields keep defaults.
	if pack.CascadeFloor != 10 {
		t.Errorf("CascadeFloor = %f, want default 10", pack.CascadeFloor)
	}
	if len(pack.CommonActions) == 0 {
		t.Error("CommonActions not defaulted")
	}
	// Failure types absent from the override keep their default tables.
	if len(pack.Actions[string(FailureResourceExhaustion)]) == 0 {
		t.Error("resource_exhaustion actions not defaulted")
	}

	actions := pack.ActionsFor(FailureErrorCascade, "auth-service")
	if len(actions) == 0 || actions[0] != "Page the on-call for auth-service" {
		t.Errorf("ActionsFor = %v, want override first with service substituted", actions)
	}
}

func TestLoadRules_Errors(t *testing.T) {
	if _, err := LoadRules("/nonexistent/rules.yaml"); err == nil {
		t.Error("LoadRules() on missing file: error = nil, want error")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("actions: [broken"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	if _, err := LoadRules(path); err == nil {
		t.Error("LoadRules() on malformed yaml: error = nil, want error")
	}
}

func TestRulePack_ActionsFor_Cap(t *testing.T) {
	pack := DefaultRules()
	actions := pack.ActionsFor(FailureResourceExhaustion, "user-db")
	if len(actions) > maxActions {
		t.Errorf("ActionsFor returned %d actions, want <= %d", len(actions), maxActions)
	}
	for _, a := range actions {
		if strings.Contains(a, "{service}") {
			t.Errorf("unsubstituted template in %q", a)
		}
	}
}
