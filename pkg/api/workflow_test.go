package api

import (
	"errors"
	"strings"
	"testing"
)

func chainSteps() map[StepName]StepDefinition {
	return map[StepName]StepDefinition{
		"A": {Impl: "echo", MaxRetries: 0, Next: "B"},
		"B": {Impl: "echo", MaxRetries: 1},
	}
}

func TestNewWorkflowGraph_ValidChain(t *testing.T) {
	g, err := NewWorkflowGraph("wf.yml", "A", chainSteps())
	if err != nil {
		t.Fatalf("NewWorkflowGraph failed: %v", err)
	}

	if g.EntryStep() != "A" {
		t.Fatalf("expected entry A, got %q", g.EntryStep())
	}
	if g.Ref() != "wf.yml" {
		t.Fatalf("expected ref wf.yml, got %q", g.Ref())
	}

	b, err := g.Lookup("B")
	if err != nil {
		t.Fatalf("Lookup(B) failed: %v", err)
	}
	if b.Name != "B" || !b.Terminal() || b.Model != DefaultModel {
		t.Fatalf("unexpected definition for B: %+v", b)
	}

	chain := g.Chain()
	if len(chain) != 2 || chain[0].Name != "A" || chain[1].Name != "B" {
		t.Fatalf("unexpected chain: %+v", chain)
	}
}

func TestNewWorkflowGraph_DoesNotAliasInput(t *testing.T) {
	steps := chainSteps()
	g, err := NewWorkflowGraph("wf.yml", "A", steps)
	if err != nil {
		t.Fatalf("NewWorkflowGraph failed: %v", err)
	}

	steps["A"] = StepDefinition{Impl: "other"}
	delete(steps, "B")

	a, _ := g.Lookup("A")
	if a.Impl != "echo" || a.Next != "B" {
		t.Fatalf("graph mutated through caller map: %+v", a)
	}
	if _, err := g.Lookup("B"); err != nil {
		t.Fatalf("graph lost step B after caller mutation: %v", err)
	}
}

func TestNewWorkflowGraph_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		entry  StepName
		steps  map[StepName]StepDefinition
		reason string
	}{
		{
			name:   "missing entry",
			entry:  "",
			steps:  chainSteps(),
			reason: "missing entry",
		},
		{
			name:   "no steps",
			entry:  "A",
			steps:  map[StepName]StepDefinition{},
			reason: "no steps",
		},
		{
			name:   "unknown entry",
			entry:  "Z",
			steps:  chainSteps(),
			reason: `entry step "Z"`,
		},
		{
			name:  "unknown next",
			entry: "A",
			steps: map[StepName]StepDefinition{
				"A": {Next: "missing"},
			},
			reason: `unknown next step "missing"`,
		},
		{
			name:  "negative retries",
			entry: "A",
			steps: map[StepName]StepDefinition{
				"A": {MaxRetries: -1},
			},
			reason: "negative retries",
		},
		{
			name:  "reserved name",
			entry: "A",
			steps: map[StepName]StepDefinition{
				"A":   {Next: "end"},
				"end": {},
			},
			reason: "reserved",
		},
		{
			name:  "self loop",
			entry: "A",
			steps: map[StepName]StepDefinition{
				"A": {Next: "A"},
			},
			reason: "cycle",
		},
		{
			name:  "longer cycle off the entry path",
			entry: "A",
			steps: map[StepName]StepDefinition{
				"A": {},
				"X": {Next: "Y"},
				"Y": {Next: "Z"},
				"Z": {Next: "X"},
			},
			reason: "cycle",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewWorkflowGraph("wf.yml", tc.entry, tc.steps)
			if err == nil {
				t.Fatalf("expected error")
			}
			var iwe *InvalidWorkflowError
			if !errors.As(err, &iwe) {
				t.Fatalf("expected *InvalidWorkflowError, got %T: %v", err, err)
			}
			if !strings.Contains(iwe.Reason, tc.reason) {
				t.Fatalf("expected reason containing %q, got %q", tc.reason, iwe.Reason)
			}
		})
	}
}

func TestNewWorkflowGraph_SharedTailIsNotACycle(t *testing.T) {
	steps := map[StepName]StepDefinition{
		"A": {Next: "C"},
		"B": {Next: "C"},
		"C": {},
	}
	if _, err := NewWorkflowGraph("wf.yml", "A", steps); err != nil {
		t.Fatalf("expected converging chains to be accepted, got %v", err)
	}
}

func TestWorkflowGraph_LookupUnknown(t *testing.T) {
	g, err := NewWorkflowGraph("wf.yml", "A", chainSteps())
	if err != nil {
		t.Fatalf("NewWorkflowGraph failed: %v", err)
	}

	_, err = g.Lookup("nope")
	var use *UnknownStepError
	if !errors.As(err, &use) {
		t.Fatalf("expected *UnknownStepError, got %T", err)
	}
	if use.Step != "nope" {
		t.Fatalf("expected step nope, got %q", use.Step)
	}
}
