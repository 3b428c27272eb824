package nugget

import (
	"strings"
	"testing"
)

func validSpec() *Spec {
	return &Spec{Nugget: Nugget{Goal: "todo app", Type: "software"}}
}

func TestValidate_MinimalSpec(t *testing.T) {
	spec, errs := Validate(validSpec())
	if len(errs) > 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if spec.Nugget.Type != "software" {
		t.Errorf("expected type software, got %q", spec.Nugget.Type)
	}
}

func TestValidate_DefaultsType(t *testing.T) {
	spec, errs := Validate(&Spec{Nugget: Nugget{Goal: "robot"}})
	if len(errs) > 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if spec.Nugget.Type != "software" {
		t.Errorf("expected default type software, got %q", spec.Nugget.Type)
	}
}

func TestValidate_DefaultsDeploymentTarget(t *testing.T) {
	spec, errs := Validate(&Spec{Nugget: Nugget{Goal: "todo app"}})
	if len(errs) > 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if spec.Workflow.DeploymentTarget != "web" {
		t.Errorf("software nugget should default to web, got %q", spec.Workflow.DeploymentTarget)
	}

	// Hardware nuggets name their device target themselves.
	spec, errs = Validate(&Spec{Nugget: Nugget{Goal: "robot", Type: "hardware"}})
	if len(errs) > 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if spec.Workflow.DeploymentTarget != "" {
		t.Errorf("hardware nugget must not default a target, got %q", spec.Workflow.DeploymentTarget)
	}

	// An explicit target is kept.
	spec, errs = Validate(&Spec{
		Nugget:   Nugget{Goal: "weather station", Type: "software"},
		Workflow: Workflow{DeploymentTarget: "esp32"},
	})
	if len(errs) > 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if spec.Workflow.DeploymentTarget != "esp32" {
		t.Errorf("explicit target overridden: %q", spec.Workflow.DeploymentTarget)
	}
}

func TestValidate_MissingGoal(t *testing.T) {
	_, errs := Validate(&Spec{})
	if len(errs) == 0 {
		t.Fatal("expected errors for empty goal")
	}
	if errs[0].Path != "nugget.goal" {
		t.Errorf("expected path nugget.goal, got %q", errs[0].Path)
	}
}

func TestValidate_GoalTooLong(t *testing.T) {
	spec := validSpec()
	spec.Nugget.Goal = strings.Repeat("a", MaxGoalLength+1)
	_, errs := Validate(spec)
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %v", errs)
	}
	if errs[0].Path != "nugget.goal" {
		t.Errorf("expected path nugget.goal, got %q", errs[0].Path)
	}
}

func TestValidate_NilSpec(t *testing.T) {
	_, errs := Validate(nil)
	if len(errs) != 1 || errs[0].Path != "nugget" {
		t.Fatalf("expected single nugget error, got %v", errs)
	}
}

func TestValidate_RequirementPaths(t *testing.T) {
	spec := validSpec()
	spec.Requirements = []Requirement{
		{Type: "feature", Description: "works"},
		{Type: "feature", Description: ""},
	}
	_, errs := Validate(spec)
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %v", errs)
	}
	if errs[0].Path != "requirements[1].description" {
		t.Errorf("expected indexed path, got %q", errs[0].Path)
	}
}

func TestValidate_BadDeploymentTarget(t *testing.T) {
	spec := validSpec()
	spec.Workflow.DeploymentTarget = "mainframe"
	_, errs := Validate(spec)
	if len(errs) != 1 || errs[0].Path != "workflow.deployment_target" {
		t.Fatalf("expected deployment_target error, got %v", errs)
	}
}

func TestValidate_DoesNotMutateInput(t *testing.T) {
	in := &Spec{Nugget: Nugget{Goal: "robot"}}
	_, _ = Validate(in)
	if in.Nugget.Type != "" {
		t.Errorf("input spec mutated: type = %q", in.Nugget.Type)
	}
}

func TestValidate_BadRuleTrigger(t *testing.T) {
	spec := validSpec()
	spec.Rules = []Rule{{Name: "r", Trigger: "hourly", Instructions: "check"}}
	_, errs := Validate(spec)
	if len(errs) != 1 || errs[0].Path != "rules[0].trigger" {
		t.Fatalf("expected rule trigger error, got %v", errs)
	}
}
