package nugget

import (
	"fmt"
	"strings"
)

// Caps applied during validation. Oversized specs are rejected, not truncated.
const (
	MaxGoalLength        = 2000
	MaxDescriptionLength = 5000
	MaxRequirements      = 100
	MaxRequirementLength = 1000
	MaxSkills            = 50
	MaxRules             = 50
	MaxPortals           = 20
	MaxDevices           = 10
	MaxHumanGates        = 10
	MaxInstructionLength = 10000
	MaxNameLength        = 200
)

// ValidationError describes one invalid field.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Path + ": " + e.Message
}

// ValidationErrors is the full list of problems found in a spec.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return "invalid spec: " + strings.Join(msgs, "; ")
}

var validNuggetTypes = map[string]bool{"": true, "software": true, "hardware": true}
var validRuleTriggers = map[string]bool{"": true, "on_task_complete": true, "always": true}
var validSkillCategories = map[string]bool{"": true, "feature": true, "style": true}
var validDeploymentTargets = map[string]bool{"": true, "web": true, "esp32": true}

// Validate normalizes and checks a spec. It returns the canonical spec or a
// non-empty ValidationErrors. Validation never mutates the input.
func Validate(in *Spec) (*Spec, ValidationErrors) {
	var errs ValidationErrors
	if in == nil {
		return nil, ValidationErrors{{Path: "nugget", Message: "spec is required"}}
	}

	out := *in

	if strings.TrimSpace(out.Nugget.Goal) == "" {
		errs = append(errs, ValidationError{Path: "nugget.goal", Message: "goal is required"})
	}
	if len(out.Nugget.Goal) > MaxGoalLength {
		errs = append(errs, ValidationError{
			Path:    "nugget.goal",
			Message: fmt.Sprintf("goal exceeds %d characters", MaxGoalLength),
		})
	}
	if len(out.Nugget.Description) > MaxDescriptionLength {
		errs = append(errs, ValidationError{
			Path:    "nugget.description",
			Message: fmt.Sprintf("description exceeds %d characters", MaxDescriptionLength),
		})
	}
	if !validNuggetTypes[out.Nugget.Type] {
		errs = append(errs, ValidationError{Path: "nugget.type", Message: "type must be software or hardware"})
	}
	if out.Nugget.Type == "" {
		out.Nugget.Type = "software"
	}

	if len(out.Requirements) > MaxRequirements {
		errs = append(errs, ValidationError{
			Path:    "requirements",
			Message: fmt.Sprintf("at most %d requirements allowed", MaxRequirements),
		})
	}
	for i, req := range out.Requirements {
		if strings.TrimSpace(req.Description) == "" {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("requirements[%d].description", i),
				Message: "description is required",
			})
		}
		if len(req.Description) > MaxRequirementLength {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("requirements[%d].description", i),
				Message: fmt.Sprintf("description exceeds %d characters", MaxRequirementLength),
			})
		}
	}

	if len(out.Skills) > MaxSkills {
		errs = append(errs, ValidationError{
			Path:    "skills",
			Message: fmt.Sprintf("at most %d skills allowed", MaxSkills),
		})
	}
	for i, skill := range out.Skills {
		path := fmt.Sprintf("skills[%d]", i)
		if strings.TrimSpace(skill.Name) == "" {
			errs = append(errs, ValidationError{Path: path + ".name", Message: "name is required"})
		}
		if len(skill.Name) > MaxNameLength {
			errs = append(errs, ValidationError{Path: path + ".name", Message: fmt.Sprintf("name exceeds %d characters", MaxNameLength)})
		}
		if len(skill.Instructions) > MaxInstructionLength {
			errs = append(errs, ValidationError{Path: path + ".instructions", Message: fmt.Sprintf("instructions exceed %d characters", MaxInstructionLength)})
		}
		if !validSkillCategories[skill.Category] {
			errs = append(errs, ValidationError{Path: path + ".category", Message: "category must be feature or style"})
		}
	}

	if len(out.Rules) > MaxRules {
		errs = append(errs, ValidationError{
			Path:    "rules",
			Message: fmt.Sprintf("at most %d rules allowed", MaxRules),
		})
	}
	for i, rule := range out.Rules {
		path := fmt.Sprintf("rules[%d]", i)
		if strings.TrimSpace(rule.Name) == "" {
			errs = append(errs, ValidationError{Path: path + ".name", Message: "name is required"})
		}
		if len(rule.Instructions) > MaxInstructionLength {
			errs = append(errs, ValidationError{Path: path + ".instructions", Message: fmt.Sprintf("instructions exceed %d characters", MaxInstructionLength)})
		}
		if !validRuleTriggers[rule.Trigger] {
			errs = append(errs, ValidationError{Path: path + ".trigger", Message: "trigger must be on_task_complete or always"})
		}
	}

	if len(out.Portals) > MaxPortals {
		errs = append(errs, ValidationError{
			Path:    "portals",
			Message: fmt.Sprintf("at most %d portals allowed", MaxPortals),
		})
	}
	for i, portal := range out.Portals {
		if strings.TrimSpace(portal.Name) == "" {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("portals[%d].name", i),
				Message: "name is required",
			})
		}
	}

	if len(out.Devices) > MaxDevices {
		errs = append(errs, ValidationError{
			Path:    "devices",
			Message: fmt.Sprintf("at most %d devices allowed", MaxDevices),
		})
	}

	if len(out.Workflow.HumanGates) > MaxHumanGates {
		errs = append(errs, ValidationError{
			Path:    "workflow.human_gates",
			Message: fmt.Sprintf("at most %d human gates allowed", MaxHumanGates),
		})
	}
	if !validDeploymentTargets[out.Workflow.DeploymentTarget] {
		errs = append(errs, ValidationError{
			Path:    "workflow.deployment_target",
			Message: "deployment_target must be web or esp32",
		})
	}
	// Software nuggets always ship somewhere; web is the default target.
	// Hardware nuggets must name their device target explicitly.
	if out.Workflow.DeploymentTarget == "" && out.Nugget.Type == "software" {
		out.Workflow.DeploymentTarget = "web"
	}
	if out.Workflow.MaxParallelTasks < 0 {
		errs = append(errs, ValidationError{
			Path:    "workflow.max_parallel_tasks",
			Message: "max_parallel_tasks must not be negative",
		})
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return &out, nil
}
