// Package nugget defines the declarative build specification (NuggetSpec)
// and its validation rules.
package nugget

import "encoding/json"

// Spec is the declarative description of what to build.
type Spec struct {
	Nugget       Nugget        `json:"nugget"`
	Requirements []Requirement `json:"requirements,omitempty"`
	Style        *Style        `json:"style,omitempty"`
	Skills       []Skill       `json:"skills,omitempty"`
	Rules        []Rule        `json:"rules,omitempty"`
	Portals      []Portal      `json:"portals,omitempty"`
	Devices      []Device      `json:"devices,omitempty"`
	Workflow     Workflow      `json:"workflow"`
}

// Nugget describes the build goal.
type Nugget struct {
	Goal        string `json:"goal"`
	Type        string `json:"type,omitempty"` // software, hardware
	Description string `json:"description,omitempty"`
}

// Requirement is a single typed requirement.
type Requirement struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Style holds visual and personality preferences.
// Colors, Theme and Tone are the legacy fields kept for older specs.
type Style struct {
	Visual      string   `json:"visual,omitempty"`
	Personality string   `json:"personality,omitempty"`
	Colors      []string `json:"colors,omitempty"`
	Theme       string   `json:"theme,omitempty"`
	Tone        string   `json:"tone,omitempty"`
}

// Skill is a named instruction block injected into agent prompts.
// Category is "feature" or "style".
type Skill struct {
	Name         string `json:"name"`
	Category     string `json:"category,omitempty"`
	Instructions string `json:"instructions"`
}

// Rule is a validation rule with a trigger.
// Trigger is "on_task_complete" or "always".
type Rule struct {
	Name         string `json:"name"`
	Trigger      string `json:"trigger,omitempty"`
	Instructions string `json:"instructions"`
}

// Portal describes an external input surface agents can read from.
type Portal struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// Device describes a hardware device available during deployment.
type Device struct {
	Name string            `json:"name"`
	Type string            `json:"type"` // e.g. esp32
	Pins map[string]string `json:"pins,omitempty"`
}

// Workflow holds the workflow policy knobs.
type Workflow struct {
	TestingEnabled   bool     `json:"testing_enabled,omitempty"`
	DeploymentTarget string   `json:"deployment_target,omitempty"` // web, esp32
	HumanGates       []string `json:"human_gates,omitempty"`
	MaxParallelTasks int      `json:"max_parallel_tasks,omitempty"`
}

// GoalOrDefault returns the goal or the literal "Not specified".
func (s *Spec) GoalOrDefault() string {
	if s.Nugget.Goal == "" {
		return "Not specified"
	}
	return s.Nugget.Goal
}

// DescriptionOrDefault returns the description or the literal "Not specified".
func (s *Spec) DescriptionOrDefault() string {
	if s.Nugget.Description == "" {
		return "Not specified"
	}
	return s.Nugget.Description
}

// TypeOrDefault returns the nugget type, defaulting to "software".
func (s *Spec) TypeOrDefault() string {
	if s.Nugget.Type == "" {
		return "software"
	}
	return s.Nugget.Type
}
