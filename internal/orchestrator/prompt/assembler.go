// Package prompt assembles the system and user prompts for each agent turn.
//
// The system prompt carries only sanitized, interpolated values and a fixed
// safety clause. All kid-supplied free text (skills, rules, portal inputs)
// reaches the agent exclusively through tagged blocks in the user prompt.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elisa-dev/elisa/internal/nugget"
	"github.com/elisa-dev/elisa/internal/planner"
	"github.com/elisa-dev/elisa/internal/workspace"
)

// Prompt is one assembled prompt pair.
type Prompt struct {
	System string
	User   string
}

// Options carries per-attempt inputs that vary between turns of a task.
type Options struct {
	// WorkspaceDir is the session workspace; used for the file manifest
	// and structural digest. Empty disables both sections.
	WorkspaceDir string

	// Predecessors are completed upstream tasks ordered direct
	// dependencies first, then transitive.
	Predecessors []*planner.Task

	// FailureContext is the previous attempt's summary when retrying.
	FailureContext string

	// Answers is the kid's reply to a pending mid-task question.
	Answers json.RawMessage
}

// Assembler builds prompts for one session.
type Assembler struct {
	spec     *nugget.Spec
	maxTurns int
	digester *workspace.Digester
}

// NewAssembler creates an assembler for a validated spec.
func NewAssembler(spec *nugget.Spec, maxTurns int) *Assembler {
	return &Assembler{
		spec:     spec,
		maxTurns: maxTurns,
		digester: workspace.NewDigester(256),
	}
}

// Assemble produces the system and user prompt for one attempt of a task.
func (a *Assembler) Assemble(task *planner.Task, agent *planner.Agent, opts Options) Prompt {
	return Prompt{
		System: a.systemPrompt(task, agent),
		User:   a.userPrompt(task, agent, opts),
	}
}

func (a *Assembler) systemPrompt(task *planner.Task, agent *planner.Agent) string {
	var tmpl string
	switch agent.Role {
	case planner.RoleTester:
		tmpl = testerSystemTemplate
	case planner.RoleReviewer:
		tmpl = reviewerSystemTemplate
	default:
		// builder and custom share the builder module
		tmpl = builderSystemTemplate
	}

	persona := agent.Persona
	if persona == "" {
		persona = "A careful, friendly software engineer."
	}
	allowed := "any path in the workspace"
	if len(agent.AllowedPaths) > 0 {
		allowed = strings.Join(agent.AllowedPaths, ", ")
	}
	restricted := "none"
	if len(agent.RestrictedPaths) > 0 {
		restricted = strings.Join(agent.RestrictedPaths, ", ")
	}

	replacements := map[string]string{
		"{agent_name}":         agent.Name,
		"{nugget_goal}":        a.spec.GoalOrDefault(),
		"{nugget_type}":        a.spec.TypeOrDefault(),
		"{nugget_description}": a.spec.DescriptionOrDefault(),
		"{persona}":            persona,
		"{allowed_paths}":      allowed,
		"{restricted_paths}":   restricted,
		"{task_id}":            task.ID,
		"{max_turns}":          fmt.Sprintf("%d", a.maxTurns),
	}

	out := tmpl
	for slot, value := range replacements {
		out = strings.ReplaceAll(out, slot, Sanitize(value))
	}
	return out + "\n\n" + safetyClause
}

func (a *Assembler) userPrompt(task *planner.Task, agent *planner.Agent, opts Options) string {
	var b sectionBuilder

	header := "# Task: " + task.Name + "\n\n" + task.Description
	b.add("", header)

	if len(task.AcceptanceCriteria) > 0 {
		var lines []string
		for _, c := range task.AcceptanceCriteria {
			lines = append(lines, "- "+c)
		}
		b.add("Acceptance Criteria", strings.Join(lines, "\n"))
	}

	b.add("Nugget Context", a.nuggetContext())
	b.add("Style Preferences", a.stylePreferences())
	b.add("Requirements", a.requirements())

	if target := a.spec.Workflow.DeploymentTarget; target != "" {
		b.add("Deployment Target", target)
	}

	b.add("Detailed Feature Skills", a.skills("feature"))
	b.add("Detailed Style Skills", a.skills("style"))
	b.add("Validation Rules", a.rules(agent.Role))
	b.add("Available Portals", a.portals())
	b.add("WHAT HAPPENED BEFORE YOU", a.predecessors(opts.Predecessors))

	if opts.WorkspaceDir != "" {
		b.add("", a.workspaceSections(opts.WorkspaceDir))
	}

	if opts.FailureContext != "" {
		b.add("Previous Attempt", "Your previous attempt at this task did not succeed. What happened:\n\n"+opts.FailureContext+"\n\nFix the problem and complete the task.")
	}
	if len(opts.Answers) > 0 {
		b.add("", `<user_input name="answers">`+"\n"+string(opts.Answers)+"\n</user_input>")
	}

	b.add("Instructions", instructionsFor(agent.Role))
	return b.String()
}

func (a *Assembler) nuggetContext() string {
	var lines []string
	if a.spec.Nugget.Goal != "" {
		lines = append(lines, "Goal: "+a.spec.Nugget.Goal)
	}
	if a.spec.Nugget.Description != "" {
		lines = append(lines, "Description: "+a.spec.Nugget.Description)
	}
	return strings.Join(lines, "\n")
}

func (a *Assembler) stylePreferences() string {
	s := a.spec.Style
	if s == nil {
		return ""
	}
	var lines []string
	if s.Visual != "" {
		lines = append(lines, "Visual: "+s.Visual)
	}
	if s.Personality != "" {
		lines = append(lines, "Personality: "+s.Personality)
	}
	if len(s.Colors) > 0 {
		lines = append(lines, "Colors: "+strings.Join(s.Colors, ", "))
	}
	if s.Theme != "" {
		lines = append(lines, "Theme: "+s.Theme)
	}
	if s.Tone != "" {
		lines = append(lines, "Tone: "+s.Tone)
	}
	return strings.Join(lines, "\n")
}

func (a *Assembler) requirements() string {
	var lines []string
	for _, r := range a.spec.Requirements {
		lines = append(lines, fmt.Sprintf("- [%s] %s", r.Type, r.Description))
	}
	return strings.Join(lines, "\n")
}

func (a *Assembler) skills(category string) string {
	var blocks []string
	for _, s := range a.spec.Skills {
		cat := s.Category
		if cat == "" {
			cat = "feature"
		}
		if cat != category {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("<kid_skill name=%q>\n%s\n</kid_skill>", s.Name, s.Instructions))
	}
	return strings.Join(blocks, "\n\n")
}

// rules selects the validation rules relevant to the role: always-on rules
// for everyone, on_task_complete rules only for builders.
func (a *Assembler) rules(role planner.AgentRole) string {
	var blocks []string
	for _, r := range a.spec.Rules {
		trigger := r.Trigger
		if trigger == "" {
			trigger = "on_task_complete"
		}
		if trigger == "on_task_complete" && role != planner.RoleBuilder && role != planner.RoleCustom {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("<kid_rule name=%q trigger=%q>\n%s\n</kid_rule>", r.Name, trigger, r.Instructions))
	}
	return strings.Join(blocks, "\n\n")
}

func (a *Assembler) portals() string {
	var blocks []string
	for _, p := range a.spec.Portals {
		body := p.Description
		if len(p.Schema) > 0 {
			if body != "" {
				body += "\n"
			}
			body += "Schema: " + string(p.Schema)
		}
		blocks = append(blocks, fmt.Sprintf("<user_input name=%q>\n%s\n</user_input>", "portal:"+p.Name, body))
	}
	return strings.Join(blocks, "\n\n")
}

func (a *Assembler) predecessors(preds []*planner.Task) string {
	var summaries []predecessorSummary
	for _, t := range preds {
		summaries = append(summaries, predecessorSummary{name: t.Name, summary: t.Summary})
	}
	return predecessorSection(summaries)
}

func (a *Assembler) workspaceSections(dir string) string {
	files, err := workspace.Manifest(dir)
	if err != nil || len(files) == 0 {
		return "The workspace is empty."
	}
	out := "FILES ALREADY IN WORKSPACE\n" + strings.Join(files, "\n")
	if digest := a.digester.Digest(dir, files); digest != "" {
		out += "\n\nStructure:\n" + digest
	}
	return out
}

func instructionsFor(role planner.AgentRole) string {
	switch role {
	case planner.RoleTester:
		return "Run the tests, report every result, then summarize what you found."
	case planner.RoleReviewer:
		return "Review the workspace, fix what you safely can, then summarize your findings."
	default:
		return "Complete the task, commit your work, then summarize what you built."
	}
}

// sectionBuilder joins non-empty sections with blank lines, prefixing named
// sections with a level-2 header.
type sectionBuilder struct {
	parts []string
}

func (b *sectionBuilder) add(title, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	if title != "" {
		body = "## " + title + "\n\n" + body
	}
	b.parts = append(b.parts, body)
}

func (b *sectionBuilder) String() string {
	return strings.Join(b.parts, "\n\n")
}
