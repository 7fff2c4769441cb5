package prompts

import (
	"fmt"
	"strings"
)

// DemoTask is substituted when the task source is effectively empty, so a
// fresh checkout produces a meaningful first run.
const DemoTask = `Create a tiny Python package inside the workspace:
- app/greeter.py with a greet(name: str) -> str function
- pytest tests for greet
- requirements.txt listing pytest
- README.md with usage and test instructions
`

// Section is one named block of a role prompt.
type Section struct {
	Key   string
	Value string
}

// Sections renders in declaration order; the engine never reorders them.
type Sections []Section

// Render produces the prompt text: one "KEY:\nvalue" block per section.
func (s Sections) Render() string {
	var b strings.Builder
	for i, sec := range s {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(sec.Key)
		b.WriteString(":\n")
		b.WriteString(strings.TrimSpace(sec.Value))
		b.WriteString("\n")
	}
	return b.String()
}

// PlannerInput holds the planner prompt material.
type PlannerInput struct {
	Task         string
	Backlog      string
	Vision       string
	Architecture string
	Conventions  string
}

// Planner assembles the planner prompt sections.
func Planner(in PlannerInput) Sections {
	return Sections{
		{"TASK", in.Task},
		{"BACKLOG", in.Backlog},
		{"VISION", in.Vision},
		{"ARCHITECTURE", in.Architecture},
		{"CONVENTIONS", in.Conventions},
	}
}

// ImplementerInput holds the implementer prompt material.
type ImplementerInput struct {
	Task         string
	Plan         string
	Architecture string
	Conventions  string
	Fixes        []string
}

// Implementer assembles the implementer prompt sections. REVIEW_FIXES is
// "- None" on round 1 and the previous round's fixes afterwards.
func Implementer(in ImplementerInput) Sections {
	fixes := "- None"
	if len(in.Fixes) > 0 {
		var b strings.Builder
		for i, fix := range in.Fixes {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("- ")
			b.WriteString(fix)
		}
		fixes = b.String()
	}
	return Sections{
		{"TASK", in.Task},
		{"PLAN", in.Plan},
		{"ARCHITECTURE", in.Architecture},
		{"CONVENTIONS", in.Conventions},
		{"REVIEW_FIXES", fixes},
	}
}

// ReviewerInput holds the reviewer prompt material.
type ReviewerInput struct {
	Task              string
	Plan              string
	ToolOutputs       string
	Diff              string
	RedFlags          string
	ImplementerReport string
}

// Reviewer assembles the reviewer prompt sections.
func Reviewer(in ReviewerInput) Sections {
	toolOutputs := in.ToolOutputs
	if strings.TrimSpace(toolOutputs) == "" {
		toolOutputs = "- None"
	}
	diff := in.Diff
	if strings.TrimSpace(diff) == "" {
		diff = "- None"
	}
	redFlags := in.RedFlags
	if strings.TrimSpace(redFlags) == "" {
		redFlags = "- None"
	}
	return Sections{
		{"TASK", in.Task},
		{"PLAN", in.Plan},
		{"TOOL_OUTPUTS", toolOutputs},
		{"DIFF", diff},
		{"RED_FLAGS", redFlags},
		{"IMPLEMENTER_REPORT", in.ImplementerReport},
	}
}

// TechWriterInput holds the tech writer prompt material.
type TechWriterInput struct {
	Task         string
	Plan         string
	FinalVerdict string
	Review       string
	Fixes        []string
}

// TechWriter assembles the tech writer prompt sections.
func TechWriter(in TechWriterInput) Sections {
	secs := Sections{
		{"TASK", in.Task},
		{"PLAN", in.Plan},
		{"FINAL_VERDICT", in.FinalVerdict},
		{"REVIEW", in.Review},
	}
	if len(in.Fixes) > 0 {
		secs = append(secs, Section{"FIXES", "- " + strings.Join(in.Fixes, "\n- ")})
	}
	return secs
}

// Truncate caps text for a prompt-facing copy. The result, including the
// truncation marker, never exceeds max characters.
func Truncate(text string, max int, label string) string {
	if max <= 0 {
		return ""
	}
	if len(text) <= max {
		return text
	}
	marker := fmt.Sprintf("\n\n...[%s truncated to %d chars]", label, max)
	if len(marker) >= max {
		return text[:max]
	}
	cut := max - len(marker)
	return strings.TrimRight(text[:cut], " \t\n") + marker
}

// IsEffectivelyEmpty reports whether text has no real content: blank lines,
// markdown headings, and a bare TODO placeholder do not count.
func IsEffectivelyEmpty(text string) bool {
	if strings.TrimSpace(text) == "" {
		return true
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.EqualFold(line, "TODO") {
			continue
		}
		return false
	}
	return true
}
