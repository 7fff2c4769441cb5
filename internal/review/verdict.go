// Package review parses the semi-structured text reports produced by the
// reviewer and implementer roles.
//
// The role-output "schema" is plain text with recognizable tokens, not a
// grammar. Parsing is a tolerant line scan with fail-closed defaults: a
// malformed reviewer response can degrade to FAIL/SKIP but can never raise,
// and can never be mistaken for success.
package review

import (
	"regexp"
	"strings"
)

// Verdict is the reviewer's judgment of a round.
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictFail Verdict = "FAIL"
)

// Action is the reviewer's instruction for whether the loop should proceed.
type Action string

const (
	ActionContinue Action = "CONTINUE"
	ActionSkip     Action = "SKIP"
)

// Decision is the parsed reviewer output.
type Decision struct {
	Verdict Verdict
	Action  Action
	// Fixes are the remediation items fed into the next round's
	// implementer prompt. May be empty.
	Fixes []string
	// DocsRequested is set when the FIXES body or any fix item carries the
	// DOCS: prefix, asking the tech writer to run even on FAIL.
	DocsRequested bool
	// Malformed is set when VERDICT or ACTION was absent or unrecognized
	// and a fail-closed default was substituted.
	Malformed bool
	// Raw is the unmodified reviewer text.
	Raw string
}

// topLevelKeyword matches lines that start a new report section, ending a
// FIXES block.
var topLevelKeyword = regexp.MustCompile(`^[A-Z][A-Z_]*:`)

// Parse extracts a Decision from reviewer text. Keywords are matched
// case-sensitively at line starts; surrounding whitespace and any other
// prose are ignored. Missing or unrecognized VERDICT/ACTION values yield
// the fail-closed defaults FAIL/SKIP.
func Parse(text string) Decision {
	d := Decision{
		Verdict: VerdictFail,
		Action:  ActionSkip,
		Raw:     text,
	}

	sawVerdict := false
	sawAction := false
	inFixes := false
	var fixesBody []string

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)

		if inFixes {
			if topLevelKeyword.MatchString(line) && !strings.HasPrefix(line, "DOCS:") {
				inFixes = false
			} else {
				fixesBody = append(fixesBody, line)
				continue
			}
		}

		switch {
		case strings.HasPrefix(line, "VERDICT:"):
			value := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(line, "VERDICT:")))
			if value == string(VerdictPass) || value == string(VerdictFail) {
				d.Verdict = Verdict(value)
				sawVerdict = true
			}
		case strings.HasPrefix(line, "ACTION:"):
			value := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(line, "ACTION:")))
			if value == string(ActionContinue) || value == string(ActionSkip) {
				d.Action = Action(value)
				sawAction = true
			}
		case strings.HasPrefix(line, "FIXES:"):
			inFixes = true
			if rest := strings.TrimSpace(strings.TrimPrefix(line, "FIXES:")); rest != "" {
				fixesBody = append(fixesBody, rest)
			}
		}
	}

	d.Fixes, d.DocsRequested = collectFixes(fixesBody)
	d.Malformed = !sawVerdict || !sawAction
	// Without a parsed verdict an explicit CONTINUE is not trusted: the
	// whole response is suspect, so the action fails closed too.
	if !sawVerdict {
		d.Action = ActionSkip
	}
	return d
}

// collectFixes extracts list items from a FIXES body and detects the DOCS:
// documentation-update request.
func collectFixes(body []string) ([]string, bool) {
	var fixes []string
	docs := false

	first := true
	for _, line := range body {
		if line == "" {
			continue
		}
		if first {
			if strings.HasPrefix(strings.ToUpper(line), "DOCS:") {
				docs = true
			}
			first = false
		}
		item := line
		if strings.HasPrefix(item, "-") {
			item = strings.TrimSpace(strings.TrimLeft(item, "- "))
		}
		if item == "" || strings.EqualFold(item, "None") {
			continue
		}
		if strings.HasPrefix(strings.ToUpper(item), "DOCS:") {
			docs = true
		}
		fixes = append(fixes, item)
	}
	return fixes, docs
}
