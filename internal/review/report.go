package review

import (
	"regexp"
	"strconv"
	"strings"
)

// Change is one file the implementer claims to have touched.
type Change struct {
	Path string
	Kind string // created, modified or deleted
}

// CommandRun is one command the implementer claims to have executed.
type CommandRun struct {
	Cmd        string
	ReturnCode int
}

// Report is the parsed implementer output. Only RESULT and the CHANGES and
// COMMANDS lists are extracted reliably; malformed entries elsewhere are
// tolerated and skipped.
type Report struct {
	Result   Verdict
	Changes  []Change
	Commands []CommandRun
	Raw      string
}

var (
	changeItem  = regexp.MustCompile(`^-\s*(\S+)\s*\((created|modified|deleted)\)\s*$`)
	commandItem = regexp.MustCompile(`^-\s*(.+?)\s*->\s*(-?\d+)\s*$`)
)

// ParseReport extracts a Report from implementer text. RESULT defaults to
// FAIL when absent or unrecognized.
func ParseReport(text string) Report {
	r := Report{Result: VerdictFail, Raw: text}

	section := ""
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(line, "RESULT:"):
			section = ""
			value := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(line, "RESULT:")))
			if value == string(VerdictPass) || value == string(VerdictFail) {
				r.Result = Verdict(value)
			}
			continue
		case strings.HasPrefix(line, "CHANGES:"):
			section = "changes"
			continue
		case strings.HasPrefix(line, "COMMANDS:"):
			section = "commands"
			continue
		case topLevelKeyword.MatchString(line):
			section = ""
			continue
		}

		switch section {
		case "changes":
			if m := changeItem.FindStringSubmatch(line); m != nil {
				r.Changes = append(r.Changes, Change{Path: m[1], Kind: m[2]})
			}
		case "commands":
			if m := commandItem.FindStringSubmatch(line); m != nil {
				rc, err := strconv.Atoi(m[2])
				if err != nil {
					continue
				}
				r.Commands = append(r.Commands, CommandRun{Cmd: m[1], ReturnCode: rc})
			}
		}
	}
	return r
}
