package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReportFull(t *testing.T) {
	text := `REPORT:
SUMMARY:
- implemented the greeter
CHANGES:
- app/greeter.py (created)
- tests/test_greeter.py (created)
- README.md (modified)
COMMANDS:
- python -m pytest -q -> 0
- pip install pytest -> 126
TESTS:
- python -m pytest -q -> 0
RESULT: PASS
NOTES:
- none
`
	r := ParseReport(text)

	assert.Equal(t, VerdictPass, r.Result)
	assert.Equal(t, []Change{
		{Path: "app/greeter.py", Kind: "created"},
		{Path: "tests/test_greeter.py", Kind: "created"},
		{Path: "README.md", Kind: "modified"},
	}, r.Changes)
	assert.Equal(t, []CommandRun{
		{Cmd: "python -m pytest -q", ReturnCode: 0},
		{Cmd: "pip install pytest", ReturnCode: 126},
	}, r.Commands)
}

func TestParseReportDefaultsToFail(t *testing.T) {
	assert.Equal(t, VerdictFail, ParseReport("").Result)
	assert.Equal(t, VerdictFail, ParseReport("RESULT: DONE").Result)
	assert.Equal(t, VerdictFail, ParseReport("nothing structured here").Result)
}

func TestParseReportToleratesMalformedEntries(t *testing.T) {
	text := `CHANGES:
- app/greeter.py (created)
- not a valid entry
- other.py (broken)
COMMANDS:
- echo hi -> zero
- ls -> 0
RESULT: FAIL
`
	r := ParseReport(text)

	assert.Len(t, r.Changes, 1)
	assert.Equal(t, "app/greeter.py", r.Changes[0].Path)
	assert.Len(t, r.Commands, 1)
	assert.Equal(t, "ls", r.Commands[0].Cmd)
	assert.Equal(t, VerdictFail, r.Result)
}
