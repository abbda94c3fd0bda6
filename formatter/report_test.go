package formatter

import (
	"os"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/gnolang/cprop/analyze"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestFormatReport(t *testing.T) {
	t.Parallel()

	report := &analyze.Report{
		File:  "prog.yaml",
		Entry: "main",
		Dirty: []string{"g"},
		Locations: []analyze.Location{
			{Number: 0, Function: "main", Instruction: "main::x := 1"},
			{Number: 1, Function: "main", Instruction: "SKIP", Constants: map[string]string{"main::x": "1", "g": "2"}},
			{Number: 12, Function: "f", Instruction: "END_FUNCTION", Bottom: true},
		},
	}

	expected := `prog.yaml (entry main)
  address taken: g
main:
   0 | main::x := 1
     | top
   1 | SKIP
     | g=2, main::x=1
f:
  12 | END_FUNCTION
     | unreachable
`
	assert.Equal(t, expected, FormatReport(report))
}

func TestFormatReportWithProgram(t *testing.T) {
	t.Parallel()

	report := &analyze.Report{
		File:      "prog.yaml",
		Entry:     "main",
		Locations: []analyze.Location{{Number: 0, Function: "main", Instruction: "END_FUNCTION"}},
		Rewritten: 1,
		Program:   "main():\n    0: END_FUNCTION\n",
	}

	expected := `prog.yaml (entry main)
main:
  0 | END_FUNCTION
    | top

rewrote 1 instructions:
main():
    0: END_FUNCTION
`
	assert.Equal(t, expected, FormatReport(report))
}

func TestNumberWidth(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, numberWidth(nil))
	assert.Equal(t, 3, numberWidth([]analyze.Location{{Number: 7}, {Number: 120}}))
}
