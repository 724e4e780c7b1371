package testutils

import (
	"fmt"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the part of testing.T the asserters report through
type TestingT interface {
	Errorf(format string, args ...interface{})
}

type TextAssertOptions struct {
	TrimSpace bool `default:"false"`
	// MarkWhitespace shows spaces as '·' and tabs as '→' on changed diff lines,
	// so column padding mismatches in tables are visible.
	MarkWhitespace bool `default:"true"`
}

// TextOption is a functional option for configuring TextAsserter
type TextOption func(*TextAssertOptions)

// WithTrimSpace sets whether to trim leading and trailing whitespace from entire text
func WithTrimSpace(trim bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.TrimSpace = trim
	}
}

// WithMarkWhitespace sets whether changed diff lines show their whitespace
func WithMarkWhitespace(mark bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.MarkWhitespace = mark
	}
}

// TextAsserter compares command output against an expected text and reports
// a unified diff on mismatch.
type TextAsserter struct {
	t       TestingT
	options TextAssertOptions
}

// NewTextAsserter creates a new TextAsserter with default options
func NewTextAsserter(t TestingT) *TextAsserter {
	opts := TextAssertOptions{}
	defaults.SetDefaults(&opts)
	return &TextAsserter{t: t, options: opts}
}

// WithOptions applies functional options to the TextAsserter
func (ta *TextAsserter) WithOptions(opts ...TextOption) *TextAsserter {
	for _, opt := range opts {
		opt(&ta.options)
	}
	return ta
}

// Assert compares actual text against expected text
func (ta *TextAsserter) Assert(actual, expected string) {
	if diff := ta.diff(actual, expected); diff != "" {
		ta.t.Errorf("Text assertion failed:\n%s", diff)
	}
}

func (ta *TextAsserter) diff(actual, expected string) string {
	if ta.options.TrimSpace {
		actual = strings.TrimSpace(actual)
		expected = strings.TrimSpace(expected)
	}
	if actual == expected {
		return ""
	}

	edits := myers.ComputeEdits("", expected, actual)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", expected, edits))
	if !ta.options.MarkWhitespace {
		return unified
	}

	lines := strings.Split(unified, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "---") || strings.HasPrefix(line, "+++") {
			continue
		}
		if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "+") {
			lines[i] = line[:1] + markWhitespace(line[1:])
		}
	}
	return strings.Join(lines, "\n")
}

func markWhitespace(s string) string {
	s = strings.ReplaceAll(s, " ", "·")
	return strings.ReplaceAll(s, "\t", "→")
}
