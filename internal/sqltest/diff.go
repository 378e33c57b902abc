package sqltest

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// diffContext is how many unchanged lines surround each hunk.
const diffContext = 3

// DiffLines returns a unified-style line diff between expected and
// actual, or "" when they match. Output is normalised to LF and a
// trailing-newline difference alone never produces a diff.
func DiffLines(expected, actual string) string {
	expected = normalise(expected)
	actual = normalise(actual)
	if expected == actual {
		return ""
	}

	dmp := diffmatchpatch.New()
	e, a, lines := dmp.DiffLinesToChars(expected, actual)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(e, a, false), lines)

	type op struct {
		tag  byte // ' ', '-', '+'
		line string
	}
	var ops []op
	for _, d := range diffs {
		tag := byte(' ')
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			tag = '-'
		case diffmatchpatch.DiffInsert:
			tag = '+'
		}
		for _, line := range splitLines(d.Text) {
			ops = append(ops, op{tag: tag, line: line})
		}
	}

	// Emit hunks: every changed line plus up to diffContext unchanged
	// lines on either side, separated by "---" between distant groups.
	keep := make([]bool, len(ops))
	for i, o := range ops {
		if o.tag == ' ' {
			continue
		}
		lo := i - diffContext
		if lo < 0 {
			lo = 0
		}
		hi := i + diffContext
		if hi >= len(ops) {
			hi = len(ops) - 1
		}
		for j := lo; j <= hi; j++ {
			keep[j] = true
		}
	}

	var b strings.Builder
	prevKept := -1
	for i, o := range ops {
		if !keep[i] {
			continue
		}
		if prevKept >= 0 && i > prevKept+1 {
			b.WriteString("---\n")
		}
		b.WriteByte(o.tag)
		b.WriteString(o.line)
		b.WriteByte('\n')
		prevKept = i
	}
	return b.String()
}

func normalise(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimRight(s, "\n")
}

func splitLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
