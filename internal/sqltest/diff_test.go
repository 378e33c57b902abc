package sqltest_test

import (
	"strings"
	"testing"

	"github.com/spawn-build/spawn/internal/sqltest"
	"github.com/stretchr/testify/assert"
)

func TestDiffLinesEqual(t *testing.T) {
	assert.Empty(t, sqltest.DiffLines(" a\n b\n", " a\n b\n"))
}

func TestDiffLinesTrailingNewlineIgnored(t *testing.T) {
	assert.Empty(t, sqltest.DiffLines("a\nb\n", "a\nb"))
	assert.Empty(t, sqltest.DiffLines("a\nb", "a\nb\n\n"))
}

func TestDiffLinesCRLFNormalised(t *testing.T) {
	assert.Empty(t, sqltest.DiffLines("a\r\nb\r\n", "a\nb\n"))
}

func TestDiffLinesReportsChanges(t *testing.T) {
	diff := sqltest.DiffLines(" a\n c\n", " a\n b\n")
	assert.Contains(t, diff, "- c")
	assert.Contains(t, diff, "+ b")
	assert.Contains(t, diff, "  a", "unchanged context line is kept")
}

func TestDiffLinesContextIsBounded(t *testing.T) {
	lines := make([]string, 0, 21)
	for i := 0; i < 21; i++ {
		lines = append(lines, "same")
	}
	expected := strings.Join(lines, "\n")
	changed := strings.Join(append(append([]string{}, lines[:10]...), append([]string{"different"}, lines[10:]...)...), "\n")

	diff := sqltest.DiffLines(expected, changed)
	assert.Contains(t, diff, "+different")
	// 3 context lines either side plus the insertion: 7 kept lines.
	assert.Len(t, strings.Split(strings.TrimSuffix(diff, "\n"), "\n"), 7)
}
