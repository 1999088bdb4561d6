package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCompleteBalancedSource(t *testing.T) {
	s := &Session{}
	status, indent := s.IsComplete("func f() { print(1) }")
	assert.Equal(t, "complete", status)
	assert.Empty(t, indent)
}

func TestIsCompleteOpenBraceIsIncomplete(t *testing.T) {
	s := &Session{}
	status, indent := s.IsComplete("func f() {\n  if true {")
	assert.Equal(t, "incomplete", status)
	assert.Equal(t, "        ", indent)
}

func TestIsCompleteUnbalancedCloseIsInvalid(t *testing.T) {
	s := &Session{}
	status, _ := s.IsComplete("}}")
	assert.Equal(t, "invalid", status)
}

func TestExtractDottedVersion(t *testing.T) {
	cases := []struct {
		line string
		want string
	}{
		{"Swift version 5.9.2 (swift-5.9.2-RELEASE)", "5.9.2"},
		{"Apple Swift version 5.10 (swiftlang-5.10.0.13)", "5.10"},
		{"no version here", ""},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, extractDottedVersion(c.line), "line %q", c.line)
	}
}

func TestIsDottedVersionRejectsNonVersions(t *testing.T) {
	assert.True(t, isDottedVersion("5.9.2"))
	assert.False(t, isDottedVersion("5"), "a bare integer is not a dotted version")
	assert.False(t, isDottedVersion("v5.9"))
	assert.False(t, isDottedVersion("..."))
}

func TestCompletionPrefixCountsCodePoints(t *testing.T) {
	source := "💡let x = 5\nx."
	runes := []rune(source)

	prefix, pos := completionPrefix(source, len(runes))
	assert.Equal(t, source, prefix)
	assert.Equal(t, len(runes), pos)

	// Slicing after the emoji must land on a code-point boundary, not a
	// byte boundary inside its UTF-8 encoding.
	prefix, pos = completionPrefix(source, 1)
	assert.Equal(t, "💡", prefix)
	assert.Equal(t, 1, pos)
}

func TestCompletionPrefixClampsOutOfRangeCursor(t *testing.T) {
	prefix, pos := completionPrefix("ab", 99)
	assert.Equal(t, "ab", prefix)
	assert.Equal(t, 2, pos)

	prefix, pos = completionPrefix("ab", -1)
	assert.Empty(t, prefix)
	assert.Zero(t, pos)
}

func TestExecuteReplyShapes(t *testing.T) {
	ok := executeReplyOK(3)
	assert.Equal(t, "ok", ok.Status)
	assert.Equal(t, 3, ok.ExecutionCount)
	assert.Empty(t, ok.Name)
}
