package debugger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResultDeclarationEcho(t *testing.T) {
	r := parseResult("$R0: Int = 42\n")
	require.True(t, r.HasValue)
	assert.Equal(t, "42", r.Value)
	assert.Equal(t, "Int", r.TypeName)
	assert.False(t, r.ErrorReported)
}

func TestParseResultCompileError(t *testing.T) {
	r := parseResult("error: cannot convert value of type 'String' to specified type 'Int'\n")
	require.True(t, r.ErrorReported)
	assert.Contains(t, r.ErrorDescription, "cannot convert value of type")
	assert.False(t, r.HasValue)
}

func TestParseResultStoppedProcess(t *testing.T) {
	r := parseResult("Fatal error: Index out of range\nProcess 123 stopped\n")
	assert.True(t, r.ErrorReported)
}

func TestParseResultEmptyOutputIsVoid(t *testing.T) {
	r := parseResult("\n\n")
	assert.False(t, r.HasValue)
	assert.False(t, r.ErrorReported)
}

func TestPromptPatternMatchesNumberedPrompts(t *testing.T) {
	assert.True(t, promptPattern.MatchString("  1> \n"))
	assert.True(t, promptPattern.MatchString(" 23> "))
	assert.False(t, promptPattern.MatchString("let x = 1"))
	assert.False(t, promptPattern.MatchString("  1> let x = 1"))
}

func TestFrameLinePattern(t *testing.T) {
	line := "    frame #0: 0x0000000100003f5c $__lldb_expr3`f() at <cell 3>:2:12"
	m := frameLinePattern.FindStringSubmatch(line)
	require.NotNil(t, m)
	assert.Equal(t, "f()", m[1])
	assert.Equal(t, "<cell 3>", m[2])
	assert.Equal(t, "2", m[3])
	assert.Equal(t, "12", m[4])
}

func TestFrameLinePatternSkipsFramesWithoutSource(t *testing.T) {
	line := "    frame #4: 0x00007ff810931f6d libdyld.dylib`start + 1"
	assert.Nil(t, frameLinePattern.FindStringSubmatch(line))
}

func TestCommonPrefix(t *testing.T) {
	assert.Equal(t, "pri", commonPrefix([]string{"print", "println", "private"}))
	assert.Equal(t, "", commonPrefix(nil))
	assert.Equal(t, "", commonPrefix([]string{"alpha", "beta"}))
	assert.Equal(t, "map", commonPrefix([]string{"map"}))
}

func TestHostArch(t *testing.T) {
	arch := hostArch()
	assert.Contains(t, []string{"aarch64", "x86_64"}, arch)
}
