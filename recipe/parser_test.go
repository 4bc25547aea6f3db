package recipe

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	r, err := Parse("test", `
# warm up
100 50 200 5 0

   # comment with numbers 1 2 3
50, 50, 0, -1, 1
`)
	require.NoError(t, err)
	assert.Equal(t, "test", r.Name())
	assert.Equal(t, []Step{
		{TargetTemperature: 100, RampRate: 50, StirSpeed: 200, DwellSeconds: 5, Mode: Loose},
		{TargetTemperature: 50, RampRate: 50, StirSpeed: 0, DwellSeconds: -1, Mode: Strict},
	}, r.Steps())
	assert.True(t, r.Step(1).Manual())
	assert.False(t, r.Step(0).Manual())
}

func TestParse_StepCountMatchesLines(t *testing.T) {
	lines := []string{"1 2 3 4 0", "5 6 7 8 1", "temp=9 ramp=10 stir=11 dwell=12 mode=0"}
	r, err := Parse("", strings.Join(lines, "\n"))
	require.NoError(t, err)
	assert.Equal(t, len(lines), r.Len())
	for i, st := range r.Steps() {
		assert.Equal(t, 1+i*4, st.TargetTemperature)
	}
}

func TestParse_WrongFieldCount(t *testing.T) {
	for _, bad := range []string{"100 50 200 5", "100 50 200 5 0 1"} {
		_, err := Parse("", "100 50 200 5 0\n"+bad+"\n50 50 0 -1 1\n")
		var pErr *ParseError
		require.True(t, errors.As(err, &pErr), "input %q", bad)
		assert.Equal(t, 2, pErr.Line)
		assert.Equal(t, "line has wrong field count", pErr.Msg)
	}
}

func TestParse_Empty(t *testing.T) {
	r, err := Parse("", "\n# nothing\n")
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestParse_OtherModeIsStrict(t *testing.T) {
	r := MustParse("100 50 200 5 3")
	assert.True(t, r.Step(0).Mode.IsStrict())
	assert.False(t, Loose.IsStrict())
}

func TestParser_Read(t *testing.T) {
	p := NewParser(strings.NewReader("1 2 3 4 0"))
	st, err := p.Read()
	assert.NoError(t, err)
	assert.Equal(t, 1, st.TargetTemperature)

	_, err = p.Read()
	assert.Equal(t, io.EOF, err)
}

func TestRecipe_Immutable(t *testing.T) {
	steps := []Step{{TargetTemperature: 10}}
	r := New("x", steps)
	steps[0].TargetTemperature = 99
	assert.Equal(t, 10, r.Step(0).TargetTemperature)

	out := r.Steps()
	out[0].TargetTemperature = 99
	assert.Equal(t, 10, r.Step(0).TargetTemperature)
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()

	_, err := ParseFile(filepath.Join(dir, "missing.txt"))
	assert.True(t, errors.Is(err, ErrNoRecipe))

	name := filepath.Join(dir, "good.txt")
	require.NoError(t, os.WriteFile(name, []byte("100 50 200 5 0\n"), 0644))
	r, err := ParseFile(name)
	require.NoError(t, err)
	assert.Equal(t, "good.txt", r.Name())

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("100 50\n"), 0644))
	_, err = ParseFile(bad)
	var pErr *ParseError
	assert.True(t, errors.As(err, &pErr))
	assert.False(t, errors.Is(err, ErrNoRecipe))
}

func TestValidate(t *testing.T) {
	w := Validate(MustParse("100 -5 200 5 2\n50 50 -3 -1 1"))
	require.Len(t, w, 3)
	assert.Equal(t, 1, w[0].Step)
	assert.Contains(t, w[0].String(), "treated as strict")
	assert.Equal(t, "step 1: negative ramp rate", w[1].String())
	assert.Equal(t, 2, w[2].Step)

	w = Validate(MustParse(""))
	require.Len(t, w, 1)
	assert.Equal(t, "recipe has no steps", w[0].String())
}
