package cliutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutput_PlainWhenNotColorized(t *testing.T) {
	var buf bytes.Buffer
	o := NewOutput(&buf, false)
	o.Success("done")
	assert.Equal(t, "✓ done\n", buf.String())
}

func TestOutput_ColorizedWrapsCode(t *testing.T) {
	var buf bytes.Buffer
	o := NewOutput(&buf, true)
	o.Error("bad")
	assert.Equal(t, ColorRed+"✗"+ColorReset+" bad\n", buf.String())
}

func TestPad_IgnoresANSIWhenMeasuring(t *testing.T) {
	colored := ColorGreen + "ok" + ColorReset
	padded := Pad(colored, 5)
	assert.Equal(t, colored+"   ", padded)
}

func TestPad_NoOpWhenAlreadyWide(t *testing.T) {
	assert.Equal(t, "hello", Pad("hello", 3))
}

func TestConfirm_AssumeYesSkipsPrompt(t *testing.T) {
	ok, err := Confirm("proceed?", true)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestConfirm_NonInteractiveWithoutYesErrors(t *testing.T) {
	// go test's stdout is piped, never a terminal, so this exercises the
	// non-interactive refusal path deterministically.
	_, err := Confirm("proceed?", false)
	assert.Error(t, err)
}
