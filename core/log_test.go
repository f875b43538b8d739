package core_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkramarz/edison-spi/core"
	"github.com/jkramarz/edison-spi/sim"
)

func TestSetLogger(t *testing.T) {
	prev := core.Logger()
	t.Cleanup(func() { core.SetLogger(prev) })

	var buf bytes.Buffer
	core.SetLogger(core.NewLogger(&buf))
	b := sim.NewBoard(mdfl, -1)
	c, err := core.New(b.Resources())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Setup(core.ChipConfig{})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "no dma engine")
	assert.Contains(t, out, "component=setup")
	assert.Contains(t, out, "bus=0")
}
