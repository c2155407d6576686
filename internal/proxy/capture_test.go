package proxy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorthIngesting(t *testing.T) {
	require.True(t, WorthIngesting("a substantive assistant answer"))

	// Too short.
	require.False(t, WorthIngesting(""))
	require.False(t, WorthIngesting("short"))
	require.False(t, WorthIngesting("   padded   "))

	// Error passthrough.
	require.False(t, WorthIngesting("Error: upstream exploded badly"))
	require.False(t, WorthIngesting("error: lowercase variant too"))
	require.False(t, WorthIngesting("ERROR: shouting variant too"))

	// Refusals.
	require.False(t, WorthIngesting("I'm sorry, but I can't help with that"))
	require.False(t, WorthIngesting("I apologize, that's not possible"))
	require.False(t, WorthIngesting("I cannot assist with that request"))
	require.False(t, WorthIngesting("I can't assist with that request"))
}
