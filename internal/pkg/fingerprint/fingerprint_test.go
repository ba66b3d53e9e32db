package fingerprint

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EmptySalt_ReturnsError(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestHash_Deterministic(t *testing.T) {
	h, err := New("pepper")
	require.NoError(t, err)
	assert.Equal(t, h.Hash("203.0.113.5"), h.Hash("203.0.113.5"))
}

func TestHash_NeverReturnsInput(t *testing.T) {
	h, err := New("pepper")
	require.NoError(t, err)
	for _, origin := range []string{"203.0.113.5", "unknown", "", "2001:db8::1"} {
		got := h.Hash(origin)
		assert.NotEqual(t, origin, got)
		assert.Len(t, got, 64)
	}
}

func TestHash_DistinctInputs_DistinctOutputs(t *testing.T) {
	h, err := New("pepper")
	require.NoError(t, err)
	seen := make(map[string]string)
	for i := 0; i < 256; i++ {
		origin := fmt.Sprintf("198.51.%d.%d", i/16, i%16)
		fp := h.Hash(origin)
		if prev, ok := seen[fp]; ok {
			t.Fatalf("collision between %q and %q", prev, origin)
		}
		seen[fp] = origin
	}
}

func TestHash_SaltChangesOutput(t *testing.T) {
	a, err := New("salt-a")
	require.NoError(t, err)
	b, err := New("salt-b")
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash("203.0.113.5"), b.Hash("203.0.113.5"))
}

func TestNew_LongSalt(t *testing.T) {
	h, err := New(strings.Repeat("x", 200))
	require.NoError(t, err)
	assert.Len(t, h.Hash("203.0.113.5"), 64)
}
