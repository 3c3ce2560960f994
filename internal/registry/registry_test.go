package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	r := Default()

	m, ok := r.Lookup("OpenAI: GPT-4o-mini")
	require.True(t, ok)
	require.Equal(t, "gpt-4o-mini", m.ID)
	require.Equal(t, "openai", m.Provider)

	_, ok = r.Lookup("Acme: Unlisted 9000")
	require.False(t, ok)
}

func TestProviderForUnknownLabelIsEmpty(t *testing.T) {
	r := Default()
	require.Equal(t, "openai", r.ProviderFor("OpenAI: GPT-4o"))
	require.Equal(t, "", r.ProviderFor("Acme: Unlisted 9000"))
}
