package sealer_test

import (
	"testing"

	"github.com/baridihq/baridi/pkg/sealer"
	"github.com/stretchr/testify/require"
)

func TestSealRoundTrip(t *testing.T) {
	s := sealer.New("deployment_secret")

	sealed, err := s.Seal(map[string]any{
		"consumer_key":    "key",
		"consumer_secret": "secret",
	})
	require.NoError(t, err)
	require.NotEmpty(t, sealed)

	out, err := s.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "key", out["consumer_key"])
	require.Equal(t, "secret", out["consumer_secret"])
}

func TestSealRequiresKey(t *testing.T) {
	s := sealer.New("")
	_, err := s.Seal(map[string]any{"k": "v"})
	require.ErrorIs(t, err, sealer.ErrKeyMissing)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	sealed, err := sealer.New("secret_a").Seal(map[string]any{"k": "v"})
	require.NoError(t, err)

	_, err = sealer.New("secret_b").Open(sealed)
	require.ErrorIs(t, err, sealer.ErrInvalidEnvelope)
}
