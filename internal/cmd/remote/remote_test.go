package remote

import (
	"testing"

	"github.com/rhplus0831/risugit/internal/syncerr"
	"github.com/stretchr/testify/require"
)

func TestParsePrefer(t *testing.T) {
	local, err := parsePrefer("local")
	require.NoError(t, err)
	require.True(t, local)

	local, err = parsePrefer("remote")
	require.NoError(t, err)
	require.False(t, local)

	_, err = parsePrefer("both")
	require.ErrorIs(t, err, syncerr.ErrConfig)
}
