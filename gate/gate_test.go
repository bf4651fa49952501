package gate_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/socialhub/apierr"
	"github.com/Skryldev/socialhub/gate"
)

func TestCheckMethod(t *testing.T) {
	allowed := []string{"GET", "POST"}

	require.NoError(t, gate.CheckMethod("GET", allowed))
	require.NoError(t, gate.CheckMethod("post", allowed))

	err := gate.CheckMethod("DELETE", allowed)
	assert.True(t, errors.Is(err, apierr.ErrMethodNotAllowed))
}

func TestCheckParams_RejectsFirstUnknownKey(t *testing.T) {
	allowed := []string{"postID", "userID", "visibility"}

	require.NoError(t, gate.CheckParams(nil, allowed))
	require.NoError(t, gate.CheckParams([]string{"visibility", "postID"}, allowed))

	err := gate.CheckParams([]string{"zeta", "postID", "alpha"}, allowed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierr.ErrInvalidParameter))
	assert.Equal(t, "Invalid parameter: alpha", apierr.Message(err))
}

func TestCheckParams_DoesNotReorderInput(t *testing.T) {
	keys := []string{"b", "a"}
	_ = gate.CheckParams(keys, []string{"a", "b"})
	assert.Equal(t, []string{"b", "a"}, keys)
}
