package rediskey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildSequenceKey(t *testing.T) {
	require.Equal(t, "seq:RUN:250301", BuildSequenceKey("RUN", "250301"))
	require.Equal(t, "a:b", NamespaceKey("a", "b"))
}
