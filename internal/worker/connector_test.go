package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToWebsocketURLRewritesScheme(t *testing.T) {
	u, err := toWebsocketURL("http://controller.local:8080")
	require.NoError(t, err)
	assert.Equal(t, "ws://controller.local:8080/__constellation/connect", u)

	u, err = toWebsocketURL("https://controller.local:8443")
	require.NoError(t, err)
	assert.Equal(t, "wss://controller.local:8443/__constellation/connect", u)
}

func TestToWebsocketURLPassesThroughExplicitScheme(t *testing.T) {
	u, err := toWebsocketURL("ws://controller.local:8080/anything")
	require.NoError(t, err)
	assert.Equal(t, "ws://controller.local:8080/__constellation/connect", u)
}
