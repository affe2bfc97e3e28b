package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerRequiresEndpoint(t *testing.T) {
	_, err := InitTracer(context.Background(), "", "storygate")
	assert.Error(t, err)
}

func TestInitTracerInstallsProvider(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "http://127.0.0.1:4318", "")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
