package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, Execute())
	assert.Equal(t, "whisperd dev\n", out.String())
}

func TestServeFlags(t *testing.T) {
	for _, name := range []string{"config", "schema", "http-port", "grpc-port"} {
		assert.NotNil(t, serveCmd.Flags().Lookup(name), name)
	}
}

func TestServe_InvalidConfig(t *testing.T) {
	rootCmd.SetArgs([]string{"serve", "--config", "/no/such/config.yaml", "--schema", ""})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}
