package provider

import (
	"testing"

	"frontdesk/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompleters_NoneProvider(t *testing.T) {
	cfg := config.Defaults()
	cfg.Completion.Provider = "none"
	c, err := NewCompleters(cfg, testLogger())
	require.NoError(t, err)
	assert.Nil(t, c.Decider)
	assert.Nil(t, c.Rewrite)
	assert.Nil(t, c.Intent)
}

func TestNewCompleters_MissingKeyDisables(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg := config.Defaults()
	c, err := NewCompleters(cfg, testLogger())
	require.NoError(t, err)
	assert.Nil(t, c.Decider, "decider needs an API key")
}

func TestNewCompleters_BuildsChains(t *testing.T) {
	cfg := config.Defaults()
	cfg.Completion.APIKey = "sk-test"
	cfg.Completion.FallbackModel = "gpt-4o"
	cfg.Decider.Model = "gpt-4.1-mini"
	cfg.IntentRouter.Enabled = true

	c, err := NewCompleters(cfg, testLogger())
	require.NoError(t, err)
	require.NotNil(t, c.Decider)
	require.NotNil(t, c.Rewrite)
	require.NotNil(t, c.Intent)

	assert.Equal(t, "failover(openai:gpt-4.1-mini→openai:gpt-4o)", c.Decider.Name())
	assert.Equal(t, "failover(openai:gpt-4o-mini→openai:gpt-4o)", c.Rewrite.Name())
}

func TestNewCompleters_UnknownProvider(t *testing.T) {
	cfg := config.Defaults()
	cfg.Completion.Provider = "acme"
	_, err := NewCompleters(cfg, testLogger())
	assert.Error(t, err)
}
