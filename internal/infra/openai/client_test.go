package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight/docrag/internal/core/rag"
)

func completionRequest(system, prompt string, maxTokens int) rag.CompletionRequest {
	return rag.CompletionRequest{
		System:    system,
		Prompt:    prompt,
		MaxTokens: maxTokens,
	}
}

func TestNewClientDefaults(t *testing.T) {
	client, err := NewClient("dummy-key")
	require.NoError(t, err)
	assert.Equal(t, DefaultChatModel, client.ModelName())
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient("")
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}

func TestBuildParamsIncludesSystemMessage(t *testing.T) {
	client, err := NewClient("dummy-key", WithChatModel("gpt-4o"))
	require.NoError(t, err)

	params := client.buildParams(completionRequest("You are terse.", "What is AP?", 512))
	assert.Len(t, params.Messages, 2)
	assert.Equal(t, "gpt-4o", string(params.Model))
	require.True(t, params.MaxTokens.Valid())
	assert.Equal(t, int64(512), params.MaxTokens.Value)
}

func TestBuildParamsOmitsEmptySystemMessage(t *testing.T) {
	client, err := NewClient("dummy-key")
	require.NoError(t, err)

	params := client.buildParams(completionRequest("", "What is AP?", 0))
	assert.Len(t, params.Messages, 1)
	assert.False(t, params.MaxTokens.Valid())
}
