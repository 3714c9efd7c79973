package assistantapi

import (
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/da-sie/openai-assistant/internal/models"
)

func TestWithFileSearchReplacesRetrievalConfig(t *testing.T) {
	tools := []models.Tool{
		{Type: models.ToolFileSearch, VectorStoreIDs: []string{"vs_old"}},
		{Type: models.ToolCodeInterpreter},
	}

	got := WithFileSearch(tools, "vs_new")
	assert.Equal(t, []models.Tool{
		{Type: models.ToolCodeInterpreter},
		{Type: models.ToolFileSearch, VectorStoreIDs: []string{"vs_new"}},
	}, got)
	assert.Equal(t, []string{"vs_old"}, tools[0].VectorStoreIDs)
}

func TestToolsRequest(t *testing.T) {
	remote, resources := ToolsRequest([]models.Tool{
		{Type: models.ToolCodeInterpreter},
		{Type: models.ToolFileSearch, VectorStoreIDs: []string{"vs_1"}},
	})
	require.Len(t, remote, 2)
	assert.Equal(t, openai.AssistantToolTypeFileSearch, remote[1].Type)
	require.NotNil(t, resources)
	assert.Equal(t, []string{"vs_1"}, resources.FileSearch.VectorStoreIDs)

	_, resources = ToolsRequest([]models.Tool{{Type: models.ToolCodeInterpreter}})
	assert.Nil(t, resources)
}

func TestToolsFromRemote(t *testing.T) {
	tools := ToolsFromRemote(openai.Assistant{
		Tools: []openai.AssistantTool{{Type: openai.AssistantToolTypeFileSearch}},
		ToolResources: &openai.AssistantToolResource{
			FileSearch: &openai.AssistantToolFileSearch{VectorStoreIDs: []string{"vs_9"}},
		},
	})
	assert.Equal(t, []models.Tool{{Type: models.ToolFileSearch, VectorStoreIDs: []string{"vs_9"}}}, tools)
}
