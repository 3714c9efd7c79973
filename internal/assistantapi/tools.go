package assistantapi

import (
	"github.com/sashabaranov/go-openai"

	"github.com/da-sie/openai-assistant/internal/models"
)

// ToolsRequest converts local tool settings to the remote tool list and the
// file_search resources that go with it.
func ToolsRequest(tools []models.Tool) ([]openai.AssistantTool, *openai.AssistantToolResource) {
	out := make([]openai.AssistantTool, 0, len(tools))
	var storeIDs []string
	for _, t := range tools {
		out = append(out, openai.AssistantTool{Type: openai.AssistantToolType(t.Type)})
		if t.Type == models.ToolFileSearch {
			storeIDs = append(storeIDs, t.VectorStoreIDs...)
		}
	}
	if len(storeIDs) == 0 {
		return out, nil
	}
	return out, &openai.AssistantToolResource{
		FileSearch: &openai.AssistantToolFileSearch{VectorStoreIDs: storeIDs},
	}
}

// ToolsFromRemote reads the tool settings of a remote assistant.
func ToolsFromRemote(a openai.Assistant) []models.Tool {
	var storeIDs []string
	if a.ToolResources != nil && a.ToolResources.FileSearch != nil {
		storeIDs = a.ToolResources.FileSearch.VectorStoreIDs
	}
	tools := make([]models.Tool, 0, len(a.Tools))
	for _, t := range a.Tools {
		tool := models.Tool{Type: models.ToolType(t.Type)}
		if tool.Type == models.ToolFileSearch {
			tool.VectorStoreIDs = append([]string(nil), storeIDs...)
		}
		tools = append(tools, tool)
	}
	return tools
}

// WithFileSearch returns tools with exactly one file_search entry pointing at storeIDs.
// Other tools are kept in order.
func WithFileSearch(tools []models.Tool, storeIDs ...string) []models.Tool {
	out := make([]models.Tool, 0, len(tools)+1)
	for _, t := range tools {
		if t.Type != models.ToolFileSearch {
			out = append(out, t)
		}
	}
	return append(out, models.Tool{Type: models.ToolFileSearch, VectorStoreIDs: storeIDs})
}
