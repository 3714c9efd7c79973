// Package mocks holds testify mocks for the remote API.
package mocks

import (
	"context"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/mock"

	"github.com/da-sie/openai-assistant/internal/assistantapi"
)

// MockAPI is a testify mock of assistantapi.API.
type MockAPI struct {
	mock.Mock
}

var _ assistantapi.API = (*MockAPI)(nil)

// NewMockAPI creates a MockAPI whose expectations are asserted on test cleanup.
func NewMockAPI(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockAPI {
	m := &MockAPI{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockAPI) CreateAssistant(ctx context.Context, req openai.AssistantRequest) (openai.Assistant, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(openai.Assistant), args.Error(1)
}

func (m *MockAPI) RetrieveAssistant(ctx context.Context, id string) (openai.Assistant, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(openai.Assistant), args.Error(1)
}

func (m *MockAPI) ModifyAssistant(ctx context.Context, id string, req openai.AssistantRequest) (openai.Assistant, error) {
	args := m.Called(ctx, id, req)
	return args.Get(0).(openai.Assistant), args.Error(1)
}

func (m *MockAPI) DeleteAssistant(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockAPI) ListAssistants(ctx context.Context) ([]openai.Assistant, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]openai.Assistant)
	return list, args.Error(1)
}

func (m *MockAPI) CreateThread(ctx context.Context, req openai.ThreadRequest) (openai.Thread, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(openai.Thread), args.Error(1)
}

func (m *MockAPI) DeleteThread(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockAPI) CreateMessage(ctx context.Context, threadID string, req openai.MessageRequest) (openai.Message, error) {
	args := m.Called(ctx, threadID, req)
	return args.Get(0).(openai.Message), args.Error(1)
}

func (m *MockAPI) ListMessages(ctx context.Context, threadID string, opts assistantapi.ListOptions) ([]openai.Message, error) {
	args := m.Called(ctx, threadID, opts)
	list, _ := args.Get(0).([]openai.Message)
	return list, args.Error(1)
}

func (m *MockAPI) CreateRun(ctx context.Context, threadID string, req openai.RunRequest) (openai.Run, error) {
	args := m.Called(ctx, threadID, req)
	return args.Get(0).(openai.Run), args.Error(1)
}

func (m *MockAPI) RetrieveRun(ctx context.Context, threadID, runID string) (openai.Run, error) {
	args := m.Called(ctx, threadID, runID)
	return args.Get(0).(openai.Run), args.Error(1)
}

func (m *MockAPI) ListRuns(ctx context.Context, threadID string, opts assistantapi.ListOptions) ([]openai.Run, error) {
	args := m.Called(ctx, threadID, opts)
	list, _ := args.Get(0).([]openai.Run)
	return list, args.Error(1)
}

func (m *MockAPI) ListRunSteps(ctx context.Context, threadID, runID string, opts assistantapi.ListOptions) ([]openai.RunStep, error) {
	args := m.Called(ctx, threadID, runID, opts)
	list, _ := args.Get(0).([]openai.RunStep)
	return list, args.Error(1)
}

func (m *MockAPI) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []openai.ToolOutput) (openai.Run, error) {
	args := m.Called(ctx, threadID, runID, outputs)
	return args.Get(0).(openai.Run), args.Error(1)
}

func (m *MockAPI) UploadFile(ctx context.Context, path string) (openai.File, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(openai.File), args.Error(1)
}

func (m *MockAPI) GetFile(ctx context.Context, id string) (openai.File, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(openai.File), args.Error(1)
}

func (m *MockAPI) DeleteFile(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockAPI) CreateVectorStore(ctx context.Context, req openai.VectorStoreRequest) (openai.VectorStore, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(openai.VectorStore), args.Error(1)
}

func (m *MockAPI) RetrieveVectorStore(ctx context.Context, id string) (openai.VectorStore, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(openai.VectorStore), args.Error(1)
}

func (m *MockAPI) DeleteVectorStore(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockAPI) ListVectorStores(ctx context.Context) ([]openai.VectorStore, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]openai.VectorStore)
	return list, args.Error(1)
}

func (m *MockAPI) AddVectorStoreFile(ctx context.Context, vectorStoreID, fileID string) error {
	return m.Called(ctx, vectorStoreID, fileID).Error(0)
}

func (m *MockAPI) RemoveVectorStoreFile(ctx context.Context, vectorStoreID, fileID string) error {
	return m.Called(ctx, vectorStoreID, fileID).Error(0)
}

func (m *MockAPI) StreamRun(ctx context.Context, threadID string, req assistantapi.StreamRunRequest) (assistantapi.EventStream, error) {
	args := m.Called(ctx, threadID, req)
	s, _ := args.Get(0).(assistantapi.EventStream)
	return s, args.Error(1)
}

func (m *MockAPI) SubmitToolOutputsStream(ctx context.Context, threadID, runID string, outputs []openai.ToolOutput) (assistantapi.EventStream, error) {
	args := m.Called(ctx, threadID, runID, outputs)
	s, _ := args.Get(0).(assistantapi.EventStream)
	return s, args.Error(1)
}
