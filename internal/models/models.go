package models

import (
	"errors"
	"time"
)

// ErrNotProvisioned is returned when an assistant or thread has no remote counterpart.
var ErrNotProvisioned = errors.New("remote object not provisioned")

// Assistant is the local record of a remote assistant.
type Assistant struct {
	ID            int64     `json:"id"`
	RemoteID      string    `json:"openai_assistant_id"`
	Name          string    `json:"name"`
	Instructions  string    `json:"instructions"`
	Model         string    `json:"engine"`
	VectorStoreID string    `json:"vector_store_id,omitempty"`
	Tools         []Tool    `json:"tools"`
	Owner         *Owner    `json:"owner,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Provisioned reports whether the remote counterpart exists.
func (a *Assistant) Provisioned() bool {
	return a != nil && a.RemoteID != ""
}

// HasTool reports whether a tool of the given type is enabled.
func (a *Assistant) HasTool(t ToolType) bool {
	for _, tool := range a.Tools {
		if tool.Type == t {
			return true
		}
	}
	return false
}

type ToolType string

const (
	ToolFileSearch      ToolType = "file_search"
	ToolCodeInterpreter ToolType = "code_interpreter"
)

// Tool is one enabled assistant tool. VectorStoreIDs is only meaningful for file_search.
type Tool struct {
	Type           ToolType `json:"type"`
	VectorStoreIDs []string `json:"vector_store_ids,omitempty"`
}

// Thread is a conversation context bound to one assistant.
type Thread struct {
	ID          int64          `json:"id"`
	UUID        string         `json:"uuid"`
	AssistantID int64          `json:"assistant_id"`
	RemoteID    string         `json:"openai_thread_id"`
	Owner       *Owner         `json:"owner,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Status      ThreadStatus   `json:"status"`
	System      bool           `json:"system"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Provisioned reports whether the remote thread exists.
func (t *Thread) Provisioned() bool {
	return t != nil && t.RemoteID != ""
}

// Message is a prompt and the assistant's answer to it. Run state lives here as well.
type Message struct {
	ID              int64          `json:"id"`
	ThreadID        int64          `json:"thread_id"`
	AssistantID     int64          `json:"assistant_id"`
	Role            string         `json:"role"`
	Prompt          string         `json:"prompt"`
	ResponseFormat  ResponseFormat `json:"response_type"`
	RemoteMessageID string         `json:"openai_message_id,omitempty"`
	RemoteRunID     string         `json:"openai_run_id,omitempty"`
	RunStatus       RunStatus      `json:"run_status"`
	Response        string         `json:"response,omitempty"`
	FileIDs         []string       `json:"file_ids,omitempty"`
	Author          *Owner         `json:"author,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// File is an uploaded knowledge document.
type File struct {
	ID           int64     `json:"id"`
	RemoteFileID string    `json:"openai_file_id"`
	AssistantID  int64     `json:"assistant_id"`
	ThreadID     int64     `json:"thread_id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
}
