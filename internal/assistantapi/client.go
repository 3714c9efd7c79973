package assistantapi

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	openaigo "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Config struct {
	APIKey       string
	Organization string
	BaseURL      string
	// RequestsPerSecond <= 0 disables client-side rate limiting.
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

// Client is the process-wide remote client. It is safe for concurrent use.
type Client struct {
	api     *openai.Client
	streams openaigo.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ API = (*Client)(nil)

func NewClient(cfg Config, logger *zap.Logger) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.OrgID = cfg.Organization

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Organization != "" {
		opts = append(opts, option.WithOrganization(cfg.Organization))
	}
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		apiCfg.HTTPClient = cfg.HTTPClient
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		streams: openaigo.NewClient(opts...),
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("assistantapi"),
	}
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func pagination(opts ListOptions) openai.Pagination {
	var p openai.Pagination
	if opts.Limit > 0 {
		p.Limit = &opts.Limit
	}
	if opts.Order != "" {
		p.Order = &opts.Order
	}
	if opts.After != "" {
		p.After = &opts.After
	}
	return p
}

// Assistants

func (c *Client) CreateAssistant(ctx context.Context, req openai.AssistantRequest) (openai.Assistant, error) {
	if err := c.wait(ctx); err != nil {
		return openai.Assistant{}, err
	}
	return c.api.CreateAssistant(ctx, req)
}

func (c *Client) RetrieveAssistant(ctx context.Context, id string) (openai.Assistant, error) {
	if err := c.wait(ctx); err != nil {
		return openai.Assistant{}, err
	}
	return c.api.RetrieveAssistant(ctx, id)
}

func (c *Client) ModifyAssistant(ctx context.Context, id string, req openai.AssistantRequest) (openai.Assistant, error) {
	if err := c.wait(ctx); err != nil {
		return openai.Assistant{}, err
	}
	return c.api.ModifyAssistant(ctx, id, req)
}

func (c *Client) DeleteAssistant(ctx context.Context, id string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.api.DeleteAssistant(ctx, id)
	return err
}

// ListAssistants walks every page.
func (c *Client) ListAssistants(ctx context.Context) ([]openai.Assistant, error) {
	limit := 100
	var after *string
	var out []openai.Assistant
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, err := c.api.ListAssistants(ctx, &limit, nil, after, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Assistants...)
		if !page.HasMore || page.LastID == nil {
			return out, nil
		}
		after = page.LastID
	}
}

// Threads and messages

func (c *Client) CreateThread(ctx context.Context, req openai.ThreadRequest) (openai.Thread, error) {
	if err := c.wait(ctx); err != nil {
		return openai.Thread{}, err
	}
	return c.api.CreateThread(ctx, req)
}

func (c *Client) DeleteThread(ctx context.Context, id string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.api.DeleteThread(ctx, id)
	return err
}

func (c *Client) CreateMessage(ctx context.Context, threadID string, req openai.MessageRequest) (openai.Message, error) {
	if err := c.wait(ctx); err != nil {
		return openai.Message{}, err
	}
	return c.api.CreateMessage(ctx, threadID, req)
}

func (c *Client) ListMessages(ctx context.Context, threadID string, opts ListOptions) ([]openai.Message, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	p := pagination(opts)
	list, err := c.api.ListMessage(ctx, threadID, p.Limit, p.Order, p.After, nil, nil)
	if err != nil {
		return nil, err
	}
	return list.Messages, nil
}

// Runs

func (c *Client) CreateRun(ctx context.Context, threadID string, req openai.RunRequest) (openai.Run, error) {
	if err := c.wait(ctx); err != nil {
		return openai.Run{}, err
	}
	return c.api.CreateRun(ctx, threadID, req)
}

func (c *Client) RetrieveRun(ctx context.Context, threadID, runID string) (openai.Run, error) {
	if err := c.wait(ctx); err != nil {
		return openai.Run{}, err
	}
	return c.api.RetrieveRun(ctx, threadID, runID)
}

func (c *Client) ListRuns(ctx context.Context, threadID string, opts ListOptions) ([]openai.Run, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	list, err := c.api.ListRuns(ctx, threadID, pagination(opts))
	if err != nil {
		return nil, err
	}
	return list.Runs, nil
}

func (c *Client) ListRunSteps(ctx context.Context, threadID, runID string, opts ListOptions) ([]openai.RunStep, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	list, err := c.api.ListRunSteps(ctx, threadID, runID, pagination(opts))
	if err != nil {
		return nil, err
	}
	return list.RunSteps, nil
}

func (c *Client) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []openai.ToolOutput) (openai.Run, error) {
	if err := c.wait(ctx); err != nil {
		return openai.Run{}, err
	}
	return c.api.SubmitToolOutputs(ctx, threadID, runID, openai.SubmitToolOutputsRequest{ToolOutputs: outputs})
}

// Files

func (c *Client) UploadFile(ctx context.Context, path string) (openai.File, error) {
	if err := c.wait(ctx); err != nil {
		return openai.File{}, err
	}
	return c.api.CreateFile(ctx, openai.FileRequest{
		FileName: filepath.Base(path),
		FilePath: path,
		Purpose:  PurposeAssistants,
	})
}

func (c *Client) GetFile(ctx context.Context, id string) (openai.File, error) {
	if err := c.wait(ctx); err != nil {
		return openai.File{}, err
	}
	return c.api.GetFile(ctx, id)
}

func (c *Client) DeleteFile(ctx context.Context, id string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.api.DeleteFile(ctx, id)
}

// Vector stores

func (c *Client) CreateVectorStore(ctx context.Context, req openai.VectorStoreRequest) (openai.VectorStore, error) {
	if err := c.wait(ctx); err != nil {
		return openai.VectorStore{}, err
	}
	return c.api.CreateVectorStore(ctx, req)
}

func (c *Client) RetrieveVectorStore(ctx context.Context, id string) (openai.VectorStore, error) {
	if err := c.wait(ctx); err != nil {
		return openai.VectorStore{}, err
	}
	return c.api.RetrieveVectorStore(ctx, id)
}

func (c *Client) DeleteVectorStore(ctx context.Context, id string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.api.DeleteVectorStore(ctx, id)
	return err
}

// ListVectorStores walks every page.
func (c *Client) ListVectorStores(ctx context.Context) ([]openai.VectorStore, error) {
	opts := ListOptions{Limit: 100}
	var out []openai.VectorStore
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, err := c.api.ListVectorStores(ctx, pagination(opts))
		if err != nil {
			return nil, err
		}
		out = append(out, page.VectorStores...)
		if !page.HasMore || page.LastID == nil {
			return out, nil
		}
		opts.After = *page.LastID
	}
}

func (c *Client) AddVectorStoreFile(ctx context.Context, vectorStoreID, fileID string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.api.CreateVectorStoreFile(ctx, vectorStoreID, openai.VectorStoreFileRequest{FileID: fileID})
	return err
}

func (c *Client) RemoveVectorStoreFile(ctx context.Context, vectorStoreID, fileID string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.api.DeleteVectorStoreFile(ctx, vectorStoreID, fileID)
}

// Streaming

func (c *Client) StreamRun(ctx context.Context, threadID string, req StreamRunRequest) (EventStream, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	params := openaigo.BetaThreadRunNewParams{AssistantID: req.AssistantID}
	if req.Instructions != "" {
		params.Instructions = openaigo.String(req.Instructions)
	}
	if req.AdditionalInstructions != "" {
		params.AdditionalInstructions = openaigo.String(req.AdditionalInstructions)
	}

	stream := c.streams.Beta.Threads.Runs.NewStreaming(ctx, threadID, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("open run stream: %w", err)
	}
	c.logger.Debug("Run stream opened", zap.String("thread_id", threadID), zap.String("assistant_id", req.AssistantID))
	return newSSEStream(stream), nil
}

func (c *Client) SubmitToolOutputsStream(ctx context.Context, threadID, runID string, outputs []openai.ToolOutput) (EventStream, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	params := openaigo.BetaThreadRunSubmitToolOutputsParams{}
	for _, o := range outputs {
		params.ToolOutputs = append(params.ToolOutputs, openaigo.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			ToolCallID: openaigo.String(o.ToolCallID),
			Output:     openaigo.String(fmt.Sprint(o.Output)),
		})
	}

	stream := c.streams.Beta.Threads.Runs.SubmitToolOutputsStreaming(ctx, threadID, runID, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("submit tool outputs stream: %w", err)
	}
	return newSSEStream(stream), nil
}
