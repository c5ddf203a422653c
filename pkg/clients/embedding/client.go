// Package embedding implements the client for OpenAI-compatible embedding
// endpoints. The rest of the system consumes it through the Embedder
// interface so tests can substitute deterministic vectors.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/hsn0918/bookrag/pkg/clients/base"
)

const (
	DefaultTimeout = 30 * time.Second
	ServiceName    = "embedding"
)

// Embedder maps text to fixed-dimension dense vectors. Implementations must
// be deterministic for identical input.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Client calls an OpenAI-compatible /embeddings endpoint.
type Client struct {
	httpClient *base.HTTPClient
	model      string
	dimensions int
}

var _ Embedder = (*Client)(nil)

func NewClient(cfg base.Config, model string, dimensions int) *Client {
	if dimensions <= 0 {
		dimensions = GetDefaultDimensions(model)
	}
	return &Client{
		httpClient: base.NewHTTPClient(ServiceName, cfg, DefaultTimeout),
		model:      model,
		dimensions: dimensions,
	}
}

type Request struct {
	Model          string      `json:"model"`
	Input          interface{} `json:"input"`
	EncodingFormat string      `json:"encoding_format,omitempty"`
	Dimensions     int         `json:"dimensions,omitempty"`
}

type Data struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type Response struct {
	Object string `json:"object"`
	Model  string `json:"model"`
	Data   []Data `json:"data"`
	Usage  Usage  `json:"usage"`
}

// Dimensions returns the vector width this client is configured for.
func (c *Client) Dimensions() int { return c.dimensions }

// Embed returns the embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.create(ctx, Request{Model: c.model, Input: text, EncodingFormat: "float"})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, base.NewClientError(ServiceName, "embed", fmt.Errorf("empty embedding data for model %s", c.model))
	}
	return toFloat32(resp.Data[0].Embedding), nil
}

// EmbedBatch returns one vector per input text, in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.create(ctx, Request{Model: c.model, Input: texts, EncodingFormat: "float"})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, base.NewClientError(ServiceName, "embed batch",
			fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts)))
	}
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, base.NewClientError(ServiceName, "embed batch",
				fmt.Errorf("embedding index %d out of range", d.Index))
		}
		out[d.Index] = toFloat32(d.Embedding)
	}
	return out, nil
}

func (c *Client) create(ctx context.Context, req Request) (*Response, error) {
	var result Response
	if err := c.httpClient.Post(ctx, "/embeddings", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// toFloat32 narrows the wire-format float64 vector to the in-memory float32
// representation.
func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

const (
	ModelBGELargeZhV15      = "BAAI/bge-large-zh-v1.5"
	ModelBGELargeEnV15      = "BAAI/bge-large-en-v1.5"
	ModelBGEM3              = "BAAI/bge-m3"
	ModelProBGEM3           = "Pro/BAAI/bge-m3"
	ModelBCEEmbeddingBaseV1 = "netease-youdao/bce-embedding-base_v1"
	ModelQwen3Embedding8B   = "Qwen/Qwen3-Embedding-8B"
	ModelQwen3Embedding4B   = "Qwen/Qwen3-Embedding-4B"
	ModelQwen3Embedding06B  = "Qwen/Qwen3-Embedding-0.6B"
)

func GetDefaultDimensions(model string) int {
	switch model {
	case ModelQwen3Embedding8B:
		return 4096
	case ModelQwen3Embedding4B:
		return 2048
	case ModelQwen3Embedding06B:
		return 1024
	case ModelBGELargeZhV15, ModelBGELargeEnV15:
		return 1024
	case ModelBCEEmbeddingBaseV1:
		return 768
	case ModelBGEM3, ModelProBGEM3:
		return 1024
	default:
		return 1536
	}
}
