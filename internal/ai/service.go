package ai

import "context"

// EmbeddingService binds a Client to one embedding model so callers get an
// Embed/EmbedBatch surface without carrying API settings around.
type EmbeddingService struct {
	client *Client
	cfg    EmbeddingConfig
}

func NewEmbeddingService(client *Client, cfg EmbeddingConfig) *EmbeddingService {
	return &EmbeddingService{client: client, cfg: cfg}
}

func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.client.Embed(ctx, s.cfg, text)
}

func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return s.client.EmbedBatch(ctx, s.cfg, texts)
}

// ChatService binds a Client to one chat model.
type ChatService struct {
	client *Client
	cfg    ChatConfig
}

func NewChatService(client *Client, cfg ChatConfig) *ChatService {
	return &ChatService{client: client, cfg: cfg}
}

func (s *ChatService) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	return s.client.Complete(ctx, s.cfg, messages)
}
