package personalizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAIClient calls an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
	model   string
}

// NewOpenAIClient builds a variation client. baseURL is the API root, e.g.
// "https://api.openai.com/v1".
func NewOpenAIClient(baseURL, apiKey, model string, timeout time.Duration) *OpenAIClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OpenAIClient{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// GenerateVariation asks for a reworded message that keeps the original
// intent and tone.
func (c *OpenAIClient) GenerateVariation(ctx context.Context, req VariationRequest) (string, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Mensagem base: %s\n", req.BaseMessage)
	fmt.Fprintf(&prompt, "Nome do contato: %s\n", req.ContactName)
	if req.Company != "" {
		fmt.Fprintf(&prompt, "Empresa do contato: %s\n", req.Company)
	}
	if len(req.CustomFields) > 0 {
		fields, _ := json.Marshal(req.CustomFields)
		fmt.Fprintf(&prompt, "Campos extras: %s\n", fields)
	}
	prompt.WriteString("Crie uma variação com saudação e ordem de frases diferente, mantendo intenção original e tom profissional.")

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Temperature: 0.8,
		Messages: []chatMessage{
			{
				Role:    "system",
				Content: "Você é um assistente que cria mensagens curtas e naturais para WhatsApp mantendo contexto e personalização.",
			},
			{Role: "user", Content: prompt.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat completion: status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty response")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

var _ VariationClient = (*OpenAIClient)(nil)
