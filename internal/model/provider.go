package model

import (
	"encoding/json"
	"fmt"
)

// Roles aceitos pelo provedor
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message é uma mensagem do prompt enviado ao provedor
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// JSONSchema descreve o schema exigido na resposta
type JSONSchema struct {
	Name   string                 `json:"name"`
	Strict bool                   `json:"strict"`
	Schema map[string]interface{} `json:"schema"`
}

// ResponseFormat pede ao provedor uma resposta em JSON estruturado
type ResponseFormat struct {
	Type       string     `json:"type"`
	JSONSchema JSONSchema `json:"json_schema"`
}

// ProviderRequest é o corpo enviado ao endpoint de chat completions
type ProviderRequest struct {
	Messages       []Message       `json:"messages"`
	Model          string          `json:"model"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
}

// Validate verifica o payload antes do envio
func (r ProviderRequest) Validate() error {
	if r.Model == "" {
		return &payloadError{reason: "model is required"}
	}
	if len(r.Messages) == 0 {
		return &payloadError{reason: "at least one message is required"}
	}
	for _, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return &payloadError{reason: "invalid message role " + m.Role}
		}
		if m.Content == "" {
			return &payloadError{reason: "message content must not be empty"}
		}
	}
	return nil
}

type payloadError struct {
	reason string
}

func (e *payloadError) Error() string {
	return ErrInvalidPayload.Error() + ": " + e.reason
}

func (e *payloadError) Unwrap() error {
	return ErrInvalidPayload
}

// ProviderResponse é a resposta normalizada do provedor
type ProviderResponse struct {
	Result   string                 `json:"result"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// directResult é o formato A: {result, metadata}
type directResult struct {
	Result   *string                `json:"result"`
	Metadata map[string]interface{} `json:"metadata"`
}

// chatCompletion é o formato B: {choices[].message.content, model, usage, created}
type chatCompletion struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Model   string                 `json:"model"`
	Usage   map[string]interface{} `json:"usage"`
	Created int64                  `json:"created"`
}

// DecodeProviderResponse decodifica a resposta do provedor tentando o formato A
// e depois o formato B. Nenhum dos dois resulta em ErrInvalidResponse.
func DecodeProviderResponse(body []byte) (*ProviderResponse, error) {
	var a directResult
	if err := json.Unmarshal(body, &a); err == nil && a.Result != nil {
		return &ProviderResponse{Result: *a.Result, Metadata: a.Metadata}, nil
	}

	var b chatCompletion
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(b.Choices) == 0 || b.Choices[0].Message.Content == nil {
		return nil, fmt.Errorf("%w: neither result nor choices[0].message.content present", ErrInvalidResponse)
	}

	return &ProviderResponse{
		Result: *b.Choices[0].Message.Content,
		Metadata: map[string]interface{}{
			"model":   b.Model,
			"usage":   b.Usage,
			"created": b.Created,
		},
	}, nil
}
