// Package assistant produces replies for sessions handled by the AI.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"retail-ops/support-chat/internal/models"
)

const instructions = "You are the customer support assistant of an online store. " +
	"Answer briefly and politely. If you cannot help, suggest asking for a staff member."

// historyLimit caps how many recent messages are sent as context.
const historyLimit = 20

type Responder interface {
	Reply(ctx context.Context, history []models.ChatMessage) (string, error)
}

type OpenAIResponder struct {
	client openai.Client
	model  string
}

func NewOpenAIResponder(apiKey, model string) *OpenAIResponder {
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	return &OpenAIResponder{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (r *OpenAIResponder) Reply(ctx context.Context, history []models.ChatMessage) (string, error) {
	resp, err := r.client.Responses.New(ctx, responses.ResponseNewParams{
		Model: openai.ChatModel(r.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(Prompt(history)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai reply: %w", err)
	}
	text := strings.TrimSpace(resp.OutputText())
	if text == "" {
		return "", errors.New("openai reply: empty output")
	}
	return text, nil
}

// Prompt renders the instructions and the tail of the conversation.
func Prompt(history []models.ChatMessage) string {
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\nConversation:\n")
	for _, m := range history {
		speaker := "Customer"
		switch m.SenderRole {
		case models.RoleAI:
			speaker = "Assistant"
		case models.RoleStaff, models.RoleManager, models.RoleAdmin:
			speaker = "Staff"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, m.Content)
	}
	b.WriteString("Assistant:")
	return b.String()
}

// CannedResponder answers without a model, used when no API key is configured.
type CannedResponder struct{}

var staffWords = []string{"human", "staff", "operator", "person", "agent"}

func (CannedResponder) Reply(_ context.Context, history []models.ChatMessage) (string, error) {
	var last string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].SenderRole == models.RoleCustomer {
			last = strings.ToLower(history[i].Content)
			break
		}
	}
	for _, w := range staffWords {
		if strings.Contains(last, w) {
			return "I can connect you with our support team. Use \"request staff\" and someone will join shortly.", nil
		}
	}
	return "Thanks for your message! I'm the store assistant. Tell me your order number and what went wrong, or ask for a staff member at any time.", nil
}
