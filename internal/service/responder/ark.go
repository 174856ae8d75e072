package responder

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/lumapay/paybot/internal/mask"
	"github.com/lumapay/paybot/internal/model/payment"
)

// ArkResponder runs the payment-assistant prompt through an eino chat chain.
type ArkResponder struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	logger *zap.Logger
}

// NewArkResponder compiles the prompt template and chat model into a chain.
func NewArkResponder(ctx context.Context, chatModel model.ChatModel, logger *zap.Logger) (*ArkResponder, error) {
	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ArkResponder{chain: runnable, logger: logger}, nil
}

// Generate produces a reply from the masked history and current message. Any
// surviving card digit run refuses the call with ErrUnsafePrompt: sending it
// would put the model inside PCI scope.
func (r *ArkResponder) Generate(ctx context.Context, history []payment.Turn, userMessage string) (string, error) {
	if mask.ContainsPAN(userMessage) {
		r.logger.Error("unmasked card data reached the responder boundary")
		return "", ErrUnsafePrompt
	}
	for _, turn := range history {
		if mask.ContainsPAN(turn.Text) {
			r.logger.Error("unmasked card data in conversation history")
			return "", ErrUnsafePrompt
		}
	}

	input := map[string]any{
		"system":  systemPrompt,
		"history": historyMessages(history),
		"query":   userMessage,
	}

	response, err := r.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	r.logger.Debug("responder generated reply", zap.Int("length", len(response.Content)))
	return response.Content, nil
}

func historyMessages(history []payment.Turn) []*schema.Message {
	if len(history) == 0 {
		return nil
	}
	messages := make([]*schema.Message, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case "user":
			messages = append(messages, schema.UserMessage(turn.Text))
		case "assistant":
			messages = append(messages, schema.AssistantMessage(turn.Text, nil))
		}
	}
	return messages
}
