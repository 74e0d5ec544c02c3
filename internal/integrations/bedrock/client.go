package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"chatbot-api/internal/domain"
)

// converseAPI is the minimal Bedrock Runtime interface required by Client.
// *bedrockruntime.Client satisfies this interface.
type converseAPI interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client sends whole conversations to a Bedrock model through the Converse API.
type Client struct {
	api     converseAPI
	modelID string
}

// New creates a Client bound to a single model.
func New(api converseAPI, modelID string) (*Client, error) {
	if api == nil {
		return nil, errors.New("bedrock: api must not be nil")
	}
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return nil, errors.New("bedrock: model id must not be empty")
	}
	return &Client{api: api, modelID: modelID}, nil
}

// Converse sends system and the ordered messages to the model and returns its reply.
// Messages with the system role are sent as system blocks rather than turns.
func (c *Client) Converse(ctx context.Context, system string, messages []domain.Message, params domain.InferenceParams) (domain.Message, error) {
	in, err := c.converseInput(system, messages, params)
	if err != nil {
		return domain.Message{}, err
	}

	out, err := c.api.Converse(ctx, in)
	if err != nil {
		return domain.Message{}, fmt.Errorf("bedrock: converse: %w", err)
	}
	if out == nil {
		return domain.Message{}, errors.New("bedrock: empty converse response")
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return domain.Message{}, fmt.Errorf("bedrock: unexpected converse output %T", out.Output)
	}
	return fromBedrockMessage(msg.Value)
}

func (c *Client) converseInput(system string, messages []domain.Message, params domain.InferenceParams) (*bedrockruntime.ConverseInput, error) {
	if len(messages) == 0 {
		return nil, errors.New("bedrock: at least one message is required")
	}

	var systemBlocks []types.SystemContentBlock
	if s := strings.TrimSpace(system); s != "" {
		systemBlocks = append(systemBlocks, &types.SystemContentBlockMemberText{Value: s})
	}

	turns := make([]types.Message, 0, len(messages))
	for i, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			for _, block := range m.Content {
				systemBlocks = append(systemBlocks, &types.SystemContentBlockMemberText{Value: block.Text})
			}
		case domain.RoleUser, domain.RoleAssistant:
			turns = append(turns, toBedrockMessage(m))
		default:
			return nil, fmt.Errorf("bedrock: message %d has unsupported role %q", i, m.Role)
		}
	}
	if len(turns) == 0 {
		return nil, errors.New("bedrock: at least one user or assistant message is required")
	}

	return &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.modelID),
		Messages: turns,
		System:   systemBlocks,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(params.MaxTokens),
			Temperature: aws.Float32(params.Temperature),
			TopP:        aws.Float32(params.TopP),
		},
	}, nil
}

func toBedrockMessage(m domain.Message) types.Message {
	content := make([]types.ContentBlock, 0, len(m.Content))
	for _, block := range m.Content {
		content = append(content, &types.ContentBlockMemberText{Value: block.Text})
	}
	return types.Message{
		Role:    types.ConversationRole(m.Role),
		Content: content,
	}
}

func fromBedrockMessage(m types.Message) (domain.Message, error) {
	out := domain.Message{Role: domain.Role(m.Role)}
	for _, block := range m.Content {
		// Non-text blocks (tool use, images) are not part of this conversation model.
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			out.Content = append(out.Content, domain.TextContent{Text: text.Value})
		}
	}
	if len(out.Content) == 0 {
		return domain.Message{}, errors.New("bedrock: reply has no text content")
	}
	return out, nil
}
