package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chatbot-api/internal/domain"
)

const attrID = "id"

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// ChatStore defines the session persistence operations consumed by the chat service.
// Both Client and SQLiteStore implement it.
type ChatStore interface {
	CreateChat(ctx context.Context, chat domain.Chat) error
	GetChat(ctx context.Context, chatID string) (domain.Chat, error)
	ListChats(ctx context.Context) ([]domain.ChatSummary, error)
	UpdateChat(ctx context.Context, chat domain.Chat) error
}

var (
	_ ChatStore = (*Client)(nil)
	_ ChatStore = (*SQLiteStore)(nil)
)

// Client wraps a DynamoDB table holding one item per chat, keyed by id.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func chatKey(chatID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrID: &types.AttributeValueMemberS{Value: chatID},
	}
}

// CreateChat writes a new chat item. The write fails if the id is already taken.
func (c *Client) CreateChat(ctx context.Context, chat domain.Chat) error {
	if chat.ID == "" {
		return errors.New("repository: CreateChat: id is required")
	}
	item, err := chatItem(chat)
	if err != nil {
		return fmt.Errorf("repository: CreateChat: %w", err)
	}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("repository: CreateChat %q: %w", chat.ID, domain.ErrChatExists)
		}
		return fmt.Errorf("repository: CreateChat: %w", err)
	}
	return nil
}

// GetChat reads a chat with a strongly consistent read.
func (c *Client) GetChat(ctx context.Context, chatID string) (domain.Chat, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            chatKey(chatID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Chat{}, fmt.Errorf("repository: GetChat get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Chat{}, fmt.Errorf("repository: GetChat %q: %w", chatID, domain.ErrChatNotFound)
	}

	chat, err := itemToChat(out.Item)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("repository: GetChat unmarshal: %w", err)
	}
	return chat, nil
}

// ListChats scans the whole table and returns the summary of every chat.
// Pages are followed internally; callers see a single unordered list.
func (c *Client) ListChats(ctx context.Context) ([]domain.ChatSummary, error) {
	paginator := dynamodb.NewScanPaginator(c.api, &dynamodb.ScanInput{
		TableName:            aws.String(c.tableName),
		ProjectionExpression: aws.String("#id, #title, #created, #updated"),
		ExpressionAttributeNames: map[string]string{
			"#id":      "id",
			"#title":   "title",
			"#created": "created_at",
			"#updated": "updated_at",
		},
	})

	summaries := make([]domain.ChatSummary, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("repository: ListChats scan: %w", err)
		}
		for _, item := range page.Items {
			var s domain.ChatSummary
			if err := attributevalue.UnmarshalMap(item, &s); err != nil {
				return nil, fmt.Errorf("repository: ListChats unmarshal: %w", err)
			}
			summaries = append(summaries, s)
		}
	}
	return summaries, nil
}

// UpdateChat overwrites the stored chat with the full turn list. The write only
// succeeds if the stored version still equals chat.Version; the stored version
// is bumped by one. A missing item fails the same condition.
func (c *Client) UpdateChat(ctx context.Context, chat domain.Chat) error {
	if chat.ID == "" {
		return errors.New("repository: UpdateChat: id is required")
	}
	expected := chat.Version
	chat.Version = expected + 1
	item, err := chatItem(chat)
	if err != nil {
		return fmt.Errorf("repository: UpdateChat: %w", err)
	}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(id) AND version = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("repository: UpdateChat %q: %w", chat.ID, domain.ErrVersionConflict)
		}
		return fmt.Errorf("repository: UpdateChat: %w", err)
	}
	return nil
}

func chatItem(chat domain.Chat) (map[string]types.AttributeValue, error) {
	if chat.Messages == nil {
		chat.Messages = []domain.Message{}
	}
	item, err := attributevalue.MarshalMap(chat)
	if err != nil {
		return nil, fmt.Errorf("marshal chat: %w", err)
	}
	return item, nil
}

func itemToChat(item map[string]types.AttributeValue) (domain.Chat, error) {
	if _, ok := item[attrID].(*types.AttributeValueMemberS); !ok {
		return domain.Chat{}, fmt.Errorf("repository: attribute %q is missing or not a string", attrID)
	}
	var chat domain.Chat
	if err := attributevalue.UnmarshalMap(item, &chat); err != nil {
		return domain.Chat{}, err
	}
	for i, m := range chat.Messages {
		if !m.Role.Valid() {
			return domain.Chat{}, fmt.Errorf("repository: message %d has invalid role %q", i, m.Role)
		}
	}
	if chat.Messages == nil {
		chat.Messages = []domain.Message{}
	}
	return chat, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
