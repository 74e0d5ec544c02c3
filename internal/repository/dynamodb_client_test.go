package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"chatbot-api/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	scanPages    []*dynamodb.ScanOutput
	scanErr      error
	scanCalls    int
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	scanInputs   []*dynamodb.ScanInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.scanInputs = append(f.scanInputs, in)
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	if f.scanCalls >= len(f.scanPages) {
		return &dynamodb.ScanOutput{}, nil
	}
	page := f.scanPages[f.scanCalls]
	f.scanCalls++
	return page, nil
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	return c
}

func sampleChat() domain.Chat {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return domain.Chat{
		ChatSummary: domain.ChatSummary{
			ID:        "3f1c2a4e-8d1b-4b7a-9c55-1a2b3c4d5e6f",
			Title:     "Summer Destinations",
			CreatedAt: ts,
			UpdatedAt: ts.Add(time.Minute),
		},
		Messages: []domain.Message{
			domain.NewTextMessage(domain.RoleUser, "Hello!"),
			domain.NewTextMessage(domain.RoleAssistant, "Hi, how can I help?"),
		},
		Version: 3,
	}
}

func mustItem(t *testing.T, v any) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(v)
	require.NoError(t, err)
	return item
}

func TestCreateChat_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	chat := sampleChat()
	chat.Messages = nil
	chat.Version = 0

	require.NoError(t, c.CreateChat(context.Background(), chat))
	require.NotNil(t, db.lastPutInput)
	require.Equal(t, "test-table", *db.lastPutInput.TableName)
	require.Equal(t, "attribute_not_exists(id)", *db.lastPutInput.ConditionExpression)
	require.Equal(t, chat.ID, db.lastPutInput.Item["id"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "Summer Destinations", db.lastPutInput.Item["title"].(*types.AttributeValueMemberS).Value)

	msgs, ok := db.lastPutInput.Item["messages"].(*types.AttributeValueMemberL)
	require.True(t, ok, "messages must be stored as an empty list, not NULL")
	require.Empty(t, msgs.Value)
}

func TestCreateChat_AlreadyExists(t *testing.T) {
	db := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{}}
	c := mustNewClient(t, db)
	err := c.CreateChat(context.Background(), sampleChat())
	require.ErrorIs(t, err, domain.ErrChatExists)
}

func TestCreateChat_DynamoError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("ProvisionedThroughputExceededException")}
	c := mustNewClient(t, db)
	err := c.CreateChat(context.Background(), sampleChat())
	require.Error(t, err)
	require.Contains(t, err.Error(), "CreateChat")
	require.NotErrorIs(t, err, domain.ErrChatExists)
}

func TestCreateChat_MissingID(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.CreateChat(context.Background(), domain.Chat{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestGetChat_HappyPath(t *testing.T) {
	chat := sampleChat()
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: mustItem(t, chat)}}
	c := mustNewClient(t, db)

	got, err := c.GetChat(context.Background(), chat.ID)
	require.NoError(t, err)
	require.Equal(t, chat.ID, got.ID)
	require.Equal(t, chat.Title, got.Title)
	require.True(t, chat.CreatedAt.Equal(got.CreatedAt))
	require.True(t, chat.UpdatedAt.Equal(got.UpdatedAt))
	require.Equal(t, chat.Messages, got.Messages)
	require.Equal(t, int64(3), got.Version)

	require.True(t, *db.lastGetInput.ConsistentRead)
	require.Equal(t, chat.ID, db.lastGetInput.Key["id"].(*types.AttributeValueMemberS).Value)
}

func TestGetChat_NotFound(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)
	_, err := c.GetChat(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrChatNotFound)
}

func TestGetChat_GetItemError(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("boom")}
	c := mustNewClient(t, db)
	_, err := c.GetChat(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetChat")
	require.NotErrorIs(t, err, domain.ErrChatNotFound)
}

func TestGetChat_MalformedItem(t *testing.T) {
	cases := map[string]map[string]types.AttributeValue{
		"missing id": {
			"title": &types.AttributeValueMemberS{Value: "x"},
		},
		"bad role": {
			"id": &types.AttributeValueMemberS{Value: "abc"},
			"messages": &types.AttributeValueMemberL{Value: []types.AttributeValue{
				&types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
					"role": &types.AttributeValueMemberS{Value: "robot"},
				}},
			}},
		},
		"bad timestamp": {
			"id":         &types.AttributeValueMemberS{Value: "abc"},
			"created_at": &types.AttributeValueMemberS{Value: "yesterday"},
		},
	}
	for name, item := range cases {
		t.Run(name, func(t *testing.T) {
			db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
			c := mustNewClient(t, db)
			_, err := c.GetChat(context.Background(), "abc")
			require.Error(t, err)
			require.Contains(t, err.Error(), "unmarshal")
		})
	}
}

func TestGetChat_EmptyMessagesAreNonNil(t *testing.T) {
	item := map[string]types.AttributeValue{
		"id":       &types.AttributeValueMemberS{Value: "abc"},
		"messages": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
	}
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	c := mustNewClient(t, db)
	got, err := c.GetChat(context.Background(), "abc")
	require.NoError(t, err)
	require.NotNil(t, got.Messages)
	require.Empty(t, got.Messages)
}

func TestListChats_FollowsPages(t *testing.T) {
	first := sampleChat().Summary()
	second := sampleChat().Summary()
	second.ID = "second"
	second.Title = "Go Tips"

	db := &fakeDynamo{scanPages: []*dynamodb.ScanOutput{
		{
			Items:            []map[string]types.AttributeValue{mustItem(t, first)},
			LastEvaluatedKey: chatKey(first.ID),
		},
		{
			Items: []map[string]types.AttributeValue{mustItem(t, second)},
		},
	}}
	c := mustNewClient(t, db)

	got, err := c.ListChats(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, first.ID, got[0].ID)
	require.Equal(t, "Go Tips", got[1].Title)

	require.Len(t, db.scanInputs, 2)
	require.Equal(t, "#id, #title, #created, #updated", *db.scanInputs[0].ProjectionExpression)
	require.Nil(t, db.scanInputs[0].ExclusiveStartKey)
	require.Equal(t, first.ID, db.scanInputs[1].ExclusiveStartKey["id"].(*types.AttributeValueMemberS).Value)
}

func TestListChats_EmptyTable(t *testing.T) {
	db := &fakeDynamo{scanPages: []*dynamodb.ScanOutput{{}}}
	c := mustNewClient(t, db)
	got, err := c.ListChats(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestListChats_ScanError(t *testing.T) {
	db := &fakeDynamo{scanErr: errors.New("ResourceNotFoundException")}
	c := mustNewClient(t, db)
	_, err := c.ListChats(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "ListChats")
}

func TestUpdateChat_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	chat := sampleChat()

	require.NoError(t, c.UpdateChat(context.Background(), chat))
	in := db.lastPutInput
	require.NotNil(t, in)
	require.Equal(t, "attribute_exists(id) AND version = :expected", *in.ConditionExpression)
	require.Equal(t, "3", in.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "4", in.Item["version"].(*types.AttributeValueMemberN).Value)

	msgs := in.Item["messages"].(*types.AttributeValueMemberL)
	require.Len(t, msgs.Value, 2)
}

func TestUpdateChat_Conflict(t *testing.T) {
	db := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{}}
	c := mustNewClient(t, db)
	err := c.UpdateChat(context.Background(), sampleChat())
	require.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestUpdateChat_DynamoError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("internal server error")}
	c := mustNewClient(t, db)
	err := c.UpdateChat(context.Background(), sampleChat())
	require.Error(t, err)
	require.Contains(t, err.Error(), "UpdateChat")
	require.NotErrorIs(t, err, domain.ErrVersionConflict)
}

func TestUpdateChat_MissingID(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.UpdateChat(context.Background(), domain.Chat{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}
