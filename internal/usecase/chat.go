package usecase

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"chatbot-api/internal/domain"
)

const defaultMaxPrompt = 4000

// chatParams are the fixed generation settings for conversation turns.
var chatParams = domain.InferenceParams{MaxTokens: 512, Temperature: 0.5, TopP: 0.9}

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Completer produces the next assistant turn for an ordered conversation.
type Completer interface {
	Converse(ctx context.Context, system string, messages []domain.Message, params domain.InferenceParams) (domain.Message, error)
}

type ChatStore interface {
	CreateChat(ctx context.Context, chat domain.Chat) error
	GetChat(ctx context.Context, chatID string) (domain.Chat, error)
	ListChats(ctx context.Context) ([]domain.ChatSummary, error)
	UpdateChat(ctx context.Context, chat domain.Chat) error
}

// Config holds the tunables of ChatService.
type Config struct {
	// SystemPromptParam names an SSM parameter holding a system prompt sent
	// with every conversation turn. Empty disables the system prompt.
	SystemPromptParam string
	MaxPromptLength   int
}

type ChatService struct {
	store             ChatStore
	llm               Completer
	params            ParamGetter
	systemPromptParam string
	maxPromptLen      int
	now               func() time.Time

	cacheMu      sync.RWMutex
	cacheLoaded  bool
	systemPrompt string
}

type SendInput struct {
	Prompt string
	ChatID string
}

type SendOutput struct {
	Message domain.Message
	Chat    domain.ChatSummary
}

func NewChatService(store ChatStore, llm Completer, params ParamGetter, cfg Config) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: chat store must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: completion client must not be nil")
	}
	systemPromptParam := strings.TrimSpace(cfg.SystemPromptParam)
	if systemPromptParam != "" && params == nil {
		return nil, errors.New("usecase: param getter must not be nil when a system prompt parameter is set")
	}
	maxPromptLen := cfg.MaxPromptLength
	if maxPromptLen <= 0 {
		maxPromptLen = defaultMaxPrompt
	}
	return &ChatService{
		store:             store,
		llm:               llm,
		params:            params,
		systemPromptParam: systemPromptParam,
		maxPromptLen:      maxPromptLen,
		now:               func() time.Time { return time.Now().UTC() },
	}, nil
}

// Send appends prompt to the chat named by in.ChatID (or a new chat when it
// is empty), asks the model for a reply over the whole history and persists
// both turns. Nothing is persisted for the turn when the model call fails.
func (s *ChatService) Send(ctx context.Context, in SendInput) (SendOutput, error) {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return SendOutput{}, newError(ErrorInvalidInput, "empty_prompt", nil)
	}
	if utf8.RuneCountInString(prompt) > s.maxPromptLen {
		return SendOutput{}, newError(ErrorInvalidInput, "prompt_too_long", nil)
	}
	system, err := s.ensureSystemPrompt(ctx)
	if err != nil {
		return SendOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	var chat domain.Chat
	if strings.TrimSpace(in.ChatID) == "" {
		chat, err = s.startChat(ctx, prompt)
	} else {
		chat, err = s.loadChat(ctx, in.ChatID)
	}
	if err != nil {
		return SendOutput{}, err
	}

	// Work on a copy so a failed turn leaves the loaded chat untouched.
	messages := append(slices.Clone(chat.Messages), domain.NewTextMessage(domain.RoleUser, prompt))

	reply, err := s.llm.Converse(ctx, system, messages, chatParams)
	if err != nil {
		return SendOutput{}, newError(ErrorUpstream, "completion_error", err)
	}
	if reply.Role != domain.RoleAssistant || strings.TrimSpace(reply.Text()) == "" {
		return SendOutput{}, newError(ErrorUpstream, "completion_malformed_response", nil)
	}

	chat.Messages = append(messages, reply)
	chat.UpdatedAt = s.now()
	if err := s.store.UpdateChat(ctx, chat); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			return SendOutput{}, newError(ErrorConflict, "concurrent_update", err)
		}
		return SendOutput{}, newError(ErrorInternal, "store_write_error", err)
	}
	chat.Version++

	return SendOutput{Message: reply, Chat: chat.Summary()}, nil
}

// History returns the ordered turns of a chat.
func (s *ChatService) History(ctx context.Context, chatID string) ([]domain.Message, error) {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return chat.Messages, nil
}

// ListChats returns the summary of every stored chat in no particular order.
func (s *ChatService) ListChats(ctx context.Context) ([]domain.ChatSummary, error) {
	summaries, err := s.store.ListChats(ctx)
	if err != nil {
		return nil, newError(ErrorInternal, "store_list_error", err)
	}
	if summaries == nil {
		summaries = []domain.ChatSummary{}
	}
	return summaries, nil
}

// startChat creates and persists an empty chat before any turn is appended.
func (s *ChatService) startChat(ctx context.Context, prompt string) (domain.Chat, error) {
	chatID := newUUID()
	title := s.generateTitle(ctx, chatID, prompt)
	now := s.now()
	chat := domain.Chat{
		ChatSummary: domain.ChatSummary{
			ID:        chatID,
			Title:     title,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Messages: []domain.Message{},
	}
	if err := s.store.CreateChat(ctx, chat); err != nil {
		return domain.Chat{}, newError(ErrorInternal, "store_create_error", err)
	}
	return chat, nil
}

func (s *ChatService) loadChat(ctx context.Context, chatID string) (domain.Chat, error) {
	id, err := uuid.Parse(strings.TrimSpace(chatID))
	if err != nil {
		return domain.Chat{}, newError(ErrorInvalidInput, "invalid_chat_id", err)
	}
	chat, err := s.store.GetChat(ctx, id.String())
	if err != nil {
		if errors.Is(err, domain.ErrChatNotFound) {
			return domain.Chat{}, newError(ErrorNotFound, "chat_not_found", err)
		}
		return domain.Chat{}, newError(ErrorInternal, "store_read_error", err)
	}
	if chat.Messages == nil {
		chat.Messages = []domain.Message{}
	}
	return chat, nil
}

// ensureSystemPrompt loads the system prompt once per process. A failed load
// is not cached, so the next request tries again.
func (s *ChatService) ensureSystemPrompt(ctx context.Context) (string, error) {
	if s.systemPromptParam == "" {
		return "", nil
	}

	s.cacheMu.RLock()
	if s.cacheLoaded {
		defer s.cacheMu.RUnlock()
		return s.systemPrompt, nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return s.systemPrompt, nil
	}

	prompt, err := s.params.GetParameter(ctx, s.systemPromptParam)
	if err != nil {
		return "", err
	}
	s.systemPrompt = strings.TrimSpace(prompt)
	s.cacheLoaded = true
	return s.systemPrompt, nil
}

var newUUID = func() string {
	return uuid.NewString()
}
