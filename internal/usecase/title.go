package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"chatbot-api/internal/domain"
)

const maxTitleRunes = 80

var titleParams = domain.InferenceParams{MaxTokens: 128, Temperature: 0.5, TopP: 0.9}

func titleRequest(prompt string) []domain.Message {
	text := fmt.Sprintf("Give me a title to the text: %s.\n"+
		"Use maximum 2 words. Output only the title. Do not use quotes.", prompt)
	return []domain.Message{domain.NewTextMessage(domain.RoleUser, text)}
}

// generateTitle asks the model for a short title. It never fails: when the
// call errors or yields nothing usable the title is derived from the prompt.
func (s *ChatService) generateTitle(ctx context.Context, chatID, prompt string) string {
	reply, err := s.llm.Converse(ctx, "", titleRequest(prompt), titleParams)
	if err != nil {
		slog.WarnContext(ctx, "title generation failed, using fallback", "chat_id", chatID, "err", err)
		return fallbackTitle(prompt)
	}
	title := cleanTitle(reply.Text())
	if title == "" {
		slog.WarnContext(ctx, "title generation returned empty title, using fallback", "chat_id", chatID)
		return fallbackTitle(prompt)
	}
	return title
}

func cleanTitle(raw string) string {
	title := strings.Join(strings.Fields(raw), " ")
	title = strings.Trim(title, "\"'`“”‘’ ")
	title = strings.TrimRight(title, ".")
	return truncateRunes(title, maxTitleRunes)
}

func fallbackTitle(prompt string) string {
	words := strings.Fields(prompt)
	if len(words) > 2 {
		words = words[:2]
	}
	return truncateRunes(strings.Join(words, " "), maxTitleRunes)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
