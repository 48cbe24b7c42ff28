package repository

import (
	"context"

	"chatbot-api/internal/domain"
)

// ChatRepository stores the chat history of each user.
type ChatRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, chat *domain.Chat) (int64, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Chat, error)
}
