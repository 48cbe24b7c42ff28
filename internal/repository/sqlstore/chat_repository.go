package sqlstore

import (
	"context"
	"fmt"
	"time"

	"chatbot-api/internal/domain"
	"chatbot-api/internal/repository"
)

const createChatsTable = `
CREATE TABLE IF NOT EXISTS chats (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id),
	message VARCHAR(1000) NOT NULL,
	response TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
`

const createChatsIndex = `CREATE INDEX IF NOT EXISTS idx_chats_user_created ON chats (user_id, created_at)`

type ChatRepository struct {
	db *DB
}

func NewChatRepository(db *DB) repository.ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) Init(ctx context.Context) error {
	if _, err := r.db.conn(ctx).ExecContext(ctx, r.db.ddl(createChatsTable)); err != nil {
		return fmt.Errorf("create chats table: %w", err)
	}
	if _, err := r.db.conn(ctx).ExecContext(ctx, createChatsIndex); err != nil {
		return fmt.Errorf("create chats index: %w", err)
	}
	return nil
}

func (r *ChatRepository) Create(ctx context.Context, chat *domain.Chat) (int64, error) {
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}

	var id int64
	err := r.db.conn(ctx).QueryRowContext(ctx, r.db.rebind(`
INSERT INTO chats (user_id, message, response, created_at)
VALUES (?, ?, ?, ?)
RETURNING id`),
		chat.UserID,
		chat.Message,
		chat.Response,
		chat.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert chat: %w", err)
	}

	chat.ID = id
	return id, nil
}

func (r *ChatRepository) ListByUser(ctx context.Context, userID int64) ([]domain.Chat, error) {
	rows, err := r.db.conn(ctx).QueryContext(ctx, r.db.rebind(`
SELECT id, user_id, message, response, created_at
FROM chats
WHERE user_id = ?
ORDER BY created_at DESC, id DESC`),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	chats := make([]domain.Chat, 0)
	for rows.Next() {
		var chat domain.Chat
		if err := rows.Scan(
			&chat.ID,
			&chat.UserID,
			&chat.Message,
			&chat.Response,
			&chat.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return chats, nil
}
