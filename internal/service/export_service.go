package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chatbot-api/internal/domain"
	"chatbot-api/internal/repository"
	"chatbot-api/internal/storage"
)

// ErrExportDisabled is returned when no object storage bucket is configured.
var ErrExportDisabled = errors.New("transcript export is not configured")

const exportURLTTL = 15 * time.Minute

// Export describes an uploaded transcript.
type Export struct {
	Location string
	URL      string
	Chats    int
}

// ExportService uploads a user's chat history as a JSON transcript.
type ExportService interface {
	Export(ctx context.Context, user *domain.User) (*Export, error)
}

type exportService struct {
	chats     repository.ChatRepository
	store     storage.Service
	bucket    string
	keyPrefix string
	now       func() time.Time
}

// NewExportService returns a service that fails with ErrExportDisabled when
// store is nil or bucket is empty.
func NewExportService(chats repository.ChatRepository, store storage.Service, bucket, keyPrefix string) ExportService {
	return &exportService{
		chats:     chats,
		store:     store,
		bucket:    bucket,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

type transcriptEntry struct {
	ID        int64  `json:"id"`
	Message   string `json:"message"`
	Response  string `json:"response"`
	CreatedAt string `json:"created_at"`
}

type transcript struct {
	Username   string            `json:"username"`
	ExportedAt string            `json:"exported_at"`
	Chats      []transcriptEntry `json:"chats"`
}

func (s *exportService) Export(ctx context.Context, user *domain.User) (*Export, error) {
	if s.store == nil || s.bucket == "" {
		return nil, ErrExportDisabled
	}

	chats, err := s.chats.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	doc := transcript{
		Username:   user.Username,
		ExportedAt: s.now().UTC().Format(time.RFC3339),
		Chats:      make([]transcriptEntry, len(chats)),
	}
	for i, c := range chats {
		doc.Chats[i] = transcriptEntry{
			ID:        c.ID,
			Message:   c.Message,
			Response:  c.Response,
			CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal transcript: %w", err)
	}

	key := storage.ObjectKey(s.keyPrefix, user.Username, uuid.NewString()+".json")
	location, err := s.store.PutObject(ctx, bytes.NewReader(body), storage.PutOptions{
		Bucket:      s.bucket,
		Key:         key,
		ContentType: "application/json",
	})
	if err != nil {
		return nil, err
	}
	url, err := s.store.GetObjectURL(ctx, s.bucket, key, exportURLTTL)
	if err != nil {
		return nil, err
	}

	return &Export{Location: location, URL: url, Chats: len(chats)}, nil
}
