package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"chatbot-api/internal/domain"
	"chatbot-api/internal/repository"
	"chatbot-api/internal/upstream"
)

// Limiter admits or rejects requests per key.
type Limiter interface {
	Allow(key string, now time.Time) bool
	RetryAfter(key string, now time.Time) time.Duration
	Window() time.Duration
	Max() int
}

// ResponseCache stores completions by message text.
type ResponseCache interface {
	Get(message string) (string, bool)
	Put(message, response string)
}

// Recorder receives pipeline events for metrics.
type Recorder interface {
	CacheHit()
	CacheMiss()
	RateLimited()
	PersistenceFailed()
}

// ChatService runs the chat admission pipeline and serves chat history.
type ChatService interface {
	Send(ctx context.Context, user *domain.User, message string) (*domain.Chat, error)
	History(ctx context.Context, user *domain.User) ([]domain.Chat, error)
}

type chatService struct {
	chats     repository.ChatRepository
	tx        repository.Transactor
	limiter   Limiter
	cache     ResponseCache
	completer upstream.Completer
	recorder  Recorder
	logger    *logrus.Logger
	now       func() time.Time
}

func NewChatService(
	chats repository.ChatRepository,
	tx repository.Transactor,
	limiter Limiter,
	cache ResponseCache,
	completer upstream.Completer,
	recorder Recorder,
	logger *logrus.Logger,
) ChatService {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &chatService{
		chats:     chats,
		tx:        tx,
		limiter:   limiter,
		cache:     cache,
		completer: completer,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// Send admits the request, answers from the cache or the completion API and
// stores the exchange. Nothing is stored when the completion fails, and the
// completion is dropped when it cannot be stored.
func (s *chatService) Send(ctx context.Context, user *domain.User, message string) (*domain.Chat, error) {
	if user == nil {
		return nil, errors.New("user is required")
	}
	if err := ValidateMessage(message); err != nil {
		return nil, err
	}

	// a disconnecting client does not abort work already admitted
	ctx = context.WithoutCancel(ctx)
	log := s.logger.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": user.Username,
	})

	key := strconv.FormatInt(user.ID, 10)
	now := s.now()
	if !s.limiter.Allow(key, now) {
		s.recorder.RateLimited()
		log.Warn("chat rate limit exceeded")
		return nil, &RateLimitError{
			Limit:      s.limiter.Max(),
			Window:     s.limiter.Window(),
			RetryAfter: s.limiter.RetryAfter(key, now),
		}
	}

	response, hit := s.cache.Get(message)
	if hit {
		s.recorder.CacheHit()
		log.Debug("chat served from cache")
	} else {
		s.recorder.CacheMiss()

		var err error
		response, err = s.completer.Complete(ctx, message)
		if err != nil {
			return nil, err
		}
		s.cache.Put(message, response)
	}

	chat := &domain.Chat{
		UserID:    user.ID,
		Message:   message,
		Response:  response,
		CreatedAt: s.now().UTC(),
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		_, err := s.chats.Create(ctx, chat)
		return err
	})
	if err != nil {
		s.recorder.PersistenceFailed()
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	log.WithFields(logrus.Fields{
		"chat_id": chat.ID,
		"cached":  hit,
	}).Info("chat stored")
	return chat, nil
}

func (s *chatService) History(ctx context.Context, user *domain.User) ([]domain.Chat, error) {
	if user == nil {
		return nil, errors.New("user is required")
	}
	chats, err := s.chats.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return chats, nil
}

// ValidateMessage enforces the 1..MaxMessageLength character bound.
func ValidateMessage(message string) error {
	n := utf8.RuneCountInString(message)
	if n == 0 {
		return validationErrorf("message must not be empty")
	}
	if n > domain.MaxMessageLength {
		return validationErrorf("message must be at most %d characters", domain.MaxMessageLength)
	}
	return nil
}

type nopRecorder struct{}

func (nopRecorder) CacheHit()          {}
func (nopRecorder) CacheMiss()         {}
func (nopRecorder) RateLimited()       {}
func (nopRecorder) PersistenceFailed() {}
