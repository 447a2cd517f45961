package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/istrom/siteinv/internal/core/domain"
	"github.com/istrom/siteinv/internal/port"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	createTimeout    = 5 * time.Second
)

// NotificationService dispatches notifications through a buffered queue
// drained by workers. Delivery is at-most-once per event key: the store's
// unique index absorbs duplicates, and a failed dispatch is logged, never
// retried synchronously and never propagated to the caller.
type NotificationService struct {
	repo  port.DatabaseRepository
	auth  port.Authorizer
	queue chan domain.Notification
	log   *zap.Logger
}

func NewNotificationService(repo port.DatabaseRepository, auth port.Authorizer, queueSize int, log *zap.Logger) *NotificationService {
	return &NotificationService{
		repo:  repo,
		auth:  auth,
		queue: make(chan domain.Notification, queueSize),
		log:   log,
	}
}

// Notify enqueues a notification. Never blocks the caller: a full queue
// drops the notification with a log line (degraded but valid).
func (s *NotificationService) Notify(n domain.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	select {
	case s.queue <- n:
	default:
		s.log.Error("notification queue full, dropping",
			zap.String("event_key", n.EventKey),
			zap.String("type", string(n.Type)))
	}
}

// Worker drains the queue until Close. Run one or more in goroutines.
func (s *NotificationService) Worker(id int) {
	for n := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), createTimeout)
		if err := s.repo.CreateNotification(ctx, n); err != nil {
			s.log.Error("failed to store notification",
				zap.Int("worker", id),
				zap.String("event_key", n.EventKey),
				zap.Error(err))
		}
		cancel()
	}
}

func (s *NotificationService) Close() {
	close(s.queue)
}

// List returns the actor's notifications, newest first. Admins also see
// broadcast rows (nil receiver); members only rows addressed to them.
func (s *NotificationService) List(ctx context.Context, actorID string, unreadOnly bool, limit, offset int) ([]domain.Notification, error) {
	admin, err := s.auth.IsAdmin(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListNotifications(ctx, actorID, admin, unreadOnly, limit, offset)
}

func (s *NotificationService) UnreadCount(ctx context.Context, actorID string) (int, error) {
	admin, err := s.auth.IsAdmin(ctx, actorID)
	if err != nil {
		return 0, fmt.Errorf("authorize: %w", err)
	}
	return s.repo.UnreadCount(ctx, actorID, admin)
}

func (s *NotificationService) MarkRead(ctx context.Context, id string) error {
	return s.repo.MarkNotificationRead(ctx, id)
}

// MarkAllRead flips every unread notification for the actor in one set
// operation, returning the number updated.
func (s *NotificationService) MarkAllRead(ctx context.Context, actorID string) (int64, error) {
	return s.repo.MarkAllNotificationsRead(ctx, actorID)
}

func (s *NotificationService) Delete(ctx context.Context, id string) error {
	return s.repo.DeleteNotification(ctx, id)
}

// DeleteAll clears the actor's notifications. With everyone=true it clears
// every row, which requires admin.
func (s *NotificationService) DeleteAll(ctx context.Context, actorID string, everyone bool) (int64, error) {
	if everyone {
		admin, err := s.auth.IsAdmin(ctx, actorID)
		if err != nil {
			return 0, fmt.Errorf("authorize: %w", err)
		}
		if !admin {
			return 0, domain.ErrForbidden
		}
		return s.repo.DeleteAllNotifications(ctx, nil)
	}
	return s.repo.DeleteAllNotifications(ctx, &actorID)
}
