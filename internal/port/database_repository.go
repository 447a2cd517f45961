package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/istrom/siteinv/internal/core/domain"
)

// LedgerTx is the transactional view the Request State Machine composes
// inside a single atomic unit: the status compare-and-set and the stock
// mutation either both commit or neither does.
type LedgerTx interface {
	// Deduct subtracts qty from an item, failing with ErrInsufficientStock
	// if the result would go negative. The check and the write are one
	// statement; there is no read-then-write window.
	Deduct(ctx context.Context, itemID string, qty decimal.Decimal) error

	// Restore adds back a previously deducted amount. No lower-bound check:
	// callers must pass the exact amount the paired Deduct removed.
	Restore(ctx context.Context, itemID string, qty decimal.Decimal) error

	// SetRequestStatus flips status only if the request still holds `from`,
	// returning ErrInvalidTransition when a concurrent transition won.
	SetRequestStatus(ctx context.Context, requestID string, from, to domain.RequestStatus, actor string) error

	// RemoveRequest audits and deletes a request, guarded on its current
	// status so a concurrent duplicate delete observes ErrNotFound.
	RemoveRequest(ctx context.Context, req domain.Request, deletedBy string) error
}

type DatabaseRepository interface {
	// Transact runs fn inside one database transaction, committing only if
	// fn returns nil.
	Transact(ctx context.Context, fn func(tx LedgerTx) error) error

	CreateItem(ctx context.Context, item domain.Item) error
	GetItem(ctx context.Context, id string) (*domain.Item, error)
	ListItems(ctx context.Context, vc domain.ViewContext) ([]domain.Item, error)
	// ReplaceItemQuantity sets an absolute quantity (import baseline); it
	// deliberately bypasses the delta guard.
	ReplaceItemQuantity(ctx context.Context, itemID string, qty decimal.Decimal) error

	CreateRequest(ctx context.Context, req domain.Request) error
	GetRequest(ctx context.Context, id string) (*domain.Request, error)
	ListRequests(ctx context.Context, vc domain.ViewContext) ([]domain.Request, error)

	// CreateNotification inserts exactly one row per event key; a duplicate
	// key is absorbed silently, never surfaced.
	CreateNotification(ctx context.Context, n domain.Notification) error
	ListNotifications(ctx context.Context, receiverID string, includeBroadcast, unreadOnly bool, limit, offset int) ([]domain.Notification, error)
	UnreadCount(ctx context.Context, receiverID string, includeBroadcast bool) (int, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context, receiverID string) (int64, error)
	DeleteNotification(ctx context.Context, id string) error
	// DeleteAllNotifications with a nil receiver clears every row (admin
	// scope); both forms are single set operations.
	DeleteAllNotifications(ctx context.Context, receiverID *string) (int64, error)

	ListSites(ctx context.Context) ([]domain.ProjectSite, error)
}
