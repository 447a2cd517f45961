package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/istrom/siteinv/internal/core/domain"
	"github.com/istrom/siteinv/internal/port"
)

var ErrInvalidQuantity = errors.New("quantity must be positive")

const (
	defaultRequestListTTL = 30 * time.Second
	defaultItemListTTL    = 5 * time.Minute
	defaultSiteListTTL    = 10 * time.Minute
)

// RequestService owns the request lifecycle: it validates transitions
// against the domain table, composes the status compare-and-set with the
// ledger mutation in one transaction, and is the single authority for
// notification fan-out and cache invalidation after a mutation.
type RequestService struct {
	repo     port.DatabaseRepository
	cache    port.CacheRepository
	auth     port.Authorizer
	notifier *NotificationService
	log      *zap.Logger

	RequestListTTL time.Duration
	ItemListTTL    time.Duration
	SiteListTTL    time.Duration
}

func NewRequestService(repo port.DatabaseRepository, cache port.CacheRepository, auth port.Authorizer, notifier *NotificationService, log *zap.Logger) *RequestService {
	return &RequestService{
		repo:           repo,
		cache:          cache,
		auth:           auth,
		notifier:       notifier,
		log:            log,
		RequestListTTL: defaultRequestListTTL,
		ItemListTTL:    defaultItemListTTL,
		SiteListTTL:    defaultSiteListTTL,
	}
}

// Submit creates a pending request. No ledger effect until approval.
func (s *RequestService) Submit(ctx context.Context, itemID, requesterID string, qty decimal.Decimal, note string) (string, error) {
	if !qty.IsPositive() {
		return "", ErrInvalidQuantity
	}

	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return "", fmt.Errorf("load item: %w", err)
	}
	if item == nil {
		return "", domain.ErrNotFound
	}

	site, err := s.auth.TenantOf(ctx, requesterID)
	if err != nil {
		return "", fmt.Errorf("resolve tenant: %w", err)
	}

	now := time.Now()
	req := domain.Request{
		ID:          uuid.NewString(),
		ItemID:      item.ID,
		RequestedBy: requesterID,
		ProjectSite: site,
		Qty:         qty,
		Status:      domain.StatusPending,
		Note:        note,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.CreateRequest(ctx, req); err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	s.notifier.Notify(domain.Notification{
		SenderID: &requesterID,
		Message:  fmt.Sprintf("New request: %s x %s (%s)", qty, item.Name, site),
		Type:     domain.NotifyNewRequest,
		EventKey: domain.SubmitEventKey(req.ID),
	})
	s.invalidate(ctx, site)

	return req.ID, nil
}

// Transition moves a request to target. Admin only. The status flip and the
// ledger effect commit as one unit; on ErrInsufficientStock the request is
// left untouched. A target equal to the current status is a no-op.
func (s *RequestService) Transition(ctx context.Context, requestID string, target domain.RequestStatus, actorID string) error {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}

	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load request: %w", err)
	}
	if req == nil {
		return domain.ErrNotFound
	}

	effect, noop, err := domain.ResolveTransition(req.Status, target)
	if err != nil {
		return err
	}
	if noop {
		return nil
	}

	itemName := req.ItemID
	if item, err := s.repo.GetItem(ctx, req.ItemID); err == nil && item != nil {
		itemName = item.Name
	}

	err = s.repo.Transact(ctx, func(tx port.LedgerTx) error {
		if effect == domain.LedgerRestore {
			if err := tx.Restore(ctx, req.ItemID, req.Qty); err != nil {
				return err
			}
		}
		if err := tx.SetRequestStatus(ctx, req.ID, req.Status, target, actorID); err != nil {
			return err
		}
		if effect == domain.LedgerDeduct {
			if err := tx.Deduct(ctx, req.ItemID, req.Qty); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notifyTransition(*req, target, actorID, itemName)
	s.invalidate(ctx, req.ProjectSite)
	return nil
}

// Delete removes a request permanently. Admin only. Deleting an approved
// request restores its deducted stock in the same transaction that removes
// the row; a second delete finds nothing and reports ErrNotFound.
func (s *RequestService) Delete(ctx context.Context, requestID, actorID string) error {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}

	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load request: %w", err)
	}
	if req == nil {
		return domain.ErrNotFound
	}

	err = s.repo.Transact(ctx, func(tx port.LedgerTx) error {
		if req.Status == domain.StatusApproved {
			if err := tx.Restore(ctx, req.ItemID, req.Qty); err != nil {
				return err
			}
		}
		// Guarded on the status we read, so a concurrent duplicate delete
		// rolls back its restore and surfaces ErrNotFound instead.
		return tx.RemoveRequest(ctx, *req, actorID)
	})
	if err != nil {
		return err
	}

	s.notifier.Notify(domain.Notification{
		SenderID: &actorID,
		Message:  fmt.Sprintf("Request %s deleted by %s", req.ID, actorID),
		Type:     domain.NotifyInfo,
		EventKey: domain.DeleteEventKey(req.ID),
	})
	s.invalidate(ctx, req.ProjectSite)
	return nil
}

// ListRequests serves the cached request listing. The effective context is
// built here, from the authorizer, and is the only thing the cache key and
// the underlying query ever see.
func (s *RequestService) ListRequests(ctx context.Context, actorID string, status domain.RequestStatus, limit, offset int) ([]domain.Request, error) {
	vc, err := s.viewContext(ctx, actorID)
	if err != nil {
		return nil, err
	}
	vc.Status = status
	vc.Limit = limit
	vc.Offset = offset

	key := vc.CacheKey("requests")
	var cached []domain.Request
	if hit := s.cacheGet(ctx, vc.ProjectSite, key, &cached); hit {
		return cached, nil
	}

	out, err := s.repo.ListRequests(ctx, vc)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	s.cacheSet(ctx, vc.ProjectSite, key, out, s.RequestListTTL)
	return out, nil
}

// ListItems serves the cached inventory listing for the actor's scope.
func (s *RequestService) ListItems(ctx context.Context, actorID string, category domain.ItemCategory, search string, limit, offset int) ([]domain.Item, error) {
	vc, err := s.viewContext(ctx, actorID)
	if err != nil {
		return nil, err
	}
	vc.Category = category
	vc.Search = search
	vc.Limit = limit
	vc.Offset = offset

	key := vc.CacheKey("items")
	var cached []domain.Item
	if hit := s.cacheGet(ctx, vc.ProjectSite, key, &cached); hit {
		return cached, nil
	}

	out, err := s.repo.ListItems(ctx, vc)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	s.cacheSet(ctx, vc.ProjectSite, key, out, s.ItemListTTL)
	return out, nil
}

// ListSites serves the rarely-changing project site option list.
func (s *RequestService) ListSites(ctx context.Context) ([]domain.ProjectSite, error) {
	const key = "sites|all"
	var cached []domain.ProjectSite
	if hit := s.cacheGet(ctx, "", key, &cached); hit {
		return cached, nil
	}

	out, err := s.repo.ListSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	s.cacheSet(ctx, "", key, out, s.SiteListTTL)
	return out, nil
}

// CreateItem registers a new inventory item. Admin only.
func (s *RequestService) CreateItem(ctx context.Context, item domain.Item, actorID string) (string, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return "", err
	}
	if item.Qty.IsNegative() {
		return "", ErrInvalidQuantity
	}
	item.ID = uuid.NewString()
	now := time.Now()
	item.CreatedAt = now
	item.UpdatedAt = now
	if err := s.repo.CreateItem(ctx, item); err != nil {
		return "", fmt.Errorf("create item: %w", err)
	}
	s.invalidate(ctx, item.ProjectSite)
	return item.ID, nil
}

// ReplaceItemQuantity sets an absolute quantity, the import path's fresh
// baseline. Admin only; not a ledger delta.
func (s *RequestService) ReplaceItemQuantity(ctx context.Context, itemID string, qty decimal.Decimal, actorID string) error {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	if qty.IsNegative() {
		return ErrInvalidQuantity
	}
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}
	if item == nil {
		return domain.ErrNotFound
	}
	if err := s.repo.ReplaceItemQuantity(ctx, itemID, qty); err != nil {
		return fmt.Errorf("replace quantity: %w", err)
	}
	s.invalidate(ctx, item.ProjectSite)
	return nil
}

// FlushCache drops every cache entry. Admin recovery hatch; correctness
// never depends on it.
func (s *RequestService) FlushCache(ctx context.Context, actorID string) error {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	return s.cache.FlushAll(ctx)
}

func (s *RequestService) viewContext(ctx context.Context, actorID string) (domain.ViewContext, error) {
	admin, err := s.auth.IsAdmin(ctx, actorID)
	if err != nil {
		return domain.ViewContext{}, fmt.Errorf("authorize: %w", err)
	}
	vc := domain.ViewContext{ActorID: actorID, Role: domain.RoleMember}
	if admin {
		vc.Role = domain.RoleAdmin
		return vc, nil // admins see all sites
	}
	site, err := s.auth.TenantOf(ctx, actorID)
	if err != nil {
		return domain.ViewContext{}, fmt.Errorf("resolve tenant: %w", err)
	}
	vc.ProjectSite = site
	return vc, nil
}

func (s *RequestService) requireAdmin(ctx context.Context, actorID string) error {
	admin, err := s.auth.IsAdmin(ctx, actorID)
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	if !admin {
		return domain.ErrForbidden
	}
	return nil
}

func (s *RequestService) notifyTransition(req domain.Request, target domain.RequestStatus, actorID, itemName string) {
	n := domain.Notification{
		SenderID:   &actorID,
		ReceiverID: &req.RequestedBy,
		EventKey:   domain.TransitionEventKey(req.ID, target),
	}
	switch target {
	case domain.StatusApproved:
		n.Type = domain.NotifyRequestApproved
		n.Message = fmt.Sprintf("Your request for %s x %s was approved", req.Qty, itemName)
	case domain.StatusRejected:
		n.Type = domain.NotifyRequestRejected
		n.Message = fmt.Sprintf("Your request for %s x %s was rejected", req.Qty, itemName)
	case domain.StatusPending:
		n.Type = domain.NotifyInfo
		n.Message = fmt.Sprintf("Your approved request for %s was moved back to pending; stock was restored", itemName)
	}
	s.notifier.Notify(n)
}

// cacheGet is best-effort: any cache failure logs and falls through to the
// database.
func (s *RequestService) cacheGet(ctx context.Context, site, key string, out any) bool {
	hit, err := s.cache.Get(ctx, site, key, out)
	if err != nil {
		s.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return hit
}

func (s *RequestService) cacheSet(ctx context.Context, site, key string, val any, ttl time.Duration) {
	if err := s.cache.Set(ctx, site, key, val, ttl); err != nil {
		s.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *RequestService) invalidate(ctx context.Context, site string) {
	if err := s.cache.InvalidateSite(ctx, site); err != nil {
		s.log.Error("cache invalidation failed", zap.String("site", site), zap.Error(err))
	}
}
