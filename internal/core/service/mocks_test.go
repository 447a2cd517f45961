package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/istrom/siteinv/internal/core/domain"
	"github.com/istrom/siteinv/internal/port"
)

// mockRepo backs the services with in-memory state. Transact holds the
// lock for the whole unit and commits staged copies only on success, which
// mirrors the serialization the database gives the real adapter.
type mockRepo struct {
	mu            sync.Mutex
	items         map[string]domain.Item
	requests      map[string]domain.Request
	notifications []domain.Notification
	eventKeys     map[string]bool
	deletedAudit  map[string]domain.Request
	sites         []domain.ProjectSite

	listRequestCalls int
	listItemCalls    int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		items:        make(map[string]domain.Item),
		requests:     make(map[string]domain.Request),
		eventKeys:    make(map[string]bool),
		deletedAudit: make(map[string]domain.Request),
	}
}

type mockLedgerTx struct {
	items    map[string]domain.Item
	requests map[string]domain.Request
	audits   map[string]domain.Request
}

func (r *mockRepo) Transact(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &mockLedgerTx{
		items:    make(map[string]domain.Item, len(r.items)),
		requests: make(map[string]domain.Request, len(r.requests)),
		audits:   make(map[string]domain.Request),
	}
	for k, v := range r.items {
		tx.items[k] = v
	}
	for k, v := range r.requests {
		tx.requests[k] = v
	}

	if err := fn(tx); err != nil {
		return err
	}

	r.items = tx.items
	r.requests = tx.requests
	for k, v := range tx.audits {
		r.deletedAudit[k] = v
	}
	return nil
}

func (t *mockLedgerTx) Deduct(ctx context.Context, itemID string, qty decimal.Decimal) error {
	it, ok := t.items[itemID]
	if !ok {
		return domain.ErrNotFound
	}
	if it.Qty.LessThan(qty) {
		return domain.ErrInsufficientStock
	}
	it.Qty = it.Qty.Sub(qty)
	t.items[itemID] = it
	return nil
}

func (t *mockLedgerTx) Restore(ctx context.Context, itemID string, qty decimal.Decimal) error {
	it, ok := t.items[itemID]
	if !ok {
		return domain.ErrNotFound
	}
	it.Qty = it.Qty.Add(qty)
	t.items[itemID] = it
	return nil
}

func (t *mockLedgerTx) SetRequestStatus(ctx context.Context, requestID string, from, to domain.RequestStatus, actor string) error {
	req, ok := t.requests[requestID]
	if !ok || req.Status != from {
		return domain.ErrInvalidTransition
	}
	req.Status = to
	req.ApprovedBy = actor
	req.UpdatedAt = time.Now()
	t.requests[requestID] = req
	return nil
}

func (t *mockLedgerTx) RemoveRequest(ctx context.Context, req domain.Request, deletedBy string) error {
	stored, ok := t.requests[req.ID]
	if !ok || stored.Status != req.Status {
		return domain.ErrNotFound
	}
	delete(t.requests, req.ID)
	t.audits[req.ID] = stored
	return nil
}

func (r *mockRepo) CreateItem(ctx context.Context, item domain.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = item
	return nil
}

func (r *mockRepo) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (r *mockRepo) ListItems(ctx context.Context, vc domain.ViewContext) ([]domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listItemCalls++
	out := []domain.Item{}
	for _, it := range r.items {
		if vc.ProjectSite != "" && it.ProjectSite != vc.ProjectSite {
			continue
		}
		if vc.Category != "" && it.Category != vc.Category {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (r *mockRepo) ReplaceItemQuantity(ctx context.Context, itemID string, qty decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[itemID]
	if !ok {
		return domain.ErrNotFound
	}
	it.Qty = qty
	r.items[itemID] = it
	return nil
}

func (r *mockRepo) CreateRequest(ctx context.Context, req domain.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[req.ID] = req
	return nil
}

func (r *mockRepo) GetRequest(ctx context.Context, id string) (*domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, nil
	}
	return &req, nil
}

func (r *mockRepo) ListRequests(ctx context.Context, vc domain.ViewContext) ([]domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listRequestCalls++
	out := []domain.Request{}
	for _, req := range r.requests {
		if vc.ProjectSite != "" && req.ProjectSite != vc.ProjectSite {
			continue
		}
		if vc.Status != "" && req.Status != vc.Status {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func (r *mockRepo) CreateNotification(ctx context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n.EventKey != "" {
		if r.eventKeys[n.EventKey] {
			return nil // absorbed, like the unique index
		}
		r.eventKeys[n.EventKey] = true
	}
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *mockRepo) ListNotifications(ctx context.Context, receiverID string, includeBroadcast, unreadOnly bool, limit, offset int) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Notification{}
	for i := len(r.notifications) - 1; i >= 0; i-- {
		n := r.notifications[i]
		if !matchesReceiver(n, receiverID, includeBroadcast) {
			continue
		}
		if unreadOnly && n.IsRead {
			continue
		}
		out = append(out, n)
	}
	if offset >= len(out) {
		return []domain.Notification{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *mockRepo) UnreadCount(ctx context.Context, receiverID string, includeBroadcast bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, n := range r.notifications {
		if matchesReceiver(n, receiverID, includeBroadcast) && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *mockRepo) MarkNotificationRead(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.notifications {
		if n.ID == id {
			r.notifications[i].IsRead = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *mockRepo) MarkAllNotificationsRead(ctx context.Context, receiverID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var updated int64
	for i, n := range r.notifications {
		if n.ReceiverID != nil && *n.ReceiverID == receiverID && !n.IsRead {
			r.notifications[i].IsRead = true
			updated++
		}
	}
	return updated, nil
}

func (r *mockRepo) DeleteNotification(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.notifications {
		if n.ID == id {
			r.notifications = append(r.notifications[:i], r.notifications[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *mockRepo) DeleteAllNotifications(ctx context.Context, receiverID *string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if receiverID == nil {
		deleted := int64(len(r.notifications))
		r.notifications = nil
		return deleted, nil
	}
	kept := r.notifications[:0]
	var deleted int64
	for _, n := range r.notifications {
		mine := (n.ReceiverID != nil && *n.ReceiverID == *receiverID) ||
			(n.SenderID != nil && *n.SenderID == *receiverID)
		if mine {
			deleted++
			continue
		}
		kept = append(kept, n)
	}
	r.notifications = kept
	return deleted, nil
}

func (r *mockRepo) ListSites(ctx context.Context) ([]domain.ProjectSite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ProjectSite{}, r.sites...), nil
}

func matchesReceiver(n domain.Notification, receiverID string, includeBroadcast bool) bool {
	if n.ReceiverID == nil {
		return includeBroadcast
	}
	return *n.ReceiverID == receiverID
}

type mockAuth struct {
	admins map[string]bool
	sites  map[string]string
}

func newMockAuth() *mockAuth {
	return &mockAuth{admins: make(map[string]bool), sites: make(map[string]string)}
}

func (a *mockAuth) addUser(id, site string, admin bool) {
	a.sites[id] = site
	a.admins[id] = admin
}

func (a *mockAuth) IsAdmin(ctx context.Context, actorID string) (bool, error) {
	if _, ok := a.sites[actorID]; !ok {
		return false, domain.ErrNotFound
	}
	return a.admins[actorID], nil
}

func (a *mockAuth) TenantOf(ctx context.Context, actorID string) (string, error) {
	site, ok := a.sites[actorID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return site, nil
}

// mockCache reproduces the generation-counter scheme of the Redis adapter:
// keys embed the scope generation, invalidation bumps it.
type mockCache struct {
	mu        sync.Mutex
	entries   map[string]mockCacheEntry
	siteGen   map[string]int
	globalGen int
	hits      int
}

type mockCacheEntry struct {
	payload []byte
	expires time.Time
}

func newMockCache() *mockCache {
	return &mockCache{
		entries: make(map[string]mockCacheEntry),
		siteGen: make(map[string]int),
	}
}

func (c *mockCache) scopedKey(site, key string) string {
	gen := c.globalGen
	if site != "" {
		gen = c.siteGen[site]
	}
	return fmt.Sprintf("%d|%s|%s", gen, site, key)
}

func (c *mockCache) Get(ctx context.Context, site, key string, out any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[c.scopedKey(site, key)]
	if !ok || time.Now().After(e.expires) {
		return false, nil
	}
	if err := json.Unmarshal(e.payload, out); err != nil {
		return false, err
	}
	c.hits++
	return true, nil
}

func (c *mockCache) Set(ctx context.Context, site, key string, val any, ttl time.Duration) error {
	payload, err := json.Marshal(val)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.scopedKey(site, key)] = mockCacheEntry{payload: payload, expires: time.Now().Add(ttl)}
	return nil
}

func (c *mockCache) InvalidateSite(ctx context.Context, site string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.siteGen[site]++
	if site != "" {
		c.globalGen++
	}
	return nil
}

func (c *mockCache) FlushAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.globalGen++
	for site := range c.siteGen {
		c.siteGen[site]++
	}
	return nil
}
