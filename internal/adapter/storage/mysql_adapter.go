package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/istrom/siteinv/internal/core/domain"
	"github.com/istrom/siteinv/internal/port"
)

const mysqlErrDuplicateEntry = 1062

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) Transact(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// ledgerTx applies stock deltas and status flips inside one transaction.
type ledgerTx struct {
	tx *sql.Tx
}

func (l *ledgerTx) Deduct(ctx context.Context, itemID string, qty decimal.Decimal) error {
	// Guard and write in one statement so two concurrent deductions
	// serialize on the row and the loser sees the winner's quantity.
	result, err := l.tx.ExecContext(ctx, `
		UPDATE items
		SET qty = qty - ?, updated_at = NOW()
		WHERE id = ? AND qty >= ?`,
		qty, itemID, qty,
	)
	if err != nil {
		return fmt.Errorf("deduct stock: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists int
		err := l.tx.QueryRowContext(ctx, `SELECT 1 FROM items WHERE id = ?`, itemID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check item: %w", err)
		}
		return domain.ErrInsufficientStock
	}
	return nil
}

func (l *ledgerTx) Restore(ctx context.Context, itemID string, qty decimal.Decimal) error {
	result, err := l.tx.ExecContext(ctx, `
		UPDATE items
		SET qty = qty + ?, updated_at = NOW()
		WHERE id = ?`,
		qty, itemID,
	)
	if err != nil {
		return fmt.Errorf("restore stock: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (l *ledgerTx) SetRequestStatus(ctx context.Context, requestID string, from, to domain.RequestStatus, actor string) error {
	result, err := l.tx.ExecContext(ctx, `
		UPDATE requests
		SET status = ?, approved_by = ?, updated_at = NOW()
		WHERE id = ? AND status = ?`,
		to, actor, requestID, from,
	)
	if err != nil {
		return fmt.Errorf("set request status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Either the request vanished or a concurrent transition won the
		// compare-and-set; both are invalid from the caller's snapshot.
		return domain.ErrInvalidTransition
	}
	return nil
}

func (l *ledgerTx) RemoveRequest(ctx context.Context, req domain.Request, deletedBy string) error {
	result, err := l.tx.ExecContext(ctx, `
		DELETE FROM requests WHERE id = ? AND status = ?`,
		req.ID, req.Status,
	)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}

	var itemName sql.NullString
	if err := l.tx.QueryRowContext(ctx, `SELECT name FROM items WHERE id = ?`, req.ItemID).Scan(&itemName); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lookup item name: %w", err)
	}

	_, err = l.tx.ExecContext(ctx, `
		INSERT INTO deleted_requests (request_id, item_name, qty, requested_by, status, project_site, deleted_by, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NOW())`,
		req.ID, itemName.String, req.Qty, req.RequestedBy, req.Status, req.ProjectSite, deletedBy,
	)
	if err != nil {
		return fmt.Errorf("audit deleted request: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) CreateItem(ctx context.Context, item domain.Item) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO items (id, code, name, category, unit, qty, unit_cost, budget, section, building_type, project_site, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, nullable(item.Code), item.Name, item.Category, item.Unit,
		item.Qty, item.UnitCost, item.Budget, item.Section, item.BuildingType,
		item.ProjectSite, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	var (
		it   domain.Item
		code sql.NullString
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, code, name, category, unit, qty, unit_cost, budget, section, building_type, project_site, created_at, updated_at
		FROM items WHERE id = ?`, id,
	).Scan(&it.ID, &code, &it.Name, &it.Category, &it.Unit, &it.Qty, &it.UnitCost,
		&it.Budget, &it.Section, &it.BuildingType, &it.ProjectSite, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}
	it.Code = code.String
	return &it, nil
}

func (m *MySQLAdapter) ListItems(ctx context.Context, vc domain.ViewContext) ([]domain.Item, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, code, name, category, unit, qty, unit_cost, budget, section, building_type, project_site, created_at, updated_at
		FROM items WHERE 1=1`)
	var args []any
	if vc.ProjectSite != "" {
		sb.WriteString(" AND project_site = ?")
		args = append(args, vc.ProjectSite)
	}
	if vc.Category != "" {
		sb.WriteString(" AND category = ?")
		args = append(args, vc.Category)
	}
	if vc.Search != "" {
		sb.WriteString(" AND (name LIKE ? OR code LIKE ?)")
		pattern := "%" + vc.Search + "%"
		args = append(args, pattern, pattern)
	}
	sb.WriteString(" ORDER BY name")
	if vc.Limit > 0 {
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, vc.Limit, vc.Offset)
	}

	rows, err := m.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := []domain.Item{}
	for rows.Next() {
		var (
			it   domain.Item
			code sql.NullString
		)
		if err := rows.Scan(&it.ID, &code, &it.Name, &it.Category, &it.Unit, &it.Qty, &it.UnitCost,
			&it.Budget, &it.Section, &it.BuildingType, &it.ProjectSite, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Code = code.String
		items = append(items, it)
	}
	return items, rows.Err()
}

func (m *MySQLAdapter) ReplaceItemQuantity(ctx context.Context, itemID string, qty decimal.Decimal) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE items SET qty = ?, updated_at = NOW() WHERE id = ?`,
		qty, itemID,
	)
	if err != nil {
		return fmt.Errorf("replace quantity: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (m *MySQLAdapter) CreateRequest(ctx context.Context, req domain.Request) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO requests (id, item_id, requested_by, project_site, qty, status, note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.ItemID, req.RequestedBy, req.ProjectSite, req.Qty, req.Status, req.Note,
		req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetRequest(ctx context.Context, id string) (*domain.Request, error) {
	var (
		req        domain.Request
		approvedBy sql.NullString
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, item_id, requested_by, project_site, qty, status, note, approved_by, created_at, updated_at
		FROM requests WHERE id = ?`, id,
	).Scan(&req.ID, &req.ItemID, &req.RequestedBy, &req.ProjectSite, &req.Qty, &req.Status,
		&req.Note, &approvedBy, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query request: %w", err)
	}
	req.ApprovedBy = approvedBy.String
	return &req, nil
}

func (m *MySQLAdapter) ListRequests(ctx context.Context, vc domain.ViewContext) ([]domain.Request, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, item_id, requested_by, project_site, qty, status, note, approved_by, created_at, updated_at
		FROM requests WHERE 1=1`)
	var args []any
	if vc.ProjectSite != "" {
		sb.WriteString(" AND project_site = ?")
		args = append(args, vc.ProjectSite)
	}
	if vc.Status != "" {
		sb.WriteString(" AND status = ?")
		args = append(args, vc.Status)
	}
	sb.WriteString(" ORDER BY created_at DESC")
	if vc.Limit > 0 {
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, vc.Limit, vc.Offset)
	}

	rows, err := m.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	requests := []domain.Request{}
	for rows.Next() {
		var (
			req        domain.Request
			approvedBy sql.NullString
		)
		if err := rows.Scan(&req.ID, &req.ItemID, &req.RequestedBy, &req.ProjectSite, &req.Qty,
			&req.Status, &req.Note, &approvedBy, &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		req.ApprovedBy = approvedBy.String
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// CreateNotification inserts relying on the unique event_key index for
// idempotency. No pre-check: concurrent duplicates race on the index and
// the loser's duplicate-entry error is absorbed here.
func (m *MySQLAdapter) CreateNotification(ctx context.Context, n domain.Notification) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO notifications (id, sender_id, receiver_id, message, type, is_read, event_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.SenderID, n.ReceiverID, n.Message, n.Type, n.IsRead, nullable(n.EventKey), n.CreatedAt,
	)
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) ListNotifications(ctx context.Context, receiverID string, includeBroadcast, unreadOnly bool, limit, offset int) ([]domain.Notification, error) {
	where := "receiver_id = ?"
	if includeBroadcast {
		where = "(receiver_id = ? OR receiver_id IS NULL)"
	}
	if unreadOnly {
		where += " AND is_read = FALSE"
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, message, type, is_read, event_key, created_at
		FROM notifications
		WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`,
		receiverID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	notifications := []domain.Notification{}
	for rows.Next() {
		var (
			n                          domain.Notification
			senderID, receiver, evtKey sql.NullString
		)
		if err := rows.Scan(&n.ID, &senderID, &receiver, &n.Message, &n.Type, &n.IsRead, &evtKey, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if senderID.Valid {
			n.SenderID = &senderID.String
		}
		if receiver.Valid {
			n.ReceiverID = &receiver.String
		}
		n.EventKey = evtKey.String
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (m *MySQLAdapter) UnreadCount(ctx context.Context, receiverID string, includeBroadcast bool) (int, error) {
	where := "receiver_id = ?"
	if includeBroadcast {
		where = "(receiver_id = ? OR receiver_id IS NULL)"
	}
	var count int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE `+where+` AND is_read = FALSE`,
		receiverID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (m *MySQLAdapter) MarkNotificationRead(ctx context.Context, id string) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (m *MySQLAdapter) MarkAllNotificationsRead(ctx context.Context, receiverID string) (int64, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE WHERE receiver_id = ? AND is_read = FALSE`,
		receiverID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return result.RowsAffected()
}

func (m *MySQLAdapter) DeleteNotification(ctx context.Context, id string) error {
	result, err := m.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (m *MySQLAdapter) DeleteAllNotifications(ctx context.Context, receiverID *string) (int64, error) {
	var (
		result sql.Result
		err    error
	)
	if receiverID == nil {
		result, err = m.db.ExecContext(ctx, `DELETE FROM notifications`)
	} else {
		result, err = m.db.ExecContext(ctx, `
			DELETE FROM notifications WHERE receiver_id = ? OR sender_id = ?`,
			*receiverID, *receiverID,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("delete notifications: %w", err)
	}
	return result.RowsAffected()
}

func (m *MySQLAdapter) ListSites(ctx context.Context) ([]domain.ProjectSite, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT name, description, is_active, created_at
		FROM project_sites WHERE is_active = TRUE ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query sites: %w", err)
	}
	defer rows.Close()

	sites := []domain.ProjectSite{}
	for rows.Next() {
		var s domain.ProjectSite
		if err := rows.Scan(&s.Name, &s.Description, &s.Active, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		sites = append(sites, s)
	}
	return sites, rows.Err()
}

// IsAdmin and TenantOf implement the Authorizer port against the users
// table.
func (m *MySQLAdapter) IsAdmin(ctx context.Context, actorID string) (bool, error) {
	var role string
	err := m.db.QueryRowContext(ctx, `SELECT role FROM users WHERE id = ?`, actorID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("query user role: %w", err)
	}
	return domain.Role(role) == domain.RoleAdmin, nil
}

func (m *MySQLAdapter) TenantOf(ctx context.Context, actorID string) (string, error) {
	var site string
	err := m.db.QueryRowContext(ctx, `SELECT project_site FROM users WHERE id = ?`, actorID).Scan(&site)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query user site: %w", err)
	}
	return site, nil
}

// CreateUser and AddSite back bootstrap and tests; not part of the core's
// ports.
func (m *MySQLAdapter) CreateUser(ctx context.Context, u domain.User) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO users (id, full_name, role, project_site, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.FullName, u.Role, u.ProjectSite, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) AddSite(ctx context.Context, site domain.ProjectSite) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO project_sites (name, description, is_active, created_at)
		VALUES (?, ?, TRUE, NOW())
		ON DUPLICATE KEY UPDATE description = VALUES(description), is_active = TRUE`,
		site.Name, site.Description,
	)
	if err != nil {
		return fmt.Errorf("insert site: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
