package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
)

type queries struct {
	tx *sql.Tx
}

type scanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, name, phone_number, email, password_hash, role, referral_code,
	referred_by, attributed, is_active, created_at`

const purchaseColumns = `id, user_id, product_id, product_name, amount, payment_proof, status,
	decided_by, decided_at, created_at`

const commissionColumns = `id, referrer_id, purchase_id, buyer_id, amount, rate, status,
	withdrawal_id, created_at, approved_at, withdrawn_at`

const withdrawalColumns = `id, user_id, amount, bank_name, account_number, account_name, status,
	admin_note, decided_by, decided_at, idempotency_key, created_at`

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func scanUser(row scanner) (*domain.User, error) {
	var u domain.User
	var role string
	var referredBy sql.NullString
	var createdAt int64
	err := row.Scan(&u.ID, &u.Name, &u.PhoneNumber, &u.Email, &u.PasswordHash, &role, &u.ReferralCode,
		&referredBy, &u.Attributed, &u.IsActive, &createdAt)
	if err != nil {
		return nil, mapError(err)
	}
	u.Role = domain.Role(role)
	u.ReferredBy = referredBy.String
	u.CreatedAt = fromMillis(createdAt)
	return &u, nil
}

func scanPurchase(row scanner) (*domain.Purchase, error) {
	var p domain.Purchase
	var status string
	var decidedBy sql.NullString
	var decidedAt sql.NullInt64
	var createdAt int64
	err := row.Scan(&p.ID, &p.UserID, &p.ProductID, &p.ProductName, &p.Amount, &p.PaymentProof, &status,
		&decidedBy, &decidedAt, &createdAt)
	if err != nil {
		return nil, mapError(err)
	}
	p.Status = domain.PurchaseStatus(status)
	p.DecidedBy = decidedBy.String
	p.DecidedAt = timePtr(decidedAt)
	p.CreatedAt = fromMillis(createdAt)
	return &p, nil
}

func scanCommission(row scanner) (*domain.CommissionEntry, error) {
	var c domain.CommissionEntry
	var status string
	var withdrawalID sql.NullString
	var createdAt int64
	var approvedAt, withdrawnAt sql.NullInt64
	err := row.Scan(&c.ID, &c.ReferrerID, &c.PurchaseID, &c.BuyerID, &c.Amount, &c.Rate, &status,
		&withdrawalID, &createdAt, &approvedAt, &withdrawnAt)
	if err != nil {
		return nil, mapError(err)
	}
	c.Status = domain.CommissionStatus(status)
	c.WithdrawalID = withdrawalID.String
	c.CreatedAt = fromMillis(createdAt)
	c.ApprovedAt = timePtr(approvedAt)
	c.WithdrawnAt = timePtr(withdrawnAt)
	return &c, nil
}

func scanWithdrawal(row scanner) (*domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	var status string
	var decidedBy, key sql.NullString
	var decidedAt sql.NullInt64
	var createdAt int64
	err := row.Scan(&w.ID, &w.UserID, &w.Amount, &w.Bank.BankName, &w.Bank.AccountNumber, &w.Bank.AccountName,
		&status, &w.AdminNote, &decidedBy, &decidedAt, &key, &createdAt)
	if err != nil {
		return nil, mapError(err)
	}
	w.Status = domain.WithdrawalStatus(status)
	w.DecidedBy = decidedBy.String
	w.DecidedAt = timePtr(decidedAt)
	w.IdempotencyKey = key.String
	w.CreatedAt = fromMillis(createdAt)
	return &w, nil
}

func (q *queries) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := q.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// Users

func (q *queries) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := q.exec(ctx, "insert user",
		`INSERT INTO users (id, name, phone_number, email, password_hash, role, referral_code,
			referred_by, attributed, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.PhoneNumber, u.Email, u.PasswordHash, string(u.Role), u.ReferralCode,
		nullString(u.ReferredBy), u.Attributed, u.IsActive, toMillis(u.CreatedAt),
	)
	if errors.Is(err, store.ErrDuplicate) && uniqueColumn(err) == "users.phone_number" {
		return store.ErrDuplicatePhone
	}
	return err
}

func (q *queries) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(q.tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// LockUser is a plain read: the immediate transaction already holds the write lock.
func (q *queries) LockUser(ctx context.Context, id string) (*domain.User, error) {
	return q.GetUser(ctx, id)
}

func (q *queries) GetUserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return scanUser(q.tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE phone_number = ?", phone))
}

func (q *queries) GetUserByReferralCode(ctx context.Context, code string) (*domain.User, error) {
	return scanUser(q.tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE referral_code = ?", code))
}

func (q *queries) SetReferrer(ctx context.Context, userID, referrerID string) (bool, error) {
	n, err := q.exec(ctx, "set referrer",
		"UPDATE users SET referred_by = ?, attributed = 1 WHERE id = ? AND attributed = 0",
		nullString(referrerID), userID)
	return n == 1, err
}

func (q *queries) SetUserActive(ctx context.Context, id string, active bool) error {
	n, err := q.exec(ctx, "set user active", "UPDATE users SET is_active = ? WHERE id = ?", active, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q *queries) ListUsers(ctx context.Context, offset, limit int) ([]domain.User, int64, error) {
	var total int64
	if err := q.tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", mapError(err))
	}

	rows, err := q.tx.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at DESC, id LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", mapError(err))
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, *u)
	}
	return users, total, mapError(rows.Err())
}

func (q *queries) CountReferrals(ctx context.Context, referrerID string) (int64, error) {
	var n int64
	err := q.tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE referred_by = ?", referrerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count referrals: %w", mapError(err))
	}
	return n, nil
}

// Purchases

func (q *queries) CreatePurchase(ctx context.Context, p *domain.Purchase) error {
	_, err := q.exec(ctx, "insert purchase",
		`INSERT INTO purchases (id, user_id, product_id, product_name, amount, payment_proof, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.ProductID, p.ProductName, p.Amount, p.PaymentProof, string(p.Status), toMillis(p.CreatedAt),
	)
	return err
}

func (q *queries) GetPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return scanPurchase(q.tx.QueryRowContext(ctx, "SELECT "+purchaseColumns+" FROM purchases WHERE id = ?", id))
}

func (q *queries) LockPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return q.GetPurchase(ctx, id)
}

func (q *queries) DecidePurchase(ctx context.Context, id string, to domain.PurchaseStatus, adminID string, at time.Time) error {
	n, err := q.exec(ctx, "decide purchase",
		"UPDATE purchases SET status = ?, decided_by = ?, decided_at = ? WHERE id = ? AND status = 'pending'",
		string(to), adminID, toMillis(at), id)
	if err != nil {
		return err
	}
	if n != 1 {
		return store.ErrConflict
	}
	return nil
}

func (q *queries) ListPurchasesByStatus(ctx context.Context, status domain.PurchaseStatus, limit int) ([]domain.Purchase, error) {
	rows, err := q.tx.QueryContext(ctx,
		"SELECT "+purchaseColumns+" FROM purchases WHERE status = ? ORDER BY created_at DESC, rowid DESC LIMIT ?",
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", mapError(err))
	}
	defer rows.Close()

	var out []domain.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, mapError(rows.Err())
}

func (q *queries) SumVerifiedPurchases(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := q.tx.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM purchases WHERE user_id = ? AND status = 'verified'",
		userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum purchases: %w", mapError(err))
	}
	return total, nil
}

// Commission entries

func (q *queries) InsertCommission(ctx context.Context, c *domain.CommissionEntry) (bool, error) {
	n, err := q.exec(ctx, "insert commission",
		`INSERT INTO commission_entries (id, referrer_id, purchase_id, buyer_id, amount, rate, status, created_at, approved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (referrer_id, purchase_id) DO NOTHING`,
		c.ID, c.ReferrerID, c.PurchaseID, c.BuyerID, c.Amount, c.Rate, string(c.Status),
		toMillis(c.CreatedAt), nullMillis(c.ApprovedAt),
	)
	return n == 1, err
}

func (q *queries) GetCommission(ctx context.Context, id string) (*domain.CommissionEntry, error) {
	return scanCommission(q.tx.QueryRowContext(ctx,
		"SELECT "+commissionColumns+" FROM commission_entries WHERE id = ?", id))
}

func (q *queries) GetCommissionByPurchase(ctx context.Context, referrerID, purchaseID string) (*domain.CommissionEntry, error) {
	return scanCommission(q.tx.QueryRowContext(ctx,
		"SELECT "+commissionColumns+" FROM commission_entries WHERE referrer_id = ? AND purchase_id = ?",
		referrerID, purchaseID))
}

func (q *queries) ApproveCommission(ctx context.Context, id string, at time.Time) error {
	n, err := q.exec(ctx, "approve commission",
		"UPDATE commission_entries SET status = 'approved', approved_at = ? WHERE id = ? AND status = 'pending'",
		toMillis(at), id)
	if err != nil {
		return err
	}
	if n != 1 {
		return store.ErrConflict
	}
	return nil
}

func (q *queries) listCommissions(ctx context.Context, query string, args ...any) ([]domain.CommissionEntry, error) {
	rows, err := q.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list commissions: %w", mapError(err))
	}
	defer rows.Close()

	var out []domain.CommissionEntry
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, mapError(rows.Err())
}

func (q *queries) ListCommissions(ctx context.Context, referrerID string) ([]domain.CommissionEntry, error) {
	return q.listCommissions(ctx,
		"SELECT "+commissionColumns+" FROM commission_entries WHERE referrer_id = ? ORDER BY created_at, rowid",
		referrerID)
}

func (q *queries) ListUnreservedApproved(ctx context.Context, referrerID string) ([]domain.CommissionEntry, error) {
	return q.listCommissions(ctx,
		`SELECT `+commissionColumns+` FROM commission_entries
		 WHERE referrer_id = ? AND status = 'approved' AND withdrawal_id IS NULL
		 ORDER BY created_at, rowid`, referrerID)
}

func (q *queries) ReserveCommissions(ctx context.Context, ids []string, withdrawalID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, withdrawalID)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	return q.exec(ctx, "reserve commissions",
		`UPDATE commission_entries SET withdrawal_id = ?
		 WHERE id IN (`+placeholders+`) AND status = 'approved' AND withdrawal_id IS NULL`,
		args...)
}

func (q *queries) ReleaseCommissions(ctx context.Context, withdrawalID string) (int64, error) {
	return q.exec(ctx, "release commissions",
		"UPDATE commission_entries SET withdrawal_id = NULL WHERE withdrawal_id = ? AND status = 'approved'",
		withdrawalID)
}

func (q *queries) ConsumeCommissions(ctx context.Context, withdrawalID string, at time.Time) (int64, error) {
	return q.exec(ctx, "consume commissions",
		"UPDATE commission_entries SET status = 'withdrawn', withdrawn_at = ? WHERE withdrawal_id = ? AND status = 'approved'",
		toMillis(at), withdrawalID)
}

func (q *queries) SumCommissions(ctx context.Context, referrerID string) (domain.CommissionTotals, error) {
	var t domain.CommissionTotals
	err := q.tx.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' THEN amount END), 0),
			COALESCE(SUM(CASE WHEN status = 'approved' THEN amount END), 0),
			COALESCE(SUM(CASE WHEN status = 'approved' AND withdrawal_id IS NOT NULL THEN amount END), 0),
			COALESCE(SUM(CASE WHEN status = 'withdrawn' THEN amount END), 0)
		 FROM commission_entries WHERE referrer_id = ?`,
		referrerID).Scan(&t.Pending, &t.Approved, &t.Reserved, &t.Withdrawn)
	if err != nil {
		return t, fmt.Errorf("sum commissions: %w", mapError(err))
	}
	return t, nil
}

// Withdrawals

func (q *queries) CreateWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error {
	_, err := q.exec(ctx, "insert withdrawal",
		`INSERT INTO withdrawal_requests (id, user_id, amount, bank_name, account_number, account_name,
			status, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.UserID, w.Amount, w.Bank.BankName, w.Bank.AccountNumber, w.Bank.AccountName,
		string(w.Status), nullString(w.IdempotencyKey), toMillis(w.CreatedAt),
	)
	return err
}

func (q *queries) GetWithdrawal(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	return scanWithdrawal(q.tx.QueryRowContext(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawal_requests WHERE id = ?", id))
}

func (q *queries) LockWithdrawal(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	return q.GetWithdrawal(ctx, id)
}

func (q *queries) GetWithdrawalByKey(ctx context.Context, userID, key string) (*domain.WithdrawalRequest, error) {
	return scanWithdrawal(q.tx.QueryRowContext(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawal_requests WHERE user_id = ? AND idempotency_key = ?",
		userID, key))
}

func (q *queries) DecideWithdrawal(ctx context.Context, id string, to domain.WithdrawalStatus, adminID, note string, at time.Time) error {
	n, err := q.exec(ctx, "decide withdrawal",
		`UPDATE withdrawal_requests SET status = ?, decided_by = ?, admin_note = ?, decided_at = ?
		 WHERE id = ? AND status = 'requested'`,
		string(to), nullString(adminID), note, toMillis(at), id)
	if err != nil {
		return err
	}
	if n != 1 {
		return store.ErrConflict
	}
	return nil
}

func (q *queries) listWithdrawals(ctx context.Context, query string, args ...any) ([]domain.WithdrawalRequest, error) {
	rows, err := q.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", mapError(err))
	}
	defer rows.Close()

	var out []domain.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, mapError(rows.Err())
}

func (q *queries) ListWithdrawalsByStatus(ctx context.Context, status domain.WithdrawalStatus, limit int) ([]domain.WithdrawalRequest, error) {
	return q.listWithdrawals(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawal_requests WHERE status = ? ORDER BY created_at DESC, rowid DESC LIMIT ?",
		string(status), limit)
}

func (q *queries) ListWithdrawalsByUser(ctx context.Context, userID string) ([]domain.WithdrawalRequest, error) {
	return q.listWithdrawals(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawal_requests WHERE user_id = ? ORDER BY created_at DESC, rowid DESC",
		userID)
}

func (q *queries) SumWithdrawals(ctx context.Context, userID string, status domain.WithdrawalStatus) (int64, error) {
	var total int64
	err := q.tx.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM withdrawal_requests WHERE user_id = ? AND status = ?",
		userID, string(status)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum withdrawals: %w", mapError(err))
	}
	return total, nil
}

var _ store.Queries = (*queries)(nil)
