package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
)

type queries struct {
	tx pgx.Tx
}

const userColumns = `id, name, phone_number, email, password_hash, role, referral_code,
	referred_by, attributed, is_active, created_at`

const purchaseColumns = `id, user_id, product_id, product_name, amount, payment_proof, status,
	decided_by, decided_at, created_at`

const commissionColumns = `id, referrer_id, purchase_id, buyer_id, amount, rate, status,
	withdrawal_id, created_at, approved_at, withdrawn_at`

const withdrawalColumns = `id, user_id, amount, bank_name, account_number, account_name, status,
	admin_note, decided_by, decided_at, idempotency_key, created_at`

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	var referredBy *string
	var role string
	err := row.Scan(&u.ID, &u.Name, &u.PhoneNumber, &u.Email, &u.PasswordHash, &role, &u.ReferralCode,
		&referredBy, &u.Attributed, &u.IsActive, &u.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	u.Role = domain.Role(role)
	u.ReferredBy = deref(referredBy)
	return &u, nil
}

func scanPurchase(row pgx.Row) (*domain.Purchase, error) {
	var p domain.Purchase
	var status string
	var decidedBy *string
	err := row.Scan(&p.ID, &p.UserID, &p.ProductID, &p.ProductName, &p.Amount, &p.PaymentProof, &status,
		&decidedBy, &p.DecidedAt, &p.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	p.Status = domain.PurchaseStatus(status)
	p.DecidedBy = deref(decidedBy)
	return &p, nil
}

func scanCommission(row pgx.Row) (*domain.CommissionEntry, error) {
	var c domain.CommissionEntry
	var status string
	var withdrawalID *string
	err := row.Scan(&c.ID, &c.ReferrerID, &c.PurchaseID, &c.BuyerID, &c.Amount, &c.Rate, &status,
		&withdrawalID, &c.CreatedAt, &c.ApprovedAt, &c.WithdrawnAt)
	if err != nil {
		return nil, mapError(err)
	}
	c.Status = domain.CommissionStatus(status)
	c.WithdrawalID = deref(withdrawalID)
	return &c, nil
}

func scanWithdrawal(row pgx.Row) (*domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	var status string
	var decidedBy, key *string
	err := row.Scan(&w.ID, &w.UserID, &w.Amount, &w.Bank.BankName, &w.Bank.AccountNumber, &w.Bank.AccountName,
		&status, &w.AdminNote, &decidedBy, &w.DecidedAt, &key, &w.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	w.Status = domain.WithdrawalStatus(status)
	w.DecidedBy = deref(decidedBy)
	w.IdempotencyKey = deref(key)
	return &w, nil
}

// Users

func (q *queries) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := q.tx.Exec(ctx,
		`INSERT INTO users (id, name, phone_number, email, password_hash, role, referral_code,
			referred_by, attributed, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Name, u.PhoneNumber, u.Email, u.PasswordHash, string(u.Role), u.ReferralCode,
		nullable(u.ReferredBy), u.Attributed, u.IsActive, u.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "users_phone_number_key" {
		return store.ErrDuplicatePhone
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", mapError(err))
	}
	return nil
}

func (q *queries) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(q.tx.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

func (q *queries) LockUser(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(q.tx.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1 FOR UPDATE", id))
}

func (q *queries) GetUserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return scanUser(q.tx.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE phone_number = $1", phone))
}

func (q *queries) GetUserByReferralCode(ctx context.Context, code string) (*domain.User, error) {
	return scanUser(q.tx.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE referral_code = $1", code))
}

func (q *queries) SetReferrer(ctx context.Context, userID, referrerID string) (bool, error) {
	tag, err := q.tx.Exec(ctx,
		"UPDATE users SET referred_by = $2, attributed = TRUE WHERE id = $1 AND attributed = FALSE",
		userID, nullable(referrerID),
	)
	if err != nil {
		return false, fmt.Errorf("set referrer: %w", mapError(err))
	}
	return tag.RowsAffected() == 1, nil
}

func (q *queries) SetUserActive(ctx context.Context, id string, active bool) error {
	tag, err := q.tx.Exec(ctx, "UPDATE users SET is_active = $2 WHERE id = $1", id, active)
	if err != nil {
		return fmt.Errorf("set user active: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q *queries) ListUsers(ctx context.Context, offset, limit int) ([]domain.User, int64, error) {
	var total int64
	if err := q.tx.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", mapError(err))
	}

	rows, err := q.tx.Query(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at DESC, id OFFSET $1 LIMIT $2", offset, limit)
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
	err := q.tx.QueryRow(ctx, "SELECT COUNT(*) FROM users WHERE referred_by = $1", referrerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count referrals: %w", mapError(err))
	}
	return n, nil
}

// Purchases

func (q *queries) CreatePurchase(ctx context.Context, p *domain.Purchase) error {
	_, err := q.tx.Exec(ctx,
		`INSERT INTO purchases (id, user_id, product_id, product_name, amount, payment_proof, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.UserID, p.ProductID, p.ProductName, p.Amount, p.PaymentProof, string(p.Status), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert purchase: %w", mapError(err))
	}
	return nil
}

func (q *queries) GetPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return scanPurchase(q.tx.QueryRow(ctx, "SELECT "+purchaseColumns+" FROM purchases WHERE id = $1", id))
}

func (q *queries) LockPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return scanPurchase(q.tx.QueryRow(ctx, "SELECT "+purchaseColumns+" FROM purchases WHERE id = $1 FOR UPDATE", id))
}

func (q *queries) DecidePurchase(ctx context.Context, id string, to domain.PurchaseStatus, adminID string, at time.Time) error {
	tag, err := q.tx.Exec(ctx,
		`UPDATE purchases SET status = $2, decided_by = $3, decided_at = $4
		 WHERE id = $1 AND status = 'pending'`,
		id, string(to), adminID, at,
	)
	if err != nil {
		return fmt.Errorf("decide purchase: %w", mapError(err))
	}
	if tag.RowsAffected() != 1 {
		return store.ErrConflict
	}
	return nil
}

func (q *queries) ListPurchasesByStatus(ctx context.Context, status domain.PurchaseStatus, limit int) ([]domain.Purchase, error) {
	rows, err := q.tx.Query(ctx,
		"SELECT "+purchaseColumns+" FROM purchases WHERE status = $1 ORDER BY created_at DESC LIMIT $2",
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
	err := q.tx.QueryRow(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM purchases WHERE user_id = $1 AND status = 'verified'",
		userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum purchases: %w", mapError(err))
	}
	return total, nil
}

// Commission entries

func (q *queries) InsertCommission(ctx context.Context, c *domain.CommissionEntry) (bool, error) {
	tag, err := q.tx.Exec(ctx,
		`INSERT INTO commission_entries (id, referrer_id, purchase_id, buyer_id, amount, rate, status, created_at, approved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (referrer_id, purchase_id) DO NOTHING`,
		c.ID, c.ReferrerID, c.PurchaseID, c.BuyerID, c.Amount, c.Rate, string(c.Status), c.CreatedAt, c.ApprovedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert commission: %w", mapError(err))
	}
	return tag.RowsAffected() == 1, nil
}

func (q *queries) GetCommission(ctx context.Context, id string) (*domain.CommissionEntry, error) {
	return scanCommission(q.tx.QueryRow(ctx, "SELECT "+commissionColumns+" FROM commission_entries WHERE id = $1", id))
}

func (q *queries) GetCommissionByPurchase(ctx context.Context, referrerID, purchaseID string) (*domain.CommissionEntry, error) {
	return scanCommission(q.tx.QueryRow(ctx,
		"SELECT "+commissionColumns+" FROM commission_entries WHERE referrer_id = $1 AND purchase_id = $2",
		referrerID, purchaseID))
}

func (q *queries) ApproveCommission(ctx context.Context, id string, at time.Time) error {
	tag, err := q.tx.Exec(ctx,
		"UPDATE commission_entries SET status = 'approved', approved_at = $2 WHERE id = $1 AND status = 'pending'",
		id, at)
	if err != nil {
		return fmt.Errorf("approve commission: %w", mapError(err))
	}
	if tag.RowsAffected() != 1 {
		return store.ErrConflict
	}
	return nil
}

func (q *queries) listCommissions(ctx context.Context, sql string, args ...any) ([]domain.CommissionEntry, error) {
	rows, err := q.tx.Query(ctx, sql, args...)
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
		"SELECT "+commissionColumns+" FROM commission_entries WHERE referrer_id = $1 ORDER BY seq", referrerID)
}

func (q *queries) ListUnreservedApproved(ctx context.Context, referrerID string) ([]domain.CommissionEntry, error) {
	return q.listCommissions(ctx,
		`SELECT `+commissionColumns+` FROM commission_entries
		 WHERE referrer_id = $1 AND status = 'approved' AND withdrawal_id IS NULL
		 ORDER BY seq FOR UPDATE`, referrerID)
}

func (q *queries) ReserveCommissions(ctx context.Context, ids []string, withdrawalID string) (int64, error) {
	tag, err := q.tx.Exec(ctx,
		`UPDATE commission_entries SET withdrawal_id = $2
		 WHERE id = ANY($1) AND status = 'approved' AND withdrawal_id IS NULL`,
		ids, withdrawalID)
	if err != nil {
		return 0, fmt.Errorf("reserve commissions: %w", mapError(err))
	}
	return tag.RowsAffected(), nil
}

func (q *queries) ReleaseCommissions(ctx context.Context, withdrawalID string) (int64, error) {
	tag, err := q.tx.Exec(ctx,
		"UPDATE commission_entries SET withdrawal_id = NULL WHERE withdrawal_id = $1 AND status = 'approved'",
		withdrawalID)
	if err != nil {
		return 0, fmt.Errorf("release commissions: %w", mapError(err))
	}
	return tag.RowsAffected(), nil
}

func (q *queries) ConsumeCommissions(ctx context.Context, withdrawalID string, at time.Time) (int64, error) {
	tag, err := q.tx.Exec(ctx,
		`UPDATE commission_entries SET status = 'withdrawn', withdrawn_at = $2
		 WHERE withdrawal_id = $1 AND status = 'approved'`,
		withdrawalID, at)
	if err != nil {
		return 0, fmt.Errorf("consume commissions: %w", mapError(err))
	}
	return tag.RowsAffected(), nil
}

func (q *queries) SumCommissions(ctx context.Context, referrerID string) (domain.CommissionTotals, error) {
	var t domain.CommissionTotals
	err := q.tx.QueryRow(ctx,
		`SELECT
			COALESCE(SUM(amount) FILTER (WHERE status = 'pending'), 0),
			COALESCE(SUM(amount) FILTER (WHERE status = 'approved'), 0),
			COALESCE(SUM(amount) FILTER (WHERE status = 'approved' AND withdrawal_id IS NOT NULL), 0),
			COALESCE(SUM(amount) FILTER (WHERE status = 'withdrawn'), 0)
		 FROM commission_entries WHERE referrer_id = $1`,
		referrerID).Scan(&t.Pending, &t.Approved, &t.Reserved, &t.Withdrawn)
	if err != nil {
		return t, fmt.Errorf("sum commissions: %w", mapError(err))
	}
	return t, nil
}

// Withdrawals

func (q *queries) CreateWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error {
	_, err := q.tx.Exec(ctx,
		`INSERT INTO withdrawal_requests (id, user_id, amount, bank_name, account_number, account_name,
			status, idempotency_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.ID, w.UserID, w.Amount, w.Bank.BankName, w.Bank.AccountNumber, w.Bank.AccountName,
		string(w.Status), nullable(w.IdempotencyKey), w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert withdrawal: %w", mapError(err))
	}
	return nil
}

func (q *queries) GetWithdrawal(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	return scanWithdrawal(q.tx.QueryRow(ctx, "SELECT "+withdrawalColumns+" FROM withdrawal_requests WHERE id = $1", id))
}

func (q *queries) LockWithdrawal(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	return scanWithdrawal(q.tx.QueryRow(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawal_requests WHERE id = $1 FOR UPDATE", id))
}

func (q *queries) GetWithdrawalByKey(ctx context.Context, userID, key string) (*domain.WithdrawalRequest, error) {
	return scanWithdrawal(q.tx.QueryRow(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawal_requests WHERE user_id = $1 AND idempotency_key = $2",
		userID, key))
}

func (q *queries) DecideWithdrawal(ctx context.Context, id string, to domain.WithdrawalStatus, adminID, note string, at time.Time) error {
	tag, err := q.tx.Exec(ctx,
		`UPDATE withdrawal_requests SET status = $2, decided_by = $3, admin_note = $4, decided_at = $5
		 WHERE id = $1 AND status = 'requested'`,
		id, string(to), nullable(adminID), note, at)
	if err != nil {
		return fmt.Errorf("decide withdrawal: %w", mapError(err))
	}
	if tag.RowsAffected() != 1 {
		return store.ErrConflict
	}
	return nil
}

func (q *queries) listWithdrawals(ctx context.Context, sql string, args ...any) ([]domain.WithdrawalRequest, error) {
	rows, err := q.tx.Query(ctx, sql, args...)
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
		"SELECT "+withdrawalColumns+" FROM withdrawal_requests WHERE status = $1 ORDER BY created_at DESC LIMIT $2",
		string(status), limit)
}

func (q *queries) ListWithdrawalsByUser(ctx context.Context, userID string) ([]domain.WithdrawalRequest, error) {
	return q.listWithdrawals(ctx,
		"SELECT "+withdrawalColumns+" FROM withdrawal_requests WHERE user_id = $1 ORDER BY created_at DESC",
		userID)
}

func (q *queries) SumWithdrawals(ctx context.Context, userID string, status domain.WithdrawalStatus) (int64, error) {
	var total int64
	err := q.tx.QueryRow(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM withdrawal_requests WHERE user_id = $1 AND status = $2",
		userID, string(status)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum withdrawals: %w", mapError(err))
	}
	return total, nil
}

var _ store.Queries = (*queries)(nil)
