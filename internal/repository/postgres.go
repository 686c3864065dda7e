package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"seatswap-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a pgx connection pool. Conditional
// transitions are single UPDATE statements guarded by the current status, so
// the precondition check and the mutation are one atomic operation.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore connects a pool and verifies the connection.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{db: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.db.Close()
}

// RunMigrations executes a migration script.
func (s *PostgresStore) RunMigrations(ctx context.Context, migrationSQL string) error {
	if _, err := s.db.Exec(ctx, migrationSQL); err != nil {
		return fmt.Errorf("run migration: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const userColumns = `id, address, email, ens_name, is_admin, blacklisted,
	rating, rating_values, seller_deals, buyer_deals, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Address,
		&user.Email,
		&user.EnsName,
		&user.IsAdmin,
		&user.Blacklisted,
		&user.Rating.Score,
		&user.Rating.Values,
		&user.SellerDeals,
		&user.BuyerDeals,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return user, nil
}

// --- UserStore ---

func (s *PostgresStore) GetOrCreateUserByAddress(ctx context.Context, address string) (*models.User, error) {
	addr := models.NormalizeAddress(address)

	// ON CONFLICT DO NOTHING makes concurrent first-login races converge on a
	// single row; the follow-up read returns whichever insert won.
	sql := `
        INSERT INTO users (id, address, created_at, updated_at)
        VALUES ($1, $2, now(), now())
        ON CONFLICT (address) DO NOTHING`

	if _, err := s.db.Exec(ctx, sql, uuid.New(), addr); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.GetUserByAddress(ctx, addr)
}

func (s *PostgresStore) GetUserByAddress(ctx context.Context, address string) (*models.User, error) {
	sql := `SELECT ` + userColumns + ` FROM users WHERE address = $1`
	return scanUser(s.db.QueryRow(ctx, sql, models.NormalizeAddress(address)))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	sql := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(s.db.QueryRow(ctx, sql, id))
}

func (s *PostgresStore) UpdateUserEmail(ctx context.Context, id uuid.UUID, email string) error {
	sql := `UPDATE users SET email = $1, updated_at = now() WHERE id = $2`

	tag, err := s.db.Exec(ctx, sql, email, id)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("update email: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendSellerDeal(ctx context.Context, userID, dealID uuid.UUID) error {
	sql := `
        UPDATE users
        SET seller_deals = array_append(seller_deals, $1), updated_at = now()
        WHERE id = $2`
	return s.appendToUser(ctx, sql, dealID, userID)
}

func (s *PostgresStore) AppendBuyerDeal(ctx context.Context, userID, dealID uuid.UUID) error {
	sql := `
        UPDATE users
        SET buyer_deals = array_append(buyer_deals, $1), updated_at = now()
        WHERE id = $2`
	return s.appendToUser(ctx, sql, dealID, userID)
}

func (s *PostgresStore) appendToUser(ctx context.Context, sql string, dealID, userID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, sql, dealID, userID)
	if err != nil {
		return fmt.Errorf("append deal to user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendRating(ctx context.Context, userID uuid.UUID, value, aggregate float64) error {
	sql := `
        UPDATE users
        SET rating_values = array_append(rating_values, $1), rating = $2, updated_at = now()
        WHERE id = $3`

	tag, err := s.db.Exec(ctx, sql, value, aggregate, userID)
	if err != nil {
		return fmt.Errorf("append rating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- DealStore ---

const dealColumns = `id, title, contract_id, quantity, price, seller_id, buyer_id,
	escrow_address, status, proof_url, proof_confirmation_tx_hash, proof_updated_at,
	buyer_transaction, completed_tx_hash, dispute_initiator_id, dispute_reason,
	dispute_winner, created_at, updated_at`

func scanDeal(row pgx.Row) (*models.Deal, error) {
	deal := &models.Deal{}
	var (
		status         string
		proofURL       string
		proofTxHash    string
		proofUpdatedAt *time.Time
	)
	err := row.Scan(
		&deal.ID,
		&deal.Title,
		&deal.ContractID,
		&deal.Quantity,
		&deal.Price,
		&deal.SellerID,
		&deal.BuyerID,
		&deal.EscrowAddress,
		&status,
		&proofURL,
		&proofTxHash,
		&proofUpdatedAt,
		&deal.BuyerTransaction,
		&deal.CompletedTxHash,
		&deal.DisputeInitiatorID,
		&deal.DisputeReason,
		&deal.DisputeWinner,
		&deal.CreatedAt,
		&deal.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan deal: %w", err)
	}
	deal.Status = models.DealStatus(status)
	if proofURL != "" {
		deal.SellerProof = &models.SellerProof{
			URL:                proofURL,
			ConfirmationTxHash: proofTxHash,
		}
		if proofUpdatedAt != nil {
			deal.SellerProof.UpdatedAt = *proofUpdatedAt
		}
	}
	return deal, nil
}

func (s *PostgresStore) CreateDeal(ctx context.Context, deal *models.Deal) error {
	sql := `
        INSERT INTO deals (id, title, contract_id, quantity, price, seller_id,
            escrow_address, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.Exec(ctx, sql,
		deal.ID,
		deal.Title,
		deal.ContractID,
		deal.Quantity,
		deal.Price,
		deal.SellerID,
		deal.EscrowAddress,
		string(deal.Status),
		deal.CreatedAt,
		deal.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("create deal: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDealByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	sql := `SELECT ` + dealColumns + ` FROM deals WHERE id = $1`
	return scanDeal(s.db.QueryRow(ctx, sql, id))
}

func (s *PostgresStore) ListDealsByStatus(ctx context.Context, status models.DealStatus) ([]*models.Deal, error) {
	sql := `SELECT ` + dealColumns + ` FROM deals WHERE status = $1 ORDER BY created_at`
	return s.queryDeals(ctx, sql, string(status))
}

func (s *PostgresStore) ListDealsByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Deal, error) {
	if len(ids) == 0 {
		return []*models.Deal{}, nil
	}
	sql := `SELECT ` + dealColumns + ` FROM deals WHERE id = ANY($1) ORDER BY created_at`
	return s.queryDeals(ctx, sql, ids)
}

func (s *PostgresStore) queryDeals(ctx context.Context, sql string, args ...any) ([]*models.Deal, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query deals: %w", err)
	}
	defer rows.Close()

	deals := []*models.Deal{}
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, deal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deals: %w", err)
	}
	return deals, nil
}

func (s *PostgresStore) TransitionDeal(ctx context.Context, id uuid.UUID, from []models.DealStatus, to models.DealStatus, patch DealPatch) (*models.Deal, error) {
	set := []string{"status = $1", "updated_at = now()"}
	args := []any{string(to)}

	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.BuyerID != nil {
		add("buyer_id", *patch.BuyerID)
	}
	if patch.EscrowAddress != nil {
		add("escrow_address", *patch.EscrowAddress)
	}
	if patch.SellerProof != nil {
		add("proof_url", patch.SellerProof.URL)
		add("proof_confirmation_tx_hash", patch.SellerProof.ConfirmationTxHash)
		add("proof_updated_at", patch.SellerProof.UpdatedAt)
	}
	if patch.BuyerTransaction != nil {
		add("buyer_transaction", *patch.BuyerTransaction)
	}
	if patch.CompletedTxHash != nil {
		add("completed_tx_hash", *patch.CompletedTxHash)
	}
	if patch.DisputeInitiatorID != nil {
		add("dispute_initiator_id", *patch.DisputeInitiatorID)
	}
	if patch.DisputeReason != nil {
		add("dispute_reason", *patch.DisputeReason)
	}
	if patch.DisputeWinner != nil {
		add("dispute_winner", *patch.DisputeWinner)
	}

	fromStatuses := make([]string, len(from))
	for i, st := range from {
		fromStatuses[i] = string(st)
	}
	args = append(args, id)
	idArg := len(args)
	args = append(args, fromStatuses)

	sql := fmt.Sprintf(`
        UPDATE deals SET %s
        WHERE id = $%d AND status = ANY($%d)
        RETURNING `+dealColumns,
		strings.Join(set, ", "), idArg, idArg+1)

	deal, err := scanDeal(s.db.QueryRow(ctx, sql, args...))
	if err == nil {
		return deal, nil
	}
	if isUniqueViolation(err) {
		return nil, ErrConflict
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// No row matched: distinguish a missing deal from a status conflict.
	var current string
	lookupErr := s.db.QueryRow(ctx, `SELECT status FROM deals WHERE id = $1`, id).Scan(&current)
	if lookupErr != nil {
		if errors.Is(lookupErr, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("look up deal status: %w", lookupErr)
	}
	return nil, ErrStatusMismatch
}
