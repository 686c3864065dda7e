package repository

import (
	"context"
	"errors"

	"seatswap-backend/internal/models"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when the referenced record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned on a uniqueness violation (address, email,
	// confirmation tx hash).
	ErrConflict = errors.New("record already exists")
	// ErrStatusMismatch is returned by TransitionDeal when the deal exists but
	// its current status is not one of the expected pre-states.
	ErrStatusMismatch = errors.New("deal status mismatch")
)

// DealPatch is the set of optional field mutations applied together with a
// status transition. Nil fields are left untouched.
type DealPatch struct {
	BuyerID            *uuid.UUID
	EscrowAddress      *string
	SellerProof        *models.SellerProof
	BuyerTransaction   *string
	CompletedTxHash    *string
	DisputeInitiatorID *uuid.UUID
	DisputeReason      *string
	DisputeWinner      *string
}

// UserStore defines user persistence. Addresses are stored lowercased and the
// address column is unique, which is what makes lazy user creation idempotent.
type UserStore interface {
	GetOrCreateUserByAddress(ctx context.Context, address string) (*models.User, error)
	GetUserByAddress(ctx context.Context, address string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// UpdateUserEmail sets the email, failing with ErrConflict when another
	// user already holds it.
	UpdateUserEmail(ctx context.Context, id uuid.UUID, email string) error
	// AppendSellerDeal / AppendBuyerDeal maintain the per-user deal indexes.
	// They are convenience caches, not the source of truth.
	AppendSellerDeal(ctx context.Context, userID, dealID uuid.UUID) error
	AppendBuyerDeal(ctx context.Context, userID, dealID uuid.UUID) error
	// AppendRating records one raw rating value and the recomputed aggregate
	// in a single write.
	AppendRating(ctx context.Context, userID uuid.UUID, value, aggregate float64) error
}

// DealStore defines deal persistence. TransitionDeal is the only mutation
// path after creation: it atomically verifies that the current status is one
// of `from` and applies `to` plus the patch in a single store operation, so a
// precondition check can never race with the write.
type DealStore interface {
	CreateDeal(ctx context.Context, deal *models.Deal) error
	GetDealByID(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	ListDealsByStatus(ctx context.Context, status models.DealStatus) ([]*models.Deal, error)
	ListDealsByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Deal, error)
	TransitionDeal(ctx context.Context, id uuid.UUID, from []models.DealStatus, to models.DealStatus, patch DealPatch) (*models.Deal, error)
}

// Store aggregates the per-entity interfaces for dependency injection.
type Store interface {
	UserStore
	DealStore
}
