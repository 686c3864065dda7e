package repository

import (
	"context"
	"testing"
	"time"

	"seatswap-backend/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDeal(sellerID uuid.UUID, status models.DealStatus) *models.Deal {
	now := time.Now().UTC()
	return &models.Deal{
		ID:            uuid.New(),
		Title:         "2x Finals",
		ContractID:    1,
		Quantity:      2,
		Price:         100,
		SellerID:      sellerID,
		EscrowAddress: "0x1111111111111111111111111111111111111111",
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestGetOrCreateUserIdempotent(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	first, err := s.GetOrCreateUserByAddress(ctx, "0xAAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaa")
	require.NoError(t, err)
	assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", first.Address)

	second, err := s.GetOrCreateUserByAddress(ctx, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestUpdateUserEmailConflict(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	a, err := s.GetOrCreateUserByAddress(ctx, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.NoError(t, err)
	b, err := s.GetOrCreateUserByAddress(ctx, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	require.NoError(t, err)

	require.NoError(t, s.UpdateUserEmail(ctx, a.ID, "one@example.com"))
	assert.ErrorIs(t, s.UpdateUserEmail(ctx, b.ID, "one@example.com"), ErrConflict)
	assert.ErrorIs(t, s.UpdateUserEmail(ctx, uuid.New(), "two@example.com"), ErrNotFound)
}

func TestTransitionDealAppliesPatch(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	seller, err := s.GetOrCreateUserByAddress(ctx, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.NoError(t, err)
	buyer, err := s.GetOrCreateUserByAddress(ctx, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	require.NoError(t, err)

	deal := newDeal(seller.ID, models.DealOpen)
	require.NoError(t, s.CreateDeal(ctx, deal))

	updated, err := s.TransitionDeal(ctx, deal.ID,
		[]models.DealStatus{models.DealOpen}, models.DealClaimed,
		DealPatch{BuyerID: &buyer.ID})
	require.NoError(t, err)
	assert.Equal(t, models.DealClaimed, updated.Status)
	require.NotNil(t, updated.BuyerID)
	assert.Equal(t, buyer.ID, *updated.BuyerID)
}

func TestTransitionDealStatusMismatch(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	deal := newDeal(uuid.New(), models.DealCompleted)
	require.NoError(t, s.CreateDeal(ctx, deal))

	_, err := s.TransitionDeal(ctx, deal.ID,
		[]models.DealStatus{models.DealOpen}, models.DealClaimed, DealPatch{})
	assert.ErrorIs(t, err, ErrStatusMismatch)

	_, err = s.TransitionDeal(ctx, uuid.New(),
		[]models.DealStatus{models.DealOpen}, models.DealClaimed, DealPatch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionDealConfirmationHashUnique(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	first := newDeal(uuid.New(), models.DealClaimed)
	second := newDeal(uuid.New(), models.DealClaimed)
	require.NoError(t, s.CreateDeal(ctx, first))
	require.NoError(t, s.CreateDeal(ctx, second))

	proof := &models.SellerProof{URL: "https://x/1", ConfirmationTxHash: "0xsame"}
	_, err := s.TransitionDeal(ctx, first.ID,
		[]models.DealStatus{models.DealClaimed}, models.DealProofUploaded,
		DealPatch{SellerProof: proof})
	require.NoError(t, err)

	_, err = s.TransitionDeal(ctx, second.ID,
		[]models.DealStatus{models.DealClaimed}, models.DealProofUploaded,
		DealPatch{SellerProof: &models.SellerProof{URL: "https://x/2", ConfirmationTxHash: "0xsame"}})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestListDealsByStatusSorted(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	older := newDeal(uuid.New(), models.DealOpen)
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := newDeal(uuid.New(), models.DealOpen)
	claimed := newDeal(uuid.New(), models.DealClaimed)
	for _, d := range []*models.Deal{newer, older, claimed} {
		require.NoError(t, s.CreateDeal(ctx, d))
	}

	open, err := s.ListDealsByStatus(ctx, models.DealOpen)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, older.ID, open[0].ID)
	assert.Equal(t, newer.ID, open[1].ID)
}

func TestListDealsByIDsSkipsMissing(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	deal := newDeal(uuid.New(), models.DealOpen)
	require.NoError(t, s.CreateDeal(ctx, deal))

	deals, err := s.ListDealsByIDs(ctx, []uuid.UUID{deal.ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, deals, 1)
	assert.Equal(t, deal.ID, deals[0].ID)
}

func TestStoreReturnsCopies(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	deal := newDeal(uuid.New(), models.DealOpen)
	require.NoError(t, s.CreateDeal(ctx, deal))

	got, err := s.GetDealByID(ctx, deal.ID)
	require.NoError(t, err)
	got.Status = models.DealCancelled

	again, err := s.GetDealByID(ctx, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DealOpen, again.Status)
}
