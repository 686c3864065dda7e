package service

import (
	"context"
	"testing"

	"seatswap-backend/internal/apperr"
	"seatswap-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserFixture(t *testing.T) (*dealFixture, *UserService) {
	t.Helper()
	f := newDealFixture(t)
	return f, NewUserService(f.store, nil)
}

func TestAddEmail(t *testing.T) {
	f, svc := newUserFixture(t)

	err := svc.AddEmail(context.Background(), ident(sellerAddr), "seller@example.com")
	require.NoError(t, err)

	user, err := f.store.GetUserByAddress(context.Background(), sellerAddr)
	require.NoError(t, err)
	assert.Equal(t, "seller@example.com", user.Email)
}

func TestAddEmailValidation(t *testing.T) {
	_, svc := newUserFixture(t)

	err := svc.AddEmail(context.Background(), ident(sellerAddr), "")
	assert.Equal(t, "Email is required", apperr.MessageOf(err))

	err = svc.AddEmail(context.Background(), ident(sellerAddr), "not-an-email")
	assert.Equal(t, "Invalid email format", apperr.MessageOf(err))

	err = svc.AddEmail(context.Background(), nil, "seller@example.com")
	assert.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))
}

func TestAddEmailConflict(t *testing.T) {
	_, svc := newUserFixture(t)

	require.NoError(t, svc.AddEmail(context.Background(), ident(sellerAddr), "taken@example.com"))
	err := svc.AddEmail(context.Background(), ident(buyerAddr), "taken@example.com")
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
	assert.Equal(t, "Email is already in use", apperr.MessageOf(err))
}

func TestUserInfo(t *testing.T) {
	_, svc := newUserFixture(t)

	user, err := svc.UserInfo(context.Background(), sellerAddr)
	require.NoError(t, err)
	assert.Equal(t, sellerAddr, user.Address)

	_, err = svc.UserInfo(context.Background(), "")
	assert.Equal(t, "Address is required", apperr.MessageOf(err))

	_, err = svc.UserInfo(context.Background(), "0x9999999999999999999999999999999999999999")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestGiveRating(t *testing.T) {
	f, svc := newUserFixture(t)
	deal := f.createDeal(t)
	f.claimDeal(t, deal.ID.String())

	// Two buyer ratings for the seller: geometric mean of 9 and 16 is 12.
	rating, err := svc.GiveRating(context.Background(), ident(buyerAddr), GiveRatingRequest{
		DealID: deal.ID.String(),
		Rating: 9,
		User:   "seller",
	})
	require.NoError(t, err)
	assert.InDelta(t, 9, rating.Score, 1e-9)

	rating, err = svc.GiveRating(context.Background(), ident(buyerAddr), GiveRatingRequest{
		DealID: deal.ID.String(),
		Rating: 16,
		User:   "seller",
	})
	require.NoError(t, err)
	assert.InDelta(t, 12, rating.Score, 1e-9)

	seller, err := f.store.GetUserByID(context.Background(), f.seller.ID)
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 16}, seller.Rating.Values)
	assert.InDelta(t, 12, seller.Rating.Score, 1e-9)
}

func TestGiveRatingAlwaysAggregatesSeller(t *testing.T) {
	f, svc := newUserFixture(t)
	deal := f.createDeal(t)
	f.claimDeal(t, deal.ID.String())

	// The user field names the caller's side; the aggregate lives on the
	// seller regardless.
	_, err := svc.GiveRating(context.Background(), ident(sellerAddr), GiveRatingRequest{
		DealID: deal.ID.String(),
		Rating: 8,
		User:   "buyer",
	})
	require.NoError(t, err)

	buyer, err := f.store.GetUserByID(context.Background(), f.buyer.ID)
	require.NoError(t, err)
	assert.Empty(t, buyer.Rating.Values)

	seller, err := f.store.GetUserByID(context.Background(), f.seller.ID)
	require.NoError(t, err)
	assert.Equal(t, []float64{8}, seller.Rating.Values)
}

func TestGiveRatingValidation(t *testing.T) {
	f, svc := newUserFixture(t)
	deal := f.createDeal(t)

	_, err := svc.GiveRating(context.Background(), ident(buyerAddr), GiveRatingRequest{
		DealID: deal.ID.String(),
		Rating: 11,
		User:   "seller",
	})
	assert.Equal(t, "Rating must be between 0 and 10", apperr.MessageOf(err))

	_, err = svc.GiveRating(context.Background(), ident(buyerAddr), GiveRatingRequest{
		DealID: deal.ID.String(),
		Rating: 5,
		User:   "arbiter",
	})
	assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
	assert.Equal(t, "Missing required fields", apperr.MessageOf(err))

	_, err = svc.GiveRating(context.Background(), ident(buyerAddr), GiveRatingRequest{
		Rating: 5,
		User:   "seller",
	})
	assert.Equal(t, "Missing required fields", apperr.MessageOf(err))

	// A zero rating is a valid submission, not a missing field.
	rating, err := svc.GiveRating(context.Background(), ident(buyerAddr), GiveRatingRequest{
		DealID: deal.ID.String(),
		Rating: 0,
		User:   "seller",
	})
	require.NoError(t, err)
	assert.Zero(t, rating.Score)
}

func TestMyDeals(t *testing.T) {
	f, svc := newUserFixture(t)
	deal := f.createDeal(t)
	f.claimDeal(t, deal.ID.String())

	asSeller, err := svc.MyDeals(context.Background(), ident(sellerAddr))
	require.NoError(t, err)
	require.Len(t, asSeller.SellerDeals, 1)
	assert.Empty(t, asSeller.BuyerDeals)
	assert.Equal(t, deal.ID, asSeller.SellerDeals[0].ID)

	asBuyer, err := svc.MyDeals(context.Background(), ident(buyerAddr))
	require.NoError(t, err)
	require.Len(t, asBuyer.BuyerDeals, 1)
	assert.Empty(t, asBuyer.SellerDeals)
}

func TestMyDealsUnknownUser(t *testing.T) {
	svc := NewUserService(repository.NewInMemoryStore(), nil)
	_, err := svc.MyDeals(context.Background(), ident(otherAddr))
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}
