package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"seatswap-backend/internal/apperr"
	"seatswap-backend/internal/auth"
	"seatswap-backend/internal/models"
	"seatswap-backend/internal/repository"

	"github.com/go-playground/validator/v10"
)

// UserService handles profile updates, ratings, and per-user deal listings.
type UserService struct {
	store    repository.Store
	validate *validator.Validate
	logger   *slog.Logger
}

func NewUserService(store repository.Store, logger *slog.Logger) *UserService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{
		store:    store,
		validate: validator.New(),
		logger:   logger,
	}
}

// AddEmail attaches a contact email to the authenticated user's profile.
func (s *UserService) AddEmail(ctx context.Context, ident *auth.Identity, email string) error {
	if ident == nil {
		return apperr.E(apperr.Unauthenticated, "User not authenticated")
	}
	if email == "" {
		return apperr.E(apperr.InvalidInput, "Email is required")
	}
	if err := s.validate.Var(email, "required,email"); err != nil {
		return apperr.E(apperr.InvalidInput, "Invalid email format")
	}

	user, err := s.store.GetUserByAddress(ctx, ident.Address)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.E(apperr.NotFound, "User not found")
		}
		return apperr.Wrap(apperr.Upstream, "Failed to update email", err)
	}
	if err := s.store.UpdateUserEmail(ctx, user.ID, email); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return apperr.E(apperr.Conflict, "Email is already in use")
		case errors.Is(err, repository.ErrNotFound):
			return apperr.E(apperr.NotFound, "User not found")
		default:
			return apperr.Wrap(apperr.Upstream, "Failed to update email", err)
		}
	}
	return nil
}

// UserInfo returns the public profile for a wallet address.
func (s *UserService) UserInfo(ctx context.Context, address string) (*models.User, error) {
	if address == "" {
		return nil, apperr.E(apperr.InvalidInput, "Address is required")
	}
	user, err := s.store.GetUserByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.E(apperr.NotFound, "User not found")
		}
		return nil, apperr.Wrap(apperr.Upstream, "Failed to fetch user", err)
	}
	return user, nil
}

// GiveRatingRequest scores a deal. The user field names the caller's side
// and must be present, but only the seller carries a reputation aggregate.
type GiveRatingRequest struct {
	DealID string  `json:"dealId" validate:"required"`
	Rating float64 `json:"rating" validate:"gte=0,lte=10"`
	User   string  `json:"user" validate:"required,oneof=seller buyer"`
}

// GiveRating appends a rating value to the deal's seller and recomputes the
// seller's aggregate score as the geometric mean of all received ratings.
func (s *UserService) GiveRating(ctx context.Context, ident *auth.Identity, req GiveRatingRequest) (*models.Rating, error) {
	if ident == nil {
		return nil, apperr.E(apperr.Unauthenticated, "User not authenticated")
	}
	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				if fe.Field() == "Rating" {
					return nil, apperr.E(apperr.InvalidInput, "Rating must be between 0 and 10")
				}
			}
		}
		return nil, apperr.E(apperr.InvalidInput, "Missing required fields")
	}
	dealID, err := parseDealID(req.DealID)
	if err != nil {
		return nil, err
	}

	deal, err := s.store.GetDealByID(ctx, dealID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.E(apperr.NotFound, "Deal not found")
		}
		return nil, apperr.Wrap(apperr.Upstream, "Failed to give rating", err)
	}

	rated, err := s.store.GetUserByID(ctx, deal.SellerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.E(apperr.NotFound, "Seller not found")
		}
		return nil, apperr.Wrap(apperr.Upstream, "Failed to give rating", err)
	}

	values := append(slices.Clone(rated.Rating.Values), req.Rating)
	score, err := GeometricMean(values)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to give rating", err)
	}
	if err := s.store.AppendRating(ctx, rated.ID, req.Rating, score); err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "Failed to give rating", err)
	}
	return &models.Rating{Score: score, Values: values}, nil
}

// MyDealsResponse splits the caller's deals by role.
type MyDealsResponse struct {
	SellerDeals []*models.Deal `json:"sellerDeals"`
	BuyerDeals  []*models.Deal `json:"buyerDeals"`
}

// MyDeals returns every deal the authenticated user is a party to.
func (s *UserService) MyDeals(ctx context.Context, ident *auth.Identity) (*MyDealsResponse, error) {
	if ident == nil {
		return nil, apperr.E(apperr.Unauthenticated, "User not authenticated")
	}
	user, err := s.store.GetUserByAddress(ctx, ident.Address)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.E(apperr.NotFound, "User not found")
		}
		return nil, apperr.Wrap(apperr.Upstream, "Failed to fetch deals", err)
	}

	sellerDeals, err := s.store.ListDealsByIDs(ctx, user.SellerDeals)
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "Failed to fetch deals", err)
	}
	buyerDeals, err := s.store.ListDealsByIDs(ctx, user.BuyerDeals)
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "Failed to fetch deals", err)
	}
	return &MyDealsResponse{SellerDeals: sellerDeals, BuyerDeals: buyerDeals}, nil
}
