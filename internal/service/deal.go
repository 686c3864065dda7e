package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"seatswap-backend/internal/apperr"
	"seatswap-backend/internal/auth"
	"seatswap-backend/internal/escrow"
	"seatswap-backend/internal/models"
	"seatswap-backend/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// EscrowBridge reports whether an on-chain transaction carries the expected
// escrow confirmation. Nil means no bridge is configured and on-chain
// cross-checks are skipped.
type EscrowBridge interface {
	ConfirmOnChain(ctx context.Context, p escrow.ConfirmParams) (bool, error)
}

// DealService is the deal lifecycle engine. Every transition re-reads current
// state and applies the mutation through the store's conditional update, so
// concurrent requests against the same deal cannot both pass a precondition.
type DealService struct {
	store    repository.Store
	storage  ObjectStorage
	bridge   EscrowBridge
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewDealService wires the lifecycle engine. bridge may be nil.
func NewDealService(store repository.Store, storage ObjectStorage, bridge EscrowBridge, logger *slog.Logger) *DealService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DealService{
		store:    store,
		storage:  storage,
		bridge:   bridge,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// checkRequest validates a tagged request struct, collapsing any field
// failure into the contract's stable message.
func (s *DealService) checkRequest(req interface{}) error {
	if err := s.validate.Struct(req); err != nil {
		return apperr.E(apperr.InvalidInput, "Missing required fields")
	}
	return nil
}

// PartyInfo is the public slice of a deal party's profile.
type PartyInfo struct {
	Address string        `json:"address"`
	Email   string        `json:"email,omitempty"`
	EnsName string        `json:"ensName,omitempty"`
	Rating  models.Rating `json:"rating"`
}

// DealView is a deal with its parties resolved for API responses.
type DealView struct {
	*models.Deal
	Seller *PartyInfo `json:"sellerInfo,omitempty"`
	Buyer  *PartyInfo `json:"buyerInfo,omitempty"`
}

func (s *DealService) partyInfo(ctx context.Context, id uuid.UUID) *PartyInfo {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		s.logger.Warn("deal references unknown user", "userId", id, "error", err)
		return nil
	}
	return &PartyInfo{
		Address: user.Address,
		Email:   user.Email,
		EnsName: user.EnsName,
		Rating:  user.Rating,
	}
}

func (s *DealService) view(ctx context.Context, deal *models.Deal) *DealView {
	v := &DealView{Deal: deal}
	v.Seller = s.partyInfo(ctx, deal.SellerID)
	if deal.BuyerID != nil {
		v.Buyer = s.partyInfo(ctx, *deal.BuyerID)
	}
	return v
}

func parseDealID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, apperr.Wrap(apperr.NotFound, "Deal not found", err)
	}
	return parsed, nil
}

// requireUser resolves an authenticated identity to its stored user record.
func (s *DealService) requireUser(ctx context.Context, ident *auth.Identity, missingMsg string) (*models.User, error) {
	user, err := s.store.GetUserByAddress(ctx, ident.Address)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.E(apperr.NotFound, missingMsg)
		}
		return nil, apperr.Wrap(apperr.Upstream, "Failed to fetch user", err)
	}
	return user, nil
}

// CreateDealRequest lists the fields a new listing requires.
type CreateDealRequest struct {
	Title         string  `json:"title" validate:"required"`
	ContractID    int64   `json:"contractId" validate:"required"`
	Quantity      int     `json:"quantity" validate:"required,gt=0"`
	Price         float64 `json:"price" validate:"required,gt=0"`
	EscrowAddress string  `json:"escrowAddress" validate:"required"`
}

// Create lists a new deal for the authenticated seller.
func (s *DealService) Create(ctx context.Context, ident *auth.Identity, req CreateDealRequest) (*models.Deal, error) {
	if ident == nil {
		return nil, apperr.E(apperr.Unauthenticated, "User not authenticated")
	}
	if err := s.checkRequest(req); err != nil {
		return nil, err
	}

	seller, err := s.requireUser(ctx, ident, "User not found")
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	deal := &models.Deal{
		ID:            uuid.New(),
		Title:         req.Title,
		ContractID:    req.ContractID,
		Quantity:      req.Quantity,
		Price:         req.Price,
		SellerID:      seller.ID,
		EscrowAddress: req.EscrowAddress,
		Status:        models.DealOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateDeal(ctx, deal); err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "Failed to create deal", err)
	}

	// The per-user deal list is a convenience index; a failure here leaves
	// the deal itself intact.
	if err := s.store.AppendSellerDeal(ctx, seller.ID, deal.ID); err != nil {
		s.logger.Error("append seller deal index", "dealId", deal.ID, "error", err)
		return nil, apperr.Wrap(apperr.Upstream, "Failed to create deal", err)
	}
	return deal, nil
}

// OpenDeals returns all deals currently listed.
func (s *DealService) OpenDeals(ctx context.Context) ([]*DealView, error) {
	return s.listByStatus(ctx, models.DealOpen)
}

// DisputedDeals returns all deals under dispute.
func (s *DealService) DisputedDeals(ctx context.Context) ([]*DealView, error) {
	return s.listByStatus(ctx, models.DealDisputed)
}

func (s *DealService) listByStatus(ctx context.Context, status models.DealStatus) ([]*DealView, error) {
	deals, err := s.store.ListDealsByStatus(ctx, status)
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "Failed to fetch deals", err)
	}
	views := make([]*DealView, 0, len(deals))
	for _, deal := range deals {
		views = append(views, s.view(ctx, deal))
	}
	return views, nil
}

// DealByID fetches one deal with both parties resolved.
func (s *DealService) DealByID(ctx context.Context, id string) (*DealView, error) {
	if id == "" {
		return nil, apperr.E(apperr.InvalidInput, "Missing deal ID")
	}
	dealID, err := parseDealID(id)
	if err != nil {
		return nil, err
	}
	deal, err := s.store.GetDealByID(ctx, dealID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.E(apperr.NotFound, "Deal not found")
		}
		return nil, apperr.Wrap(apperr.Upstream, "Failed to fetch deal", err)
	}
	return s.view(ctx, deal), nil
}

// ClaimedDealView is a deal detail response scoped to its two parties.
type ClaimedDealView struct {
	*DealView
	UserRole string `json:"userRole"`
}

// ClaimedDealDetails returns full deal detail for the caller, who must be
// either party.
func (s *DealService) ClaimedDealDetails(ctx context.Context, ident *auth.Identity, id string) (*ClaimedDealView, error) {
	if id == "" {
		return nil, apperr.E(apperr.InvalidInput, "Missing deal ID")
	}
	if ident == nil {
		return nil, apperr.E(apperr.Unauthenticated, "User not authenticated")
	}
	view, err := s.DealByID(ctx, id)
	if err != nil {
		return nil, err
	}

	caller := models.NormalizeAddress(ident.Address)
	isSeller := view.Seller != nil && view.Seller.Address == caller
	isBuyer := view.Buyer != nil && view.Buyer.Address == caller
	if !isSeller && !isBuyer {
		return nil, apperr.E(apperr.Forbidden, "User not authorized to view this deal")
	}

	role := "seller"
	if isBuyer {
		role = "buyer"
	}
	return &ClaimedDealView{DealView: view, UserRole: role}, nil
}

// ClaimRequest claims an open deal. EscrowAddress, when present, replaces the
// deal's escrow contract address at claim time.
type ClaimRequest struct {
	DealID        string `json:"dealId" validate:"required"`
	EscrowAddress string `json:"escrowAddress"`
}

// Claim sets the caller as buyer on an open deal. At most one claim can win:
// the open→claimed transition is a conditional update, so a concurrent
// second claim observes the status conflict instead of overwriting.
func (s *DealService) Claim(ctx context.Context, ident *auth.Identity, req ClaimRequest) error {
	if ident == nil {
		return apperr.E(apperr.InvalidInput, "Missing required fields")
	}
	if err := s.checkRequest(req); err != nil {
		return err
	}
	dealID, err := parseDealID(req.DealID)
	if err != nil {
		return err
	}

	deal, err := s.store.GetDealByID(ctx, dealID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.E(apperr.NotFound, "Deal not found")
		}
		return apperr.Wrap(apperr.Upstream, "Failed to claim deal", err)
	}
	if deal.Status != models.DealOpen {
		return apperr.E(apperr.InvalidState, "Deal is not open")
	}

	buyer, err := s.requireUser(ctx, ident, "Buyer not found")
	if err != nil {
		return err
	}
	if buyer.ID == deal.SellerID {
		return apperr.E(apperr.Forbidden, "Seller cannot claim their own deal")
	}

	patch := repository.DealPatch{BuyerID: &buyer.ID}
	if req.EscrowAddress != "" {
		patch.EscrowAddress = &req.EscrowAddress
	}
	if _, err := s.store.TransitionDeal(ctx, dealID, []models.DealStatus{models.DealOpen}, models.DealClaimed, patch); err != nil {
		switch {
		case errors.Is(err, repository.ErrStatusMismatch):
			return apperr.E(apperr.InvalidState, "Deal is not open")
		case errors.Is(err, repository.ErrNotFound):
			return apperr.E(apperr.NotFound, "Deal not found")
		default:
			return apperr.Wrap(apperr.Upstream, "Failed to claim deal", err)
		}
	}

	if err := s.store.AppendBuyerDeal(ctx, buyer.ID, dealID); err != nil {
		s.logger.Error("append buyer deal index", "dealId", dealID, "error", err)
	}
	return nil
}

// UploadProofRequest carries the seller's proof-of-delivery image.
type UploadProofRequest struct {
	DealID             string
	ConfirmationTxHash string
	Image              io.Reader
	ContentType        string
}

// UploadProof stores the proof image and moves the deal to proof_uploaded.
// Authorization is checked before any storage write.
func (s *DealService) UploadProof(ctx context.Context, ident *auth.Identity, req UploadProofRequest) error {
	if req.DealID == "" || req.Image == nil || ident == nil {
		return apperr.E(apperr.InvalidInput, "Missing required fields")
	}
	dealID, err := parseDealID(req.DealID)
	if err != nil {
		return err
	}

	deal, err := s.store.GetDealByID(ctx, dealID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.E(apperr.NotFound, "Deal not found")
		}
		return apperr.Wrap(apperr.Upstream, "Failed to upload proof", err)
	}
	if deal.Status != models.DealClaimed {
		return apperr.E(apperr.NotFound, "Deal not found")
	}

	seller, err := s.store.GetUserByID(ctx, deal.SellerID)
	if err != nil {
		return apperr.Wrap(apperr.Upstream, "Failed to upload proof", err)
	}
	if seller.Address != models.NormalizeAddress(ident.Address) {
		return apperr.E(apperr.Forbidden, "User not authorized to upload proof")
	}

	now := s.now().UTC()
	key := fmt.Sprintf("proofs/%s/%d/Seller", dealID, now.UnixMilli())
	url, err := s.storage.Upload(ctx, key, req.Image, req.ContentType)
	if err != nil {
		return apperr.Wrap(apperr.Upstream, "Failed to upload proof", err)
	}

	proof := &models.SellerProof{
		URL:                url,
		ConfirmationTxHash: req.ConfirmationTxHash,
		UpdatedAt:          now,
	}
	_, err = s.store.TransitionDeal(ctx, dealID,
		[]models.DealStatus{models.DealClaimed}, models.DealProofUploaded,
		repository.DealPatch{SellerProof: proof})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrStatusMismatch), errors.Is(err, repository.ErrNotFound):
			return apperr.E(apperr.NotFound, "Deal not found")
		case errors.Is(err, repository.ErrConflict):
			return apperr.E(apperr.Conflict, "Confirmation transaction already used")
		default:
			return apperr.Wrap(apperr.Upstream, "Failed to upload proof", err)
		}
	}
	return nil
}

// ConfirmDeliveryRequest completes a deal from the buyer's side. When
// ConfirmationTxHash is present and a bridge is configured, the on-chain
// confirmation is cross-checked first.
type ConfirmDeliveryRequest struct {
	DealID             string `json:"dealId" validate:"required"`
	TxID               string `json:"txId"`
	ConfirmationTxHash string `json:"confirmationTxHash"`
}

// ConfirmDelivery moves a claimed or proof_uploaded deal to completed.
func (s *DealService) ConfirmDelivery(ctx context.Context, ident *auth.Identity, req ConfirmDeliveryRequest) error {
	if ident == nil {
		return apperr.E(apperr.InvalidInput, "Missing required fields")
	}
	if err := s.checkRequest(req); err != nil {
		return err
	}
	dealID, err := parseDealID(req.DealID)
	if err != nil {
		return err
	}

	deal, err := s.store.GetDealByID(ctx, dealID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.E(apperr.NotFound, "Deal not found")
		}
		return apperr.Wrap(apperr.Upstream, "Failed to confirm delivery", err)
	}
	if deal.Status != models.DealClaimed && deal.Status != models.DealProofUploaded {
		return apperr.E(apperr.NotFound, "Deal not found")
	}
	if deal.BuyerID == nil {
		return apperr.E(apperr.Forbidden, "User not authorized to confirm delivery")
	}
	buyer, err := s.store.GetUserByID(ctx, *deal.BuyerID)
	if err != nil {
		return apperr.Wrap(apperr.Upstream, "Failed to confirm delivery", err)
	}
	if buyer.Address != models.NormalizeAddress(ident.Address) {
		return apperr.E(apperr.Forbidden, "User not authorized to confirm delivery")
	}

	if req.ConfirmationTxHash != "" && s.bridge != nil {
		confirmed, err := s.bridge.ConfirmOnChain(ctx, escrow.ConfirmParams{
			User:          ident.Address,
			TransactionID: deal.ContractID,
			EscrowAddress: deal.EscrowAddress,
			TxHash:        req.ConfirmationTxHash,
		})
		if err != nil {
			// A receipt-retrieval fault is not the same as a clean
			// negative: the caller may retry.
			return apperr.Wrap(apperr.Upstream, "Failed to confirm delivery", err)
		}
		if !confirmed {
			return apperr.E(apperr.InvalidState, "Escrow not confirmed")
		}
	}

	patch := repository.DealPatch{}
	if req.TxID != "" {
		patch.BuyerTransaction = &req.TxID
	}
	_, err = s.store.TransitionDeal(ctx, dealID,
		[]models.DealStatus{models.DealClaimed, models.DealProofUploaded},
		models.DealCompleted, patch)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrStatusMismatch), errors.Is(err, repository.ErrNotFound):
			return apperr.E(apperr.NotFound, "Deal not found")
		default:
			return apperr.Wrap(apperr.Upstream, "Failed to confirm delivery", err)
		}
	}
	return nil
}

// CompleteRequest is the seller-side completion of a claimed deal.
type CompleteRequest struct {
	DealID string `json:"dealId" validate:"required"`
	TxID   string `json:"txId" validate:"required"`
}

// Complete moves a claimed deal straight to completed, recording the
// settlement transaction.
func (s *DealService) Complete(ctx context.Context, ident *auth.Identity, req CompleteRequest) error {
	if ident == nil {
		return apperr.E(apperr.InvalidInput, "Missing required fields")
	}
	if err := s.checkRequest(req); err != nil {
		return err
	}
	dealID, err := parseDealID(req.DealID)
	if err != nil {
		return err
	}

	deal, err := s.store.GetDealByID(ctx, dealID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.E(apperr.NotFound, "Deal not found")
		}
		return apperr.Wrap(apperr.Upstream, "Failed to complete deal", err)
	}
	if deal.Status != models.DealClaimed {
		return apperr.E(apperr.InvalidState, "Deal is not claimed")
	}
	seller, err := s.store.GetUserByID(ctx, deal.SellerID)
	if err != nil {
		return apperr.Wrap(apperr.Upstream, "Failed to complete deal", err)
	}
	if seller.Address != models.NormalizeAddress(ident.Address) {
		return apperr.E(apperr.Forbidden, "User not authorized to complete deal")
	}

	_, err = s.store.TransitionDeal(ctx, dealID,
		[]models.DealStatus{models.DealClaimed}, models.DealCompleted,
		repository.DealPatch{CompletedTxHash: &req.TxID})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrStatusMismatch):
			return apperr.E(apperr.InvalidState, "Deal is not claimed")
		case errors.Is(err, repository.ErrNotFound):
			return apperr.E(apperr.NotFound, "Deal not found")
		default:
			return apperr.Wrap(apperr.Upstream, "Failed to complete deal", err)
		}
	}
	return nil
}

// DisputeRequest opens a dispute on an in-flight deal.
type DisputeRequest struct {
	DealID string `json:"dealId" validate:"required"`
	Reason string `json:"reason"`
}

// Dispute marks a claimed or proof_uploaded deal as disputed. Only the deal's
// buyer or seller may raise it.
func (s *DealService) Dispute(ctx context.Context, ident *auth.Identity, req DisputeRequest) error {
	if err := s.checkRequest(req); err != nil {
		return err
	}
	if ident == nil {
		return apperr.E(apperr.Unauthenticated, "User not authenticated")
	}
	dealID, err := parseDealID(req.DealID)
	if err != nil {
		return err
	}

	deal, err := s.store.GetDealByID(ctx, dealID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.E(apperr.NotFound, "Deal not found")
		}
		return apperr.Wrap(apperr.Upstream, "Failed to dispute deal", err)
	}

	caller, err := s.store.GetUserByAddress(ctx, ident.Address)
	if err != nil {
		return apperr.E(apperr.Forbidden, "Only buyer or seller can dispute this deal")
	}
	isSeller := caller.ID == deal.SellerID
	isBuyer := deal.BuyerID != nil && caller.ID == *deal.BuyerID
	if !isSeller && !isBuyer {
		return apperr.E(apperr.Forbidden, "Only buyer or seller can dispute this deal")
	}

	patch := repository.DealPatch{DisputeInitiatorID: &caller.ID}
	if req.Reason != "" {
		patch.DisputeReason = &req.Reason
	}
	_, err = s.store.TransitionDeal(ctx, dealID,
		[]models.DealStatus{models.DealClaimed, models.DealProofUploaded},
		models.DealDisputed, patch)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrStatusMismatch):
			return apperr.E(apperr.InvalidState, "Deal cannot be disputed")
		case errors.Is(err, repository.ErrNotFound):
			return apperr.E(apperr.NotFound, "Deal not found")
		default:
			return apperr.Wrap(apperr.Upstream, "Failed to dispute deal", err)
		}
	}
	return nil
}

// ResolveDisputeRequest records a dispute outcome.
type ResolveDisputeRequest struct {
	DealID     string `json:"dealId" validate:"required"`
	Resolution string `json:"resolution" validate:"required"`
}

// ResolveDispute records the winning side of a disputed deal. The actual fund
// movement belongs to the escrow contract, not this service.
func (s *DealService) ResolveDispute(ctx context.Context, ident *auth.Identity, req ResolveDisputeRequest) error {
	if ident == nil {
		return apperr.E(apperr.InvalidInput, "Missing required fields")
	}
	if err := s.checkRequest(req); err != nil {
		return err
	}
	if req.Resolution != "seller" && req.Resolution != "buyer" {
		return apperr.E(apperr.InvalidInput, "Invalid resolution")
	}
	dealID, err := parseDealID(req.DealID)
	if err != nil {
		return err
	}

	_, err = s.store.TransitionDeal(ctx, dealID,
		[]models.DealStatus{models.DealDisputed}, models.DealDisputed,
		repository.DealPatch{DisputeWinner: &req.Resolution})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrStatusMismatch):
			return apperr.E(apperr.InvalidState, "Deal is not disputed")
		case errors.Is(err, repository.ErrNotFound):
			return apperr.E(apperr.NotFound, "Deal not found")
		default:
			return apperr.Wrap(apperr.Upstream, "Failed to resolve dispute", err)
		}
	}
	return nil
}
