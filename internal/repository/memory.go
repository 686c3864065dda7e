package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"seatswap-backend/internal/models"

	"github.com/google/uuid"
)

// InMemoryStore is a mutex-guarded implementation of Store used by tests.
// All conditional transitions run under the lock, so it provides the same
// check-and-set atomicity as the Postgres implementation.
type InMemoryStore struct {
	mu             sync.RWMutex
	usersByID      map[uuid.UUID]*models.User
	usersByAddress map[string]*models.User
	deals          map[uuid.UUID]*models.Deal
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		usersByID:      make(map[uuid.UUID]*models.User),
		usersByAddress: make(map[string]*models.User),
		deals:          make(map[uuid.UUID]*models.Deal),
	}
}

func copyUser(u *models.User) *models.User {
	cp := *u
	cp.Rating.Values = slices.Clone(u.Rating.Values)
	cp.SellerDeals = slices.Clone(u.SellerDeals)
	cp.BuyerDeals = slices.Clone(u.BuyerDeals)
	return &cp
}

func copyDeal(d *models.Deal) *models.Deal {
	cp := *d
	if d.BuyerID != nil {
		id := *d.BuyerID
		cp.BuyerID = &id
	}
	if d.SellerProof != nil {
		proof := *d.SellerProof
		cp.SellerProof = &proof
	}
	if d.DisputeInitiatorID != nil {
		id := *d.DisputeInitiatorID
		cp.DisputeInitiatorID = &id
	}
	return &cp
}

// --- UserStore ---

func (s *InMemoryStore) GetOrCreateUserByAddress(ctx context.Context, address string) (*models.User, error) {
	addr := models.NormalizeAddress(address)

	s.mu.Lock()
	defer s.mu.Unlock()

	if user, ok := s.usersByAddress[addr]; ok {
		return copyUser(user), nil
	}
	now := time.Now().UTC()
	user := &models.User{
		ID:        uuid.New(),
		Address:   addr,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.usersByID[user.ID] = user
	s.usersByAddress[addr] = user
	return copyUser(user), nil
}

func (s *InMemoryStore) GetUserByAddress(ctx context.Context, address string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByAddress[models.NormalizeAddress(address)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(user), nil
}

func (s *InMemoryStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(user), nil
}

func (s *InMemoryStore) UpdateUserEmail(ctx context.Context, id uuid.UUID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[id]
	if !ok {
		return ErrNotFound
	}
	for _, other := range s.usersByID {
		if other.ID != id && other.Email == email {
			return ErrConflict
		}
	}
	user.Email = email
	user.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) AppendSellerDeal(ctx context.Context, userID, dealID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[userID]
	if !ok {
		return ErrNotFound
	}
	user.SellerDeals = append(user.SellerDeals, dealID)
	user.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) AppendBuyerDeal(ctx context.Context, userID, dealID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[userID]
	if !ok {
		return ErrNotFound
	}
	user.BuyerDeals = append(user.BuyerDeals, dealID)
	user.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) AppendRating(ctx context.Context, userID uuid.UUID, value, aggregate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[userID]
	if !ok {
		return ErrNotFound
	}
	user.Rating.Values = append(user.Rating.Values, value)
	user.Rating.Score = aggregate
	user.UpdatedAt = time.Now().UTC()
	return nil
}

// --- DealStore ---

func (s *InMemoryStore) CreateDeal(ctx context.Context, deal *models.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.deals[deal.ID]; exists {
		return ErrConflict
	}
	s.deals[deal.ID] = copyDeal(deal)
	return nil
}

func (s *InMemoryStore) GetDealByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deal, ok := s.deals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDeal(deal), nil
}

func (s *InMemoryStore) ListDealsByStatus(ctx context.Context, status models.DealStatus) ([]*models.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deals := []*models.Deal{}
	for _, deal := range s.deals {
		if deal.Status == status {
			deals = append(deals, copyDeal(deal))
		}
	}
	slices.SortFunc(deals, func(a, b *models.Deal) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return deals, nil
}

func (s *InMemoryStore) ListDealsByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deals := []*models.Deal{}
	for _, id := range ids {
		if deal, ok := s.deals[id]; ok {
			deals = append(deals, copyDeal(deal))
		}
	}
	return deals, nil
}

func (s *InMemoryStore) TransitionDeal(ctx context.Context, id uuid.UUID, from []models.DealStatus, to models.DealStatus, patch DealPatch) (*models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deal, ok := s.deals[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !slices.Contains(from, deal.Status) {
		return nil, ErrStatusMismatch
	}

	// Confirmation tx hashes are unique across deals, mirroring the store's
	// partial unique index.
	if patch.SellerProof != nil && patch.SellerProof.ConfirmationTxHash != "" {
		for _, other := range s.deals {
			if other.ID != id && other.SellerProof != nil &&
				other.SellerProof.ConfirmationTxHash == patch.SellerProof.ConfirmationTxHash {
				return nil, ErrConflict
			}
		}
	}

	deal.Status = to
	if patch.BuyerID != nil {
		deal.BuyerID = patch.BuyerID
	}
	if patch.EscrowAddress != nil {
		deal.EscrowAddress = *patch.EscrowAddress
	}
	if patch.SellerProof != nil {
		deal.SellerProof = patch.SellerProof
	}
	if patch.BuyerTransaction != nil {
		deal.BuyerTransaction = *patch.BuyerTransaction
	}
	if patch.CompletedTxHash != nil {
		deal.CompletedTxHash = *patch.CompletedTxHash
	}
	if patch.DisputeInitiatorID != nil {
		deal.DisputeInitiatorID = patch.DisputeInitiatorID
	}
	if patch.DisputeReason != nil {
		deal.DisputeReason = *patch.DisputeReason
	}
	if patch.DisputeWinner != nil {
		deal.DisputeWinner = *patch.DisputeWinner
	}
	deal.UpdatedAt = time.Now().UTC()

	return copyDeal(deal), nil
}
