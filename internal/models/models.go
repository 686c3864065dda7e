package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DealStatus is the lifecycle state of a resale deal.
type DealStatus string

const (
	DealOpen          DealStatus = "open"
	DealClaimed       DealStatus = "claimed"
	DealProofUploaded DealStatus = "proof_uploaded"
	DealCompleted     DealStatus = "completed"
	DealDisputed      DealStatus = "disputed"
	// DealCancelled is declared but no transition produces it yet.
	DealCancelled DealStatus = "cancelled"
)

// NormalizeAddress lowercases a hex address. Every address stored or compared
// anywhere in the system goes through this first.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Rating is a seller's reputation: the raw submitted values plus the
// geometric-mean aggregate recomputed on every submission.
type Rating struct {
	Score  float64   `json:"rating"`
	Values []float64 `json:"values"`
}

// User is keyed externally by its lowercased Ethereum address.
type User struct {
	ID          uuid.UUID   `json:"id"`
	Address     string      `json:"address"`
	Email       string      `json:"email,omitempty"`
	EnsName     string      `json:"ensName,omitempty"`
	IsAdmin     bool        `json:"isAdmin"`
	Blacklisted bool        `json:"blacklisted"`
	Rating      Rating      `json:"rating"`
	SellerDeals []uuid.UUID `json:"sellerDeals"`
	BuyerDeals  []uuid.UUID `json:"buyerDeals"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// SellerProof records the delivery-proof image uploaded by the seller.
type SellerProof struct {
	URL                string    `json:"url"`
	ConfirmationTxHash string    `json:"confirmationTxHash,omitempty"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Deal is a single ticket-resale transaction. Status only moves along the
// lifecycle graph; all mutations go through the deal store's conditional
// transition.
type Deal struct {
	ID                 uuid.UUID    `json:"id"`
	Title              string       `json:"title"`
	ContractID         int64        `json:"contractId"`
	Quantity           int          `json:"quantity"`
	Price              float64      `json:"price"`
	SellerID           uuid.UUID    `json:"seller"`
	BuyerID            *uuid.UUID   `json:"buyer,omitempty"`
	EscrowAddress      string       `json:"escrowAddress"`
	Status             DealStatus   `json:"status"`
	SellerProof        *SellerProof `json:"sellerProof,omitempty"`
	BuyerTransaction   string       `json:"buyerTransaction,omitempty"`
	CompletedTxHash    string       `json:"completedTxHash,omitempty"`
	DisputeInitiatorID *uuid.UUID   `json:"disputeInitiator,omitempty"`
	DisputeReason      string       `json:"disputeReason,omitempty"`
	DisputeWinner      string       `json:"disputeWinner,omitempty"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}
