package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"seatswap-backend/internal/apperr"
	"seatswap-backend/internal/auth"
	"seatswap-backend/internal/service"
)

// maxProofUploadBytes caps the multipart body of a seller proof upload.
const maxProofUploadBytes = 10 << 20

// Handler carries the dependencies for the HTTP handlers.
type Handler struct {
	dealService  *service.DealService
	userService  *service.UserService
	tokenService *auth.TokenService
	nonces       *auth.NonceRegistry
	siwe         *auth.SiweVerifier
	logger       *slog.Logger
}

// NewHandler builds the HTTP handler set.
func NewHandler(
	dealSvc *service.DealService,
	userSvc *service.UserService,
	tokenSvc *auth.TokenService,
	nonces *auth.NonceRegistry,
	siwe *auth.SiweVerifier,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		dealService:  dealSvc,
		userService:  userSvc,
		tokenService: tokenSvc,
		nonces:       nonces,
		siwe:         siwe,
		logger:       logger,
	}
}

// === Response helpers ===

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":500,"message":"Internal server error"}}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondServiceError maps a service error to its HTTP status. Unclassified
// errors are logged and surfaced as a generic 500.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	h.respondWithError(w, status, apperr.MessageOf(err))
}

// === Auth handlers ===

// handleNonce (POST /auth/nonce) issues a single-use sign-in nonce for a
// wallet address.
func (h *Handler) handleNonce(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !auth.AddressPattern.MatchString(req.Address) {
		h.respondWithError(w, http.StatusBadRequest, "Proper Address is required")
		return
	}

	nonce, err := h.nonces.Issue(req.Address)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Failed to generate nonce")
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"nonce": nonce})
}

// handleVerify (POST /auth/verify) checks a signed sign-in message and
// issues a session token.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address   string `json:"address"`
		Message   string `json:"message"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Address, message, and signature are required")
		return
	}

	ident, err := h.siwe.Verify(r.Context(), req.Address, req.Message, req.Signature)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	token, err := h.tokenService.IssueToken(*ident)
	if err != nil {
		h.logger.Error("issue token", "error", err)
		h.respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"token":   token,
		"address": ident.Address,
		"chainId": ident.ChainID,
		"isAdmin": ident.IsAdmin,
	})
}

// handleVerifyAuth (POST /auth/verifyAuth) reports whether a session token is
// still valid without refreshing it.
func (h *Handler) handleVerifyAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		h.respondWithError(w, http.StatusBadRequest, "Token is required")
		return
	}

	ident, err := h.tokenService.ValidateToken(req.Token)
	if err != nil {
		status := "invalid"
		if errors.Is(err, auth.ErrTokenExpired) {
			status = "expired"
		}
		h.respondWithJSON(w, http.StatusUnauthorized, map[string]string{"status": status})
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "valid",
		"address": ident.Address,
		"chainId": ident.ChainID,
		"isAdmin": ident.IsAdmin,
	})
}

// handleLogout (POST /auth/logout). Sessions are stateless bearer tokens,
// but any live sign-in challenge for the address is revoked so it cannot
// outlive the session.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if ident := identityFrom(r.Context()); ident != nil {
		h.nonces.Revoke(ident.Address)
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"success": "User logged out"})
}

// === Deal handlers ===

// handleListTickets (POST /deals/list-tickets)
func (h *Handler) handleListTickets(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())

	var req service.CreateDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	deal, err := h.dealService.Create(r.Context(), ident, req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, deal)
}

// handleOpenDeals (GET /deals/open-deals)
func (h *Handler) handleOpenDeals(w http.ResponseWriter, r *http.Request) {
	deals, err := h.dealService.OpenDeals(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, deals)
}

// handleDisputedDeals (GET /deals/disputed-deals)
func (h *Handler) handleDisputedDeals(w http.ResponseWriter, r *http.Request) {
	deals, err := h.dealService.DisputedDeals(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, deals)
}

// handleDeal (GET /deals/deal?dealId=...)
func (h *Handler) handleDeal(w http.ResponseWriter, r *http.Request) {
	deal, err := h.dealService.DealByID(r.Context(), r.URL.Query().Get("dealId"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, deal)
}

// handleClaimedDeal (GET /deals/claimed-deal?dealId=...)
func (h *Handler) handleClaimedDeal(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	deal, err := h.dealService.ClaimedDealDetails(r.Context(), ident, r.URL.Query().Get("dealId"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, deal)
}

// handleClaimDeal (POST /deals/claim-deal)
func (h *Handler) handleClaimDeal(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())

	var req service.ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	if err := h.dealService.Claim(r.Context(), ident, req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Deal claimed successfully"})
}

// handleSellerProof (POST /deals/seller-proof) accepts a multipart form with
// an "image" part plus dealId and confirmationTxHash fields.
func (h *Handler) handleSellerProof(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxProofUploadBytes)
	if err := r.ParseMultipartForm(maxProofUploadBytes); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	defer file.Close()

	req := service.UploadProofRequest{
		DealID:             r.FormValue("dealId"),
		ConfirmationTxHash: r.FormValue("confirmationTxHash"),
		Image:              file,
		ContentType:        header.Header.Get("Content-Type"),
	}
	if err := h.dealService.UploadProof(r.Context(), ident, req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Proof uploaded successfully"})
}

// handleConfirmDelivery (POST /deals/confirm-delivery)
func (h *Handler) handleConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())

	var req service.ConfirmDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	if err := h.dealService.ConfirmDelivery(r.Context(), ident, req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Delivery confirmed"})
}

// handleCompleteDeal (POST /deals/complete-deal)
func (h *Handler) handleCompleteDeal(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())

	var req service.CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	if err := h.dealService.Complete(r.Context(), ident, req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Deal completed"})
}

// handleDisputeDeal (POST /deals/dispute-deal)
func (h *Handler) handleDisputeDeal(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())

	var req service.DisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	if err := h.dealService.Dispute(r.Context(), ident, req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Deal disputed"})
}

// handleResolveDispute (POST /deals/resolve-dispute)
func (h *Handler) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())

	var req service.ResolveDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	if err := h.dealService.ResolveDispute(r.Context(), ident, req); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Dispute resolved"})
}

// === User handlers ===

// handleAddEmail (POST /users/add-email)
func (h *Handler) handleAddEmail(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())

	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Email is required")
		return
	}

	if err := h.userService.AddEmail(r.Context(), ident, req.Email); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Email updated"})
}

// handleUserInfo (POST /users/info)
func (h *Handler) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Address is required")
		return
	}

	user, err := h.userService.UserInfo(r.Context(), req.Address)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, user)
}

// handleGiveRating (POST /users/give-rating)
func (h *Handler) handleGiveRating(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())

	var req service.GiveRatingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	rating, err := h.userService.GiveRating(r.Context(), ident, req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, rating)
}

// handleMyDeals (POST /users/my-deals)
func (h *Handler) handleMyDeals(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())

	deals, err := h.userService.MyDeals(r.Context(), ident)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, deals)
}

// handleHealth (GET /health)
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
