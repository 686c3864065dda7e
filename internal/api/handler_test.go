package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"seatswap-backend/internal/auth"
	"seatswap-backend/internal/escrow"
	"seatswap-backend/internal/models"
	"seatswap-backend/internal/repository"
	"seatswap-backend/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sellerAddr = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	buyerAddr  = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	adminAddr  = "0xdddddddddddddddddddddddddddddddddddddddd"
	escrowHex  = "0x1111111111111111111111111111111111111111"
)

type stubStorage struct{}

func (stubStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	return "https://bucket.s3.test.amazonaws.com/" + key, nil
}

type stubBridge struct{ confirmed bool }

func (b stubBridge) ConfirmOnChain(ctx context.Context, p escrow.ConfirmParams) (bool, error) {
	return b.confirmed, nil
}

type apiFixture struct {
	router http.Handler
	store  *repository.InMemoryStore
	tokens *auth.TokenService
	nonces *auth.NonceRegistry
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	store := repository.NewInMemoryStore()
	tokens, err := auth.NewTokenService("test-secret")
	require.NoError(t, err)

	nonces := auth.NewNonceRegistry(0)
	verifier := auth.NewSiweVerifier(nonces, store, []string{"localhost"}, 84532)

	dealSvc := service.NewDealService(store, stubStorage{}, stubBridge{confirmed: true}, nil)
	userSvc := service.NewUserService(store, nil)
	handler := NewHandler(dealSvc, userSvc, tokens, nonces, verifier, nil)

	f := &apiFixture{
		router: handler.Routes([]string{"http://localhost:3000"}),
		store:  store,
		tokens: tokens,
		nonces: nonces,
	}
	for _, addr := range []string{sellerAddr, buyerAddr, adminAddr} {
		_, err := store.GetOrCreateUserByAddress(context.Background(), addr)
		require.NoError(t, err)
	}
	return f
}

func (f *apiFixture) token(t *testing.T, address string, admin bool) string {
	t.Helper()
	token, err := f.tokens.IssueToken(auth.Identity{Address: address, ChainID: 84532, IsAdmin: admin})
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, rec.Code, envelope.Error.Code)
	return envelope.Error.Message
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNonceEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/nonce", "", map[string]string{"address": sellerAddr})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Nonce string `json:"nonce"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Nonce, auth.DefaultNonceBytes*2)
}

func TestNonceEndpointRejectsBadAddress(t *testing.T) {
	f := newAPIFixture(t)

	for _, body := range []interface{}{nil, map[string]string{"address": "not-an-address"}, map[string]string{}} {
		rec := f.do(t, http.MethodPost, "/auth/nonce", "", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Proper Address is required", decodeError(t, rec))
	}
}

func TestVerifyAuthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/verifyAuth", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Token is required", decodeError(t, rec))

	rec = f.do(t, http.MethodPost, "/auth/verifyAuth", "", map[string]string{"token": "garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var status struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "invalid", status.Status)

	rec = f.do(t, http.MethodPost, "/auth/verifyAuth", "", map[string]string{"token": f.token(t, sellerAddr, false)})
	assert.Equal(t, http.StatusOK, rec.Code)
	var valid struct {
		Status  string `json:"status"`
		Address string `json:"address"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &valid))
	assert.Equal(t, "valid", valid.Status)
	assert.Equal(t, sellerAddr, valid.Address)
}

func TestLogout(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/auth/logout", f.token(t, sellerAddr, false), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "User logged out")
}

func TestLogoutRevokesNonce(t *testing.T) {
	f := newAPIFixture(t)
	_, err := f.nonces.Issue(sellerAddr)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/auth/logout", f.token(t, sellerAddr, false), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, ok := f.nonces.Lookup(sellerAddr)
	assert.False(t, ok)
}

func TestAuthMiddleware(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/deals/list-tickets", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "No token provided", decodeError(t, rec))

	rec = f.do(t, http.MethodPost, "/deals/list-tickets", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid Token", decodeError(t, rec))
}

func TestAdminMiddleware(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/deals/resolve-dispute", f.token(t, buyerAddr, false),
		map[string]string{"dealId": "x", "resolution": "buyer"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Admin access required", decodeError(t, rec))
}

func (f *apiFixture) createDeal(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/deals/list-tickets", f.token(t, sellerAddr, false), map[string]interface{}{
		"title":         "2x Finals, Sector A",
		"contractId":    42,
		"quantity":      2,
		"price":         150.0,
		"escrowAddress": escrowHex,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var deal models.Deal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deal))
	return deal.ID.String()
}

func (f *apiFixture) uploadProof(t *testing.T, dealID, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("dealId", dealID))
	require.NoError(t, mw.WriteField("confirmationTxHash", "0xproof"))
	part, err := mw.CreateFormFile("image", "proof.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("png-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/deals/seller-proof", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestDealLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	sellerToken := f.token(t, sellerAddr, false)
	buyerToken := f.token(t, buyerAddr, false)

	dealID := f.createDeal(t)

	// The listing shows up in the public open-deals feed.
	rec := f.do(t, http.MethodGet, "/deals/open-deals", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), dealID)

	rec = f.do(t, http.MethodPost, "/deals/claim-deal", buyerToken, map[string]string{"dealId": dealID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// A second claim is rejected on the state precondition.
	rec = f.do(t, http.MethodPost, "/deals/claim-deal", buyerToken, map[string]string{"dealId": dealID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Deal is not open", decodeError(t, rec))

	// Buyer cannot upload the seller's proof.
	rec = f.uploadProof(t, dealID, buyerToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.uploadProof(t, dealID, sellerToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Both parties can see the claimed deal detail, with their role.
	rec = f.do(t, http.MethodGet, "/deals/claimed-deal?dealId="+dealID, buyerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"userRole":"buyer"`)

	rec = f.do(t, http.MethodPost, "/deals/confirm-delivery", buyerToken, map[string]string{
		"dealId":             dealID,
		"txId":               "0xsettle",
		"confirmationTxHash": "0xconfirm",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/deals/deal?dealId="+dealID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), fmt.Sprintf("%q", models.DealCompleted))

	// The buyer rates the seller once settled.
	rec = f.do(t, http.MethodPost, "/users/give-rating", buyerToken, map[string]interface{}{
		"dealId": dealID,
		"rating": 9.0,
		"user":   "seller",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"rating":9`)

	rec = f.do(t, http.MethodPost, "/users/my-deals", sellerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), dealID)
}

func TestDisputeFlowOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	buyerToken := f.token(t, buyerAddr, false)
	adminToken := f.token(t, adminAddr, true)

	dealID := f.createDeal(t)
	rec := f.do(t, http.MethodPost, "/deals/claim-deal", buyerToken, map[string]string{"dealId": dealID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/deals/dispute-deal", buyerToken, map[string]string{
		"dealId": dealID,
		"reason": "tickets never arrived",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/deals/disputed-deals", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), dealID)

	rec = f.do(t, http.MethodPost, "/deals/resolve-dispute", adminToken, map[string]string{
		"dealId":     dealID,
		"resolution": "buyer",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/deals/deal?dealId="+dealID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"disputeWinner":"buyer"`)
}

func TestUserEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	sellerToken := f.token(t, sellerAddr, false)

	rec := f.do(t, http.MethodPost, "/users/add-email", sellerToken, map[string]string{"email": "seller@example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/users/add-email", sellerToken, map[string]string{"email": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid email format", decodeError(t, rec))

	rec = f.do(t, http.MethodPost, "/users/info", "", map[string]string{"address": sellerAddr})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "seller@example.com")

	rec = f.do(t, http.MethodPost, "/users/info", "", map[string]string{"address": "0x9999999999999999999999999999999999999999"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User not found", decodeError(t, rec))
}
