package auth

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"seatswap-backend/internal/apperr"
	"seatswap-backend/internal/models"
	"seatswap-backend/internal/repository"

	"github.com/relvacode/iso8601"
	siwe "github.com/spruceid/siwe-go"
)

// MaxExpirationWindow bounds how far in the future a signed message's
// expiration may lie. Anything beyond it widens the replay window for no
// reason and is rejected outright.
const MaxExpirationWindow = 15 * time.Minute

// AddressPattern matches a 0x-prefixed 20-byte hex address.
var AddressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// Identity is the result of a successful verification: the claims embedded
// into the session token.
type Identity struct {
	Address string `json:"address"`
	ChainID int    `json:"chainId"`
	IsAdmin bool   `json:"isAdmin"`
}

var schemePrefix = regexp.MustCompile(`(?i)^https?://`)

// NormalizeDomain strips the scheme, a leading www. and a trailing slash,
// and lowercases, so "https://www.seatswap.net/" and "seatswap.net" compare
// equal.
func NormalizeDomain(domain string) string {
	d := schemePrefix.ReplaceAllString(strings.TrimSpace(domain), "")
	d = strings.TrimPrefix(d, "www.")
	d = strings.TrimSuffix(d, "/")
	return strings.ToLower(d)
}

// AllowedDomains parses the comma-separated allow-list. In production mode
// localhost and loopback entries are dropped, and the hardcoded production
// domain substitutes an emptied list.
func AllowedDomains(raw string, production bool) []string {
	if strings.TrimSpace(raw) == "" {
		raw = "localhost"
	}
	allowed := []string{}
	for _, entry := range strings.Split(raw, ",") {
		if d := NormalizeDomain(entry); d != "" {
			allowed = append(allowed, d)
		}
	}
	if production {
		kept := allowed[:0]
		for _, d := range allowed {
			if d != "localhost" && d != "127.0.0.1" {
				kept = append(kept, d)
			}
		}
		allowed = kept
		if len(allowed) == 0 {
			allowed = []string{"seatswap.net"}
		}
	}
	return allowed
}

// SiweVerifier validates Sign-In with Ethereum messages against the nonce
// registry and establishes (or lazily creates) the user identity.
type SiweVerifier struct {
	nonces  *NonceRegistry
	users   repository.UserStore
	domains []string
	chainID int
	now     func() time.Time
}

// NewSiweVerifier wires the verifier. domains must already be normalized via
// AllowedDomains.
func NewSiweVerifier(nonces *NonceRegistry, users repository.UserStore, domains []string, chainID int) *SiweVerifier {
	return &SiweVerifier{
		nonces:  nonces,
		users:   users,
		domains: domains,
		chainID: chainID,
		now:     time.Now,
	}
}

// Verify runs the ordered SIWE checks and returns the caller's identity.
// The order is part of the contract: structural problems fail early with a
// specific message, cryptographic failures fall through to generic ones.
func (v *SiweVerifier) Verify(ctx context.Context, address, message, signature string) (*Identity, error) {
	if address == "" || message == "" || signature == "" {
		return nil, apperr.E(apperr.InvalidInput, "Address, message, and signature are required")
	}

	msg, err := siwe.ParseMessage(message)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unauthenticated, "Verification failed", err)
	}

	claimed := models.NormalizeAddress(address)
	if models.NormalizeAddress(msg.GetAddress().Hex()) != claimed {
		return nil, apperr.E(apperr.InvalidInput, "Address mismatch")
	}

	if !v.domainAllowed(msg.GetDomain()) {
		return nil, apperr.E(apperr.InvalidInput, "Invalid domain")
	}

	stored, ok := v.nonces.Lookup(claimed)
	if !ok || msg.GetNonce() != stored {
		// A live-but-mismatched nonce is burned to force a fresh challenge.
		if ok {
			v.nonces.Revoke(claimed)
		}
		return nil, apperr.E(apperr.InvalidInput, "Invalid nonce")
	}

	if msg.GetChainID() != v.chainID {
		return nil, apperr.E(apperr.InvalidInput, "Invalid chainId")
	}

	expiration := msg.GetExpirationTime()
	if expiration == nil {
		return nil, apperr.E(apperr.InvalidInput, "Message must include expiration time")
	}
	expiresAt, err := iso8601.ParseString(*expiration)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unauthenticated, "Verification failed", err)
	}
	if expiresAt.After(v.now().Add(MaxExpirationWindow)) {
		return nil, apperr.E(apperr.InvalidInput, "Message expiration time must be within 15 minutes")
	}

	if _, err := msg.Verify(signature, nil, nil, nil); err != nil {
		var expired *siwe.ExpiredMessage
		if errors.As(err, &expired) {
			return nil, apperr.Wrap(apperr.Unauthenticated, "Message expired", err)
		}
		var invalidSig *siwe.InvalidSignature
		if errors.As(err, &invalidSig) {
			return nil, apperr.Wrap(apperr.Unauthenticated, "Invalid signature", err)
		}
		return nil, apperr.Wrap(apperr.Unauthenticated, "Verification failed", err)
	}

	// Challenge consumed; a replay of the same message must re-challenge.
	v.nonces.Revoke(claimed)

	user, err := v.users.GetOrCreateUserByAddress(ctx, claimed)
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "Verification failed", err)
	}

	return &Identity{
		Address: claimed,
		ChainID: msg.GetChainID(),
		IsAdmin: user.IsAdmin,
	}, nil
}

func (v *SiweVerifier) domainAllowed(domain string) bool {
	normalized := NormalizeDomain(domain)
	for _, allowed := range v.domains {
		if allowed == normalized {
			return true
		}
	}
	return false
}
