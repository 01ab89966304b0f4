package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"

	"scenariomarket/internal/logger"
)

// ContextKey is the key type for context values
type ContextKey string

const (
	// AddressKey is the context key for the authenticated wallet address
	AddressKey ContextKey = "address"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrAddressMismatch  = errors.New("signature does not match address")
	ErrStaleLogin       = errors.New("login message expired")
	ErrInvalidToken     = errors.New("invalid token")
)

// LoginMessage is the text a wallet signs to log in
func LoginMessage(address common.Address, issuedAt int64) string {
	return fmt.Sprintf("Sign in to Scenario Market\nAddress: %s\nIssued At: %d", address.Hex(), issuedAt)
}

// RecoverAddress returns the signer of an EIP-191 personal_sign signature
func RecoverAddress(message string, signatureHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}

	// Wallets return v as 27/28
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Claims is the session token payload
type Claims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// Issuer exchanges signed login messages for HS256 session tokens
type Issuer struct {
	secret []byte
	ttl    time.Duration
	maxAge time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. maxAge bounds how old a signed login message may be.
func NewIssuer(secret string, ttl, maxAge time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, maxAge: maxAge, now: time.Now}
}

// WithClock overrides the time source, for tests
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Login verifies that address signed LoginMessage(address, issuedAt) recently
// and returns a session token
func (i *Issuer) Login(address common.Address, issuedAt int64, signatureHex string) (string, time.Time, error) {
	now := i.now()
	age := now.Sub(time.Unix(issuedAt, 0))
	if age < -time.Minute || age > i.maxAge {
		return "", time.Time{}, ErrStaleLogin
	}

	signer, err := RecoverAddress(LoginMessage(address, issuedAt), signatureHex)
	if err != nil {
		return "", time.Time{}, err
	}
	if signer != address {
		return "", time.Time{}, ErrAddressMismatch
	}

	token, expires, err := i.Issue(address)
	if err != nil {
		return "", time.Time{}, err
	}
	logger.Info(strings.ToLower(address.Hex()), "login", fmt.Sprintf("expires=%s", expires.Format(time.RFC3339)))
	return token, expires, nil
}

// Issue signs a session token for address
func (i *Issuer) Issue(address common.Address) (string, time.Time, error) {
	now := i.now()
	expires := now.Add(i.ttl)
	claims := Claims{
		Address: strings.ToLower(address.Hex()),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strings.ToLower(address.Hex()),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses a session token and returns its address
func (i *Issuer) Verify(tokenString string) (common.Address, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !common.IsHexAddress(claims.Address) {
		return common.Address{}, ErrInvalidToken
	}
	return common.HexToAddress(claims.Address), nil
}

// Middleware attaches the caller's address to the context when a valid
// bearer token is present. Requests without one pass through; handlers
// that need a caller use RequireAuth.
func Middleware(issuer *Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeUnauthorized(w, "invalid authorization header format")
				return
			}

			address, err := issuer.Verify(parts[1])
			if err != nil {
				logger.Debug("", "auth_failed", err.Error())
				writeUnauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(contextWithAddress(r.Context(), address)))
		})
	}
}

// RequireAuth rejects requests that Middleware did not authenticate
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetAddressFromContext(r.Context()); !ok {
			writeUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":"UNAUTHENTICATED","message":%q}`, message)
}

// contextWithAddress adds the caller's address to the context
func contextWithAddress(ctx context.Context, address common.Address) context.Context {
	return context.WithValue(ctx, AddressKey, address)
}

// GetAddressFromContext retrieves the caller's address from the context
func GetAddressFromContext(ctx context.Context) (common.Address, bool) {
	address, ok := ctx.Value(AddressKey).(common.Address)
	return address, ok
}
