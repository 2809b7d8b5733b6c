package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"healthrecords/models"
)

const issuer = "healthrecords"

// Claims carried by a session token.
type Claims struct {
	AccountID string `json:"account_id"`
	jwt.RegisteredClaims
}

// Session is an authenticated sign-in.
type Session struct {
	AccountID string    `json:"account_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Authenticator signs accounts up and in and issues session tokens. Signed
// out tokens are remembered until they would have expired anyway.
type Authenticator struct {
	store  CredentialStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewAuthenticator(store CredentialStore, secret []byte, ttl time.Duration) (*Authenticator, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("session secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{
		store:   store,
		secret:  secret,
		ttl:     ttl,
		now:     time.Now,
		revoked: make(map[string]time.Time),
	}, nil
}

// SignUp creates a credential with a fresh account id and signs it in.
func (a *Authenticator) SignUp(ctx context.Context, email, password string) (*Session, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %v", err)
	}
	cred := &Credential{
		AccountID:    uuid.NewString(),
		Email:        normalizeEmail(email),
		PasswordHash: hash,
		CreatedAt:    a.now().UTC(),
	}
	if err := a.store.Create(ctx, cred); err != nil {
		return nil, err
	}
	log.Printf("Created account %s", cred.AccountID)
	return a.issue(cred.AccountID)
}

func (a *Authenticator) SignIn(ctx context.Context, email, password string) (*Session, error) {
	cred, err := a.store.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, models.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword(cred.PasswordHash, []byte(password)); err != nil {
		return nil, models.ErrInvalidCredentials
	}
	return a.issue(cred.AccountID)
}

// Verify checks a session token and returns its claims. Expired, forged and
// signed out tokens all fail with ErrNotSignedIn.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", models.ErrNotSignedIn, err)
	}

	a.mu.Lock()
	_, revoked := a.revoked[claims.ID]
	a.mu.Unlock()
	if revoked {
		return nil, models.ErrNotSignedIn
	}
	return claims, nil
}

// SignOut revokes a token. Signing out an invalid token is not an error.
func (a *Authenticator) SignOut(token string) {
	claims, err := a.Verify(token)
	if err != nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	for id, exp := range a.revoked {
		if now.After(exp) {
			delete(a.revoked, id)
		}
	}
	a.revoked[claims.ID] = claims.ExpiresAt.Time
	log.Printf("Signed out account %s", claims.AccountID)
}

// Discard revokes a fresh sign-up session and removes its credential, so
// the email can be registered again after a failed registration.
func (a *Authenticator) Discard(ctx context.Context, session *Session) error {
	a.SignOut(session.Token)
	if err := a.store.Delete(ctx, session.AccountID); err != nil {
		return fmt.Errorf("failed to remove credential of %s: %w", session.AccountID, err)
	}
	log.Printf("Discarded account %s", session.AccountID)
	return nil
}

func (a *Authenticator) issue(accountID string) (*Session, error) {
	now := a.now()
	expires := now.Add(a.ttl)
	claims := Claims{
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %v", err)
	}
	return &Session{AccountID: accountID, Token: signed, ExpiresAt: expires}, nil
}
