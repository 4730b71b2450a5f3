package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/davidahmann/steward/pkg/types"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
	ErrForbidden     = errors.New("identity may not perform this operation")
)

const ApproverHeader = "X-Approver-Token"

type Kind string

const (
	KindAgent Kind = "agent"
	KindHuman Kind = "human"
)

// Identity is the authenticated caller. Agents carry the role the gate
// evaluates them under; humans grant overrides and sit on the council.
type Identity struct {
	Subject string     `json:"subject"`
	Kind    Kind       `json:"kind"`
	Role    types.Role `json:"role,omitempty"`
}

func (i Identity) IsAgent() bool { return i.Kind == KindAgent }
func (i Identity) IsHuman() bool { return i.Kind == KindHuman }

type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
	AuthenticateApprover(r *http.Request) (Identity, error)
}

// TokenAuthenticator maps static bearer tokens to identities.
type TokenAuthenticator struct {
	tokens map[string]Identity
}

func NewTokenAuthenticator(tokens map[string]Identity) *TokenAuthenticator {
	copied := make(map[string]Identity, len(tokens))
	for token, id := range tokens {
		if token != "" {
			copied[token] = id
		}
	}
	return &TokenAuthenticator{tokens: copied}
}

func (a *TokenAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	bearer, err := extractBearer(r.Header.Get("Authorization"))
	if err != nil {
		return Identity{}, err
	}
	return a.lookup(bearer)
}

// AuthenticateApprover resolves the second identity of a dual-control
// request from the approver header.
func (a *TokenAuthenticator) AuthenticateApprover(r *http.Request) (Identity, error) {
	bearer, err := extractBearer(r.Header.Get(ApproverHeader))
	if err != nil {
		return Identity{}, err
	}
	return a.lookup(bearer)
}

func (a *TokenAuthenticator) lookup(token string) (Identity, error) {
	id, ok := a.tokens[token]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}

func extractBearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingBearer
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
