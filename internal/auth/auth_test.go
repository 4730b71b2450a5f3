package auth

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/davidahmann/steward/pkg/types"
)

func testAuthenticator() *TokenAuthenticator {
	return NewTokenAuthenticator(map[string]Identity{
		"agent-tok": {Subject: "finance-1", Kind: KindAgent, Role: types.RoleFinanceAgent},
		"ops-tok":   {Subject: "ops-lead", Kind: KindHuman},
		"":          {Subject: "ignored", Kind: KindHuman},
	})
}

func TestAuthenticate(t *testing.T) {
	a := testAuthenticator()

	req := httptest.NewRequest("POST", "/v1/evaluate", nil)
	req.Header.Set("Authorization", "Bearer agent-tok")
	id, err := a.Authenticate(req)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !id.IsAgent() || id.Role != types.RoleFinanceAgent || id.Subject != "finance-1" {
		t.Fatalf("unexpected identity: %+v", id)
	}

	cases := map[string]error{
		"":              ErrMissingBearer,
		"Basic abc":     ErrInvalidToken,
		"Bearer ":       ErrInvalidToken,
		"Bearer nope":   ErrInvalidToken,
		"Bearer ignore": ErrInvalidToken,
	}
	for header, want := range cases {
		req := httptest.NewRequest("POST", "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		if _, err := a.Authenticate(req); !errors.Is(err, want) {
			t.Fatalf("%q: expected %v, got %v", header, want, err)
		}
	}
}

func TestAuthenticateApprover(t *testing.T) {
	a := testAuthenticator()
	req := httptest.NewRequest("POST", "/v1/overrides", nil)
	req.Header.Set("Authorization", "Bearer agent-tok")
	if _, err := a.AuthenticateApprover(req); !errors.Is(err, ErrMissingBearer) {
		t.Fatalf("expected missing approver, got %v", err)
	}
	req.Header.Set(ApproverHeader, "Bearer ops-tok")
	id, err := a.AuthenticateApprover(req)
	if err != nil || !id.IsHuman() || id.Subject != "ops-lead" {
		t.Fatalf("unexpected approver: %+v err=%v", id, err)
	}
}
