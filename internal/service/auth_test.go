package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/paycore/tokend/internal/model"
	"github.com/paycore/tokend/internal/store"
	"github.com/paycore/tokend/internal/token"
)

func newTestService(t *testing.T) (*TokenService, *store.Store) {
	t.Helper()
	return newTestServiceWithLog(t, io.Discard)
}

func newTestServiceWithLog(t *testing.T, logOut io.Writer) (*TokenService, *store.Store) {
	t.Helper()
	st, err := store.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	salt, err := token.GenerateSalt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	codec, err := token.NewCodec(token.Config{HMACSecret: "test-hmac-secret", BcryptSalt: salt})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(logOut, nil))
	return NewTokenService(st, codec, logger), st
}

func issue(t *testing.T, svc *TokenService, tenant model.Tenant) IssuedToken {
	t.Helper()
	issued, err := svc.Issue(context.Background(), IssueRequest{
		Tenant:      tenant,
		Description: "d",
		CreatedBy:   "tests@example.com",
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return issued
}

func TestIssueAuthenticateRevokeEndToEnd(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	acct := model.AccountTenant("42")

	issued := issue(t, svc, acct)
	if n := len(issued.APIKey); n < token.MinAPIKeyLength || n > token.MaxAPIKeyLength {
		t.Fatalf("api key length %d outside [%d, %d]", n, token.MinAPIKeyLength, token.MaxAPIKeyLength)
	}

	tok, err := svc.Authenticate(ctx, issued.APIKey)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if tok.AccountID != "42" {
		t.Errorf("got account %q, want 42", tok.AccountID)
	}
	stored, _, _ := st.FindByLinkUnscoped(ctx, issued.Token.Link)
	if stored.LastUsed == nil {
		t.Error("expected last_used to be set after authenticate")
	}

	at, ok, err := svc.Revoke(ctx, acct, RevokeRequest{Link: issued.Token.Link})
	if err != nil || !ok {
		t.Fatalf("Revoke: ok=%v err=%v", ok, err)
	}
	if at.IsZero() {
		t.Error("expected revocation timestamp")
	}

	if _, err := svc.Authenticate(ctx, issued.APIKey); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("got %v, want ErrTokenRevoked", err)
	}
}

func TestAuthenticateOutcomes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	issued := issue(t, svc, model.AccountTenant("42"))

	// Same HMAC secret, different salt: well formed but stored elsewhere.
	other, _ := newTestService(t)
	foreign := issue(t, other, model.AccountTenant("42"))

	tampered := []byte(issued.APIKey)
	if tampered[len(tampered)-1] == 'a' {
		tampered[len(tampered)-1] = 'b'
	} else {
		tampered[len(tampered)-1] = 'a'
	}

	for _, tc := range []struct {
		name string
		key  string
		want error
	}{
		{"empty", "", ErrInvalidToken},
		{"too short", "abc", ErrInvalidToken},
		{"tampered", string(tampered), ErrInvalidToken},
		{"foreign key", foreign.APIKey, ErrUnknownToken},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Authenticate(ctx, tc.key); !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestAuthenticateUnknownToken(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	// Issue through the codec only, so the key is valid but never stored.
	_, apiKey := svc.codec.Issue()
	if _, err := svc.Authenticate(ctx, apiKey); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("got %v, want ErrUnknownToken", err)
	}

	list, _ := st.ListByTenant(ctx, model.AccountTenant("42"), model.TokenStateActive, "")
	if len(list) != 0 {
		t.Errorf("expected no stored tokens, got %d", len(list))
	}
}

func TestIssueValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, tc := range []struct {
		name string
		req  IssueRequest
	}{
		{"no tenant", IssueRequest{Description: "d", CreatedBy: "me"}},
		{"service without mode", IssueRequest{Tenant: model.Tenant{ServiceExternalID: "s"}, Description: "d", CreatedBy: "me"}},
		{"no description", IssueRequest{Tenant: model.AccountTenant("1"), CreatedBy: "me"}},
		{"no creator", IssueRequest{Tenant: model.AccountTenant("1"), Description: "d"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Issue(ctx, tc.req); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("got %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestIssueServiceTenant(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	live := model.ServiceTenant("svc-1", model.ServiceModeLive)

	issued, err := svc.Issue(ctx, IssueRequest{
		Tenant:      live,
		Description: "live key",
		CreatedBy:   "ops",
		PaymentType: model.PaymentTypeDirectDebit,
		Source:      model.TokenSourceProducts,
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tok, err := svc.Authenticate(ctx, issued.APIKey)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if tok.Tenant() != live {
		t.Errorf("got tenant %v, want %v", tok.Tenant(), live)
	}
	if tok.PaymentType != model.PaymentTypeDirectDebit || tok.Source != model.TokenSourceProducts {
		t.Errorf("got tags %s/%s", tok.PaymentType, tok.Source)
	}
}

func TestRevokeByAPIKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	acct := model.AccountTenant("42")
	issued := issue(t, svc, acct)

	if _, ok, _ := svc.Revoke(ctx, model.AccountTenant("43"), RevokeRequest{APIKey: issued.APIKey}); ok {
		t.Fatal("another tenant must not revoke the token")
	}
	if _, ok, err := svc.Revoke(ctx, acct, RevokeRequest{APIKey: issued.APIKey}); err != nil || !ok {
		t.Fatalf("Revoke: ok=%v err=%v", ok, err)
	}
	if _, _, err := svc.Revoke(ctx, acct, RevokeRequest{APIKey: "garbage"}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}
	if _, _, err := svc.Revoke(ctx, acct, RevokeRequest{}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("got %v, want ErrInvalidRequest", err)
	}
}

func TestRevokeByAPIKeyLogsLink(t *testing.T) {
	var buf bytes.Buffer
	svc, _ := newTestServiceWithLog(t, &buf)
	acct := model.AccountTenant("42")
	issued := issue(t, svc, acct)
	buf.Reset()

	if _, ok, err := svc.Revoke(context.Background(), acct, RevokeRequest{APIKey: issued.APIKey}); err != nil || !ok {
		t.Fatalf("Revoke: ok=%v err=%v", ok, err)
	}
	want := `"token_link":"` + string(issued.Token.Link) + `"`
	if !strings.Contains(buf.String(), want) {
		t.Errorf("revoke log %s does not contain %s", buf.String(), want)
	}
	if strings.Contains(buf.String(), issued.APIKey) {
		t.Error("revoke log leaked the api key")
	}
}

func TestUpdateDescriptionAndList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	acct := model.AccountTenant("42")
	a := issue(t, svc, acct)
	b := issue(t, svc, acct)

	ok, err := svc.UpdateDescription(ctx, acct, a.Token.Link, "renamed")
	if err != nil || !ok {
		t.Fatalf("UpdateDescription: ok=%v err=%v", ok, err)
	}
	if _, err := svc.UpdateDescription(ctx, acct, a.Token.Link, ""); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty description: got %v, want ErrInvalidRequest", err)
	}

	ok, err = svc.UpdateDescriptionByLink(ctx, b.Token.Link, "admin rename")
	if err != nil || !ok {
		t.Fatalf("UpdateDescriptionByLink: ok=%v err=%v", ok, err)
	}
	got, ok, _ := svc.GetTokenByLink(ctx, b.Token.Link)
	if !ok || got.Description != "admin rename" {
		t.Errorf("got %+v, want description %q", got, "admin rename")
	}

	n, err := svc.RevokeAll(ctx, acct)
	if err != nil || n != 2 {
		t.Fatalf("RevokeAll: n=%d err=%v", n, err)
	}
	revoked, err := svc.ListTokens(ctx, acct, model.TokenStateRevoked, "")
	if err != nil {
		t.Fatalf("ListTokens: %v", err)
	}
	if len(revoked) != 2 {
		t.Errorf("got %d revoked tokens, want 2", len(revoked))
	}

	ok, _ = svc.UpdateDescription(ctx, acct, a.Token.Link, "after revoke")
	if ok {
		t.Error("update on revoked token must report false")
	}
	got, _, _ = svc.GetToken(ctx, acct, a.Token.Link)
	if got.Description != "renamed" {
		t.Errorf("got description %q, want unchanged", got.Description)
	}
}
