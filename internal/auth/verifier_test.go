package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func signHS256(t *testing.T, secret string, claims map[string]any) string {
	t.Helper()
	enc := base64.RawURLEncoding
	hdr, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	body, _ := json.Marshal(claims)
	input := enc.EncodeToString(hdr) + "." + enc.EncodeToString(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(input))
	return input + "." + enc.EncodeToString(mac.Sum(nil))
}

func TestDevTokens(t *testing.T) {
	v := NewVerifier("", "", "", "")
	p, err := v.Verify("t1:Planner")
	if err != nil || p.Tenant != "t1" || p.Role != RolePlanner {
		t.Fatalf("got %+v %v", p, err)
	}
	if _, err := v.Verify("t1"); err == nil {
		t.Fatalf("expected error for malformed dev token")
	}
}

func TestHMACTokens(t *testing.T) {
	v := NewVerifier("hmac", "s3cret", "", "")
	v.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	tok := signHS256(t, "s3cret", map[string]any{"tenant": "t1", "role": "admin", "sub": "u1", "exp": 1_700_000_600})
	p, err := v.Verify(tok)
	if err != nil || p.Tenant != "t1" || p.Role != RoleAdmin || p.Subject != "u1" {
		t.Fatalf("got %+v %v", p, err)
	}

	if _, err := v.Verify(signHS256(t, "wrong", map[string]any{"tenant": "t1"})); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("want ErrBadSignature, got %v", err)
	}
	if _, err := v.Verify(signHS256(t, "s3cret", map[string]any{"tenant": "t1", "exp": 1_600_000_000})); !errors.Is(err, ErrExpired) {
		t.Fatalf("want ErrExpired, got %v", err)
	}
	p, err = v.Verify(signHS256(t, "s3cret", map[string]any{"tenant": "t1"}))
	if err != nil || p.Role != RoleViewer {
		t.Fatalf("missing role should default to viewer: %+v %v", p, err)
	}
}

func TestPrincipalCan(t *testing.T) {
	if !(Principal{Role: RoleAdmin}).Can(RolePlanner) {
		t.Fatalf("admin should be able to plan")
	}
	if (Principal{Role: RoleViewer}).Can(RolePlanner) {
		t.Fatalf("viewer must not plan")
	}
	if (Principal{Role: "operator"}).Can(RoleViewer) {
		t.Fatalf("unknown role must not read")
	}
}
