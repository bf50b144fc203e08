package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/golang-jwt/jwt/v5"
)

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "storefront"}
	now := time.Now().UTC()

	token, err := MintAccessToken(cfg, now, 30*time.Minute, "42")
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	claims, err := ParseAccessToken(cfg, token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.Principal() != "42" {
		t.Fatalf("expected principal 42, got %q", claims.Principal())
	}
	if claims.Issuer != cfg.Issuer {
		t.Fatalf("expected issuer %s, got %s", cfg.Issuer, claims.Issuer)
	}

	exp := now.Add(30 * time.Minute)
	diff := claims.ExpiresAt.Sub(exp)
	if diff < 0 {
		diff = -diff
	}
	if diff >= time.Second {
		t.Fatalf("expected exp roughly %v, got %v", exp, claims.ExpiresAt.UTC())
	}
}

func TestParseAccessTokenAcceptsBearerPrefix(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret"}
	token, err := MintAccessToken(cfg, time.Now(), time.Minute, "7")
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	claims, err := ParseAccessToken(cfg, "Bearer "+token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.Principal() != "7" {
		t.Fatalf("unexpected principal %q", claims.Principal())
	}
}

func TestParseAccessTokenInvalidSignature(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "storefront"}
	token, err := MintAccessToken(cfg, time.Now(), 10*time.Minute, "1")
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	if _, err := ParseAccessToken(cfg, token+"x"); err == nil {
		t.Fatal("expected invalid signature error")
	}
}

func TestParseAccessTokenExpired(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "storefront"}
	token, err := MintAccessToken(cfg, time.Now().Add(-time.Hour), 15*time.Minute, "1")
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	_, err = ParseAccessToken(cfg, token)
	if err == nil {
		t.Fatal("expected expiration error")
	}
	if !strings.Contains(err.Error(), "expired") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseAccessTokenWithoutSecretDecodesOnly(t *testing.T) {
	signed, err := MintAccessToken(config.JWTConfig{Secret: "server-side"}, time.Now(), time.Minute, "99")
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	claims, err := ParseAccessToken(config.JWTConfig{}, signed)
	if err != nil {
		t.Fatalf("expected unverified decode to succeed, got %v", err)
	}
	if claims.Principal() != "99" {
		t.Fatalf("unexpected principal %q", claims.Principal())
	}
}

func TestParseAccessTokenRequiresPrincipal(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret"}
	raw := jwt.NewWithClaims(jwtSigningMethod, AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
	})
	signed, err := raw.SignedString([]byte(cfg.Secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAccessToken(cfg, signed); !errors.Is(err, ErrMissingPrincipal) {
		t.Fatalf("expected ErrMissingPrincipal, got %v", err)
	}
}

func TestMintAccessTokenValidation(t *testing.T) {
	if _, err := MintAccessToken(config.JWTConfig{}, time.Now(), time.Minute, "1"); err == nil {
		t.Fatal("expected missing secret error")
	}
	if _, err := MintAccessToken(config.JWTConfig{Secret: "s"}, time.Now(), time.Minute, " "); !errors.Is(err, ErrMissingPrincipal) {
		t.Fatalf("expected ErrMissingPrincipal, got %v", err)
	}
	if _, err := ParseAccessToken(config.JWTConfig{}, "   "); err == nil {
		t.Fatal("expected empty token error")
	}
}
