package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v4"

	"finitefield.org/fashion-storefront/internal/clientstate"
	"finitefield.org/fashion-storefront/internal/platform/requestctx"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestClaimsProfile(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{
		"sub":          "user-1",
		"given_name":   "Nadia",
		"family_name":  "Rahman",
		"email":        "nadia@example.com",
		"phone_number": "01712345678",
		"address": map[string]any{
			"street_address": "12 Lake Road",
			"locality":       "Dhaka",
			"postal_code":    "1207",
			"country":        "Bangladesh",
		},
	})

	ctx := requestctx.WithBearerToken(context.Background(), token)
	profile, err := NewClaimsProfile().Profile(ctx)
	if err != nil {
		t.Fatalf("Profile returned error: %v", err)
	}

	want := clientstate.Profile{
		Name:    "Nadia Rahman",
		Email:   "nadia@example.com",
		Phone:   "01712345678",
		Street:  "12 Lake Road",
		City:    "Dhaka",
		ZipCode: "1207",
		Country: "Bangladesh",
	}
	if profile != want {
		t.Fatalf("unexpected profile: %#v", profile)
	}
}

func TestClaimsProfileWithoutToken(t *testing.T) {
	_, err := NewClaimsProfile().Profile(context.Background())
	if !errors.Is(err, clientstate.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimsProfileMalformedToken(t *testing.T) {
	ctx := requestctx.WithBearerToken(context.Background(), "not-a-jwt")
	if _, err := NewClaimsProfile().Profile(ctx); err == nil {
		t.Fatal("expected error for malformed token")
	}
}
