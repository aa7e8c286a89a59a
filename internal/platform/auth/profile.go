package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"finitefield.org/fashion-storefront/internal/clientstate"
	"finitefield.org/fashion-storefront/internal/platform/requestctx"
)

// ClaimsProfile reads the shopper profile from the claims of the bearer token forwarded with the
// request. The storefront API verifies the token on every call; the claims are only used to
// prefill display fields, so the signature is not checked here.
type ClaimsProfile struct {
	parser *jwt.Parser
}

// NewClaimsProfile returns a ClaimsProfile.
func NewClaimsProfile() *ClaimsProfile {
	return &ClaimsProfile{parser: jwt.NewParser()}
}

// Profile implements clientstate.ProfileSource.
func (p *ClaimsProfile) Profile(ctx context.Context) (clientstate.Profile, error) {
	token := requestctx.BearerToken(ctx)
	if token == "" {
		return clientstate.Profile{}, clientstate.ErrNotFound
	}
	claims := jwt.MapClaims{}
	if _, _, err := p.parser.ParseUnverified(token, claims); err != nil {
		return clientstate.Profile{}, fmt.Errorf("auth: parse bearer claims: %w", err)
	}
	return profileFromClaims(claims), nil
}

func profileFromClaims(claims jwt.MapClaims) clientstate.Profile {
	profile := clientstate.Profile{
		Name:  firstClaim(claims, "name", "fullName"),
		Email: firstClaim(claims, "email"),
		Phone: firstClaim(claims, "phone_number", "phone"),
	}
	if profile.Name == "" {
		given := firstClaim(claims, "given_name")
		family := firstClaim(claims, "family_name")
		profile.Name = strings.TrimSpace(given + " " + family)
	}
	if address, ok := claims["address"].(map[string]any); ok {
		profile.Street = firstClaim(address, "street_address", "street")
		profile.City = firstClaim(address, "locality", "city")
		profile.State = firstClaim(address, "region", "state")
		profile.ZipCode = firstClaim(address, "postal_code", "zipCode")
		profile.Country = firstClaim(address, "country")
	}
	return profile
}

func firstClaim(claims map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := claims[key].(string); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}
