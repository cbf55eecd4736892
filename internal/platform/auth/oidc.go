package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// issuerJWKS resolves the jwks_uri from the issuer's OpenID configuration.
// The discovery document must name the same issuer that tokens are checked
// against, otherwise keys from another realm could be trusted.
func issuerJWKS(client *http.Client, issuer string) func() (string, error) {
	want := strings.TrimRight(issuer, "/")
	return func() (string, error) {
		resp, err := client.Get(want + "/.well-known/openid-configuration")
		if err != nil {
			return "", fmt.Errorf("fetch discovery document: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
		}

		var doc struct {
			Issuer  string `json:"issuer"`
			JWKSURI string `json:"jwks_uri"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return "", fmt.Errorf("decode discovery document: %w", err)
		}
		if doc.Issuer != "" && strings.TrimRight(doc.Issuer, "/") != want {
			return "", fmt.Errorf("discovery document issuer %q does not match %q", doc.Issuer, issuer)
		}
		if doc.JWKSURI == "" {
			return "", fmt.Errorf("discovery document missing jwks_uri")
		}
		return doc.JWKSURI, nil
	}
}
