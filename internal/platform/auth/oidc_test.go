package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func issuerServer(t *testing.T, advertisedIssuer func(base string) string, pub *rsa.PublicKey) (*httptest.Server, *int) {
	t.Helper()
	discoveries := 0
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		discoveries++
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   advertisedIssuer(srv.URL),
			"jwks_uri": srv.URL + "/keys",
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "k1",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		})
	})
	return srv, &discoveries
}

func TestIssuerJWKSCache_DiscoversOnce(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv, discoveries := issuerServer(t, func(base string) string { return base + "/" }, &priv.PublicKey)
	defer srv.Close()

	cache := NewIssuerJWKSCache(srv.URL, time.Minute)
	for i := 0; i < 2; i++ {
		key, err := cache.Key("k1")
		if err != nil {
			t.Fatalf("Key() error: %v", err)
		}
		if key.N.Cmp(priv.PublicKey.N) != 0 {
			t.Fatal("fetched key does not match published key")
		}
	}
	if *discoveries != 1 {
		t.Errorf("expected one discovery request, got %d", *discoveries)
	}
}

func TestIssuerJWKSCache_RejectsForeignIssuer(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv, discoveries := issuerServer(t, func(string) string { return "https://other.example.com" }, &priv.PublicKey)
	defer srv.Close()

	cache := NewIssuerJWKSCache(srv.URL, time.Minute)
	_, err = cache.Key("k1")
	if err == nil || !strings.Contains(err.Error(), "does not match") {
		t.Fatalf("expected issuer mismatch, got %v", err)
	}
	// Failure is not cached.
	_, _ = cache.Key("k1")
	if *discoveries != 2 {
		t.Errorf("expected discovery retried, got %d requests", *discoveries)
	}
}

func TestJWKSCache_NoURL(t *testing.T) {
	if _, err := NewJWKSCache("", time.Minute).Key("k1"); err == nil {
		t.Fatal("expected error without a jwks url")
	}
}
