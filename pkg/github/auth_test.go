package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return key, pem.EncodeToMemory(block)
}

func TestGenerateJWT(t *testing.T) {
	key, pemBytes := testKey(t)
	now := time.Now()

	signed, err := generateJWT("12345", pemBytes, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (any, error) {
		return &key.PublicKey, nil
	})
	if err != nil || !token.Valid {
		t.Fatalf("token does not verify: %v", err)
	}
	if iss, _ := claims.GetIssuer(); iss != "12345" {
		t.Errorf("expected issuer 12345, got %q", iss)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp.After(now.Add(jwtLifetime+time.Second)) {
		t.Errorf("expiry %v exceeds the allowed lifetime", exp)
	}
}

func TestGenerateJWT_PKCS8(t *testing.T) {
	key, _ := testKey(t)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	if _, err := generateJWT("1", pemBytes, time.Now()); err != nil {
		t.Errorf("PKCS8 key should be accepted: %v", err)
	}
	if _, err := generateJWT("1", []byte("not a key"), time.Now()); err == nil {
		t.Error("expected error for garbage key")
	}
}

func TestAppAuth_CurrentJWTIsReused(t *testing.T) {
	_, pemBytes := testKey(t)
	a := &appAuth{appID: "1", privateKey: pemBytes}
	now := time.Now()

	first, err := a.currentJWT(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	same, err := a.currentJWT(now.Add(time.Minute))
	if err != nil || same != first {
		t.Errorf("expected cached JWT inside refresh window (%v)", err)
	}
	fresh, err := a.currentJWT(now.Add(jwtRefreshAfter + time.Second))
	if err != nil || fresh == first {
		t.Errorf("expected new JWT after refresh window (%v)", err)
	}
}

func TestValidateAppID(t *testing.T) {
	for id, wantErr := range map[string]bool{
		"12345":      false,
		"abc":        true,
		"0":          true,
		"-5":         true,
		"9999999999": true,
	} {
		if err := validateAppID(id); (err != nil) != wantErr {
			t.Errorf("validateAppID(%q) error = %v, wantErr %v", id, err, wantErr)
		}
	}
}

func TestLoadPrivateKey(t *testing.T) {
	_, pemBytes := testKey(t)
	dir := t.TempDir()

	secure := filepath.Join(dir, "secure.pem")
	if err := os.WriteFile(secure, pemBytes, 0o600); err != nil {
		t.Fatal(err)
	}
	loose := filepath.Join(dir, "loose.pem")
	if err := os.WriteFile(loose, pemBytes, 0o644); err != nil {
		t.Fatal(err)
	}
	notPEM := filepath.Join(dir, "notpem.pem")
	if err := os.WriteFile(notPEM, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		content []byte
		wantErr bool
	}{
		{name: "content wins", content: pemBytes, path: loose},
		{name: "secure file", path: secure},
		{name: "insecure permissions", path: loose, wantErr: true},
		{name: "relative path", path: "key.pem", wantErr: true},
		{name: "directory", path: dir, wantErr: true},
		{name: "not pem", path: notPEM, wantErr: true},
		{name: "nothing", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadPrivateKey(tt.content, tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("loadPrivateKey() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewAppAuth_FromEnvironment(t *testing.T) {
	_, pemBytes := testKey(t)
	t.Setenv("GITHUB_APP_ID", "4242")
	t.Setenv("GITHUB_APP_KEY", string(pemBytes))

	a, err := newAppAuth("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.appID != "4242" || a.jwt == "" {
		t.Errorf("expected app 4242 with a minted JWT, got %+v", a.appID)
	}
}

func TestClient_InstallationToken(t *testing.T) {
	_, pemBytes := testKey(t)
	var listed, minted atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Errorf("expected bearer JWT for %s, got %q", r.URL.Path, r.Header.Get("Authorization"))
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/app/installations":
			listed.Add(1)
			writeJSON(t, w, http.StatusOK, []map[string]any{
				{"id": 5, "account": map[string]any{"login": "acme", "type": "Organization"}},
				{"id": 6, "account": map[string]any{"login": "dana", "type": "User"}},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/app/installations/5/access_tokens":
			minted.Add(1)
			writeJSON(t, w, http.StatusCreated, map[string]any{
				"token":      "ghs_installation",
				"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	c.token = ""
	c.app = &appAuth{
		appID:              "1",
		privateKey:         pemBytes,
		installationTokens: make(map[string]string),
		installationExpiry: make(map[string]time.Time),
		installationIDs:    make(map[string]int),
		installationTypes:  make(map[string]string),
	}

	scoped := c.ForOrg("acme")
	for range 2 {
		tok, err := scoped.Token(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tok != "ghs_installation" {
			t.Errorf("expected installation token, got %q", tok)
		}
	}

	if listed.Load() != 1 || minted.Load() != 1 {
		t.Errorf("expected one listing and one mint, got %d and %d", listed.Load(), minted.Load())
	}
	if !c.IsUserAccount("dana") || c.IsUserAccount("acme") {
		t.Error("installation account types not recorded")
	}
	if _, err := c.ForOrg("unknown").Token(context.Background()); err == nil {
		t.Error("expected error for an org without installation")
	}
}
