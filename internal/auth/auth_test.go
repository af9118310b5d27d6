package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ggonzalez94/mercata-mcp/internal/config"
	clierr "github.com/ggonzalez94/mercata-mcp/internal/errors"
	"github.com/ggonzalez94/mercata-mcp/internal/httpx"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type fakeExchanger struct {
	calls int
	cred  Credential
	err   error
}

func (f *fakeExchanger) Exchange(context.Context) (Credential, error) {
	f.calls++
	return f.cred, f.err
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestAuthenticator(ex Exchanger, now time.Time) (*Authenticator, *MemoryCache) {
	cache := NewMemoryCache()
	a := New("svc-user", cache, ex, quietLogger())
	a.now = func() time.Time { return now }
	return a, cache
}

func TestTokenReusesCredentialOutsideReserve(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ex := &fakeExchanger{cred: Credential{Token: "fresh", ExpiresAt: now.Unix() + 3600}}
	a, cache := newTestAuthenticator(ex, now)
	cache.Put("svc-user", Credential{Token: "cached", ExpiresAt: now.Unix() + 121})

	for i := 0; i < 2; i++ {
		tok, err := a.Token(context.Background())
		if err != nil {
			t.Fatalf("Token failed: %v", err)
		}
		if tok != "cached" {
			t.Fatalf("expected cached token, got %q", tok)
		}
	}
	if ex.calls != 0 {
		t.Fatalf("expected no exchange, got %d", ex.calls)
	}
}

func TestTokenRefreshesInsideReserve(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ex := &fakeExchanger{cred: Credential{Token: "fresh", ExpiresAt: now.Unix() + 3600}}
	a, cache := newTestAuthenticator(ex, now)
	cache.Put("svc-user", Credential{Token: "stale", ExpiresAt: now.Unix() + 100})

	tok, err := a.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok != "fresh" || ex.calls != 1 {
		t.Fatalf("expected one exchange returning fresh, got %q calls=%d", tok, ex.calls)
	}
	cred, _ := cache.Get("svc-user")
	if cred.Token != "fresh" || cred.ExpiresAt != now.Unix()+3600 {
		t.Fatalf("cache not updated: %+v", cred)
	}
}

func TestTokenFailureWrapsAndDoesNotCache(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ex := &fakeExchanger{err: errors.New("invalid_grant")}
	a, cache := newTestAuthenticator(ex, now)

	_, err := a.Token(context.Background())
	cErr, ok := clierr.As(err)
	if !ok || cErr.Code != clierr.CodeAuth || cErr.Message != "Failed to fetch user OAuth token" {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, ok := cache.Get("svc-user"); ok {
		t.Fatal("failed exchange must not be cached")
	}
}

func TestTokenWithoutExpiryWarnsAndExchangesEachCall(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	ex := &fakeExchanger{cred: Credential{Token: "no-expiry"}}
	a := New("svc-user", NewMemoryCache(), ex, log)

	for i := 0; i < 2; i++ {
		tok, err := a.Token(context.Background())
		if err != nil || tok != "no-expiry" {
			t.Fatalf("Token: %q %v", tok, err)
		}
	}
	if ex.calls != 2 {
		t.Fatalf("expected an exchange per call, got %d", ex.calls)
	}
	if len(hook.AllEntries()) != 2 || hook.LastEntry().Level != logrus.WarnLevel {
		t.Fatalf("expected one warning per exchange, got %+v", hook.AllEntries())
	}
}

func TestTokenPassesConfigErrorThrough(t *testing.T) {
	ex := &fakeExchanger{err: clierr.New(clierr.CodeConfig, "missing required setting BA_PASSWORD")}
	a, _ := newTestAuthenticator(ex, time.Now())
	_, err := a.Token(context.Background())
	if !clierr.IsCode(err, clierr.CodeConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestNameClaim(t *testing.T) {
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"name":"alice","sub":"1"}`))
	name, err := NameClaim("hdr." + payload + ".sig")
	if err != nil {
		t.Fatalf("NameClaim failed: %v", err)
	}
	if name != "alice" {
		t.Fatalf("expected alice, got %q", name)
	}

	payload = base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"1"}`))
	name, err = NameClaim("hdr." + payload + ".sig")
	if err != nil || name != "" {
		t.Fatalf("expected empty name without error, got %q err=%v", name, err)
	}

	if _, err := NameClaim("opaque-token"); err == nil {
		t.Fatal("expected error for non-JWT credential")
	}
}

func TestOAuthExchangerPasswordGrant(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	discoveryHits := 0
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		discoveryHits++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"issuer":"` + srv.URL + `","token_endpoint":"` + srv.URL + `/token"}`))
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "password" || r.Form.Get("username") != "svc-user" || r.Form.Get("password") != "pw" {
			t.Errorf("unexpected token form: %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"Bearer","expires_in":300}`))
	})

	settings := config.Settings{
		Username:     "svc-user",
		Password:     "pw",
		ClientID:     "client",
		ClientSecret: "secret",
		DiscoveryURL: srv.URL + "/.well-known/openid-configuration",
	}
	ex := NewOAuthExchanger(settings, httpx.New(5*time.Second, httpx.WithLogger(quietLogger())))

	before := time.Now().Unix()
	for i := 0; i < 2; i++ {
		cred, err := ex.Exchange(context.Background())
		if err != nil {
			t.Fatalf("Exchange failed: %v", err)
		}
		if cred.Token != "abc" {
			t.Fatalf("unexpected token: %+v", cred)
		}
		if cred.ExpiresAt < before+290 || cred.ExpiresAt > time.Now().Unix()+310 {
			t.Fatalf("unexpected expiry: %d", cred.ExpiresAt)
		}
	}
	if discoveryHits != 1 {
		t.Fatalf("expected discovery document to be fetched once, got %d", discoveryHits)
	}
}

func TestOAuthExchangerMissingConfig(t *testing.T) {
	ex := NewOAuthExchanger(config.Settings{Username: "svc-user"}, httpx.New(time.Second, httpx.WithLogger(quietLogger())))
	_, err := ex.Exchange(context.Background())
	if !clierr.IsCode(err, clierr.CodeConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}
