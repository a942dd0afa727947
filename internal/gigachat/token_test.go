package gigachat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newAuthServer(t *testing.T, fetches *atomic.Int64, expiresIn int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("id:secret"))
		if got := r.Header.Get("Authorization"); got != wantAuth {
			t.Errorf("unexpected authorization header: %s", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if scope := r.PostForm.Get("scope"); scope != "GIGACHAT_API_B2B" {
			t.Errorf("unexpected scope: %s", scope)
		}

		n := fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"token-%d","expires_in":%d}`, n, expiresIn)
	}))
}

func TestTokenIsReusedWithinExpiryWindow(t *testing.T) {
	var fetches atomic.Int64
	srv := newAuthServer(t, &fetches, 1800)
	defer srv.Close()

	ts, err := NewTokenSource(srv.URL, "id", "secret")
	if err != nil {
		t.Fatalf("new token source: %v", err)
	}

	ctx := context.Background()

	first, err := ts.Token(ctx)
	if err != nil {
		t.Fatalf("first token: %v", err)
	}
	second, err := ts.Token(ctx)
	if err != nil {
		t.Fatalf("second token: %v", err)
	}

	if first != second {
		t.Fatalf("expected identical tokens, got %q and %q", first, second)
	}
	if n := fetches.Load(); n != 1 {
		t.Fatalf("expected 1 fetch, got %d", n)
	}
}

func TestTokenRefreshesNearExpiry(t *testing.T) {
	var fetches atomic.Int64
	// expires_in of 61s leaves one second of validity after the buffer.
	srv := newAuthServer(t, &fetches, 61)
	defer srv.Close()

	ts, err := NewTokenSource(srv.URL, "id", "secret")
	if err != nil {
		t.Fatalf("new token source: %v", err)
	}

	ctx := context.Background()

	first, err := ts.Token(ctx)
	if err != nil {
		t.Fatalf("first token: %v", err)
	}

	// Force the cached token into the buffer zone.
	ts.mu.Lock()
	ts.expiresAt = time.Now().Add(-time.Second)
	ts.mu.Unlock()

	second, err := ts.Token(ctx)
	if err != nil {
		t.Fatalf("second token: %v", err)
	}

	if first == second {
		t.Fatal("expected a fresh token after expiry")
	}
	if n := fetches.Load(); n != 2 {
		t.Fatalf("expected 2 fetches, got %d", n)
	}
}

func TestConcurrentCallersShareOneFetch(t *testing.T) {
	var fetches atomic.Int64
	srv := newAuthServer(t, &fetches, 1800)
	defer srv.Close()

	ts, err := NewTokenSource(srv.URL, "id", "secret")
	if err != nil {
		t.Fatalf("new token source: %v", err)
	}

	ctx := context.Background()

	const callers = 8
	tokens := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := ts.Token(ctx)
			if err != nil {
				t.Errorf("token: %v", err)
				return
			}
			tokens[i] = token
		}()
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if tokens[i] != tokens[0] {
			t.Fatalf("expected all callers to share a token, got %q and %q", tokens[0], tokens[i])
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Fatalf("expected a single coalesced fetch, got %d", n)
	}
}

func TestTokenRejectionIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	ts, err := NewTokenSource(srv.URL, "id", "secret")
	if err != nil {
		t.Fatalf("new token source: %v", err)
	}

	if _, err := ts.Token(context.Background()); !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestNewTokenSourceValidation(t *testing.T) {
	if _, err := NewTokenSource("", "id", "secret"); err == nil {
		t.Fatal("expected error for missing auth url")
	}
	if _, err := NewTokenSource("https://auth.example.test", "", ""); err == nil {
		t.Fatal("expected error for missing credentials")
	}
}
