package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestOwnerJWTMissingSecret(t *testing.T) {
	mw := OwnerJWT("")
	req := httptest.NewRequest(http.MethodGet, "/bots", nil)
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestOwnerJWTMissingHeader(t *testing.T) {
	mw := OwnerJWT("secret")
	req := httptest.NewRequest(http.MethodGet, "/bots", nil)
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestOwnerJWTInvalidToken(t *testing.T) {
	mw := OwnerJWT("secret")
	req := httptest.NewRequest(http.MethodGet, "/bots", nil)
	req.Header.Set("Authorization", "Bearer "+signedOwnerToken(t, "wrong", uuid.NewString()))
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestOwnerJWTNonUUIDSubject(t *testing.T) {
	mw := OwnerJWT("secret")
	req := httptest.NewRequest(http.MethodGet, "/bots", nil)
	req.Header.Set("Authorization", "Bearer "+signedOwnerToken(t, "secret", "not-a-uuid"))
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestOwnerJWTValidToken(t *testing.T) {
	ownerID := uuid.New()
	mw := OwnerJWT("secret")
	req := httptest.NewRequest(http.MethodGet, "/bots", nil)
	req.Header.Set("Authorization", "Bearer "+signedOwnerToken(t, "secret", ownerID.String()))
	rec := httptest.NewRecorder()

	called := false
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		got, ok := OwnerIDFromContext(r.Context())
		if !ok {
			t.Fatalf("expected owner ID in context")
		}
		if got != ownerID {
			t.Fatalf("expected owner ID %s, got %s", ownerID, got)
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to be called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestOwnerJWTQueryToken(t *testing.T) {
	ownerID := uuid.New()
	mw := OwnerJWT("secret")
	req := httptest.NewRequest(http.MethodGet, "/bots/x/session/events?access_token="+signedOwnerToken(t, "secret", ownerID.String()), nil)
	rec := httptest.NewRecorder()

	called := false
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		got, ok := OwnerIDFromContext(r.Context())
		if !ok || got != ownerID {
			t.Fatalf("expected owner ID %s in context, got %s (ok=%v)", ownerID, got, ok)
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to be called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestOwnerJWTInvalidQueryToken(t *testing.T) {
	mw := OwnerJWT("secret")
	req := httptest.NewRequest(http.MethodGet, "/bots?access_token="+signedOwnerToken(t, "wrong", uuid.NewString()), nil)
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func signedOwnerToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
