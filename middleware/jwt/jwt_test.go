package jwt

import (
	"errors"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var alice = Identity{UserID: 42, Name: "Alice Liddell", Email: "alice@example.com"}

func TestGenerateAndParse(t *testing.T) {
	tm := NewTokenManager("test-secret", 24, 168)

	token, err := tm.GenerateToken(alice)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := tm.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if claims.Identity != alice {
		t.Errorf("Expected identity %+v, got %+v", alice, claims.Identity)
	}
	if claims.Subject != "42" {
		t.Errorf("Expected subject 42, got %s", claims.Subject)
	}

	now := time.Now()
	if claims.IssuedAt.Time.After(now) {
		t.Error("IssuedAt is in the future")
	}
	if claims.ExpiresAt.Time.Before(now) {
		t.Error("ExpiresAt is in the past")
	}
}

func TestParseToken_Invalid(t *testing.T) {
	tm := NewTokenManager("test-secret", 24, 168)

	other, err := NewTokenManager("other-secret", 24, 168).GenerateToken(alice)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	anonymous, err := tm.GenerateToken(Identity{Name: "nobody"})
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Identity:         alice,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"},
	})
	foreignSigned, err := foreign.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"malformed", "not.a.valid.token"},
		{"garbage", "randomstring"},
		{"wrong secret", other},
		{"missing user id", anonymous},
		{"wrong issuer", foreignSigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tm.ParseToken(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestParseToken_Expired(t *testing.T) {
	tm := NewTokenManager("test-secret", 0, 168)
	tm.expireDur = time.Millisecond

	token, err := tm.GenerateToken(alice)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := tm.ParseToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Expected ErrExpiredToken, got %v", err)
	}
}

func TestRefreshToken(t *testing.T) {
	t.Run("within window before expiry", func(t *testing.T) {
		tm := NewTokenManager("test-secret", 1, 2)

		token, err := tm.GenerateToken(alice)
		if err != nil {
			t.Fatalf("GenerateToken failed: %v", err)
		}
		refreshed, err := tm.RefreshToken(token)
		if err != nil {
			t.Fatalf("RefreshToken failed: %v", err)
		}
		claims, err := tm.ParseToken(refreshed)
		if err != nil {
			t.Fatalf("ParseToken failed: %v", err)
		}
		if claims.Identity != alice {
			t.Errorf("Expected identity %+v, got %+v", alice, claims.Identity)
		}
	})

	t.Run("expired within window", func(t *testing.T) {
		tm := NewTokenManager("test-secret", 1, 1)
		tm.expireDur = 10 * time.Millisecond

		token, err := tm.GenerateToken(alice)
		if err != nil {
			t.Fatalf("GenerateToken failed: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
		tm.expireDur = time.Hour

		refreshed, err := tm.RefreshToken(token)
		if err != nil {
			t.Fatalf("RefreshToken failed: %v", err)
		}
		if _, err := tm.ParseToken(refreshed); err != nil {
			t.Fatalf("ParseToken failed for refreshed token: %v", err)
		}
	})

	t.Run("expired beyond window", func(t *testing.T) {
		tm := NewTokenManager("test-secret", 0, 0)
		tm.expireDur = 10 * time.Millisecond
		tm.refreshDur = 20 * time.Millisecond

		token, err := tm.GenerateToken(alice)
		if err != nil {
			t.Fatalf("GenerateToken failed: %v", err)
		}
		time.Sleep(50 * time.Millisecond)

		if _, err := tm.RefreshToken(token); !errors.Is(err, ErrRefreshTooLate) {
			t.Errorf("Expected ErrRefreshTooLate, got %v", err)
		}
	})

	t.Run("too early", func(t *testing.T) {
		tm := NewTokenManager("test-secret", 24, 1)

		token, err := tm.GenerateToken(alice)
		if err != nil {
			t.Fatalf("GenerateToken failed: %v", err)
		}
		if _, err := tm.RefreshToken(token); !errors.Is(err, ErrRefreshTooEarly) {
			t.Errorf("Expected ErrRefreshTooEarly, got %v", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		tm := NewTokenManager("test-secret", 24, 168)
		if _, err := tm.RefreshToken("invalid.token.string"); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Expected ErrInvalidToken, got %v", err)
		}
	})
}
