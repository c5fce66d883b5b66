package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestValidateServiceToken(t *testing.T) {
	if err := ValidateServiceToken("", "expected"); err == nil {
		t.Fatalf("expected missing token error")
	}
	if err := ValidateServiceToken("bad", "expected"); err == nil {
		t.Fatalf("expected invalid token error")
	}
	if err := ValidateServiceToken("expected", "expected"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJWTGenerateValidate(t *testing.T) {
	secret := []byte("s3cr3t")
	token, err := GenerateJWT("user1", "u@example.com", "admin", secret)
	if err != nil {
		t.Fatalf("generate jwt: %v", err)
	}
	claims, err := ValidateJWT(token, secret)
	if err != nil {
		t.Fatalf("validate jwt: %v", err)
	}
	if claims.UserID != "user1" || claims.Email != "u@example.com" || claims.Role != "admin" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
}

func TestJWTRejectsWrongSecret(t *testing.T) {
	token, err := GenerateJWT("user1", "u@example.com", "user", []byte("right"))
	if err != nil {
		t.Fatalf("generate jwt: %v", err)
	}
	if _, err := ValidateJWT(token, []byte("wrong")); !errors.Is(err, ErrInvalidJWT) {
		t.Fatalf("expected ErrInvalidJWT, got %v", err)
	}
}

func TestJWTRejectsExpiredToken(t *testing.T) {
	secret := []byte("s3cr3t")
	claims := Claims{
		UserID: "user1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := ValidateJWT(token, secret); !errors.Is(err, ErrExpiredJWT) {
		t.Fatalf("expected ErrExpiredJWT, got %v", err)
	}
}

func TestJWTRejectsUnexpectedAlgorithm(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "user1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := ValidateJWT(token, []byte("s3cr3t")); err == nil {
		t.Fatalf("expected rejection of alg=none token")
	}
}
