package auth

import (
	"strings"
	"testing"
	"time"
)

func directorClaims() Claims {
	return Claims{
		Sub:  "usr_1",
		Name: "Dana Director",
		Role: "director",
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	}
}

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	for _, role := range []string{"viewer", "builder", "director"} {
		in := directorClaims()
		in.Role = role

		issued, err := IssueToken(secret, in)
		if err != nil {
			t.Fatalf("IssueToken(%s) error = %v", role, err)
		}
		claims, err := ParseToken(secret, issued)
		if err != nil {
			t.Fatalf("ParseToken(%s) error = %v", role, err)
		}
		if claims.Sub != "usr_1" || claims.Name != "Dana Director" || claims.Role != role {
			t.Fatalf("unexpected claims for %s: %+v", role, claims)
		}
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	in := directorClaims()
	in.Exp = time.Now().Add(-time.Minute).Unix()

	issued, err := IssueToken(secret, in)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); err != ErrExpiredToken {
		t.Fatalf("ParseToken() error = %v, want ErrExpiredToken", err)
	}
}

func TestParseTokenRequiresRole(t *testing.T) {
	secret := []byte("secret")
	in := directorClaims()
	in.Role = ""

	issued, err := IssueToken(secret, in)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); err != ErrInvalidToken {
		t.Fatalf("ParseToken() error = %v, want ErrInvalidToken for a role-less token", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, directorClaims())
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	// Splice a different payload onto the original signature.
	other := directorClaims()
	other.Sub = "usr_2"
	forged, err := IssueToken(secret, other)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	spliced := strings.Split(forged, ".")[0] + "." + strings.Split(issued, ".")[1]
	if _, err := ParseToken(secret, spliced); err != ErrInvalidToken {
		t.Fatalf("ParseToken(spliced) error = %v, want ErrInvalidToken", err)
	}

	if _, err := ParseToken([]byte("other-secret"), issued); err != ErrInvalidToken {
		t.Fatalf("ParseToken(wrong secret) error = %v, want ErrInvalidToken", err)
	}
	if _, err := ParseToken(secret, "not-a-token"); err != ErrInvalidToken {
		t.Fatalf("ParseToken(garbage) error = %v, want ErrInvalidToken", err)
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("rft_abc") != HashToken("rft_abc") {
		t.Error("hash must be deterministic")
	}
	if HashToken("rft_abc") == HashToken("rft_abd") {
		t.Error("distinct tokens must not collide on a one-character change")
	}
}
