package crypto

import (
	"errors"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	if len(salt) != SaltSize*2 {
		t.Fatalf("salt length = %d, want %d", len(salt), SaltSize*2)
	}

	hash, err := HashPassword("hunter2", salt)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	again, _ := HashPassword("hunter2", salt)
	if hash != again {
		t.Fatal("hash is not deterministic for the same salt")
	}

	if !VerifyPassword("hunter2", salt, hash) {
		t.Error("correct password rejected")
	}
	if VerifyPassword("hunter3", salt, hash) {
		t.Error("wrong password accepted")
	}

	other, _ := GenerateSalt()
	if VerifyPassword("hunter2", other, hash) {
		t.Error("password accepted under a different salt")
	}
}

func TestHashPasswordBadSalt(t *testing.T) {
	for _, salt := range []string{"", "zz", "abc"} {
		if _, err := HashPassword("pw", salt); !errors.Is(err, ErrInvalidSalt) {
			t.Errorf("HashPassword(salt=%q) err = %v, want ErrInvalidSalt", salt, err)
		}
		if VerifyPassword("pw", salt, "") {
			t.Errorf("VerifyPassword accepted bad salt %q", salt)
		}
	}
}

func TestGenerateTokenUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		tok, err := GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken: %v", err)
		}
		if len(tok) != 64 {
			t.Fatalf("token length = %d", len(tok))
		}
		if seen[tok] {
			t.Fatalf("duplicate token %s", tok)
		}
		seen[tok] = true
	}
	if HashToken("a") == HashToken("b") {
		t.Error("HashToken collision")
	}
}
