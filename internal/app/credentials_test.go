package app_test

import (
	"encoding/base64"
	"strings"
	"testing"
	"unicode"

	"github.com/neomorfeo/vendoriq/internal/app"
)

func TestGeneratePassword_Policy(t *testing.T) {
	for range 200 {
		pw, err := app.GeneratePassword()
		if err != nil {
			t.Fatalf("GeneratePassword: %v", err)
		}
		if len(pw) != app.PasswordLength {
			t.Fatalf("len = %d, want %d", len(pw), app.PasswordLength)
		}
		var lower, upper, digit bool
		for _, r := range pw {
			switch {
			case unicode.IsLower(r):
				lower = true
			case unicode.IsUpper(r):
				upper = true
			case unicode.IsDigit(r):
				digit = true
			default:
				t.Fatalf("password %q contains non-alphanumeric %q", pw, r)
			}
		}
		if !lower || !upper || !digit {
			t.Fatalf("password %q lacks a character class", pw)
		}
	}
}

func TestGeneratePassword_Distinct(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		pw, err := app.GeneratePassword()
		if err != nil {
			t.Fatalf("GeneratePassword: %v", err)
		}
		if seen[pw] {
			t.Fatalf("duplicate password %q", pw)
		}
		seen[pw] = true
	}
}

func TestGenerateToken(t *testing.T) {
	tok, err := app.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if len(tok) != 43 {
		t.Errorf("len = %d, want 43", len(tok))
	}
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		t.Fatalf("token is not base64url: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("decoded len = %d, want 32", len(raw))
	}

	other, _ := app.GenerateToken()
	if tok == other {
		t.Error("two tokens should differ")
	}
}

func TestDigestToken(t *testing.T) {
	d := app.DigestToken("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if d != want {
		t.Errorf("DigestToken = %q, want %q", d, want)
	}
	if strings.Contains(d, "abc") {
		t.Error("digest should not contain the token")
	}
}
