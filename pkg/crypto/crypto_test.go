package crypto

import (
	"errors"
	"strconv"
	"strings"
	"testing"
)

func TestDigestDeterministic(t *testing.T) {
	a := Digest("123456")
	b := Digest("123456")
	if a != b {
		t.Fatalf("Digest: same input gave %q and %q", a, b)
	}
	if a == Digest("123457") {
		t.Fatalf("Digest: different inputs collided")
	}
	// sha256("123456")
	const want = "8d969eef6ecad3c29a3a629280e686cf0c3f5d5a86aff3ca12020c923adc6c92"
	if a != want {
		t.Fatalf("Digest = %q, want %q", a, want)
	}
}

func TestGenerateCodeRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("GenerateCode: %q is not 6 digits", code)
		}
		n, err := strconv.Atoi(code)
		if err != nil || n < CodeMin || n > CodeMax {
			t.Fatalf("GenerateCode: %q out of range", code)
		}
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("secret123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "argon2id$") {
		t.Fatalf("HashPassword: unexpected format %q", hash)
	}

	other, err := HashPassword("secret123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == other {
		t.Fatalf("HashPassword: salts must differ between calls")
	}

	tests := []struct {
		password string
		want     bool
	}{
		{"secret123", true},
		{"secret124", false},
		{"", false},
	}
	for _, tt := range tests {
		ok, err := VerifyPassword(hash, tt.password)
		if err != nil {
			t.Fatalf("VerifyPassword(%q): %v", tt.password, err)
		}
		if ok != tt.want {
			t.Errorf("VerifyPassword(%q) = %v, want %v", tt.password, ok, tt.want)
		}
	}
}

func TestVerifyPasswordMalformed(t *testing.T) {
	for _, encoded := range []string{
		"",
		"8d969eef6ecad3c29a3a629280e686cf0c3f5d5a86aff3ca12020c923adc6c92",
		"bcrypt$abc$def",
		"argon2id$!!!$abc",
	} {
		if _, err := VerifyPassword(encoded, "x"); !errors.Is(err, ErrMalformedHash) {
			t.Errorf("VerifyPassword(%q): want ErrMalformedHash, got %v", encoded, err)
		}
	}
}
