package security

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGenerateSubject(t *testing.T) {
	opts := DefaultOptions([]byte("secret"))
	token, exp, err := Generate(opts, "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(exp) <= 29*time.Minute {
		t.Fatalf("expiry too early: %s", exp)
	}
	sub, err := Subject(opts, token)
	if err != nil {
		t.Fatal(err)
	}
	if sub != "alice@example.com" {
		t.Fatalf("sub = %q", sub)
	}
}

func TestSubjectRejects(t *testing.T) {
	opts := DefaultOptions([]byte("secret"))
	token, _, _ := Generate(opts, "alice")

	if _, err := Subject(DefaultOptions([]byte("other")), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: %v", err)
	}
	if _, err := Subject(opts, "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage: %v", err)
	}

	hs512 := opts
	hs512.Alg = "HS512"
	if _, err := Subject(hs512, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("alg mismatch: %v", err)
	}

	empty, _, _ := Generate(opts, "")
	if _, err := Subject(opts, empty); !errors.Is(err, ErrNoSubject) {
		t.Fatalf("empty subject: %v", err)
	}
}

func TestSubjectExpired(t *testing.T) {
	opts := DefaultOptions([]byte("secret"))
	opts.TTL = time.Nanosecond
	token, _, _ := Generate(opts, "alice")
	time.Sleep(1100 * time.Millisecond)
	if _, err := Subject(opts, token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("want expired, got %v", err)
	}
}

func TestUnsupportedAlg(t *testing.T) {
	_, _, err := Generate(Options{Secret: []byte("s"), Alg: "RS256"}, "alice")
	if err == nil || !strings.Contains(err.Error(), "unsupported alg") {
		t.Fatalf("err = %v", err)
	}
}

func TestHashToken(t *testing.T) {
	if h := HashToken("abc"); !strings.HasPrefix(h, "sha256:") || len(h) != len("sha256:")+64 {
		t.Fatalf("hash = %q", h)
	}
}
