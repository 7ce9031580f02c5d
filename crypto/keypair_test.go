package crypto

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureX25519PrivateKeyGeneratesThenReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "me.pem")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("create keys dir: %v", err)
	}

	first, err := EnsureX25519PrivateKey(path)
	if err != nil {
		t.Fatalf("first ensure failed: %v", err)
	}

	second, err := EnsureX25519PrivateKey(path)
	if err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}

	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Fatal("ensure generated a new key instead of reloading")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("unexpected private key permissions: %v", perm)
	}
}

func TestRemoveX25519PrivateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "me.pem")

	if err := RemoveX25519PrivateKey(path); err != nil {
		t.Fatalf("remove of absent key should be a no-op: %v", err)
	}

	if _, err := EnsureX25519PrivateKey(path); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := RemoveX25519PrivateKey(path); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("key file still present after remove: %v", err)
	}
}

func TestPublicKeyBase64RoundTrip(t *testing.T) {
	key, err := GenerateX25519PrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	encoded := PublicKeyBase64(key)
	parsed, err := ParsePublicKeyBase64(encoded)
	if err != nil {
		t.Fatalf("parse public key: %v", err)
	}
	if !bytes.Equal(parsed.Bytes(), key.PublicKey().Bytes()) {
		t.Fatal("public key round trip mismatch")
	}
}

func TestParsePublicKeyBase64Invalid(t *testing.T) {
	cases := []struct {
		name    string
		encoded string
	}{
		{name: "not base64", encoded: "***"},
		{name: "wrong size", encoded: "c2hvcnQ="},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParsePublicKeyBase64(tc.encoded); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestFormatFingerprint(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{input: "", want: ""},
		{input: "abcd1234", want: "ABCD 1234"},
		{input: "abcd1234ef", want: "ABCD 1234 EF"},
	}

	for _, tc := range cases {
		if got := FormatFingerprint(tc.input); got != tc.want {
			t.Fatalf("FormatFingerprint(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
