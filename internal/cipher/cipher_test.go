package cipher

import (
	"bytes"
	"crypto/aes"
	"crypto/sha256"
	"strings"
	"testing"

	"golang.org/x/crypto/pbkdf2"
)

func TestBuildArgsEncrypt(t *testing.T) {
	o := New("supersecret")
	args := o.buildArgs("-in", "plain.bin", "-out", "cipher.enc")

	want := []string{"enc", "-aes-256-cbc", "-pbkdf2", "-iter", "100000", "-in", "plain.bin", "-out", "cipher.enc", "-k", "supersecret"}
	if len(args) != len(want) {
		t.Fatalf("arg count = %d, want %d: %v", len(args), len(want), args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("arg[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestBuildArgsDecryptPrependsFlag(t *testing.T) {
	o := New("k")
	args := o.buildArgs("-d", "-in", "a.enc", "-out", "a.bin")
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-d -in a.enc -out a.bin") {
		t.Errorf("expected decrypt flag before -in/-out, got %q", joined)
	}
}

// TestPBKDF2KeyScheduleShape verifies the key-derivation shape openssl's
// "-pbkdf2 -iter 100000" option implies (PBKDF2-HMAC-SHA256, 100000
// iterations, 32-byte key for AES-256-CBC) so the invariant that a given
// passphrase always derives the same key is checked without shelling out
// to openssl itself.
func TestPBKDF2KeyScheduleShape(t *testing.T) {
	salt := []byte("0123456789abcdef")
	derive := func() []byte {
		return pbkdf2.Key([]byte("supersecret"), salt, 100000, 32, sha256.New)
	}

	k1 := derive()
	k2 := derive()
	if !bytes.Equal(k1, k2) {
		t.Error("expected identical passphrase+salt to derive identical key")
	}
	if len(k1) != 32 {
		t.Errorf("expected 32-byte key for AES-256, got %d", len(k1))
	}
	if _, err := aes.NewCipher(k1); err != nil {
		t.Errorf("derived key should be valid for aes.NewCipher: %v", err)
	}
}

func TestCipherInterfaceSatisfiedByOpenSSL(t *testing.T) {
	var _ Cipher = New("k")
}
