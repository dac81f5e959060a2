// Package cipher wraps the external openssl binary the pipeline treats as
// an injected black box for file-level encryption and decryption
// (spec.md §1, §4.4). Nothing in this package inspects ciphertext format.
package cipher

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/RoseOO/tapebackarr/internal/cmdutil"
)

// Cipher encrypts and decrypts single files with a shared key. The
// Encrypt/Write stages depend on this interface, not on openssl directly,
// so tests can inject a fake.
type Cipher interface {
	Encrypt(ctx context.Context, inPath, outPath string) error
	Decrypt(ctx context.Context, inPath, outPath string) error
}

// OpenSSL shells out to `openssl enc -aes-256-cbc -pbkdf2 -iter 100000`,
// matching original_source's encrypt_single_file command line.
type OpenSSL struct {
	Key string
}

// New returns an OpenSSL cipher bound to key.
func New(key string) *OpenSSL {
	return &OpenSSL{Key: key}
}

// Encrypt runs `openssl enc -aes-256-cbc -pbkdf2 -iter 100000` on inPath,
// writing ciphertext to outPath.
func (o *OpenSSL) Encrypt(ctx context.Context, inPath, outPath string) error {
	return o.run(ctx, "-in", inPath, "-out", outPath)
}

// Decrypt runs the inverse `openssl enc -d ...` invocation.
func (o *OpenSSL) Decrypt(ctx context.Context, inPath, outPath string) error {
	return o.run(ctx, "-d", "-in", inPath, "-out", outPath)
}

func (o *OpenSSL) run(ctx context.Context, extraArgs ...string) error {
	cmd := exec.CommandContext(ctx, "openssl", o.buildArgs(extraArgs...)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("openssl: %s", cmdutil.ErrorDetail(err, bytes.NewBuffer(output)))
	}
	return nil
}

// buildArgs assembles the openssl enc argument vector. Split out from run
// so the command line itself is testable without invoking the binary.
func (o *OpenSSL) buildArgs(extraArgs ...string) []string {
	args := append([]string{"enc", "-aes-256-cbc", "-pbkdf2", "-iter", "100000"}, extraArgs...)
	return append(args, "-k", o.Key)
}

// Fake is a no-subprocess Cipher used by tests in other packages. It
// copies the input file to the output path unchanged, so callers can
// assert on size/hash bookkeeping without an openssl dependency.
type Fake struct {
	EncryptErr error
	DecryptErr error
}

func (f *Fake) Encrypt(ctx context.Context, inPath, outPath string) error {
	if f.EncryptErr != nil {
		return f.EncryptErr
	}
	return copyFile(inPath, outPath)
}

func (f *Fake) Decrypt(ctx context.Context, inPath, outPath string) error {
	if f.DecryptErr != nil {
		return f.DecryptErr
	}
	return copyFile(inPath, outPath)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0600)
}
