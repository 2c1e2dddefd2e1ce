package sshkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/hopshell/internal/logutil"
)

// GenerateKeyPair generates an ED25519 key pair and returns the PEM-encoded
// private key and OpenSSH-format public key.
func GenerateKeyPair() (publicKey, privateKeyPEM []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal private key: %w", err)
	}

	privateKeyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privBytes,
	})

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("create ssh public key: %w", err)
	}
	publicKey = ssh.MarshalAuthorizedKey(sshPub)

	return publicKey, privateKeyPEM, nil
}

// SaveKeyPair writes privateKey to path and publicKey to path+".pub". The
// private key is written with mode 0600 and its directory is created with
// mode 0700 if needed. Existing files are not overwritten.
func SaveKeyPair(path string, privateKey, publicKey []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	for _, p := range []string{path, path + ".pub"} {
		if _, err := os.Stat(p); err == nil {
			return fmt.Errorf("key file %s already exists", p)
		}
	}
	if err := os.WriteFile(path, privateKey, 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(path+".pub", publicKey, 0644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}

	log.Printf("[sshkeys] key pair saved to %s", logutil.SanitizeForLog(path))
	return nil
}

// ParsePrivateKey parses a PEM-encoded private key into an ssh.Signer for
// SSH authentication.
func ParsePrivateKey(privateKeyPEM []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// ExpandHome replaces a leading "~/" with the current user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// LoadSigners reads and parses the private keys at paths. Missing files and
// passphrase-protected keys are skipped with a log line, since the agent may
// still hold them; any other parse failure is an error. The returned signers
// are owned by the caller.
func LoadSigners(paths []string) ([]ssh.Signer, error) {
	var signers []ssh.Signer
	for _, p := range paths {
		p = ExpandHome(p)
		data, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				log.Printf("[sshkeys] identity file %s not found, skipping", logutil.SanitizeForLog(p))
				continue
			}
			return nil, fmt.Errorf("read identity file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			var missing *ssh.PassphraseMissingError
			if errors.As(err, &missing) {
				log.Printf("[sshkeys] identity file %s is passphrase protected, skipping (use the agent)", logutil.SanitizeForLog(p))
				continue
			}
			return nil, fmt.Errorf("parse identity file %s: %w", filepath.Base(p), err)
		}
		signers = append(signers, signer)
	}
	return signers, nil
}

// GetPublicKeyFingerprint calculates the SHA256 fingerprint of an SSH public
// key in authorized_keys format.
func GetPublicKeyFingerprint(publicKey []byte) (string, error) {
	if len(publicKey) == 0 {
		return "", fmt.Errorf("get fingerprint: public key is empty")
	}

	parsed, _, _, _, err := ssh.ParseAuthorizedKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("get fingerprint: parse public key: %w", err)
	}

	return ssh.FingerprintSHA256(parsed), nil
}
