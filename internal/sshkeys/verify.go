package sshkeys

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/gluk-w/hopshell/internal/logutil"
)

// FingerprintMismatchError is returned when a host key fingerprint does not
// match the expected value. This may indicate key tampering or a MITM attack.
type FingerprintMismatchError struct {
	Host     string
	Expected string
	Actual   string
}

func (e *FingerprintMismatchError) Error() string {
	return fmt.Sprintf("host key fingerprint mismatch for %s: expected %s, got %s (possible MITM attack)", e.Host, e.Expected, e.Actual)
}

// UnknownHostError is returned in strict mode when the host is not present in
// any known_hosts file.
type UnknownHostError struct {
	Host        string
	Fingerprint string
}

func (e *UnknownHostError) Error() string {
	return fmt.Sprintf("host %s is not in known_hosts (fingerprint %s)", e.Host, e.Fingerprint)
}

// HostKeyPolicy configures host key verification for the first hop.
type HostKeyPolicy struct {
	// Strict rejects hosts that are not in KnownHostsFiles.
	Strict bool
	// KnownHostsFiles are OpenSSH known_hosts files. Missing files are
	// ignored.
	KnownHostsFiles []string
	// ExpectedFingerprint, if set, is the SHA256 fingerprint the host key
	// should have ("SHA256:...").
	ExpectedFingerprint string
}

// HostKeyRecorder remembers the fingerprint of the last host key seen by the
// callback it was built with.
type HostKeyRecorder struct {
	mu          sync.Mutex
	fingerprint string
}

// Fingerprint returns the last recorded fingerprint, or "" if the callback
// has not run.
func (r *HostKeyRecorder) Fingerprint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fingerprint
}

func (r *HostKeyRecorder) record(fp string) {
	r.mu.Lock()
	r.fingerprint = fp
	r.mu.Unlock()
}

// VerifyFingerprint checks that key has the expected fingerprint. Returns
// nil if expected is empty (first use).
func VerifyFingerprint(host string, key ssh.PublicKey, expected string) error {
	if expected == "" {
		return nil
	}
	actual := ssh.FingerprintSHA256(key)
	if actual != expected {
		return &FingerprintMismatchError{Host: host, Expected: expected, Actual: actual}
	}
	return nil
}

// MakeHostKeyCallback builds an ssh.HostKeyCallback for policy. The returned
// recorder exposes the fingerprint the server presented.
func MakeHostKeyCallback(policy HostKeyPolicy) (ssh.HostKeyCallback, *HostKeyRecorder, error) {
	rec := &HostKeyRecorder{}

	if !policy.Strict {
		cb := func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			actual := ssh.FingerprintSHA256(key)
			rec.record(actual)
			if policy.ExpectedFingerprint != "" && policy.ExpectedFingerprint != actual {
				log.Printf("[sshkeys] WARNING: host key fingerprint changed for %s: expected %s, got %s (may indicate MITM)",
					logutil.SanitizeForLog(hostname), policy.ExpectedFingerprint, actual)
			}
			return nil
		}
		return cb, rec, nil
	}

	files := existingFiles(policy.KnownHostsFiles)
	var known ssh.HostKeyCallback
	if len(files) > 0 {
		var err error
		known, err = knownhosts.New(files...)
		if err != nil {
			return nil, nil, fmt.Errorf("load known_hosts: %w", err)
		}
	}

	cb := func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		actual := ssh.FingerprintSHA256(key)
		rec.record(actual)
		if known == nil {
			return &UnknownHostError{Host: hostname, Fingerprint: actual}
		}
		if err := known(hostname, remote, key); err != nil {
			var keyErr *knownhosts.KeyError
			if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
				return &UnknownHostError{Host: hostname, Fingerprint: actual}
			}
			return fmt.Errorf("host key verification for %s: %w", hostname, err)
		}
		return VerifyFingerprint(hostname, key, policy.ExpectedFingerprint)
	}
	return cb, rec, nil
}

func existingFiles(paths []string) []string {
	var out []string
	for _, p := range paths {
		p = ExpandHome(p)
		if fileExists(p) {
			out = append(out, p)
		}
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
