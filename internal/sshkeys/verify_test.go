package sshkeys

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func testHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	_, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}
	signer, err := ParsePrivateKey(priv)
	if err != nil {
		t.Fatalf("ParsePrivateKey() error: %v", err)
	}
	return signer.PublicKey()
}

var testRemote = &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 22}

func writeKnownHosts(t *testing.T, host string, key ssh.PublicKey) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{host}, key) + "\n"
	if err := os.WriteFile(path, []byte(line), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVerifyFingerprint(t *testing.T) {
	key := testHostKey(t)
	if err := VerifyFingerprint("h", key, ""); err != nil {
		t.Errorf("empty expected fingerprint should pass, got %v", err)
	}
	if err := VerifyFingerprint("h", key, ssh.FingerprintSHA256(key)); err != nil {
		t.Errorf("matching fingerprint should pass, got %v", err)
	}
	err := VerifyFingerprint("h", key, "SHA256:wrong")
	var mismatch *FingerprintMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected *FingerprintMismatchError, got %v", err)
	}
	if mismatch.Actual != ssh.FingerprintSHA256(key) {
		t.Errorf("Actual = %q", mismatch.Actual)
	}
}

func TestWarnPolicyAcceptsAndRecords(t *testing.T) {
	key := testHostKey(t)
	cb, rec, err := MakeHostKeyCallback(HostKeyPolicy{ExpectedFingerprint: "SHA256:stale"})
	if err != nil {
		t.Fatalf("MakeHostKeyCallback() error: %v", err)
	}
	if err := cb("jump.example.com:22", testRemote, key); err != nil {
		t.Fatalf("warn policy rejected key: %v", err)
	}
	if rec.Fingerprint() != ssh.FingerprintSHA256(key) {
		t.Errorf("recorded %q", rec.Fingerprint())
	}
}

func TestStrictPolicyKnownHost(t *testing.T) {
	key := testHostKey(t)
	path := writeKnownHosts(t, "jump.example.com", key)

	cb, _, err := MakeHostKeyCallback(HostKeyPolicy{Strict: true, KnownHostsFiles: []string{path}})
	if err != nil {
		t.Fatalf("MakeHostKeyCallback() error: %v", err)
	}
	if err := cb("jump.example.com:22", testRemote, key); err != nil {
		t.Fatalf("known host rejected: %v", err)
	}
}

func TestStrictPolicyUnknownHost(t *testing.T) {
	key := testHostKey(t)
	path := writeKnownHosts(t, "other.example.com", key)

	cb, _, err := MakeHostKeyCallback(HostKeyPolicy{Strict: true, KnownHostsFiles: []string{path}})
	if err != nil {
		t.Fatalf("MakeHostKeyCallback() error: %v", err)
	}
	err = cb("jump.example.com:22", testRemote, key)
	var unknown *UnknownHostError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected *UnknownHostError, got %v", err)
	}
}

func TestStrictPolicyChangedKey(t *testing.T) {
	path := writeKnownHosts(t, "jump.example.com", testHostKey(t))

	cb, _, err := MakeHostKeyCallback(HostKeyPolicy{Strict: true, KnownHostsFiles: []string{path}})
	if err != nil {
		t.Fatalf("MakeHostKeyCallback() error: %v", err)
	}
	err = cb("jump.example.com:22", testRemote, testHostKey(t))
	if err == nil {
		t.Fatal("changed host key should be rejected")
	}
	var keyErr *knownhosts.KeyError
	if !errors.As(err, &keyErr) || len(keyErr.Want) == 0 {
		t.Errorf("expected knownhosts mismatch, got %v", err)
	}
}

func TestStrictPolicyWithoutKnownHostsRejects(t *testing.T) {
	cb, _, err := MakeHostKeyCallback(HostKeyPolicy{Strict: true, KnownHostsFiles: []string{"/nonexistent/known_hosts"}})
	if err != nil {
		t.Fatalf("MakeHostKeyCallback() error: %v", err)
	}
	var unknown *UnknownHostError
	if err := cb("jump.example.com:22", testRemote, testHostKey(t)); !errors.As(err, &unknown) {
		t.Fatalf("expected *UnknownHostError, got %v", err)
	}
}

func TestStrictPolicyFingerprintPinned(t *testing.T) {
	key := testHostKey(t)
	path := writeKnownHosts(t, "jump.example.com", key)

	cb, _, err := MakeHostKeyCallback(HostKeyPolicy{
		Strict:              true,
		KnownHostsFiles:     []string{path},
		ExpectedFingerprint: "SHA256:pinned",
	})
	if err != nil {
		t.Fatalf("MakeHostKeyCallback() error: %v", err)
	}
	var mismatch *FingerprintMismatchError
	if err := cb("jump.example.com:22", testRemote, key); !errors.As(err, &mismatch) {
		t.Fatalf("expected *FingerprintMismatchError, got %v", err)
	}
}
