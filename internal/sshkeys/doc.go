// Package sshkeys loads client key material and builds host key callbacks for
// the first hop of a session.
//
// Key material is always owned by the caller. Signers returned by
// [LoadSigners] are handed to the transport for the duration of a connect and
// are never written anywhere by this package.
//
// # Host Key Policy
//
// Two policies are supported:
//
//   - Strict: the host key must be present in one of the configured
//     known_hosts files ([golang.org/x/crypto/ssh/knownhosts]); unknown or
//     changed keys are rejected. An expected fingerprint, if configured, must
//     also match.
//   - Warn: any host key is accepted. The SHA256 fingerprint is recorded and a
//     warning is logged when it differs from the expected fingerprint (Trust On
//     First Use).
//
// [GenerateKeyPair] creates an ED25519 key pair for operators who do not have
// one yet (see the "keygen" CLI command).
package sshkeys
