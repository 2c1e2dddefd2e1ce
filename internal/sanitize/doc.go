// Package sanitize validates values destined for a remote shell command line
// and escapes them for interpolation.
//
// Every command submitted to a shell.Session is a CommandLine, and the only
// way to build one is through Command or Pipeline in this package. That makes
// validation a precondition of submission rather than a convention callers
// have to remember.
//
// # Grammars
//
//   - Identifiers (pod names, namespaces) follow the Kubernetes DNS-1123
//     subdomain rules: lowercase alphanumerics, '-' and '.', at most 253
//     characters, alphanumeric at both ends.
//   - Search tokens allow [A-Za-z0-9._-], 1 to 128 characters.
//   - Flags are trusted literals from the calling layer's allow-list and are
//     only checked against a metacharacter-free grammar.
//
// Neither identifiers nor tokens may start with '-', which would let a value
// be parsed as an option by the remote program. Invalid input is rejected
// with an *InvalidInputError naming the violated rule; nothing is ever
// stripped and retried.
package sanitize
