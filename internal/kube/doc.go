// Package kube runs a fixed set of read-only kubectl operations through an
// elevated shell session.
//
// Only the get, describe, logs and top subcommands can be issued. Every
// argument is built through the sanitize package, so a pod name or search
// keyword that fails validation never reaches the remote shell.
package kube
