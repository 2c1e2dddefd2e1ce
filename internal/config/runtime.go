package config

import (
	"errors"
	"io"
	"log"
	"os"

	"github.com/gluk-w/hopshell/internal/logutil"
	"github.com/gluk-w/hopshell/internal/shell"
	"github.com/gluk-w/hopshell/internal/sshkeys"
	"github.com/gluk-w/hopshell/internal/sshtransport"
)

var defaultIdentityFiles = []string{"~/.ssh/id_ed25519", "~/.ssh/id_ecdsa", "~/.ssh/id_rsa"}

// Runtime holds a ready-to-use session configuration and the resources
// backing it. Close releases the agent connection.
type Runtime struct {
	Shell    shell.Config
	Dialer   *sshtransport.SSHDialer
	HostKeys *sshkeys.HostKeyRecorder

	closers []io.Closer
}

func (r *Runtime) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// HopFile returns the configured hop file, or the default chain.
func (s Settings) HopFile() (*HopFile, error) {
	if s.HopsFile != "" {
		return LoadHopFile(s.HopsFile)
	}
	return DefaultHopFile(s)
}

// Runtime builds the shell configuration: the hop chain, key material for
// the first hop, host key policy and timings. creds answers credential
// challenges and may be nil.
func (s Settings) Runtime(creds shell.CredentialFunc) (*Runtime, error) {
	hf, err := s.HopFile()
	if err != nil {
		return nil, err
	}

	var identityFiles []string
	hops, err := hf.ShellHops(func(spec HopSpec) (sshtransport.Endpoint, error) {
		hc, err := ResolveHost(s.SSHConfigPath, spec.Host)
		if err != nil {
			return sshtransport.Endpoint{}, err
		}
		if spec.Port != 0 {
			hc.Port = spec.Port
		}
		if spec.User != "" {
			hc.User = spec.User
		}
		identityFiles = hc.IdentityFiles
		return hc.Endpoint(), nil
	})
	if err != nil {
		return nil, err
	}

	ready, err := compilePrompts(hf.ReadyPrompts)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		Dialer: &sshtransport.SSHDialer{
			ConnectTimeout:    s.ConnectTimeout,
			KeepaliveInterval: s.KeepAlive,
		},
	}

	paths := append(append([]string(nil), s.IdentityFiles...), identityFiles...)
	if len(paths) == 0 {
		paths = defaultIdentityFiles
	}
	signers, err := sshkeys.LoadSigners(paths)
	if err != nil {
		return nil, err
	}

	auth := sshtransport.Auth{Signers: signers}
	socket := s.AgentSocket
	if socket == "" {
		socket = os.Getenv("SSH_AUTH_SOCK")
	}
	if socket != "" {
		ag, closer, err := sshtransport.DialAgent(socket)
		if err != nil {
			log.Printf("[config] ssh agent at %s unavailable: %v", logutil.SanitizeForLog(socket), err)
		} else {
			auth.Agent = ag
			rt.closers = append(rt.closers, closer)
		}
	}

	callback, recorder, err := sshkeys.MakeHostKeyCallback(sshkeys.HostKeyPolicy{
		Strict:              s.StrictHostKeys,
		KnownHostsFiles:     s.KnownHostsFiles,
		ExpectedFingerprint: s.HostFingerprint,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	auth.HostKeyCallback = callback
	rt.HostKeys = recorder

	rt.Shell = shell.Config{
		Hops:            hops,
		ReadyPrompts:    ready,
		QuietInterval:   s.QuietInterval,
		CommandTimeout:  s.CommandTimeout,
		CancelTimeout:   s.CancelTimeout,
		StatusCommand:   hf.StatusCommand,
		DisableHopRetry: s.DisableHopRetry,
		PTY:             sshtransport.PTYOptions{Cols: s.PTYCols, Rows: s.PTYRows},
		Auth:            auth,
		Credentials:     creds,
		Namespace:       s.Namespace,
	}
	if err := rt.Shell.Validate(); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}
