package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/user"
	"strconv"

	"github.com/kevinburke/ssh_config"

	"github.com/gluk-w/hopshell/internal/logutil"
	"github.com/gluk-w/hopshell/internal/sshkeys"
	"github.com/gluk-w/hopshell/internal/sshtransport"
)

// HostConfig is what an OpenSSH client config says about a host alias.
type HostConfig struct {
	Alias         string
	HostName      string
	Port          int
	User          string
	IdentityFiles []string
}

// ResolveHost looks alias up in the OpenSSH client config at path. A
// missing file resolves alias to itself on port 22.
func ResolveHost(path, alias string) (HostConfig, error) {
	hc := HostConfig{Alias: alias, HostName: alias, Port: 22}

	f, err := os.Open(sshkeys.ExpandHome(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("[config] ssh config %s not found, using %s as given", logutil.SanitizeForLog(path), logutil.SanitizeForLog(alias))
			return hc, nil
		}
		return hc, fmt.Errorf("open ssh config: %w", err)
	}
	defer f.Close()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return hc, fmt.Errorf("parse ssh config: %w", err)
	}

	if v, _ := cfg.Get(alias, "HostName"); v != "" {
		hc.HostName = v
	}
	if v, _ := cfg.Get(alias, "Port"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return hc, fmt.Errorf("ssh config: invalid port %q for %s", v, alias)
		}
		hc.Port = port
	}
	if v, _ := cfg.Get(alias, "User"); v != "" {
		hc.User = v
	}
	if files, _ := cfg.GetAll(alias, "IdentityFile"); len(files) > 0 {
		hc.IdentityFiles = files
	}
	return hc, nil
}

// Endpoint returns the dial target, falling back to the local user name.
func (hc HostConfig) Endpoint() sshtransport.Endpoint {
	ep := sshtransport.Endpoint{Host: hc.HostName, Port: hc.Port, User: hc.User}
	if ep.User == "" {
		if u, err := user.Current(); err == nil {
			ep.User = u.Username
		}
	}
	return ep
}
