package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gluk-w/hopshell/internal/prompt"
	"github.com/gluk-w/hopshell/internal/sanitize"
	"github.com/gluk-w/hopshell/internal/shell"
	"github.com/gluk-w/hopshell/internal/sshkeys"
	"github.com/gluk-w/hopshell/internal/sshtransport"
)

// HopFile is the YAML description of a hop chain:
//
//	hops:
//	  - kind: connect
//	    name: jump
//	    host: usejump
//	    prompts: [{regexp: '.*[$#]\s*'}]
//	  - kind: login
//	    name: internal
//	    command: ssh 10.0.34.231
//	    timeout: 10s
//	    prompts: [{regexp: '.*[$#]\s*'}]
//	  - kind: elevate
//	    name: svc
//	    command: sudo su - svc
//	    auth:
//	      prompt: {regexp: '\[sudo\] password for [^:]*:\s*'}
//	      reject: 'Sorry, try again'
//	    prompts: [{regexp: '.*[$#]\s*'}]
type HopFile struct {
	Hops          []HopSpec    `yaml:"hops"`
	ReadyPrompts  []PromptSpec `yaml:"ready_prompts,omitempty"`
	StatusCommand string       `yaml:"status_command,omitempty"`
}

type HopSpec struct {
	Kind    string        `yaml:"kind"`
	Name    string        `yaml:"name"`
	Host    string        `yaml:"host,omitempty"`
	Port    int           `yaml:"port,omitempty"`
	User    string        `yaml:"user,omitempty"`
	Command string        `yaml:"command,omitempty"`
	Prompts []PromptSpec  `yaml:"prompts"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
	Auth    *AuthSpec     `yaml:"auth,omitempty"`
	Reject  string        `yaml:"reject,omitempty"`
	// Unreachable matches output meaning the next host could not be
	// reached, as opposed to Reject which means the login was refused.
	Unreachable string `yaml:"unreachable,omitempty"`
}

// PromptSpec is a prompt pattern; exactly one of Suffix and Regexp is set.
type PromptSpec struct {
	Suffix string `yaml:"suffix,omitempty"`
	Regexp string `yaml:"regexp,omitempty"`
}

type AuthSpec struct {
	Prompt PromptSpec `yaml:"prompt"`
	Reject string     `yaml:"reject,omitempty"`
}

// Default prompt expressions cover the whole prompt line so that command
// output never carries the user@host part of a prompt.
var defaultPromptExprs = []string{
	`.*[$#]\s*`,
	`.*\]\$\s*`,
	`.*>\s*`,
}

const (
	sudoChallengeExpr    = `\[sudo\] password for [^:]*:\s*`
	sudoRejectExpr       = `Sorry, try again|is not in the sudoers file|incorrect password attempts`
	loginRejectExpr      = `Permission denied|Too many authentication failures|Host key verification failed`
	loginUnreachableExpr = `Connection refused|Could not resolve hostname|Connection timed out|No route to host|Connection closed by|Connection reset by`
)

func defaultPrompts() []PromptSpec {
	specs := make([]PromptSpec, len(defaultPromptExprs))
	for i, expr := range defaultPromptExprs {
		specs[i] = PromptSpec{Regexp: expr}
	}
	return specs
}

// LoadHopFile reads a YAML hop file.
func LoadHopFile(path string) (*HopFile, error) {
	data, err := os.ReadFile(sshkeys.ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("read hop file: %w", err)
	}
	return ParseHopFile(data)
}

// ParseHopFile decodes a hop file, rejecting unknown keys.
func ParseHopFile(data []byte) (*HopFile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var hf HopFile
	if err := dec.Decode(&hf); err != nil {
		return nil, fmt.Errorf("parse hop file: %w", err)
	}
	if len(hf.Hops) == 0 {
		return nil, errors.New("parse hop file: no hops")
	}
	return &hf, nil
}

// DefaultHopFile is the jump host, internal host, service account chain
// described by s.
func DefaultHopFile(s Settings) (*HopFile, error) {
	ssh, err := sanitize.Command("ssh", sanitize.Identifier("internal host", s.InternalHost))
	if err != nil {
		return nil, err
	}
	account, err := sanitize.ValidateIdentifier(s.ServiceAccount)
	if err != nil {
		return nil, fmt.Errorf("service account: %w", err)
	}
	return &HopFile{
		Hops: []HopSpec{
			{
				Kind:    "connect",
				Name:    "jump",
				Host:    s.JumpHost,
				Prompts: defaultPrompts(),
				Timeout: s.HopTimeout,
			},
			{
				Kind:        "login",
				Name:        "internal",
				Command:     ssh.String(),
				Prompts:     defaultPrompts(),
				Timeout:     s.HopTimeout,
				Reject:      loginRejectExpr,
				Unreachable: loginUnreachableExpr,
			},
			{
				Kind:    "elevate",
				Name:    s.ServiceAccount,
				Command: "sudo su - " + account,
				Prompts: defaultPrompts(),
				Timeout: s.HopTimeout,
				Auth: &AuthSpec{
					Prompt: PromptSpec{Regexp: sudoChallengeExpr},
					Reject: sudoRejectExpr,
				},
			},
		},
	}, nil
}

// Pattern compiles the prompt definition.
func (p PromptSpec) Pattern() (prompt.Pattern, error) {
	switch {
	case p.Suffix != "" && p.Regexp != "":
		return nil, errors.New("prompt sets both suffix and regexp")
	case p.Suffix != "":
		return prompt.Suffix(p.Suffix), nil
	case p.Regexp != "":
		return prompt.Regexp(p.Regexp)
	}
	return nil, errors.New("prompt sets neither suffix nor regexp")
}

func compilePrompts(specs []PromptSpec) ([]prompt.Pattern, error) {
	patterns := make([]prompt.Pattern, 0, len(specs))
	for i, spec := range specs {
		p, err := spec.Pattern()
		if err != nil {
			return nil, fmt.Errorf("prompt %d: %w", i, err)
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

func compileOptional(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	return regexp.Compile(expr)
}

// ShellHops converts the file into shell hops. resolve maps the connect hop's
// host alias to an endpoint.
func (hf *HopFile) ShellHops(resolve func(HopSpec) (sshtransport.Endpoint, error)) ([]shell.Hop, error) {
	hops := make([]shell.Hop, 0, len(hf.Hops))
	for i, spec := range hf.Hops {
		kind, err := shell.ParseHopKind(spec.Kind)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		h := shell.Hop{
			Kind:    kind,
			Name:    spec.Name,
			Command: spec.Command,
			Timeout: spec.Timeout,
		}
		if h.Name == "" {
			h.Name = fmt.Sprintf("hop%d", i)
		}
		if h.Prompts, err = compilePrompts(spec.Prompts); err != nil {
			return nil, fmt.Errorf("hop %s: %w", h.Name, err)
		}
		if h.Reject, err = compileOptional(spec.Reject); err != nil {
			return nil, fmt.Errorf("hop %s reject: %w", h.Name, err)
		}
		if h.Unreachable, err = compileOptional(spec.Unreachable); err != nil {
			return nil, fmt.Errorf("hop %s unreachable: %w", h.Name, err)
		}
		if spec.Auth != nil {
			challenge, err := spec.Auth.Prompt.Pattern()
			if err != nil {
				return nil, fmt.Errorf("hop %s auth prompt: %w", h.Name, err)
			}
			reject, err := compileOptional(spec.Auth.Reject)
			if err != nil {
				return nil, fmt.Errorf("hop %s auth reject: %w", h.Name, err)
			}
			h.Auth = &shell.AuthChallenge{Prompt: challenge, Reject: reject}
		}
		if kind == shell.HopConnect {
			if h.Endpoint, err = resolve(spec); err != nil {
				return nil, fmt.Errorf("hop %s: %w", h.Name, err)
			}
		}
		hops = append(hops, h)
	}
	return hops, nil
}
