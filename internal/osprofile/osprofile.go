// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package osprofile describes how each guest OS family is configured after
// migration: which playbook runs, how Ansible connects, which inbound rules
// the landing zone must allow and how the guest is prepared on first boot.
package osprofile

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"cloudshift/internal/cloudinit"
	"cloudshift/internal/constants"
	"cloudshift/internal/faults"
	"cloudshift/internal/migration"
)

// DefaultWinRMPort is the HTTPS WinRM listener used for Windows guests.
const DefaultWinRMPort = 5986

// RegistryOpts holds the settings profiles are built from.
type RegistryOpts struct {
	PlaybookDir       string
	SSHUser           string
	SSHAuthorizedKeys []string
	WinRMPort         int
}

// Option is a functional option for profile construction.
type Option func(*RegistryOpts)

// WithPlaybookDir sets the directory playbooks are resolved against.
func WithPlaybookDir(dir string) Option {
	return func(o *RegistryOpts) { o.PlaybookDir = dir }
}

// WithSSHCredentials sets the Linux configuration user and its keys.
func WithSSHCredentials(user string, keys []string) Option {
	return func(o *RegistryOpts) {
		o.SSHUser = user
		o.SSHAuthorizedKeys = keys
	}
}

// WithWinRMPort overrides the WinRM port.
func WithWinRMPort(port int) Option {
	return func(o *RegistryOpts) { o.WinRMPort = port }
}

// Profile is the resolved configuration recipe of one OS family.
type Profile struct {
	Family   migration.OSFamily
	Playbook string
	// SecurityRules name the catalog rules the landing zone NSG must carry.
	SecurityRules []string
	// ConnectionVars are passed to Ansible as extra vars.
	ConnectionVars map[string]string
	User           string

	keys []string
}

// UserData returns first-boot cloud-init for the guest, or "" when the
// family is not prepared through cloud-init.
func (p Profile) UserData(hostname string) (string, error) {
	if p.Family != migration.Linux {
		return "", nil
	}
	return cloudinit.Build(cloudinit.ForAnsible(hostname, p.User, p.keys))
}

// Factory builds a Profile from resolved options.
type Factory func(*RegistryOpts) Profile

// Registry maps OS families to profile factories.
type Registry map[migration.OSFamily]Factory

// DefaultRegistry returns the Linux and Windows profiles.
func DefaultRegistry() Registry {
	return Registry{
		migration.Linux: func(o *RegistryOpts) Profile {
			return Profile{
				Family:        migration.Linux,
				Playbook:      filepath.Join(o.PlaybookDir, constants.LinuxPlaybook),
				SecurityRules: []string{"allow-ssh"},
				ConnectionVars: map[string]string{
					"ansible_connection": "ssh",
					"ansible_user":       o.SSHUser,
				},
				User: o.SSHUser,
				keys: o.SSHAuthorizedKeys,
			}
		},
		migration.Windows: func(o *RegistryOpts) Profile {
			return Profile{
				Family:        migration.Windows,
				Playbook:      filepath.Join(o.PlaybookDir, constants.WindowsPlaybook),
				SecurityRules: []string{"allow-rdp", "allow-winrm"},
				ConnectionVars: map[string]string{
					"ansible_connection":                   "winrm",
					"ansible_port":                         strconv.Itoa(o.WinRMPort),
					"ansible_winrm_transport":              "ntlm",
					"ansible_winrm_server_cert_validation": "ignore",
				},
			}
		},
	}
}

// Get resolves the profile of family.
func (r Registry) Get(family migration.OSFamily, opts ...Option) (Profile, error) {
	factory, ok := r[family]
	if !ok {
		return Profile{}, faults.Newf(faults.UnsupportedConfiguration, "os profile",
			"unsupported OS family %q; available: %v", family, r.List())
	}
	resolved := &RegistryOpts{
		PlaybookDir: constants.DefaultPlaybookDir,
		SSHUser:     constants.DefaultSSHUser,
		WinRMPort:   DefaultWinRMPort,
	}
	for _, opt := range opts {
		opt(resolved)
	}
	return factory(resolved), nil
}

// MustGet is Get for families known to be registered.
func (r Registry) MustGet(family migration.OSFamily, opts ...Option) Profile {
	p, err := r.Get(family, opts...)
	if err != nil {
		panic(fmt.Sprintf("osprofile: %v", err))
	}
	return p
}

// List returns the registered families in sorted order.
func (r Registry) List() []migration.OSFamily {
	families := make([]migration.OSFamily, 0, len(r))
	for f := range r {
		families = append(families, f)
	}
	sort.Slice(families, func(i, j int) bool { return families[i] < families[j] })
	return families
}

// Playbooks returns every distinct playbook of the registry, sorted.
func (r Registry) Playbooks(opts ...Option) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, f := range r.List() {
		p := r.MustGet(f, opts...)
		if _, dup := seen[p.Playbook]; !dup {
			seen[p.Playbook] = struct{}{}
			out = append(out, p.Playbook)
		}
	}
	sort.Strings(out)
	return out
}
