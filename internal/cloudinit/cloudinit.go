// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

// Package cloudinit renders the cloud-config user data that prepares a
// migrated Linux guest for post-migration configuration over SSH.
package cloudinit

import (
	"gopkg.in/yaml.v3"
)

const header = "#cloud-config\n"

// Opts describes the guest preparation.
type Opts struct {
	Hostname          string
	SSHUser           string
	SSHAuthorizedKeys []string
	Packages          []string
	RunCmd            [][]string
}

type user struct {
	Name              string   `yaml:"name"`
	Sudo              string   `yaml:"sudo"`
	Shell             string   `yaml:"shell"`
	LockPasswd        bool     `yaml:"lock_passwd"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys,omitempty"`
}

type document struct {
	Hostname         string     `yaml:"hostname,omitempty"`
	PreserveHostname *bool      `yaml:"preserve_hostname,omitempty"`
	Users            []any      `yaml:"users,omitempty"`
	Packages         []string   `yaml:"packages,omitempty"`
	RunCmd           [][]string `yaml:"runcmd,omitempty"`
}

// Build renders opts as a cloud-config document. The configuration user
// gets passwordless sudo and key-only login; the image's default users are
// kept.
func Build(opts Opts) (string, error) {
	doc := document{
		Hostname: opts.Hostname,
		Packages: opts.Packages,
		RunCmd:   opts.RunCmd,
	}
	if opts.Hostname != "" {
		preserve := false
		doc.PreserveHostname = &preserve
	}
	if opts.SSHUser != "" {
		doc.Users = []any{"default", user{
			Name:              opts.SSHUser,
			Sudo:              "ALL=(ALL) NOPASSWD:ALL",
			Shell:             "/bin/bash",
			LockPasswd:        true,
			SSHAuthorizedKeys: opts.SSHAuthorizedKeys,
		}}
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", err
	}
	if string(out) == "{}\n" {
		return header, nil
	}
	return header + string(out), nil
}

// ForAnsible returns the preparation Ansible needs on a Linux guest: the
// connection user and a Python interpreter.
func ForAnsible(hostname, sshUser string, keys []string) Opts {
	return Opts{
		Hostname:          hostname,
		SSHUser:           sshUser,
		SSHAuthorizedKeys: keys,
		Packages:          []string{"python3"},
	}
}
