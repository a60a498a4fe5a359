// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package ssh

import (
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyPolicy selects how unknown or changed host keys are treated.
type HostKeyPolicy string

const (
	// HostKeyAcceptNew records unknown hosts in known_hosts and rejects
	// changed keys.
	HostKeyAcceptNew HostKeyPolicy = "accept-new"
	// HostKeyStrict only accepts hosts already present in known_hosts.
	HostKeyStrict HostKeyPolicy = "strict"
	// HostKeyInteractive asks on the terminal for every unknown host.
	HostKeyInteractive HostKeyPolicy = "interactive"
	// HostKeyInsecure accepts any key.
	HostKeyInsecure HostKeyPolicy = "insecure"
)

// ParseHostKeyPolicy validates a policy name; empty selects HostKeyAcceptNew.
func ParseHostKeyPolicy(s string) (HostKeyPolicy, error) {
	switch p := HostKeyPolicy(s); p {
	case "":
		return HostKeyAcceptNew, nil
	case HostKeyAcceptNew, HostKeyStrict, HostKeyInteractive, HostKeyInsecure:
		return p, nil
	default:
		return "", fmt.Errorf("unknown host key policy %q", s)
	}
}

// DefaultKnownHostsPath returns default user knows hosts file.
func DefaultKnownHostsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s/.ssh/known_hosts", home), err
}

// configureHostKeyCallback returns the callback matching config's policy.
// A callback set through SetHostKeyCallback takes precedence.
func configureHostKeyCallback(config *Config) (ssh.HostKeyCallback, error) {
	if config.hostKeyCallBack != nil {
		return config.hostKeyCallBack, nil
	}

	policy, err := ParseHostKeyPolicy(string(config.HostKeyPolicy))
	if err != nil {
		return nil, err
	}
	if policy == HostKeyInsecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path := config.KnownHostsPath
	if path == "" {
		if path, err = DefaultKnownHostsPath(); err != nil {
			return nil, err
		}
	}

	switch policy {
	case HostKeyStrict:
		return knownhosts.New(path)
	case HostKeyInteractive:
		return InteractiveHostKeyCallback(path)
	default:
		return AcceptNewHostKeyCallback(path)
	}
}
