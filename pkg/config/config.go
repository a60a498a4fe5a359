// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/lxlee/parallelMultiRun/pkg/task"
)

const (
	DefaultConfigFilename = "config.yml"
	DefaultPort           = 22
)

// ErrConfig is wrapped by every error caused by a missing, unreadable or
// invalid configuration document.
var ErrConfig = errors.New("invalid configuration")

// Host describes one remote host of the fleet.
type Host struct {
	Name       string            `json:"name,omitempty"`
	Host       string            `json:"ip" validate:"required,ip|hostname_rfc1123"`
	Port       int               `json:"port,omitempty" validate:"min=1,max=65535"`
	Username   string            `json:"username" validate:"required"`
	Password   string            `json:"password,omitempty" validate:"required_without=PrivateKey"`
	PrivateKey string            `json:"private_key,omitempty"`
	Passphrase string            `json:"passphrase,omitempty"`
	Env        map[string]string `json:"env,omitempty" validate:"dive,keys,envkey,endkeys"`
}

// Config is the run document: the fleet and the ordered task script.
type Config struct {
	Hosts []*Host   `json:"hosts" validate:"required,min=1,dive,required"`
	Tasks task.List `json:"tasks,omitempty"`
}

// Address returns host:port suitable for dialing.
func (h *Host) Address() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// Label identifies the host in log lines.
func (h *Host) Label() string {
	id := fmt.Sprintf("%s@%s", h.Username, h.Address())
	if h.Name != "" {
		return fmt.Sprintf("%s (%s)", h.Name, id)
	}
	return id
}

// ParseFromFile reads, defaults and validates the document at path.
func ParseFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read file failed: %w", ErrConfig, err)
	}
	return Parse(data)
}

// Parse decodes a YAML (or JSON) document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal yaml failed: %w", ErrConfig, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	for _, h := range c.Hosts {
		if h == nil {
			continue
		}
		if h.Port == 0 {
			h.Port = DefaultPort
		}
		h.PrivateKey = expandHome(h.PrivateKey)
	}
}

// expandHome resolves a leading "~/" against the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
