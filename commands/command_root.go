// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package commands

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lxlee/parallelMultiRun/pkg/config"
	"github.com/lxlee/parallelMultiRun/pkg/fleet"
	"github.com/lxlee/parallelMultiRun/pkg/logging"
	"github.com/lxlee/parallelMultiRun/pkg/ssh"
)

const (
	cliName        = "parallelrun"
	cliDescription = "Run an ordered task script on a fleet of hosts in parallel"

	// envPrefix is prepended to every flag name to form its environment
	// variable, e.g. PARALLELRUN_COMMAND_TIMEOUT.
	envPrefix = "PARALLELRUN"
)

// flag names, also used as viper keys
const (
	flagConfig         = "config"
	flagVerbose        = "verbose"
	flagLogFormat      = "log-format"
	flagCommandTimeout = "command-timeout"
	flagConnectTimeout = "connect-timeout"
	flagProbeInterval  = "probe-interval"
	flagProbeTimeout   = "probe-timeout"
	flagHostKeyPolicy  = "host-key-policy"
	flagKnownHosts     = "known-hosts"
)

// NewRootCommand builds the command tree. Running the root command itself
// executes the configured task script.
func NewRootCommand() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   cliName,
		Short: cliDescription,
		Long:  cliDescription + ".\n\n" + config.FormatHelp,
		Args:  cobra.NoArgs,
		// errors are reported by main
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommandFunc(cmd, loadSettings(v))
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP(flagConfig, "c", config.DefaultConfigFilename, "path to the configuration file")
	flags.BoolP(flagVerbose, "v", false, "enable verbose output")
	flags.String(flagLogFormat, logging.FormatConsole, "log format: console or json")
	flags.Duration(flagCommandTimeout, 0, "maximum duration of a remote command, 0 waits indefinitely")
	flags.Duration(flagConnectTimeout, ssh.DefaultTimeout, "timeout for connecting to a host")
	flags.Duration(flagProbeInterval, fleet.DefaultProbeInterval, "interval between connectivity probes")
	flags.Duration(flagProbeTimeout, fleet.DefaultProbeTimeout, "timeout of a single connectivity probe")
	flags.String(flagHostKeyPolicy, string(ssh.HostKeyAcceptNew), "host key checking: accept-new, strict, interactive or insecure")
	flags.String(flagKnownHosts, "", "known_hosts file (default ~/.ssh/known_hosts)")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd.AddCommand(
		NewCommandVersion(),
		NewCommandExecute(v),
		NewCommandPing(v),
	)
	return rootCmd
}

// settings are the runtime options resolved from flags and environment.
type settings struct {
	ConfigFile     string
	Verbose        bool
	LogFormat      string
	CommandTimeout time.Duration
	ConnectTimeout time.Duration
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	HostKeyPolicy  string
	KnownHosts     string
}

func loadSettings(v *viper.Viper) *settings {
	return &settings{
		ConfigFile:     v.GetString(flagConfig),
		Verbose:        v.GetBool(flagVerbose),
		LogFormat:      v.GetString(flagLogFormat),
		CommandTimeout: v.GetDuration(flagCommandTimeout),
		ConnectTimeout: v.GetDuration(flagConnectTimeout),
		ProbeInterval:  v.GetDuration(flagProbeInterval),
		ProbeTimeout:   v.GetDuration(flagProbeTimeout),
		HostKeyPolicy:  v.GetString(flagHostKeyPolicy),
		KnownHosts:     v.GetString(flagKnownHosts),
	}
}
