// Package main is the entrypoint for the guest agent.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/morezero/guest-agent/internal/agent"
	"github.com/morezero/guest-agent/internal/config"
)

// flagValues holds command-line overrides. Only flags the user actually set replace the
// environment configuration.
type flagValues struct {
	commsURL                 string
	commsUser                string
	commsPassword            string
	commsPendingLimit        int
	subject                  string
	statusDatabaseURL        string
	statusSchema             string
	localDatabaseURL         string
	device                   string
	periodicInterval         int
	propagateTransportErrors bool
	aptUseSudo               bool
	httpPort                 int
	logLevel                 string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "guest-agent: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	fv := &flagValues{}
	root := &cobra.Command{
		Use:   "guest-agent",
		Short: "Guest agent: answers control-plane commands over COMMS and reports database server status",
		Long: `guest-agent runs inside a database guest. It listens on guest.<hostname> for commands
(ping, exit, package and database administration) and periodically writes this host's status
row to the status database.

Environment: COMMS_URL, STATUS_DATABASE_URL, STATUS_SCHEMA, LOCAL_DATABASE_URL, PERIODIC_INTERVAL,
GUEST_ETHERNET_DEVICE and more; flags override the environment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, fv)
			if err != nil {
				return err
			}
			return agent.Run(cmd.Context(), cfg)
		},
	}

	bindFlags(root, fv)

	root.AddCommand(
		newServeCmd(fv),
		newMigrateCmd(fv),
		newEnsureDBCmd(fv),
		newClearCmd(fv),
		newStatusCmd(fv),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(fv *flagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the agent (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, fv)
			if err != nil {
				return err
			}
			return agent.Run(cmd.Context(), cfg)
		},
	}
}

// bindFlags registers the configuration override flags on cmd and its subcommands.
func bindFlags(cmd *cobra.Command, fv *flagValues) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&fv.commsURL, "comms-url", "", "COMMS (NATS) server URL")
	pf.StringVar(&fv.commsUser, "comms-user", "", "COMMS user")
	pf.StringVar(&fv.commsPassword, "comms-password", "", "COMMS password")
	pf.IntVar(&fv.commsPendingLimit, "comms-pending-limit", 0, "subscription pending buffer in bytes")
	pf.StringVar(&fv.subject, "subject", "", "subject to listen on (default guest.<hostname>)")
	pf.StringVar(&fv.statusDatabaseURL, "status-db-url", "", "status database URL")
	pf.StringVar(&fv.statusSchema, "status-schema", "", "status database schema")
	pf.StringVar(&fv.localDatabaseURL, "local-db-url", "", "local database server URL")
	pf.StringVar(&fv.device, "device", "", "network device whose IPv4 address is reported")
	pf.IntVar(&fv.periodicInterval, "periodic-interval", 0, "seconds between status refreshes")
	pf.BoolVar(&fv.propagateTransportErrors, "propagate-transport-errors", false, "exit with an error when COMMS fails")
	pf.BoolVar(&fv.aptUseSudo, "apt-use-sudo", true, "run apt-get through sudo -E")
	pf.IntVar(&fv.httpPort, "http-port", 0, "health and metrics port (0 disables)")
	pf.StringVar(&fv.logLevel, "log-level", "", "debug, info, warn or error")
}

// loadConfig reads the environment and applies the flags that were set on the command line.
func loadConfig(cmd *cobra.Command, fv *flagValues) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyFlags(cmd, fv, cfg)
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, fv *flagValues, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("comms-url") {
		cfg.COMMSURL = fv.commsURL
	}
	if flags.Changed("comms-user") {
		cfg.COMMSUser = fv.commsUser
	}
	if flags.Changed("comms-password") {
		cfg.COMMSPassword = fv.commsPassword
	}
	if flags.Changed("comms-pending-limit") {
		cfg.COMMSPendingLimit = fv.commsPendingLimit
	}
	if flags.Changed("subject") {
		cfg.GuestSubject = fv.subject
	}
	if flags.Changed("status-db-url") {
		cfg.StatusDatabaseURL = fv.statusDatabaseURL
	}
	if flags.Changed("status-schema") {
		cfg.StatusSchema = fv.statusSchema
	}
	if flags.Changed("local-db-url") {
		cfg.LocalDatabaseURL = fv.localDatabaseURL
	}
	if flags.Changed("device") {
		cfg.EthernetDevice = fv.device
	}
	if flags.Changed("periodic-interval") {
		cfg.PeriodicInterval = fv.periodicInterval
	}
	if flags.Changed("propagate-transport-errors") {
		cfg.PropagateTransportErrors = fv.propagateTransportErrors
	}
	if flags.Changed("apt-use-sudo") {
		cfg.AptUseSudo = fv.aptUseSudo
	}
	if flags.Changed("http-port") {
		cfg.HTTPPort = fv.httpPort
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = fv.logLevel
	}
}
