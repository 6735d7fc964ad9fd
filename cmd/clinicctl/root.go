package main

import (
	"errors"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wolfman30/clinic-console/internal/app/bootstrap"
	"github.com/wolfman30/clinic-console/internal/appointments"
	"github.com/wolfman30/clinic-console/internal/catalog"
	appconfig "github.com/wolfman30/clinic-console/internal/config"
	"github.com/wolfman30/clinic-console/internal/patients"
	"github.com/wolfman30/clinic-console/internal/views"
	"github.com/wolfman30/clinic-console/pkg/logging"
)

// Options are the global flags shared by every subcommand.
type Options struct {
	BackendURL string
	Token      string
	LogLevel   string
	Output     string

	cfg    *appconfig.Config
	out    io.Writer
	errOut io.Writer
}

// deps builds what a collection needs for one command run. Logs go to errOut
// so stdout carries only command output.
func (o *Options) deps() (views.Deps, error) {
	if strings.TrimSpace(o.BackendURL) == "" {
		return views.Deps{}, errors.New("backend URL not configured; set BACKEND_BASE_URL or pass --backend")
	}
	cfg := *o.cfg
	cfg.BackendBaseURL = strings.TrimRight(o.BackendURL, "/")
	cfg.BackendAPIToken = o.Token

	logger := logging.NewWithWriter(o.LogLevel, o.errOut)
	m := bootstrap.BuildMetrics(nil)
	client := bootstrap.BuildBackend(&cfg, m, logger)
	deps := bootstrap.BuildDeps(&cfg, client, views.NewMemoryStateStore(), m, logger)
	deps.PrefetchNext = false
	return deps, nil
}

// New creates the root command with all subcommands registered.
func New(out, errOut io.Writer) *cobra.Command {
	cfg := appconfig.Load()
	opts := &Options{cfg: cfg, out: out, errOut: errOut}

	rootCmd := &cobra.Command{
		Use:   "clinicctl",
		Short: "Browse and edit clinic collections",
		Long: `A CLI for the clinic backend. Lists are paged and filtered the
same way the admin UI shows them; writes go straight to the backend.`,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.BackendURL, "backend", cfg.BackendBaseURL, "Backend base URL (default from BACKEND_BASE_URL)")
	flags.StringVar(&opts.Token, "token", cfg.BackendAPIToken, "Bearer token for the backend (default from BACKEND_API_TOKEN)")
	flags.StringVar(&opts.LogLevel, "log-level", "warn", "Log level for diagnostics on stderr")
	flags.StringVarP(&opts.Output, "output", "o", "table", "Output format (table, json)")

	rootCmd.AddCommand(newCollectionCmd(opts, appointments.Definition(), appointmentFilters))
	rootCmd.AddCommand(newCollectionCmd(opts, patients.Definition(), activityFilters))
	rootCmd.AddCommand(newCollectionCmd(opts, catalog.ProductDefinition(), activityFilters))
	rootCmd.AddCommand(newCollectionCmd(opts, catalog.CategoryDefinition(), activityFilters))

	return rootCmd
}
