package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	idplookup "github.com/giantswarm/idp-lookup"
	"github.com/giantswarm/idp-lookup/instrumentation"
)

// options are the flags shared by every subcommand
type options struct {
	configFile      string
	credentialsFile string
	listenAddr      string
	logLevel        string
	logFormat       string
	allowInsecure   bool
	exactSearch     bool
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "idp-lookup",
		Short: "Look up identity provider users by attribute",
		Long: `idp-lookup is a small HTTP service that answers "which user has this
attribute value?" against a Keycloak realm. It authenticates with the client
credentials grant, keeps its token fresh, and returns the first user whose
attribute matches exactly.`,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "YAML configuration file")
	flags.StringVar(&opts.credentialsFile, "credentials", "", "Keycloak client credentials file (default \"client-credentials.json\")")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	flags.BoolVar(&opts.allowInsecure, "allow-insecure-issuer", false, "allow a plain HTTP auth-server-url")
	flags.BoolVar(&opts.exactSearch, "exact-search", false, "ask Keycloak for exact matches (exact=true)")

	rootCmd.AddCommand(
		newServeCommand(opts),
		newTokenCommand(opts),
		newLookupCommand(opts),
		newVersionCommand(),
	)

	return rootCmd
}

// newLogger builds the slog logger selected by the log flags
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

// loadConfig reads the config file, if any, and applies flags the user set.
func loadConfig(cmd *cobra.Command, opts *options) (*idplookup.Config, error) {
	cfg := idplookup.DefaultConfig()
	if opts.configFile != "" {
		var err error
		if cfg, err = idplookup.LoadConfigFile(opts.configFile); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("credentials") {
		cfg.CredentialsFile = opts.credentialsFile
	}
	if flags.Changed("listen") {
		cfg.ListenAddr = opts.listenAddr
	}
	if flags.Changed("allow-insecure-issuer") {
		cfg.Provider.AllowInsecureIssuer = opts.allowInsecure
	}
	if flags.Changed("exact-search") {
		cfg.Lookup.ExactSearch = opts.exactSearch
	}

	logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)
	if err != nil {
		return nil, err
	}
	cfg.Logger = logger

	return cfg, nil
}

// newServer loads the configuration and builds a server backed by Keycloak.
// The returned cleanup releases the server and any instrumentation.
func newServer(ctx context.Context, cmd *cobra.Command, opts *options) (*idplookup.Server, func(), error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var inst *instrumentation.Instrumentation
	if cfg.Telemetry.Enabled {
		inst, err = instrumentation.New(instrumentation.Config{
			Enabled:        true,
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
		}
		cfg.Instrumentation = inst
	}

	shutdownInstrumentation := func() {
		if inst != nil {
			_ = inst.Shutdown(context.WithoutCancel(ctx))
		}
	}

	provider, err := idplookup.NewKeycloakProvider(ctx, cfg)
	if err != nil {
		shutdownInstrumentation()
		return nil, nil, err
	}

	srv, err := idplookup.NewServer(provider, cfg)
	if err != nil {
		shutdownInstrumentation()
		return nil, nil, err
	}

	cleanup := func() {
		if err := srv.Shutdown(context.WithoutCancel(ctx)); err != nil {
			cfg.Logger.Warn("Shutdown failed", "error", err)
		}
		shutdownInstrumentation()
	}
	return srv, cleanup, nil
}
