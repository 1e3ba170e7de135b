package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"freecanvas/internal/auth"
	"freecanvas/internal/config"
	"freecanvas/internal/console"
	"freecanvas/internal/engine"
	"freecanvas/internal/logging"
	"freecanvas/internal/otel"
	"freecanvas/internal/remote/httpstore"
	"freecanvas/internal/remote/memstore"
)

type options struct {
	apiURL   string
	token    string
	user     string
	logLevel string
	offline  bool
}

func main() {
	if err := newCanvasCmd(config.Load()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newCanvasCmd builds the interactive client. It reads commands from stdin
// until EOF or quit, then waits for pending writes.
func newCanvasCmd(cfg *config.AppConfig) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "canvas",
		Short:         "Edit the shared canvas from a terminal",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.apiURL, "api", cfg.Sync.APIBaseURL, "canvas item API base URL")
	cmd.Flags().StringVar(&opts.token, "token", cfg.Sync.Token, "bearer token; minted from JWT_SECRET when empty")
	cmd.Flags().StringVar(&opts.user, "user", os.Getenv("USER"), "token subject when minting")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "log level")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "sync against an in-memory store instead of the API")
	return cmd
}

func run(cmd *cobra.Command, cfg *config.AppConfig, opts *options) error {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	logger, err := logging.New(opts.logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, "freecanvas-client", logger)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer shutdownTracing(context.Background()) //nolint:errcheck

	creds, err := credentials(cfg.Auth, opts.token, opts.user)
	if err != nil {
		return fmt.Errorf("no credential: %w", err)
	}

	var remote engine.RemoteStore
	target := opts.apiURL
	if opts.offline {
		remote = memstore.New(nil)
		target = "in-memory store"
	} else {
		remote, err = httpstore.New(opts.apiURL)
		if err != nil {
			return fmt.Errorf("invalid api url: %w", err)
		}
	}

	eng, err := engine.New(remote,
		engine.WithCredentials(creds),
		engine.WithDelays(cfg.Sync.ContinuousDelay, cfg.Sync.DiscreteDelay),
		engine.WithCallTimeout(cfg.Sync.CallTimeout),
		engine.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Close()

	if err := eng.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "initial load failed: %v\n", err)
	}

	c, unsubscribe := console.New(eng, stdout)
	defer unsubscribe()
	fmt.Fprintf(stdout, "connected to %s, %d items. type help for commands.\n", target, len(eng.Snapshot()))

	if err := c.Run(ctx, cmd.InOrStdin()); err != nil && ctx.Err() == nil {
		fmt.Fprintf(stderr, "input: %v\n", err)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := eng.Sync(flushCtx); err != nil {
		return fmt.Errorf("pending changes not confirmed: %w", err)
	}
	return nil
}

// credentials prefers an explicit token and otherwise mints short-lived tokens on demand.
func credentials(cfg config.AuthConfig, token, subject string) (engine.CredentialSource, error) {
	if token != "" {
		return engine.StaticCredential(engine.Credential(token)), nil
	}
	if cfg.JWTSecret == "" {
		return engine.StaticCredential(""), nil
	}
	if subject == "" {
		subject = "canvas"
	}
	m, err := auth.NewManager(cfg.JWTSecret, cfg.Issuer, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	return func(context.Context) (engine.Credential, error) {
		raw, err := m.Issue(subject)
		return engine.Credential(raw), err
	}, nil
}
