// Package cmd defines and implements the CLI commands for the docketwatch
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docketwatch/docketwatch/internal/app"
	"github.com/docketwatch/docketwatch/internal/browser"
	"github.com/docketwatch/docketwatch/internal/config"
	"github.com/docketwatch/docketwatch/internal/logging"
	"github.com/docketwatch/docketwatch/internal/session"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docketwatch",
		Short: "Scripted retrieval of new filings and complaint documents",
		Long: `docketwatch drives an authenticated browser session against the legal
filing portal: the extract command walks the daily alert results and syncs
new case records to the tracker, and the retrieve command works through the
tracker's queue downloading complaint documents into blob storage.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newExtractCmd(), newRetrieveCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildApp loads configuration, constructs the logger and wires the
// configured providers.
func buildApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize services: %w", err)
	}
	return a, nil
}

// openBrowser launches the run's headless Chrome session.
func openBrowser(a *app.App) (*browser.Session, error) {
	sess, err := browser.New(browser.Config{
		Headless:    a.Cfg.Browser.Headless,
		UserAgent:   a.Cfg.Browser.UserAgent,
		NavTimeout:  a.Cfg.NavTimeout(),
		WaitTimeout: a.Cfg.WaitTimeout(),
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	return sess, nil
}

// sessionManager builds the persisted-session manager bound to this run's
// browser.
func sessionManager(a *app.App, sess *browser.Session) *session.Manager {
	store := session.NewStore(a.Blobs, a.Cfg.Storage.SessionStateKey, a.Logger)
	return session.NewManager(store, sess, portalCredentials(a), session.Config{
		PortalURL:     a.Cfg.Portal.URL,
		StateKey:      a.Cfg.Storage.SessionStateKey,
		ClientIDURL:   a.Cfg.Portal.ClientIDURL,
		ClientIDValue: a.Cfg.Portal.ClientIDValue,
	}, a.Logger)
}

// portalCredentials resolves the login pair, preferring explicit config
// over the environment.
func portalCredentials(a *app.App) session.Credentials {
	creds := session.Credentials{User: a.Cfg.Portal.User, Pass: a.Cfg.Portal.Pass}
	if creds.User == "" {
		creds.User = os.Getenv("DOCKETWATCH_PORTAL_USER")
	}
	if creds.Pass == "" {
		creds.Pass = os.Getenv("DOCKETWATCH_PORTAL_PASS")
	}
	return creds
}

func logSummary(logger *zap.Logger, name string, summary any) {
	logger.Info("run finished", zap.String("command", name), zap.Any("summary", summary))
}
