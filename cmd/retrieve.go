package cmd

import (
	"github.com/spf13/cobra"

	"github.com/docketwatch/docketwatch/internal/clock/system"
	"github.com/docketwatch/docketwatch/internal/retrieve"
	"github.com/docketwatch/docketwatch/internal/run"
)

// newRetrieveCmd creates the 'retrieve' subcommand, which works through the
// tracker's queue downloading complaint documents.
func newRetrieveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retrieve",
		Short: "Download queued complaint documents",
		Long: `Fetches the tracker's work queue and, for each eligible job, searches
the portal for the docket, verifies the case title, opens the document modal
and captures the complaint PDF into blob storage. Job outcomes are written
back to the tracker; one job's failure never stops the rest of the queue.`,
		RunE: runRetrieveCommand,
	}
}

func runRetrieveCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	sess, err := openBrowser(a)
	if err != nil {
		return err
	}

	machine := retrieve.New(sess, a.Artifacts, retrieve.Config{
		SearchURL:      a.Cfg.Portal.SearchURL,
		CaptureTimeout: a.Cfg.CaptureTimeout(),
	}, a.Logger)

	ctrl := run.New(run.Config{
		GlobalTimeout: a.Cfg.GlobalTimeout(),
		QueueLimit:    a.Cfg.Run.QueueLimit,
		MaxAttempts:   a.Cfg.Run.MaxAttempts,
	}, sessionManager(a, sess), a.Tracker, a.Publisher, a.Hub, system.New(), sess.Close, a.Logger)

	summary, err := ctrl.Retrieve(ctx, machine)
	logSummary(a.Logger, "retrieve", summary)
	return err
}
