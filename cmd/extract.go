package cmd

import (
	"github.com/spf13/cobra"

	"github.com/docketwatch/docketwatch/internal/clock/system"
	"github.com/docketwatch/docketwatch/internal/docket"
	"github.com/docketwatch/docketwatch/internal/extract"
	"github.com/docketwatch/docketwatch/internal/run"
)

// newExtractCmd creates the 'extract' subcommand, which walks the daily
// alert results and syncs new case records to the tracker.
func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract",
		Short: "Extract today's filings from the portal alert",
		Long: `Opens the configured alert, applies the date window and participant
filter, walks every results page and creates the surviving case records on
the tracker. Records are filtered to free complaints in the configured
nature-of-suit allow-list and de-duplicated by court and docket number.`,
		RunE: runExtractCommand,
	}
}

func runExtractCommand(cmd *cobra.Command, _ []string) error {
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

	extractor := extract.New(sess, docket.NewRecordFilter(a.Cfg.Filter.NatureAllow), extract.Config{
		AlertsURL: a.Cfg.Portal.AlertsURL,
		AlertName: a.Cfg.Portal.AlertName,
	}, a.Logger)

	ctrl := run.New(run.Config{
		GlobalTimeout: a.Cfg.GlobalTimeout(),
		MaxAttempts:   a.Cfg.Run.MaxAttempts,
		ExportDir:     a.Cfg.Run.ExportDir,
	}, sessionManager(a, sess), a.Tracker, a.Publisher, a.Hub, system.New(), sess.Close, a.Logger)

	summary, err := ctrl.Extract(ctx, extractor)
	logSummary(a.Logger, "extract", summary)
	return err
}
