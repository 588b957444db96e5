package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/SeanNg93/Gmail-app-password-tester/config"
	"github.com/SeanNg93/Gmail-app-password-tester/history"
	apperrors "github.com/SeanNg93/Gmail-app-password-tester/pkg/errors"
	"github.com/SeanNg93/Gmail-app-password-tester/report"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	defaults := config.NewDefaultConfig()

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past runs recorded with --history-db",
		Long: "Without options, lists the most recent runs. --run prints the report rows of one\n" +
			"run as CSV. --email shows the latest recorded outcome for one account.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := cmd.Flags()
			path, _ := f.GetString("db")
			limit, _ := f.GetInt("limit")
			runID, _ := f.GetInt64("run")
			email, _ := f.GetString("email")

			if f.Changed("run") && f.Changed("email") {
				return apperrors.NewSetupError(apperrors.StageConfig, fmt.Errorf("--run and --email are mutually exclusive"))
			}
			if _, err := os.Stat(path); err != nil {
				return apperrors.NewSetupError(apperrors.StageHistory, err)
			}

			ctx := cmd.Context()
			store, err := history.Open(ctx, path)
			if err != nil {
				return apperrors.NewSetupError(apperrors.StageHistory, err)
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			switch {
			case f.Changed("run"):
				rows, err := store.RunRows(ctx, runID)
				if err != nil {
					return apperrors.NewSetupError(apperrors.StageHistory, err)
				}
				if len(rows) == 0 {
					return apperrors.NewSetupError(apperrors.StageHistory, fmt.Errorf("run %d has no recorded rows", runID))
				}
				return report.Write(out, rows)
			case email != "":
				entry, found, err := store.Latest(ctx, email)
				if err != nil {
					return apperrors.NewSetupError(apperrors.StageHistory, err)
				}
				if !found {
					fmt.Fprintf(out, "No recorded result for %s\n", email)
					return nil
				}
				printEntry(out, entry)
				return nil
			default:
				runs, err := store.Runs(ctx, limit)
				if err != nil {
					return apperrors.NewSetupError(apperrors.StageHistory, err)
				}
				printRuns(out, runs)
				return nil
			}
		},
	}

	f := cmd.Flags()
	f.String("db", defaults.History.Path, "history sqlite database")
	f.Int("limit", 10, "number of runs to list")
	f.Int64("run", 0, "print the report rows of this run as CSV")
	f.String("email", "", "show the latest recorded result for this account")
	return cmd
}

func printRuns(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range runs {
		mode := fmt.Sprintf("concurrency=%d", r.Concurrency)
		if r.Sequential {
			mode = "sequential"
		}
		line := fmt.Sprintf("#%d  %s  %s  %s  %s -> %s",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.FinishedAt.Sub(r.StartedAt).Round(time.Second),
			mode, r.InputPath, r.ReportPath)
		if r.Interrupted {
			line += "  (interrupted)"
		}
		fmt.Fprintf(w, "%s\n    %s\n", line, r.Summary)
	}
}

func printEntry(w io.Writer, e history.Entry) {
	fmt.Fprintf(w, "%s (run #%d, %s)\n", e.Row.Email, e.RunID, e.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "  IMAP=%s %s\n", e.Row.IMAPOK, e.Row.IMAPError)
	fmt.Fprintf(w, "  SMTP=%s %s\n", e.Row.SMTPOK, e.Row.SMTPError)
}
