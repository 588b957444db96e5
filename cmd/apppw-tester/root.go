package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/SeanNg93/Gmail-app-password-tester/config"
	"github.com/SeanNg93/Gmail-app-password-tester/consts"
	"github.com/SeanNg93/Gmail-app-password-tester/logger"
	apperrors "github.com/SeanNg93/Gmail-app-password-tester/pkg/errors"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apppw-tester",
		Short: "Check Gmail app passwords over IMAP and SMTP without sending mail",
		Long: "Reads a CSV with email and app_password columns, logs in to the IMAP and SMTP\n" +
			"endpoints with each pair, and writes a CSV report. Rows missing either value are\n" +
			"reported as SKIP. No message is ever sent or read.",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			logFile, err := logger.Initialize(cfg.Logging)
			if err != nil {
				return apperrors.NewSetupError(apperrors.StageLogging, err)
			}
			if logFile != nil {
				defer logFile.Close()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return newApp(cfg, cmd.OutOrStdout()).run(ctx)
		},
	}

	registerFlags(cmd)
	cmd.AddCommand(newHistoryCmd())
	return cmd
}

func registerFlags(cmd *cobra.Command) {
	defaults := config.NewDefaultConfig()
	f := cmd.Flags()

	f.String("config", "", "path to a TOML config file")
	f.StringP("input", "i", "", "input CSV with email and app_password columns (required unless set in config)")
	f.StringP("out", "o", defaults.Run.Output, "report CSV path")
	f.IntP("concurrency", "c", defaults.Run.Concurrency, "number of accounts checked in parallel")
	f.Int("timeout", int(consts.DefaultProbeTimeout/time.Second), "per-probe timeout in seconds")
	f.BoolP("verbose", "v", false, "show step-by-step progress")
	f.Bool("sequential", false, "check accounts one at a time in input order")
	f.Int("delay-on-success", 0, "seconds to wait after each fully successful account (0 disables)")

	f.String("imap-addr", defaults.Probe.IMAPAddr, "IMAP endpoint (implicit TLS)")
	f.String("smtp-tls-addr", defaults.Probe.SMTPTLSAddr, "SMTP endpoint (implicit TLS)")
	f.String("smtp-starttls-addr", defaults.Probe.SMTPStartTLSAddr, "SMTP endpoint used for the STARTTLS fallback")
	f.Bool("insecure-skip-verify", false, "do not verify server certificates")
	f.Bool("trace", false, "log redacted protocol traffic (requires --log-level debug)")

	f.String("log-level", defaults.Logging.Level, "log level: debug, info, warn, error")
	f.String("log-format", defaults.Logging.Format, "log format: console or json")
	f.String("log-output", defaults.Logging.Output, "log output: stderr, stdout, syslog or a file path")

	f.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	f.String("history-db", "", "record the run in this sqlite database")
}

// loadConfig layers defaults, the optional config file and explicitly set
// flags, then validates the result.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.NewDefaultConfig()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := config.LoadConfigFromFile(path, &cfg); err != nil {
			return cfg, apperrors.NewSetupError(apperrors.StageConfig, err)
		}
	}

	applyFlags(cmd, &cfg)
	if cfg.Run.Concurrency < 1 {
		cfg.Run.Concurrency = 1
	}

	if cfg.Run.Input == "" {
		return cfg, apperrors.NewSetupError(apperrors.StageConfig, fmt.Errorf("--input is required"))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, apperrors.NewSetupError(apperrors.StageConfig, err)
	}
	return cfg, nil
}

// applyFlags overlays flag values onto cfg. Only flags explicitly set by the
// user are applied, so config file values survive flag defaults.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()

	setString := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	setBool := func(name string, dst *bool) {
		if f.Changed(name) {
			*dst, _ = f.GetBool(name)
		}
	}
	setSeconds := func(name string, dst *string) {
		if f.Changed(name) {
			n, _ := f.GetInt(name)
			*dst = (time.Duration(n) * time.Second).String()
		}
	}

	setString("input", &cfg.Run.Input)
	setString("out", &cfg.Run.Output)
	if f.Changed("concurrency") {
		cfg.Run.Concurrency, _ = f.GetInt("concurrency")
	}
	setSeconds("timeout", &cfg.Probe.Timeout)
	setBool("verbose", &cfg.Run.Verbose)
	setBool("sequential", &cfg.Run.Sequential)
	setSeconds("delay-on-success", &cfg.Run.DelayOnSuccess)

	setString("imap-addr", &cfg.Probe.IMAPAddr)
	setString("smtp-tls-addr", &cfg.Probe.SMTPTLSAddr)
	setString("smtp-starttls-addr", &cfg.Probe.SMTPStartTLSAddr)
	if f.Changed("insecure-skip-verify") {
		skip, _ := f.GetBool("insecure-skip-verify")
		cfg.Probe.TLSVerify = !skip
	}
	setBool("trace", &cfg.Probe.Trace)

	setString("log-level", &cfg.Logging.Level)
	setString("log-format", &cfg.Logging.Format)
	setString("log-output", &cfg.Logging.Output)

	if f.Changed("metrics-addr") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr, _ = f.GetString("metrics-addr")
	}
	if f.Changed("history-db") {
		cfg.History.Enabled = true
		cfg.History.Path, _ = f.GetString("history-db")
	}
}

// formatSeconds renders d in seconds the way the progress lines show it:
// "20" for whole seconds, "2.5" otherwise.
func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
