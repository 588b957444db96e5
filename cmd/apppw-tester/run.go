package main

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"time"

	"github.com/SeanNg93/Gmail-app-password-tester/config"
	"github.com/SeanNg93/Gmail-app-password-tester/history"
	"github.com/SeanNg93/Gmail-app-password-tester/input"
	"github.com/SeanNg93/Gmail-app-password-tester/logger"
	apperrors "github.com/SeanNg93/Gmail-app-password-tester/pkg/errors"
	"github.com/SeanNg93/Gmail-app-password-tester/pkg/metrics"
	"github.com/SeanNg93/Gmail-app-password-tester/probe"
	"github.com/SeanNg93/Gmail-app-password-tester/report"
	"github.com/SeanNg93/Gmail-app-password-tester/scheduler"
	"github.com/SeanNg93/Gmail-app-password-tester/storage"
	"github.com/SeanNg93/Gmail-app-password-tester/verifier"
)

// app carries one run from input to report.
type app struct {
	cfg      config.Config
	progress *progress
}

func newApp(cfg config.Config, out io.Writer) *app {
	return &app{cfg: cfg, progress: newProgress(out)}
}

// durations holds the parsed duration settings. Validate has already
// rejected unparsable values.
type durations struct {
	timeout  time.Duration
	pause    time.Duration
	cooldown time.Duration
}

func (a *app) durations() durations {
	var d durations
	d.timeout, _ = a.cfg.Probe.GetTimeout()
	d.pause, _ = a.cfg.Probe.GetInterProbePause()
	d.cooldown, _ = a.cfg.Run.GetDelayOnSuccess()
	return d
}

func (a *app) run(ctx context.Context) error {
	started := time.Now()
	d := a.durations()

	if a.cfg.Metrics.Enabled {
		srv, err := metrics.Start(a.cfg.Metrics.Addr, a.cfg.Metrics.Path)
		if err != nil {
			return apperrors.NewSetupError(apperrors.StageMetrics, err)
		}
		defer func() {
			if err := srv.Shutdown(); err != nil {
				logger.Warn("Metrics server shutdown failed", "error", err)
			}
		}()
	}

	var store *history.Store
	if a.cfg.History.Enabled {
		var err error
		if store, err = history.Open(ctx, a.cfg.History.Path); err != nil {
			return apperrors.NewSetupError(apperrors.StageHistory, err)
		}
		defer store.Close()
	}

	var archive *storage.S3Storage
	if a.cfg.Archive.Enabled {
		var err error
		if archive, err = storage.NewFromConfig(a.cfg.Archive, a.cfg.Probe.Trace && logger.Enabled(slog.LevelDebug)); err != nil {
			return apperrors.NewSetupError(apperrors.StageArchive, err)
		}
	}

	creds, skips, err := input.Load(a.cfg.Run.Input)
	if err != nil {
		return apperrors.NewSetupError(apperrors.StageInput, err)
	}

	sched := scheduler.New(a.newVerifier(d), scheduler.Options{
		Concurrency: a.cfg.Run.Concurrency,
		Sequential:  a.cfg.Run.Sequential,
		Cooldown:    d.cooldown,
		OnDispatch:  a.progress.Dispatch,
		OnCooldown:  a.progress.Cooldown,
	})

	shownConcurrency := a.cfg.Run.Concurrency
	if a.cfg.Run.Sequential {
		shownConcurrency = 1
	}
	a.progress.Start(len(creds), len(skips), shownConcurrency, d.timeout)
	for _, s := range skips {
		a.progress.Skip(s)
	}
	metrics.CredentialsTotal.WithLabelValues("skipped").Add(float64(len(skips)))
	logger.Info("Run started", "input", a.cfg.Run.Input, "valid", len(creds), "skipped", len(skips),
		"workers", sched.Workers(len(creds)), "timeout", d.timeout)

	results := sched.Run(ctx, creds, a.progress.Result)
	interrupted := ctx.Err() != nil
	if interrupted {
		a.progress.Interrupted()
	}

	rows := report.Build(results, skips)
	if err := report.WriteFile(a.cfg.Run.Output, rows); err != nil {
		return apperrors.NewSetupError(apperrors.StageReport, err)
	}

	summary := report.Summarize(results, skips)
	logger.Info("Run finished", "ok", summary.OK, "partial", summary.Partial, "failed", summary.Failed,
		"skipped", summary.Skipped, "interrupted", interrupted, "duration", time.Since(started).Round(time.Millisecond))

	// The report is on disk; history and archive failures only warn. Both
	// use a fresh context so an interrupted run is still recorded.
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()

	if store != nil {
		run := history.Run{
			StartedAt:   started,
			FinishedAt:  time.Now(),
			InputPath:   a.cfg.Run.Input,
			ReportPath:  a.cfg.Run.Output,
			Concurrency: sched.Workers(len(creds)),
			Sequential:  sched.IsSequential(len(creds)),
			Interrupted: interrupted,
			Summary:     summary,
		}
		if _, err := store.RecordRun(sinkCtx, run, rows); err != nil {
			logger.Warn("Failed to record run history", "path", a.cfg.History.Path, "error", err)
		}
	}
	if archive != nil {
		if _, err := archive.ArchiveReport(sinkCtx, a.cfg.Run.Output, started); err != nil {
			logger.Warn("Failed to archive report", "bucket", a.cfg.Archive.Bucket, "error", err)
		}
	}

	a.progress.Summary(summary)
	a.progress.Done(a.cfg.Run.Output)
	return nil
}

func (a *app) newVerifier(d durations) *verifier.Verifier {
	opts := probe.Options{
		TLSConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: !a.cfg.Probe.TLSVerify,
		},
		HeloName: a.cfg.Probe.HeloName,
		Trace:    a.cfg.Probe.Trace,
	}
	if a.cfg.Run.Verbose {
		opts.Steps = a.progress.Step
	}

	imapProber := probe.NewIMAPProber(a.cfg.Probe.IMAPAddr, opts)
	smtpProber := probe.NewSMTPProber(a.cfg.Probe.SMTPTLSAddr, a.cfg.Probe.SMTPStartTLSAddr, opts)
	return verifier.New(imapProber, smtpProber, d.timeout, d.pause)
}
