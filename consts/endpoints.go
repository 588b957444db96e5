package consts

import "time"

// Default probe endpoints.
const (
	DefaultIMAPAddr         = "imap.gmail.com:993"
	DefaultSMTPTLSAddr      = "smtp.gmail.com:465"
	DefaultSMTPStartTLSAddr = "smtp.gmail.com:587"
)

const (
	DefaultProbeTimeout    = 20 * time.Second
	DefaultInterProbePause = 500 * time.Millisecond
	DefaultConcurrency     = 8
	DefaultReportPath      = "app_pw_report.csv"
	DefaultHeloName        = "localhost"
)

// Input and report column names.
const (
	ColumnEmail       = "email"
	ColumnAppPassword = "app_password"
)
