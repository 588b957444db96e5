package consts

import "errors"

var (
	ErrProbeTimeout   = errors.New("timed out")
	ErrTLSNegotiation = errors.New("tls negotiation failed")
	ErrAuthRejected   = errors.New("authentication rejected")
	ErrInternal       = errors.New("internal error")
)
