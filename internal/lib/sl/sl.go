// Package sl holds small helpers for structured logging with slog.
package sl

import "log/slog"

// Err returns a slog.Attr with key "error" and the error text, so error
// fields look the same everywhere:
//
//	log.Error("send failed", sl.Err(err))
func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}
