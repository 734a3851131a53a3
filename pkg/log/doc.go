// Package log provides protocol event capture for commissioning sessions.
//
// It is separate from operational logging (slog): events form a
// machine-readable trace of frames, envelopes and pairing/commissioning
// state changes. Log files are CBOR streams (.mlog) read back with Reader.
//
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
package log
