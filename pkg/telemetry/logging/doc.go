// Package logging builds the process logger on top of log/slog.
//
// Loggers created by New emit JSON or text and pick up identifiers stored
// in the context:
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	ctx = logging.WithRunID(ctx, runID)
//	logger.InfoContext(ctx, "cycle started")  // includes run_id
//
// Components derive their own logger with a "component" attribute, for
// example logger.With("component", "lifecycle.manager").
package logging
