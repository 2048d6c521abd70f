/*
Package log provides structured logging for fleetd using zerolog.

Every process in the pool — supervisor, general workers, keymgr, acme —
shares the same package-level Logger, narrowed per component via
WithComponent and friends so log lines can be filtered by which part of
the pool produced them.

Usage:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	wl := log.WithWorker(3, "KEYMGR")
	wl.Info().Msg("acquired accept lock")
*/
package log
