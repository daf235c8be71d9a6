// Package server assembles a running hago instance from its configuration:
// the optional SQLite audit ledger, the conversation controller seeded from
// config, the reply source, the send service and its update broadcaster, the
// HTTP API, and a gRPC server exposing the standard health service.
//
//	srv, err := server.New(cfg, logger)
//	if err != nil { ... }
//	err = srv.Run(ctx) // blocks until ctx is cancelled
//
// Shutdown aborts in-flight sends, which still commit their partial
// transcripts, before the ledger is closed.
package server
