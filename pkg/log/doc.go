/*
Package log provides structured logging for chess using zerolog.

It wraps zerolog to give every component a consistently shaped logger:
JSON or human-readable console output, a configurable global level, and
a small set of With* helpers that attach the fields this domain cares
about (host, cluster, task ID) to a child logger without repeating
`.Str(...)` calls at every call site.

# Initialization

Init must be called once, typically from the CLI's cobra.OnInitialize
hook, before any package logs. Until then, Logger is zerolog's
zero-value logger, which discards everything:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	log.Logger.Info().Msg("agent starting")

# Component and field loggers

WithComponent tags every record with which subsystem produced it
("probe", "bootstrap", "agent", ...). WithHost, WithCluster, and
WithTaskID attach the single piece of context that a fan-out operation
is scoped to, so a log line can be grepped back to the host or cluster
it came from without manual field plumbing in every call site:

	hostLog := log.WithHost(ep.Host)
	hostLog.Warn().Err(err).Msg("ssh authentication failed")

# Levels

  - Debug: per-attempt detail (one line per SSH auth try, per file skipped during upload)
  - Info: stage boundaries (probe complete, extraction finished, join credential parsed)
  - Warn: a per-host or per-pair failure that does not abort the run
  - Error: a failure that does abort the current command

# Best practices

Do:
  - use structured fields for anything a later query might filter on
  - create a scoped logger (WithHost/WithCluster/WithTaskID) at the top of a fan-out goroutine
  - log a warning and continue where spec's error-handling design calls for degradation, not abort

Don't:
  - log SSH passwords or private key contents
  - concatenate untrusted strings into the message instead of passing them as fields
  - log inside a tight per-byte loop (upload/extract progress is logged once per file, not per chunk)
*/
package log
