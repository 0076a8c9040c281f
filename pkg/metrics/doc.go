/*
Package metrics defines and registers chess's Prometheus counters and
histograms, and exposes them over an HTTP endpoint for scraping.

Every stage of the bootstrap pipeline (C2-C6) and the agent loop (C8)
records a counter of outcomes by result label plus a duration
histogram, so an operator can see where a run spent its time and which
stage is failing without reading per-host logs:

	chess_probe_total{result="ok|gated"}
	chess_probe_duration_seconds
	chess_image_extract_total{result="ok|error"}
	chess_image_extract_duration_seconds
	chess_upload_total{result="ok|error"}
	chess_upload_duration_seconds
	chess_remote_exec_total{result="ok|error"}
	chess_remote_exec_duration_seconds
	chess_bootstrap_stage_total{stage, result}
	chess_bootstrap_stage_duration_seconds{stage}
	chess_agent_reconnects_total
	chess_agent_function_calls_total{function, result}

# Wiring a stage

A stage times itself with a Timer and records one counter increment
per completed unit of work:

	timer := metrics.NewTimer()
	results := probe.CheckAll(hosts)
	timer.ObserveDurationVec(metrics.BootstrapStageDuration, "probe")

Counters are registered once at package init via MustRegister, so
importing this package is enough to make its metrics visible on the
default Prometheus registry; StartServer additionally exposes them over
HTTP for a scraper.

# Timer

Timer is a minimal stopwatch: NewTimer captures a start instant, and
ObserveDuration/ObserveDurationVec record the elapsed time against a
histogram when the caller's unit of work finishes. It carries no other
state and is safe to use once per measured operation; it is not meant
to be reused across operations.
*/
package metrics
