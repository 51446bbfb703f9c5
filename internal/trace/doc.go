// Package trace records spans for model building and redshift fitting.
//
// Tracing is enabled from the command line:
//
//	grism model scene.mp --calib wfc3.toml --trace=run.ndjson --trace-level=detail
//
// Tracers:
//
//   - Nop: disabled tracing, zero overhead
//   - StreamTracer: writes each event as it happens (text, NDJSON or Chrome)
//   - RingTracer: keeps the most recent events in memory for a dump on failure
//   - MultiTracer: fans out to several tracers
//
// Scopes, coarse to fine: ScopeRun (a CLI command), ScopeStage (load, build,
// composite, fit), ScopeObject (one object id), ScopeBeam (one order or one
// trial redshift). LevelPhase emits run and stage spans, LevelDetail adds
// objects and LevelDebug everything.
//
// The tracer travels on the context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	ctx, span := trace.Start(ctx, trace.ScopeStage, "fit")
//	defer span.End("")
//
// Spans started from the returned context nest under span.
package trace
