// Package diag defines countable outcome records for bulk model building and
// fitting.
//
// # Purpose
//
// Skipping an object is a normal outcome when thousands of sources are
// modelled: a segment may be absent, too faint for a higher order, or
// disperse entirely off the detector. Those outcomes are recorded as
// Diagnostic values rather than returned as errors or swallowed, so callers
// can count, sort and print them.
//
// # Data model
//
//   - Severity: Info, Warning, Error.
//   - Code: compact numeric identifier with a stable string form (MOD/FIT).
//   - Subject: object id and spectral order the record is about.
//   - Message: short human text.
//   - Notes: optional extra lines.
//
// # Emitting
//
// Producers take a Reporter. BagReporter collects into a capped Bag;
// DedupReporter drops repeats. The Bag itself is not safe for concurrent
// use; parallel producers report after joining.
package diag
