// Package resolver drives challenge resolution end to end: capture from
// the host UI, preprocessing, ensemble recognition, correction, optional
// external escalation, submission, and outcome detection.
//
// One Engine serves one host UI instance. Sessions are identified by
// caller-chosen IDs; at most one resolution loop runs per session at a
// time, and captures within a session are strictly sequential. A manual
// override can be registered out-of-band for any session and races the
// automatic path; whichever completes first commits the session's result.
//
// Resolution never panics on expected trouble. Budget exhaustion, UI
// flakiness and recognition misses all resolve to a Result carrying the
// best effort so far; only a malformed capture buffer surfaces as an
// error.
package resolver
