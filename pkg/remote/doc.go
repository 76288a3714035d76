// Package remote delivers records to network sinks without blocking the
// logging call.
//
// AsyncHandler formats each record, places it on a bounded queue and returns.
// A single background worker drains the queue in order, waits on an optional
// rate limiter, and calls the Sink with retries and jittered exponential
// backoff. When the queue is full the configured Overflow policy decides which
// record is dropped. Delivery failures after the last attempt are counted and
// reported to the fallback logger; they never reach the caller of a log method.
//
// Shutdown stops intake, then gives the worker a bounded grace period to flush.
// Records still queued when the grace period ends are dropped and reported.
package remote
