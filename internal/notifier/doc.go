// Package notifier is the notification aggregation and delivery engine.
//
// A batch of raw records flows through one pipeline:
//
//	poll -> normalize -> dedup -> policy filter -> live store
//	                                  |-> delivery queue (critical/high)
//	                                  |-> auto-read timers (auto-dismissible)
//	                                  |-> history log (persisted best-effort)
//
// # Locking
//
// One mutex guards the live store, the dedup set, the delivery queue, every
// timer handle and the history log. Settings are read before taking it.
// Collaborators (fetcher, presenters, navigator, storage) are never called
// while it is held; side effects are collected under the lock and flushed
// after it is released.
//
// # Timers
//
// All timers come from a clock.Clock so tests drive them with a fake clock.
// Each timer carries a token; a callback whose token no longer matches the
// current one is stale and does nothing.
package notifier
