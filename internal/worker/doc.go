// Package worker contains the background loops that move touches from
// the durable queue to the wire and keep the system healthy around them:
// the dispatch pool, the reply safety-net sweep, queue lease recovery,
// data retention, released-client cleanup, the CIS schedule, and the
// outbound client notifier.
//
// Every loop observes its context and the store's cancellation flags at
// each yield point; pausing a campaign or terminating a lead takes
// effect at the next check, not the next process restart.
package worker
