// Package campaign orchestrates the outreach lifecycle: create a
// campaign, supply it with pool leads, score and allocate each lead,
// and enqueue the touch schedule for dispatch. Pausing cancels the
// pending queue; the dispatch worker re-checks campaign state before
// every send, so a pause also takes effect on touches already claimed.
package campaign
