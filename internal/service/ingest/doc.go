// Package ingest applies normalised provider events to the system. The
// webhook endpoints and the safety-net sweep both feed it, so an event
// takes the same path whether it arrived live or was reconciled later.
// Dedup on (provider, event_id, event_type) makes at-least-once
// delivery effectively exactly-once.
package ingest
