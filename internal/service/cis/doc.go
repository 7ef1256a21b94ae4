// Package cis is the conversion intelligence system: four batch
// detectors (who, what, when, how) that mine the activity log for the
// difference between converting and non-converting outreach and persist
// one pattern artifact per detector per tenant.
//
// Detectors are pure functions over a scanned activity set, so a re-run
// on unchanged input produces byte-identical payloads. All four share a
// data-sufficiency gate; below it they emit an empty payload with zero
// confidence rather than noisy statistics.
package cis
