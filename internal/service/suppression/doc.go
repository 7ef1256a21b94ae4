// Package suppression is the point of truth for "must not contact".
//
// Entries flow in from customer imports, bounces, complaints, unsubscribe
// replies, and cooling-off decisions, and are checked before every send.
// Checks run in two layers: a per-tenant bloom filter answers the common
// negative case from RAM and the store verifies positives, so the filter
// can never hide a suppressed recipient.
//
// The service layer contains pure business logic and depends on the
// Repository interface defined in repository.go. It never imports
// net/http or database/sql directly.
package suppression
