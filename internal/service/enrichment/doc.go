// Package enrichment implements the tiered provider waterfall.
//
// Lookups try the versioned cache first, then providers in ascending
// tier order until the record is sufficient or the tenant's daily budget
// trips the circuit. Every provider invocation is cost-tracked, wrapped
// in a circuit breaker, and its response normalized into the canonical
// PoolLead shape before caching.
package enrichment
