// Package scoring computes the Agency Lead Score (ALS).
//
// Score is a pure function from an enriched lead plus tenant policy to a
// 0-100 score, a component breakdown, and a tier. The Service wrapper
// fetches inputs and persists results; everything that decides the number
// lives in scorer.go and takes no context.
package scoring
