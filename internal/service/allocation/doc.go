// Package allocation turns an ALS tier plus tenant policy into a
// TouchSchedule: which channels a lead may receive, in what order, with
// which timing, and whether each touch qualifies for enhanced content.
//
// Allocate is pure. The Service wrapper layers the monthly enhanced
// content budget on top using a running counter in the store.
package allocation
