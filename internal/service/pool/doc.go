// Package pool governs the assignment ledger: exclusive binding of pool
// leads to tenants, collision prevention across tenants, lifecycle
// transitions, and campaign supply.
//
// The suppression check runs before the ledger is ever touched, so a
// suppressed recipient is refused without consuming an assignment slot.
package pool
