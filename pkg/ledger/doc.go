// Package ledger is the single atomic gate for a user's credit and plan
// state. Every read or mutation of the credit balance, plan, or refill
// schedule goes through the ledger's transactional operations; no other
// package writes these columns.
//
// # Operations
//
// Reconcile applies any due plan transitions (daily refill, monthly refill,
// cram-week expiry, downgrade clearing) in a fixed order inside one
// transaction and returns the post-transition state. It must be called
// before any credit-consuming operation.
//
// Deduct atomically decrements the balance after a generation completes,
// clamping at zero and reporting a shortfall rather than going negative,
// and inserts the generation-history record in the same transaction.
//
// ApplyPlanTransition installs a new plan, allotment, and schedule in one
// step, optionally upserting the provider subscription record in the same
// transaction. Used by the billing event handler.
//
// # Concurrency
//
// Per-user serialization comes entirely from SELECT ... FOR UPDATE row
// locks inside the ledger's transactions; there are no in-process locks.
// Two concurrent reconciles for the same user never both apply a refill
// for the same period, and two concurrent deducts never drive the balance
// negative.
//
// # Related Packages
//
//   - pkg/plans: allotments, cadence, and cost multipliers
//   - pkg/billing: maps billing lifecycle events to plan transitions
//   - pkg/generate: calls Reconcile before and Deduct after a generation
package ledger
