// Package plans defines the plan catalog: the static configuration of
// subscription tiers, their credit allotments and refill cadence, and the
// per-model credit cost multipliers.
//
// # Overview
//
// A Catalog is an immutable value constructed once at process start and
// injected into the ledger and estimator. Lookups over the closed plan and
// model enumerations are total; an unknown plan or model indicates a
// programming error and falls back to the free/default entries rather than
// returning an error.
//
// # Tiers
//
// Free:
//   - 5 credits, reset daily (hard reset, never accumulated)
//
// Cram Week:
//   - 1000 credits, one-time purchase, expires after 7 days
//
// Semester Monthly:
//   - 3000 credits, reset every billing month
//
// Annual Pro:
//   - 5000 credits, billed yearly but credits still reset monthly
//
// # Hot reload
//
// Provider optionally watches a YAML catalog file and atomically swaps in a
// freshly built Catalog when the file changes. Consumers always read a
// consistent snapshot; a half-applied catalog is never observable.
//
// # Related Packages
//
//   - pkg/ledger: consumes allotments and refill cadence
//   - pkg/spend: consumes model cost multipliers
package plans
