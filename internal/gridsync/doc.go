// Package gridsync keeps the row store and the external spreadsheet
// convergent, and notifies subscribers of every accepted change.
//
// Two paths feed it:
//
//  1. Explicit triggers (row create/update/delete, column add,
//     spreadsheet link). The local mutation is performed first; the
//     paired remote mutation is best-effort. A remote failure is
//     recorded as the table's last sync error and surfaced as a
//     non-fatal warning, never as a failed response - local state is
//     the source of truth for the action just taken, and the next
//     successful sweep reconciles the remote.
//
//  2. The periodic sweep. Each tick pulls every linked table, compares
//     the pulled sheet-bound projection against the stored one, and
//     replaces it only on divergence. Remote content wins for
//     sheet-bound columns; dashboard-only values are never pulled and
//     so are never overwritten. A sweep tick that finds another sweep
//     in flight is skipped entirely - no queueing.
//
// A pull is never partially applied: either the whole row array is
// replaced (identity correlation included) or nothing is, and the
// table's last sync error is refreshed instead.
package gridsync
