// Package persist applies save requests to the document store.
//
// Every save against an existing document runs a fixed state machine:
//
//	Received -> IdentityCheck -> AnomalyCheck -> VersionCheck -> Applied | Rejected
//
// IdentityCheck catches a client whose view of which document it is
// editing has gone stale. AnomalyCheck rejects writes whose node-id
// set overlaps too little with the stored set; a silently applied
// suspicious write is indistinguishable from data loss, so flagged
// writes are rejected, not warned about. VersionCheck is optimistic
// locking: a single conditional UPDATE (compare-and-swap) on the
// version column.
//
// Version mismatches are reported distinctly from anomaly rejections
// so callers can retry with current data instead of treating the
// conflict as corruption. Identity and anomaly rejections are NOT
// automatically retryable; they go to a human.
//
// Every attempt, accepted or rejected, appends exactly one audit
// entry.
package persist
