// Package store provides SQLite-backed durable storage for Cascade.
//
// Three tables:
//   - documents: full pipeline documents with a monotonic version
//     column. The version column is the sole concurrency-control
//     primitive: updates are a single conditional UPDATE
//     (compare-and-swap), never a read-modify-write split across
//     round trips.
//   - node_records: one execution record per (subject, document,
//     node), upserted by composite key; provisioned rows exist before
//     first execution with version 0 and no output hash.
//   - audit_log: append-only record of every save attempt. Rows are
//     never updated or deleted.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: tolerate lock contention
//   - foreign_keys=ON: cascade-delete of records with their document
package store
