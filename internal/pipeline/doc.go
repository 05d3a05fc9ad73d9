// Package pipeline provides the canonical document model for Cascade.
//
// This package contains type definitions, dependency resolution, and
// content hashing only. All other internal packages import pipeline;
// pipeline imports nothing internal. This ensures the document model
// remains the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - The content-assembly segment list is the SOLE source of execution
//     dependencies. Cosmetic connectors are display-only and must never
//     be consulted for scheduling or invalidation.
//   - Content hashes are computed over canonical JSON so that identical
//     serialized output always yields an identical digest.
//   - Document versions are monotonic: exactly +1 per successful write.
//   - All JSON tags use snake_case.
package pipeline
