// Package content owns the site files currently being served.
//
// A [Snapshot] is an immutable file tree plus metadata. The [Manager] holds
// the active snapshot behind an atomic pointer so request handlers never
// lock. Snapshots come from, in order of preference:
//
//   - an S3 bundle named by an SSM parameter, fetched by [Loader] and kept
//     current by [Watcher]
//   - the local build output directory ([LoadDir])
//   - the seed site embedded in the binary ([LoadFS])
//
// Bundle extraction enforces a compressed size cap, a per-file cap, a total
// extracted size cap, and rejects absolute or traversing paths.
package content
