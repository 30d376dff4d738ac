// Package types defines the shared data model of the incremental context
// engine: cached file contexts, read/write results, change events, update
// requests and results, and the interfaces that connect the engine to its
// collaborators.
//
// The engine's components communicate through these types rather than through
// each other's internals:
//
//   - A ChangeSource posts ChangeEvents (created/modified/deleted).
//   - The incremental updater turns events into UpdateRequests and produces
//     UpdateResults.
//   - Rebuilt FileContexts flow to ContextSinks as read-only ContextUpdates.
//   - FileReader/FileWriter abstract the I/O optimizer so the analyzer and
//     updater do not depend on its concrete implementation.
//
// All paths in this model are absolute, normalized paths; they are the primary
// identity across components.
package types
