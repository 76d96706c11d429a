// Package state defines the durable workflow state for a draftflow session
// and the filesystem-backed store that persists it.
//
// One WorkflowState exists per session. It is created once at INIT and
// mutated only by the orchestrator; every mutation is persisted atomically
// (write-temp-then-rename) so a crash never leaves a half-written session
// record behind.
package state
