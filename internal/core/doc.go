// Package core provides the business logic for importing QA measurements
// into QATrack+.
//
// This package holds all domain logic independent of any UI or transport
// layer. It is used by the web handlers, the CLI and the sync scheduler
// without modification.
//
// # Architecture
//
// The package is organized around several key concepts:
//
//   - Target: one QATrack+ unit test collection with a [Source] that reads
//     records and a [Mapper] that turns each record into a [Form].
//   - Layouts: positional spreadsheet layouts registered by key at init
//     time (see the layouts subpackage) and mapped by [PositionalMapper].
//   - Field mappings: observation code tables used by [CodedMapper].
//   - Orchestrator: connects, walks the record range, submits each form and
//     advances the resume [Cursor] after every attempted record.
//   - Service: the entry point for callers. It serializes runs per target,
//     bounds concurrent runs, and publishes progress to subscribers.
//
// # Layout Registry
//
// Layouts are registered at init time using [Register]:
//
//	core.Register(core.Layout{
//	    Key:             "ct_daily",
//	    FirstColumn:     "B",
//	    LastColumn:      "AE",
//	    DefaultStartRow: 55,
//	    Fields:          fields,
//	})
//
// # Runs
//
// A run resolves its range from the stored cursor (or an explicit start),
// then processes records strictly in order. The cursor is saved after every
// record, including one whose submission failed, so a restarted run never
// submits the same record twice. Progress is broadcast to subscribers via
// [Service.SubscribeProgress].
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - AUTH001-AUTH003: Login and session errors
//   - SRC001-SRC002: Source file and database errors
//   - MAP001: Record conversion errors
//   - SUB001-SUB002: Submission errors
//   - RUN001-RUN006: Run lifecycle errors (busy, not found, cancelled)
//   - CFG001-CFG002: Configuration and cursor errors
package core
