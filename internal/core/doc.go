// Package core implements resumable CSV imports.
//
// An operator uploads a CSV to an importer, reviews a preview and then
// starts the import. The rows are handed to the importer in batches by
// scheduled ticks until none are left, at which point the record is
// deleted. Cancelling deletes the record at any point.
//
// # Records
//
// A [Record] holds the header, the rows and a progress pointer
// ([Progress]). It lives in a [Store] ([MemoryStore] or [PgStore]) and
// every change to the pointer is written through before the caller sees
// it, so a tick that dies half way is safe to re-run.
//
// # Importers
//
// Importers are registered once at startup with [RegisterAll]:
//
//	reg, err := core.RegisterAll(core.ImporterSourceFunc(func() []core.Importer {
//	    return []core.Importer{{
//	        Name:    "Contacts",
//	        Slug:    "contacts",
//	        Headers: []string{"email", "name"},
//	        Import:  core.ImportFunc(importContacts),
//	    }}
//	}))
//
// An importer without an Import behavior accepts uploads but never
// imports them.
//
// # Ticks
//
// [Runner.Tick] loads the record, hands the next batch to the importer,
// moves the pointer and schedules the next tick through a [Scheduler]
// ([MemoryScheduler] or [PgScheduler]). Pending ticks are unique per
// (record, initiator). A [Lease] keeps two ticks off the same record.
//
// # Error Handling
//
// Failures carry sentinels ([ErrValidation], [ErrRecordNotFound],
// [ErrUnauthorized], [ErrStorage] and others) that survive wrapping.
// [MapError] turns any of them into an operator-facing [UserMessage]
// with a support code.
package core
