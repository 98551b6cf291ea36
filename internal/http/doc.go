// Package http exposes the classboard over HTTP.
//
// The router serves the following endpoints:
//   - GET /schools/{school}/classboard?date=YYYY-MM-DD: teacher queues of one day
//     with per-queue statistics, skipped bookings and gap conflicts. The response
//     carries an ETag; a matching If-None-Match answers 304.
//   - GET /schools/{school}/board: reconciled bookings with pending optimistic
//     operations and the board revision.
//   - GET /schools/{school}/stream: Server-Sent Events. A "snapshot" event with the
//     board is followed by one event per applied notification, named after its type.
//   - POST /events: adds an event to a lesson, at "date" or in the teacher's next
//     free slot of "day".
//   - POST /events/batch: applies {"updates","deletions"} as one write.
//   - POST /events/status, POST /events/delete: bulk status change and deletion.
//   - GET /events/{id}/revenue?school_id=: revenue breakdown of one event.
//   - POST /adjustments, GET /adjustments/{id}, DELETE /adjustments/{id},
//     GET /adjustments/{id}/changes: adjustment session lifecycle.
//   - POST /adjustments/{id}/{action} with action one of move, resize, edit, remove,
//     lock, optimise, reset or submit.
//   - GET /healthz.
//
// Errors are JSON {"error_code","message","errors"}. Validation failures answer
// 422 with field errors keyed by JSON field path.
package http
