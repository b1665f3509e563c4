// Package tasks implements the task lifecycle service between the HTTP
// surface and the relay core.
//
// It enqueues producer commands, tracks per-task status and results in the
// status store, runs request/await round trips through the correlator, and
// consumes the frames the hub routes to it: correlated replies resolve
// waiters and complete tasks, unsolicited frames land on the responses queue
// and fan out to live subscribers.
package tasks
