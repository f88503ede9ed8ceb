// Package controller orchestrates recursive, goal-driven extraction for one
// document version. It drives each configured field through a small state
// machine (retrieve evidence, generate, parse, then fill, retry with wider
// retrieval, or give up) while persisting every accepted outcome with its
// provenance and keeping whole runs idempotent through a content-addressed
// cache key.
//
// Fields are independent by construction: no field extraction reads or
// mutates another field's outcome. That independence is what lets the
// controller run them through a bounded concurrent pool without changing
// the result of a sequential run.
package controller
