/*
Package storage provides Burrow's durable state on a single SQLite file.

The store holds four tables (projects, environments, tasks, jobs) plus a
migration ledger, and exposes two layers:

  - Row-level operations used by the worker pool: entity CRUD and the job
    queue primitives (InsertJob, ClaimBatch, MarkJobComplete, MarkJobFailed,
    RequeueJob, RefreshJobLease).
  - Staging operations used by the API: transactional compositions that
    write entity rows and their follow-up job together, so an enqueued
    intent never exists without its lifecycle row.

The job queue guarantees at most one active job per dedupe key (backed by a
partial unique index), orders claims by created_at, and reclaims running
jobs whose lease has expired. The connection pool is capped at one
connection so SQLite serializes all writers.
*/
package storage
