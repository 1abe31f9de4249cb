/*
Package worker executes queued jobs against providers.

The pool polls the store for claimable jobs, runs up to MaxConcurrent of
them in parallel, and renews each job's lease while it executes. Failed
attempts are requeued with exponential backoff until the retry limit;
terminal failures mark the driven environment (and task, where one is
named) failed. Every phase transition is appended to the environment's
lifecycle log and followed by a tick on the event broker.
*/
package worker
