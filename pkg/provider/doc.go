/*
Package provider defines the pluggable workspace handlers.

A provider owns the lifecycle of one environment kind: prepare a fresh
workspace, update and claim pooled ones, remove them, and describe how to
run or exec commands inside them via a RunSpec. Two built-ins ship with
the daemon (git-worktree and apfs-worktree); any other name resolves
through the user config to a script provider that shells out to an
external program with JSON on stdin/stdout.
*/
package provider
