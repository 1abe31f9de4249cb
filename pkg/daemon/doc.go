/*
Package daemon runs the burrow background service.

It owns the process lifecycle (runtime files, signal handling, graceful
shutdown), the worker pool, and the HTTP/JSON API served over the unix
socket: entity CRUD routes that stage lifecycle jobs, an SSE change feed
backed by the event broker, streaming log tails for tasks and
environments, and the Prometheus metrics endpoint.
*/
package daemon
