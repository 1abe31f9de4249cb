/*
Package metrics defines Burrow's Prometheus instrumentation.

Counters track job outcomes (processed, retried, failed) per job type, a
gauge reports jobs currently executing, and gauges track environment and
task populations by status. The daemon exposes everything through Handler
at /metrics in the Prometheus text exposition format.
*/
package metrics
