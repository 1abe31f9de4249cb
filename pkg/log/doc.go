/*
Package log provides structured logging for Burrow built on zerolog.

The daemon initializes the global logger once at startup; every component
derives a child logger via WithComponent and the entity helpers (WithJobID,
WithEnvironmentID, WithTaskID) so that log lines carry consistent fields.
Console output is used for interactive runs, JSON when configured.
*/
package log
