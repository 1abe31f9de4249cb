/*
Package types defines the core data model shared across Burrow's components.

The model has four entities. A Project is a static, user-declared source
directory. An Environment is a prepared workspace instance bound to a project
and owned by an environment provider; its opaque Metadata value holds all
provider state. A Task is a unit of work that owns exactly one Environment
for its whole life. A Job is a queued background activity that drives an
entity's lifecycle; jobs are owned by the queue and reference their targets
by ID in the payload.

Status transitions are performed only by the lifecycle staging layer and the
worker pool. Clients observe status, they never write it, except through the
explicit force-delete escape hatch.
*/
package types
