/*
Package ports defines the driven ports (interfaces) of the Parley session core.

These interfaces decouple session control from the systems it talks to, allowing
the registry to run against any workflow backend, snapshot store or lock service.

# Key Interfaces

  - Workflow: Resolves a named trigger into reply descriptors (the automation backend).
  - Actors: The four external operations the state machine invokes.
  - SnapshotStore: Persists the compact per-session snapshot read by other deployments.
  - DistributedLocker: Provides distributed locking for read-merge-write of snapshots.
*/
package ports
