/*
Package ports defines the driven ports (interfaces) for the Forge engine.

These interfaces decouple the orchestration core from external implementations, allowing
the engine to run against various storage backends, model backends and search services.

# Key Interfaces

  - TextGenerator: A named text-generation backend (system prompt + user prompt -> text).
  - DocumentSearcher: Ranked excerpt search used by grounding verification.
  - WorkflowStore: Persists and checkpoints WorkflowState; polled for cancellation.
  - ResultPersister: Persists the generated artifact once per completed run.
  - WorkingContextStore, SessionLog, PersistentMemory, ArtifactStore: The memory tiers.
  - DistributedLocker: Provides distributed locking so a project runs at most once at a time.
*/
package ports
