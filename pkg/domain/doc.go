/*
Package domain contains the core domain models of the Forge orchestration engine.

It defines the records exchanged between the workflow coordinator, the critic loop,
the agent contract and the tiered memory. This package is kept pure and free of
external dependencies like I/O or persistence, following Hexagonal Architecture principles.

# Key Entities

  - ExecutionContext: Identity of a run (project, user, metadata), passed by value to agents.
  - AgentResult: The structured outcome of one agent invocation.
  - Evaluation / RefinementFeedback: The critic loop's judgement and the feedback derived from it.
  - WorkingContextRecord, SessionLogEntry, ArtifactRecord: The tiered memory records.
  - WorkflowState: The checkpointed snapshot of a workflow run and its monotonic status.
  - Event: A progress notification emitted for every phase and agent transition.
*/
package domain
