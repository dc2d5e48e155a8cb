/*
Package workflow implements the phased coordinator that drives one pipeline run per project.

Phases run in a fixed order:

 1. Intake (required): failure fails the run.
 2. Enrichment (parallel): each agent may be skipped; failures are recorded only.
 3. Validation gates (parallel): any hard_stop flag ends the run as hard_stop.
 4. Decision: a negative outcome completes the run without an artifact.
 5. Generation: driven through the critic loop.
 6. Review (parallel judges): consensus is recorded, never fatal.

Cancellation is polled from the workflow store at every phase boundary, a wall-clock
budget is checked before each phase, and state is checkpointed after each phase.
*/
package workflow
