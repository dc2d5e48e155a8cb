/*
Package memory implements the tiered memory manager used by every agent invocation.

Four tiers back the manager:

  - Working context: ephemeral state keyed by (project, agent), cleared after each invocation.
  - Session log: append-only per project, summarised into a short window for prompts.
  - Persistent memory: long-term facts and insights per project, carried across runs.
  - Artifacts: immutable offloaded payloads addressed by a generated id.

Every operation is best-effort: storage failures are logged and swallowed so that a
flaky backend never aborts the invocation that triggered it.
*/
package memory
