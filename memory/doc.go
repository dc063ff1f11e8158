/*
Package memory provides a capacity-bounded, in-process store of semantic
memory entries for conversational agents, together with the policy engine
that keeps it within its memory and quality budgets.

# Components

  - [Store]: keyed, insertion-ordered table of entries with a FIFO backstop
    at MaxEntries and a best-effort persistence hook.
  - [AccessTracker]: side table of access count / last access per entry id.
  - [Score]: pure retention scoring from importance, confidence, recency
    decay and access frequency.
  - [Deduplicator]: O(n) duplicate discovery via a rolling hash over the
    normalized text prefix; newest entry in each group survives.
  - [Compactor]: lossy per-entry size reduction (sentence-boundary text
    truncation, embedding precision rounding, metadata rebuild).
  - [Optimizer]: background scheduler running dedup, score-driven eviction
    and a daily compaction pass, with per-cycle failure isolation.

# Ownership and concurrency

The Store exclusively owns entries and hands out copies. All mutations take
a single mutex per call, never across calls, so reads are not blocked for
the duration of a multi-step optimization pass. The pass tolerates entries
disappearing between its read and delete steps: deleting an already-deleted
id returns false, never an error.

The Optimizer is an explicitly constructed component with an injected clock
and explicit Start/Stop, so tests drive cycles deterministically without
wall-clock waits.
*/
package memory
