// Package blackboard provides the signal model, the per-run signal log and the
// Redis schema patterns for the Glint image analysis blackboard.
//
// # Overview
//
// Every analysis run owns one Board: an append-only, versioned log of Signals.
// Waves never see the Board directly. Before a wave runs, the orchestrator cuts
// a Snapshot, an immutable view of every signal emitted so far plus the sets of
// completed and failed waves, and hands it to the wave. When the wave finishes
// its signals are appended in one step, so dependent waves never observe half
// of a wave's output.
//
// # Core Concepts
//
// Signals are immutable observations keyed by hierarchical strings such as
// "content.text_likeliness". A key may be emitted several times. Get returns
// the last occurrence, which is the canonical value for single-value keys;
// GetAll returns every occurrence. Collections use indexed keys built with
// IndexedKey ("text_detection.region[0]", "text_detection.region[1]", ...).
//
// Signatures are durable, content-addressed summaries of earlier runs. They
// are replaced whole on every write.
//
// # Usage Example
//
//	board := blackboard.NewBoard("")
//	_ = board.Add(blackboard.NewSignal("identity.pixel_count",
//		blackboard.Number(640*480), 1.0, "identity"))
//	snap := board.Snapshot()
//	pixels := snap.GetFloat("identity.pixel_count", 0)
//
// # Redis Schema
//
// Signatures: glint:{instance_name}:signature:{signature_key} (hash)
//
// Pub/Sub channels:
//
//	glint:{instance_name}:analysis_requests
//	glint:{instance_name}:analysis_events
package blackboard
