//go:build integration

// Package integration runs whole pipelines through the agent process
// boundary. The agent CLI is replaced by a scripted executor that speaks
// stream-json and writes evidence and completion markers, so the marker
// watcher, stream parsing, transcripts, validation and result files are all
// exercised. To run:
//
//	go test -tags=integration ./internal/integration/...
//
// Tests against the real claude CLI also need the real_claude tag and the
// binary on PATH:
//
//	go test -tags=integration,real_claude ./internal/integration/...
package integration
