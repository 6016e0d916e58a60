package interfaces

import (
	"context"
	"encoding/json"
)

// PollState is the state reported by the acquisition provider for an
// in-flight snapshot.
type PollState string

const (
	PollPending     PollState = "pending"
	PollReadyInline PollState = "ready_inline"
	PollReadyRemote PollState = "ready_remote"
	PollFailed      PollState = "failed"
	PollNotFound    PollState = "not_found"
)

// PollOutcome is the result of polling a snapshot. Exactly one of Records
// (ready inline), FileURLs (ready remote) or Reason (failed) is populated.
type PollOutcome struct {
	State    PollState
	Records  []json.RawMessage
	FileURLs []string
	Reason   string
}

// SnapshotSize selects the poll cadence for an acquisition run. Profile
// metadata snapshots finish quickly; bulk post/reel pulls need longer
// warm-up, wider poll spacing and a larger total budget.
type SnapshotSize string

const (
	SnapshotSmall SnapshotSize = "small"
	SnapshotLarge SnapshotSize = "large"
)

// AcquisitionProvider wraps the external content-acquisition protocol:
// trigger a snapshot, poll it to completion, fetch the records.
type AcquisitionProvider interface {
	// Trigger submits an acquisition run and returns its snapshot ID.
	// Network-layer failures are retried internally with linear backoff
	// before an error is returned.
	Trigger(ctx context.Context, datasetID string, input []map[string]interface{}) (string, error)

	// Poll reports snapshot progress. Ready snapshots come back with
	// records inline or with downloadable file URLs.
	Poll(ctx context.Context, snapshotID string) (*PollOutcome, error)

	// FetchRemote downloads and concatenates records from file URLs
	// returned by a ready-remote poll.
	FetchRemote(ctx context.Context, urls []string) ([]json.RawMessage, error)

	// Collect drives the full trigger/poll/fetch cycle with the cadence and
	// timeout budget implied by size.
	Collect(ctx context.Context, datasetID string, input []map[string]interface{}, size SnapshotSize) ([]json.RawMessage, error)
}
