// Package fetch implements the two provider fetchers. Each produces an
// unbounded stream of provider-tagged raw record blobs; normalization and
// everything downstream is the pipeline's concern.
package fetch

import (
	"context"

	"github.com/SpencerPresley/AcademicMetrics/internal/pubrecord"
)

// Fetcher streams raw records into out until the source is exhausted or the
// context is cancelled. Implementations must not close out; the caller owns
// the channel so several fetchers can share it.
type Fetcher interface {
	Fetch(ctx context.Context, out chan<- pubrecord.RawRecord) error
}

func send(ctx context.Context, out chan<- pubrecord.RawRecord, rec pubrecord.RawRecord) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- rec:
		return nil
	}
}
