package align

import (
	"context"

	"github.com/khincker/bounced-site/pkg/track"
)

// Aligner estimates the time offset between two near-duplicate tracks.
type Aligner interface {
	// FindOffset returns the signed offset in seconds between the two
	// tracks; a positive value means b's content starts later than a's.
	// Alignment never fails as such: a poor match yields a best-effort
	// offset (usually zero). The error is only for context cancellation.
	FindOffset(ctx context.Context, a, b *track.Track) (float64, error)
}
