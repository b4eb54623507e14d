package tone

import (
	"context"
	"math/rand/v2"

	"github.com/nextlevelbuilder/chatclone/internal/chatstore"
	"github.com/nextlevelbuilder/chatclone/internal/normalize"
)

// SampleRequest describes one sampling pass over a session.
type SampleRequest struct {
	SessionID string
	Identity  string
	Size      int
	BatchSize int
	Rand      *rand.Rand // nil uses the global source
}

// Sample streams the session once and returns a uniform sample of the
// counterpart's messages along with how many were seen.
func Sample(ctx context.Context, src chatstore.Store, req SampleRequest) ([]normalize.Message, int, error) {
	size := req.Size
	if size <= 0 {
		size = DefaultSampleSize
	}
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = chatstore.DefaultSampleBatchSize
	}

	norm := normalize.New(req.Identity)
	res := NewReservoir[normalize.Message](size, req.Rand)
	err := chatstore.Consume(ctx, src, req.SessionID, chatstore.CursorOptions{
		BatchSize: batchSize,
		Ascending: true,
	}, func(b chatstore.Batch) error {
		for _, row := range b.Rows {
			msg := norm.Map(row)
			if msg == nil || msg.Role != normalize.RoleTarget {
				continue
			}
			res.Offer(*msg)
		}
		return nil
	})
	if err != nil {
		return nil, res.Seen(), err
	}
	if len(res.Items()) == 0 {
		return nil, 0, ErrNoSamples
	}
	return res.Items(), res.Seen(), nil
}
