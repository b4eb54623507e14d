package chatstore

import (
	"context"
	"log/slog"
)

// Default batch sizes.
const (
	DefaultIndexBatchSize  = 200
	DefaultSampleBatchSize = 300
)

// Consume scans one session batch by batch, calling fn for each batch until
// the store reports no more rows. The cursor is closed on every exit path.
// ctx is checked between batches, never inside one.
func Consume(ctx context.Context, s Store, sessionID string, opts CursorOptions, fn func(Batch) error) (err error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultIndexBatchSize
	}

	id, err := s.OpenCursor(ctx, sessionID, opts)
	if err != nil {
		return &StoreError{Op: "open cursor", Session: sessionID, Err: err}
	}
	defer func() {
		// Release even when ctx is already cancelled.
		if cerr := s.CloseCursor(context.WithoutCancel(ctx), id); cerr != nil {
			slog.Warn("close cursor failed", "session", sessionID, "cursor", id, "error", cerr)
			if err == nil {
				err = &StoreError{Op: "close cursor", Session: sessionID, Err: cerr}
			}
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := s.FetchBatch(ctx, id)
		if err != nil {
			return &StoreError{Op: "fetch batch", Session: sessionID, Err: err}
		}

		if err := fn(batch); err != nil {
			return err
		}

		if !batch.HasMore {
			return nil
		}
	}
}
