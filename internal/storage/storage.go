package storage

import (
	"context"

	"callSpread/internal/model"
)

// EventSink receives exported engine events in sequence order. Sinks must
// tolerate a batch being delivered again after a failed checkpoint write.
type EventSink interface {
	PutEventBatch(ctx context.Context, events []model.Event) error
}
