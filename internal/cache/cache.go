package cache

import (
	"context"
	"time"
)

// ReceiptCache records successful deliveries for quick operator lookups
// without a round trip to the event store. Caching is optional; the
// executor treats a nil cache as disabled.
type ReceiptCache interface {
	StoreReceipt(ctx context.Context, eventID int64, deliveryID string, executedAt time.Time) error
}
