package events

import (
	"context"

	"github.com/JakeFAU/sitewatch/internal/watch"
)

// Sink consumes batches of change events. Implementations must honor ctx
// deadlines and tolerate repeated calls.
type Sink interface {
	Consume(ctx context.Context, batch []watch.ChangeEvent) error
	Close(ctx context.Context) error
}
