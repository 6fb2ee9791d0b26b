package bus

import (
	"context"

	"github.com/yungbote/videoreview-backend/internal/realtime"
)

// Bus fans job notifications out to every API process.
type Bus interface {
	Publish(ctx context.Context, msg realtime.Message) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error
	Close() error
}
