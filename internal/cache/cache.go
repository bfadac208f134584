package cache

import (
	"context"
	"time"
)

// ListCache holds short-lived serialized reference-data lists so hot
// listing endpoints do not hit the remote store on every request.
type ListCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

type NoopListCache struct{}

func (NoopListCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopListCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}
