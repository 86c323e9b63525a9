package services

import (
	"context"
	"time"
)

// persistentContext detaches ctx from the caller's cancellation so that work which
// must finish once started (replaced-document cleanup, audit writes) is not cut short
// when the client disconnects.
func persistentContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock in UTC.
func SystemClock() Clock { return systemClock{} }
