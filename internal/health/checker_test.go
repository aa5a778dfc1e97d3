package health

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestChecker_AggregatesComponents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	checker := NewChecker(nil, time.Second)
	checker.AddCheck("redis", NewRedisChecker(client))
	checker.AddCheck("database", CheckFunc(func(context.Context) error { return nil }))

	report := checker.Check(context.Background())
	assert.True(t, report.Healthy)
	assert.Equal(t, map[string]string{"redis": "OK", "database": "OK"}, report.Components)

	checker.AddCheck("telegram", NewTelegramChecker(nil))
	report = checker.Check(context.Background())
	assert.False(t, report.Healthy)
	assert.NotEqual(t, "OK", report.Components["telegram"])
}

func TestChecker_TimesOutSlowChecks(t *testing.T) {
	checker := NewChecker(nil, 20*time.Millisecond)
	checker.AddCheck("slow", CheckFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	checker.AddCheck("broken", CheckFunc(func(context.Context) error { return errors.New("down") }))

	report := checker.Check(context.Background())
	assert.False(t, report.Healthy)
	assert.Equal(t, context.DeadlineExceeded.Error(), report.Components["slow"])
	assert.Equal(t, "down", report.Components["broken"])
}
