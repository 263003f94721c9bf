package health

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestCheckAllReportsEachProbe(t *testing.T) {
	h := NewHealthChecker([]Probe{
		{Name: "database", Check: func(ctx context.Context) error { return nil }},
		{Name: "redis", Check: func(ctx context.Context) error { return errors.New("connection refused") }},
		{Name: "nats"},
	}, time.Second, quietLogger())

	result := h.CheckAll(context.Background())

	assert.Equal(t, StatusUnhealthy, result.Status)
	require.Len(t, result.Services, 3)
	assert.Equal(t, StatusHealthy, result.Services[0].Status)
	assert.Equal(t, StatusUnhealthy, result.Services[1].Status)
	assert.Equal(t, "connection refused", result.Services[1].Error)
	assert.Equal(t, StatusDisabled, result.Services[2].Status)
}

func TestDisabledProbesKeepOverallHealthy(t *testing.T) {
	h := NewHealthChecker([]Probe{
		{Name: "store", Check: func(ctx context.Context) error { return nil }},
		{Name: "redis"},
	}, time.Second, quietLogger())

	assert.Equal(t, StatusHealthy, h.CheckAll(context.Background()).Status)
}

func TestProbeTimeout(t *testing.T) {
	h := NewHealthChecker([]Probe{
		{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	}, 20*time.Millisecond, quietLogger())

	result := h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Contains(t, result.Services[0].Error, "deadline")
}

func TestCachedReusesLastResult(t *testing.T) {
	var calls int32
	h := NewHealthChecker([]Probe{
		{Name: "store", Check: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		}},
	}, time.Second, quietLogger())

	h.Cached(context.Background())
	h.Cached(context.Background())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
