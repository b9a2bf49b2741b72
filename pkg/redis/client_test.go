package redis

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/himera-fsm/pkg/config"
)

func TestNew_CountsCommands(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client, err := New(ctx, config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	before := testutil.ToFloat64(redisRequestsTotal.WithLabelValues("hset"))
	require.NoError(t, client.HSet(ctx, "fsm:1:2:3", "state", "s").Err())
	assert.Equal(t, before+1, testutil.ToFloat64(redisRequestsTotal.WithLabelValues("hset")))

	missesBefore := testutil.ToFloat64(redisErrorsTotal.WithLabelValues("get"))
	_, err = client.Get(ctx, "missing").Result()
	require.Error(t, err)
	assert.Equal(t, missesBefore, testutil.ToFloat64(redisErrorsTotal.WithLabelValues("get")))
}

func TestNew_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), config.RedisConfig{Addr: addr, PoolSize: 1})
	assert.Error(t, err)
}
