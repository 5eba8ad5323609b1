package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisWriter_SaveInCache(t *testing.T) {
	srv, err := miniredis.Run()
	require.NoError(t, err)
	defer srv.Close()

	w := NewRedisWriter(Options{Addr: srv.Addr()})
	defer w.Close()

	err = w.SaveInCache(context.Background(), "f/results/abc", []byte(`{"v":1}`), time.Minute)
	require.NoError(t, err)

	got, err := srv.Get("f/results/abc")
	require.NoError(t, err)
	require.Equal(t, `{"v":1}`, got)

	ttl := srv.TTL("f/results/abc")
	require.Greater(t, ttl, time.Duration(0))
}

func TestRedisWriter_Ping(t *testing.T) {
	srv, err := miniredis.Run()
	require.NoError(t, err)
	defer srv.Close()

	w := NewRedisWriter(Options{Addr: srv.Addr()})
	defer w.Close()

	require.NoError(t, w.Ping(context.Background()))
}
