package server

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lukluk/feoxd/internal/config"
)

func TestServerEndToEndGetSet(t *testing.T) {
	cfg := config.Default()
	cfg.BindAddr = "127.0.0.1"
	cfg.Port = 0
	cfg.Threads = 2

	srv, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("server did not shut down")
		}
	}()

	addr := srv.Addr().String()

	client, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer client.Close()

	client.SetDeadline(time.Now().Add(2 * time.Second))
	_, err = client.Write(respArray("SET", "k", "v"))
	require.NoError(t, err)

	reader := bufio.NewReader(client)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "+OK\r\n", line)

	_, err = client.Write(respArray("GET", "k"))
	require.NoError(t, err)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "$1\r\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "v\r\n", line)
}
