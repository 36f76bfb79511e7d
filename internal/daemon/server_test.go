package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/internal/async"
	"github.com/quarrysearch/quarry/internal/config"
	qerrors "github.com/quarrysearch/quarry/internal/errors"
)

// startTestServer runs a daemon on a temp socket and returns a client
// for it. The server is torn down with the test.
func startTestServer(t *testing.T) *Client {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.Daemon.SocketPath = filepath.Join(dir, "d.sock")

	srv, err := NewServer(cfg, nil)
	require.NoError(t, err)
	srv.pidPath = filepath.Join(dir, "daemon.pid")

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(context.Background()) }()
	t.Cleanup(func() {
		srv.Stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	})

	client, err := NewClient(cfg.Daemon.SocketPath)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return client.IsRunning(context.Background())
	}, 5*time.Second, 20*time.Millisecond)
	return client
}

func waitForJob(t *testing.T, client *Client, root string) async.Snapshot {
	t.Helper()
	var snap async.Snapshot
	require.Eventually(t, func() bool {
		status, err := client.Status(context.Background())
		if err != nil {
			return false
		}
		for _, job := range status.Jobs {
			if job.Root == root && job.State != async.JobRunning {
				snap = job
				return true
			}
		}
		return false
	}, 10*time.Second, 50*time.Millisecond)
	return snap
}

func TestServerPing(t *testing.T) {
	client := startTestServer(t)
	assert.True(t, client.IsRunning(context.Background()))
}

func TestServerIndexAndSearch(t *testing.T) {
	client := startTestServer(t)
	root := newProjectDir(t)

	res, err := client.Index(context.Background(), IndexParams{Root: root})
	require.NoError(t, err)
	assert.Equal(t, root, res.Job.Root)

	job := waitForJob(t, client, root)
	require.Equal(t, async.JobDone, job.State)
	assert.Equal(t, 2, job.FilesIndexed)

	results, err := client.Search(context.Background(), SearchParams{
		Query: "hello quarry",
		Root:  root,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results.Results)
	assert.Equal(t, "main.go", results.Results[0].Path)
}

func TestServerSearchBeforeIndex(t *testing.T) {
	client := startTestServer(t)
	root := newProjectDir(t)

	_, err := client.Search(context.Background(), SearchParams{
		Query: "anything",
		Root:  root,
	})
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeNotIndexed, rpcErr.Code)
}

func TestServerInvalidParams(t *testing.T) {
	client := startTestServer(t)

	_, err := client.Search(context.Background(), SearchParams{Root: t.TempDir()})
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeInvalidParams, rpcErr.Code)

	_, err = client.Index(context.Background(), IndexParams{})
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeInvalidParams, rpcErr.Code)
}

func TestServerUnknownMethod(t *testing.T) {
	client := startTestServer(t)

	err := client.call(context.Background(), "definitely-not-a-method", nil, nil)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeMethodNotFound, rpcErr.Code)
}

func TestServerStatusReportsProjects(t *testing.T) {
	client := startTestServer(t)
	root := newProjectDir(t)

	_, err := client.Index(context.Background(), IndexParams{Root: root})
	require.NoError(t, err)
	waitForJob(t, client, root)

	status, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, os.Getpid(), status.PID)
	require.Len(t, status.Projects, 1)
	assert.Equal(t, root, status.Projects[0].Root)
	assert.Positive(t, status.Projects[0].Chunks)
}

func TestServerStopViaRPC(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.Daemon.SocketPath = filepath.Join(dir, "d.sock")

	srv, err := NewServer(cfg, nil)
	require.NoError(t, err)
	srv.pidPath = filepath.Join(dir, "daemon.pid")

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(context.Background()) }()

	client, err := NewClient(cfg.Daemon.SocketPath)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return client.IsRunning(context.Background())
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, client.Stop(context.Background()))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}

	// Socket and PID file are gone once shutdown completes.
	_, err = os.Stat(cfg.Daemon.SocketPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(srv.pidPath)
	assert.True(t, os.IsNotExist(err))
}

func TestClientDaemonUnreachable(t *testing.T) {
	client, err := NewClient(filepath.Join(t.TempDir(), "nobody.sock"))
	require.NoError(t, err)

	assert.False(t, client.IsRunning(context.Background()))
	_, err = client.Status(context.Background())
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrCodeDaemonDown, qerrors.GetCode(err))
}

func TestServerRefusesSecondDaemon(t *testing.T) {
	client := startTestServer(t)
	_ = client

	// Reuse the live socket for a second server; it must refuse to
	// claim it.
	cfg := config.NewConfig()
	cfg.Daemon.SocketPath = client.socketPath

	second, err := NewServer(cfg, nil)
	require.NoError(t, err)
	err = second.ListenAndServe(context.Background())
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrCodeIndexBusy, qerrors.GetCode(err))
}
