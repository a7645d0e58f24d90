package sftp

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justyntemme/waypoint/internal/monitor"
	"github.com/justyntemme/waypoint/internal/vfs"
)

var testHost = Host{Name: "Test", Address: "example.test:2222", User: "me", Password: "secret"}

func loc(p string) vfs.Location { return vfs.MustParse("sftp://" + testHost.Address + p) }

// pipeDialer serves an in-memory filesystem over a pipe.
func pipeDialer(dials *int) Dialer {
	return func(ctx context.Context, h Host) (*sftp.Client, io.Closer, error) {
		*dials++
		serverConn, clientConn := net.Pipe()
		server := sftp.NewRequestServer(serverConn, sftp.InMemHandler())
		go server.Serve()
		client, err := sftp.NewClientPipe(clientConn, clientConn)
		if err != nil {
			server.Close()
			return nil, nil, err
		}
		return client, server, nil
	}
}

func mounted(t *testing.T) (*Backend, *sftp.Client) {
	t.Helper()
	var dials int
	b := New(Options{Hosts: []Host{testHost}, Dial: pipeDialer(&dials)})
	t.Cleanup(func() { b.Close() })
	require.NoError(t, b.MountEnclosingVolume(context.Background(), loc("/")))
	c, err := b.client(loc("/"))
	require.NoError(t, err)
	return b, c
}

func put(t *testing.T, c *sftp.Client, p, content string) {
	t.Helper()
	f, err := c.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	require.NoError(t, err)
	_, err = f.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestMountPublishesEntryPoint(t *testing.T) {
	hub := monitor.NewHub(0)
	defer hub.Close()
	var changes int
	hub.Subscribe(func(n monitor.Notification) {
		if n.Kind == monitor.EntryPointsChanged {
			changes++
		}
	})

	var dials int
	b := New(Options{Hosts: []Host{testHost}, Hub: hub, Dial: pipeDialer(&dials)})
	defer b.Close()

	eps, err := b.EntryPoints(context.Background())
	require.NoError(t, err)
	assert.Empty(t, eps)

	_, err = b.List(context.Background(), loc("/"), "")
	assert.ErrorIs(t, err, vfs.ErrMountRequired)

	require.NoError(t, b.MountEnclosingVolume(context.Background(), loc("/deep/path")))
	require.NoError(t, b.MountEnclosingVolume(context.Background(), loc("/")))
	assert.Equal(t, 1, dials, "second mount reuses the session")
	assert.Equal(t, 1, changes)

	eps, err = b.EntryPoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []vfs.EntryPoint{{Location: loc("/"), Name: "Test", Icon: "network"}}, eps)

	err = b.MountEnclosingVolume(context.Background(), vfs.MustParse("sftp://unknown/"))
	assert.Error(t, err)

	require.NoError(t, b.Unmount(loc("/")))
	eps, _ = b.EntryPoints(context.Background())
	assert.Empty(t, eps)
	assert.Equal(t, 2, changes)
}

func TestMountFailure(t *testing.T) {
	boom := errors.New("connection refused")
	b := New(Options{Hosts: []Host{testHost}, Dial: func(context.Context, Host) (*sftp.Client, io.Closer, error) {
		return nil, nil, boom
	}})
	assert.ErrorIs(t, b.MountEnclosingVolume(context.Background(), loc("/")), boom)
}

func TestListAndAttributes(t *testing.T) {
	b, c := mounted(t)
	require.NoError(t, c.Mkdir("/docs"))
	put(t, c, "/docs/b.txt", "hello")
	put(t, c, "/docs/.hidden", "")
	require.NoError(t, c.Mkdir("/docs/sub"))

	files, err := b.List(context.Background(), loc("/docs"), "")
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, ".hidden", files[0].Name)
	assert.True(t, files[0].Hidden)
	assert.Equal(t, int64(5), files[1].Size)
	assert.True(t, files[2].IsDir())
	assert.Equal(t, loc("/docs/sub"), files[2].Location)

	attrs, err := b.ReadAttributes(context.Background(), []vfs.Location{loc("/docs/b.txt")}, "")
	require.NoError(t, err)
	assert.Equal(t, vfs.KindRegular, attrs[0].Kind)

	_, err = b.ReadAttributes(context.Background(), []vfs.Location{loc("/docs/none")}, "")
	assert.Error(t, err)
}

func TestRenameCopyRemove(t *testing.T) {
	b, c := mounted(t)
	ctx := context.Background()
	require.NoError(t, c.Mkdir("/src"))
	require.NoError(t, c.Mkdir("/dst"))
	put(t, c, "/src/a.txt", "aaa")

	to, err := b.Rename(ctx, loc("/src/a.txt"), "b.txt")
	require.NoError(t, err)
	assert.Equal(t, loc("/src/b.txt"), to)

	require.NoError(t, b.Copy(ctx, vfs.CopyRequest{Destination: loc("/dst"), Files: []vfs.Location{to}}))
	require.NoError(t, b.Copy(ctx, vfs.CopyRequest{Destination: loc("/dst"), Files: []vfs.Location{to}}))
	files, err := b.List(ctx, loc("/dst"), "")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "b (2).txt", files[0].Name)
	assert.Equal(t, int64(3), files[1].Size)

	err = b.Copy(ctx, vfs.CopyRequest{Destination: loc("/dst"), Files: []vfs.Location{vfs.MustParse("sftp://other/x")}})
	assert.ErrorIs(t, err, vfs.ErrNotSupported)

	assert.ErrorIs(t, b.Remove(ctx, loc("/dst"), []vfs.Location{loc("/dst/b.txt")}, false), vfs.ErrNotSupported)
	require.NoError(t, b.Remove(ctx, loc("/dst"), []vfs.Location{loc("/dst/b.txt")}, true))
	files, err = b.List(ctx, loc("/dst"), "")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestClientConfig(t *testing.T) {
	_, err := clientConfig(Host{Address: "h"})
	assert.Error(t, err, "a host needs credentials")

	cfg, err := clientConfig(Host{Address: "h", User: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, "u", cfg.User)
	assert.Len(t, cfg.Auth, 1)
	assert.NotNil(t, cfg.HostKeyCallback)
}
