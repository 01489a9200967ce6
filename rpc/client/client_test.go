package client_test

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/kStorage/lib/kstorage"
	storetesting "github.com/ValentinKolb/kStorage/lib/kstorage/testing"
	"github.com/ValentinKolb/kStorage/rpc/client"
	"github.com/ValentinKolb/kStorage/rpc/common"
	"github.com/ValentinKolb/kStorage/rpc/serializer"
	"github.com/ValentinKolb/kStorage/rpc/server"
	"github.com/ValentinKolb/kStorage/rpc/transport"
	"github.com/ValentinKolb/kStorage/rpc/transport/http"
	"github.com/ValentinKolb/kStorage/rpc/transport/tcp"
	"github.com/ValentinKolb/kStorage/rpc/transport/unix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shardID = 7

// remoteStore closes the server together with the client
type remoteStore struct {
	*client.RPCStore
	srv      *server.RPCServer
	endpoint string
}

func (r remoteStore) Close() {
	r.RPCStore.Close()
	_ = r.srv.Close()
}

// setup describes one transport/serializer combination
type setup struct {
	name         string
	endpoint     func(t *testing.T) string
	serverTransp func() transport.IRPCServerTransport
	clientTransp func() transport.IRPCClientTransport
	serializer   func() serializer.IRPCSerializer
	reclaimMode  string
}

func unixEndpoint(t *testing.T) string {
	// t.TempDir paths can exceed the socket path limit
	dir, err := os.MkdirTemp("", "kst")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func tcpEndpoint(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

var setups = []setup{
	{
		name:         "unix/binary/async",
		endpoint:     unixEndpoint,
		serverTransp: unix.NewUnixServerTransport,
		clientTransp: unix.NewUnixClientTransport,
		serializer:   serializer.NewBinarySerializer,
		reclaimMode:  "async",
	},
	{
		name:         "unix/binary/sync",
		endpoint:     unixEndpoint,
		serverTransp: unix.NewUnixServerTransport,
		clientTransp: unix.NewUnixClientTransport,
		serializer:   serializer.NewBinarySerializer,
		reclaimMode:  "sync",
	},
	{
		name:         "tcp/gob",
		endpoint:     tcpEndpoint,
		serverTransp: tcp.NewTCPServerTransport,
		clientTransp: tcp.NewTCPClientTransport,
		serializer:   serializer.NewGOBSerializer,
		reclaimMode:  "async",
	},
	{
		name:         "http/json",
		endpoint:     tcpEndpoint,
		serverTransp: http.NewHttpServerTransport,
		clientTransp: http.NewHttpClientTransport,
		serializer:   serializer.NewJSONSerializer,
		reclaimMode:  "async",
	},
}

// start runs a server for the setup and returns a connected client
func (s setup) start(t *testing.T) remoteStore {
	endpoint := s.endpoint(t)

	srv := server.NewRPCServer(common.ServerConfig{
		Shards:        []common.ServerShard{{ShardID: shardID}},
		Store:         common.StoreConfig{ReclaimMode: s.reclaimMode},
		Transport:     common.ServerTransportConfig{Endpoint: endpoint, WorkersPerConn: 8, TCPNoDelay: true, TCPLingerSec: -1},
		TimeoutSecond: 10,
	}, s.serverTransp(), s.serializer())

	go func() {
		if err := srv.Serve(); err != nil {
			t.Errorf("Serve failed: %v", err)
		}
	}()

	config := common.ClientConfig{
		TimeoutSecond: 10,
		Transport: common.ClientTransportConfig{
			Endpoints:  []string{endpoint},
			RetryCount: 1,
			TCPNoDelay: true,
		},
	}

	var store *client.RPCStore
	require.Eventually(t, func() bool {
		var err error
		store, err = client.NewRPCStore(shardID, config, s.clientTransp(), s.serializer())
		if err != nil {
			return false
		}
		// the http client connects lazily, wait until the server answers
		if _, err := store.GroupSize(0); err != nil && !errors.Is(err, kstorage.ErrInvalidGroup) {
			store.Close()
			return false
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	return remoteStore{RPCStore: store, srv: srv, endpoint: endpoint}
}

func TestRPCStore(t *testing.T) {
	for _, s := range setups {
		storetesting.RunStoreTests(t, s.name, func() kstorage.IStore {
			return s.start(t)
		})
	}
}

func TestRemoteErrorsKeepTheirCode(t *testing.T) {
	store := setups[0].start(t)
	defer store.Close()

	_, err := store.GroupSize(3)
	assert.ErrorIs(t, err, kstorage.ErrInvalidGroup)

	var kerr *kstorage.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, kstorage.CodeInvalidGroup, kerr.Code)
	assert.NotContains(t, kerr.Msg, "kstorage:")

	gid, err := store.AllocateGroup()
	require.NoError(t, err)
	assert.ErrorIs(t, store.Remove(gid, 1), kstorage.ErrNotFound)

	_, err = store.Read(gid, 1, make([]byte, 8), -1, 8)
	assert.ErrorIs(t, err, kstorage.ErrNotFound)

	require.NoError(t, store.Write(gid, 1, []byte("abc"), 0, 3))
	_, err = store.Read(gid, 1, make([]byte, 8), 4, 8)
	assert.ErrorIs(t, err, kstorage.ErrInvalidArgument)
	assert.ErrorIs(t, store.Write(gid, 1, []byte("abc"), -1, 1), kstorage.ErrInvalidArgument)

	// ids beyond the int32 group field must not wrap around onto an allocated group
	wide := gid + 1<<32
	_, err = store.GroupSize(wide)
	assert.ErrorIs(t, err, kstorage.ErrInvalidGroup)
	assert.ErrorIs(t, store.Write(wide, 2, []byte("x"), 0, 1), kstorage.ErrInvalidGroup)
	_, err = store.Read(wide, 1, make([]byte, 8), 0, 8)
	assert.ErrorIs(t, err, kstorage.ErrInvalidGroup)
	assert.ErrorIs(t, store.Remove(wide, 1), kstorage.ErrInvalidGroup)
	_, err = store.ListIDs(wide, make([]byte, kstorage.IDSize), 1)
	assert.ErrorIs(t, err, kstorage.ErrInvalidGroup)
	_, err = store.Digest(wide)
	assert.ErrorIs(t, err, kstorage.ErrInvalidGroup)
	size, err := store.GroupSize(gid)
	require.NoError(t, err)
	assert.Equal(t, 1, size, "group %d must be untouched", gid)

	for i := 1; i < kstorage.MaxGroups; i++ {
		_, err := store.AllocateGroup()
		require.NoError(t, err)
	}
	next, err := store.AllocateGroup()
	assert.ErrorIs(t, err, kstorage.ErrCapacity)
	assert.Equal(t, -1, next, "a failed allocation must not look like a valid group")
}

func TestInfo(t *testing.T) {
	store := setups[0].start(t)
	defer store.Close()

	gid, err := store.AllocateGroup()
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		value := []byte(fmt.Sprintf("value-%d", i))
		require.NoError(t, store.Write(gid, int64(i), value, 0, len(value)))
	}

	info, err := store.Info()
	require.NoError(t, err)
	assert.Equal(t, kstorage.MaxGroups, info.Capacity)
	assert.Equal(t, 1, info.AllocatedGroups)
	assert.Equal(t, 10, info.GroupSizes[0])
	assert.EqualValues(t, 10, info.WrittenEntries)
	assert.Positive(t, info.MemoryUsed)

	local, ok := store.srv.Store(shardID)
	require.True(t, ok)
	assert.Equal(t, local.ID(), info.InstanceID)
}

func TestUnknownShard(t *testing.T) {
	s := setups[0]
	store := s.start(t)
	defer store.Close()

	other, err := client.NewRPCStore(shardID+1, common.ClientConfig{
		TimeoutSecond: 5,
		Transport:     common.ClientTransportConfig{Endpoints: []string{store.endpoint}},
	}, s.clientTransp(), s.serializer())
	require.NoError(t, err)
	defer other.Close()

	_, err = other.AllocateGroup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shard 8 not found")
	var kerr *kstorage.Error
	assert.False(t, errors.As(err, &kerr))
}
