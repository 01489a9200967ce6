// Package client provides RPCStore, a kstorage.IStore that forwards every
// operation to a store hosted by an rpc server.
//
// Errors of the remote store arrive as *kstorage.Error with their original
// code, so callers can use errors.Is with the kstorage sentinels no matter if
// the store is local or remote.
//
// Usage Example:
//
//	config := common.ClientConfig{
//		TimeoutSecond: 5,
//		Transport: common.ClientTransportConfig{
//			Endpoints:  []string{"localhost:8080"},
//			RetryCount: 3,
//		},
//	}
//
//	store, err := client.NewRPCStore(1, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	if err != nil {
//		panic(err)
//	}
//	defer store.Close()
//
//	gid, _ := store.AllocateGroup()
//	_ = store.Write(gid, 42, []byte("hello"), 0, 5)
package client
