package server

import (
	"github.com/ValentinKolb/kStorage/lib/kstorage"
	"github.com/ValentinKolb/kStorage/rpc/common"
)

// IRPCServerAdapter translates requests into calls on the store of a shard
type IRPCServerAdapter interface {
	// Handle executes req against store and returns the response.
	// Store errors are reported in the response, never as a Go error.
	Handle(req *common.Message, store *kstorage.Store) (resp *common.Message)
}
