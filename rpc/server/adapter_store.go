package server

import (
	"fmt"

	"github.com/ValentinKolb/kStorage/lib/kstorage"
	"github.com/ValentinKolb/kStorage/rpc/common"
)

// NewStoreServerAdapter creates the adapter serving kstorage.IStore operations
func NewStoreServerAdapter() IRPCServerAdapter {
	return storeAdapter{}
}

type storeAdapter struct{}

func (storeAdapter) Handle(req *common.Message, store *kstorage.Store) *common.Message {
	gid := int(req.GroupID)

	switch req.MsgType {
	case common.MsgTAlloc:
		return common.NewAllocResponse(store.AllocateGroup())

	case common.MsgTSize:
		return common.NewSizeResponse(store.GroupSize(gid))

	case common.MsgTWrite:
		err := store.Write(gid, req.RecordID, req.Value, int(req.Offset), int(req.Length))
		return common.NewWriteResponse(err)

	case common.MsgTRead:
		return common.NewReadResponse(store.ReadCopy(gid, req.RecordID, int(req.Offset), int(req.Length)))

	case common.MsgTRemove:
		return common.NewRemoveResponse(store.Remove(gid, req.RecordID))

	case common.MsgTList:
		return listIDs(store, gid, int(req.Length))

	case common.MsgTDigest:
		return common.NewDigestResponse(store.Digest(gid))

	case common.MsgTInfo:
		return common.NewInfoResponse(store.Info(), nil)

	default:
		return common.NewErrorResponse(fmt.Sprintf("unsupported message type: %s", req.MsgType))
	}
}

// listIDs answers a list request with at most capacity ids of one snapshot.
// Transfer faults into the caller's buffer are detected by the client.
func listIDs(store *kstorage.Store, gid, capacity int) *common.Message {
	ids, err := store.IDs(gid)
	if err != nil {
		return common.NewListResponse(nil, 0, err)
	}
	ids = ids[:min(max(capacity, 0), len(ids))]
	return common.NewListResponse(kstorage.EncodeIDs(ids), len(ids), nil)
}
