package client

import (
	"fmt"

	"github.com/ValentinKolb/kStorage/lib/kstorage"
	"github.com/ValentinKolb/kStorage/rpc/common"
	"github.com/ValentinKolb/kStorage/rpc/serializer"
	"github.com/ValentinKolb/kStorage/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter holds everything needed to send requests to one shard
type rpcClientAdapter struct {
	shardId    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invoke sends req to the shard and returns the response.
//
// Store errors reported by the server are returned as *kstorage.Error with the
// original code, so errors.Is works on both sides of the wire. Transport,
// serialization and protocol failures are returned as plain errors.
func (a *rpcClientAdapter) invoke(req *common.Message) (*common.Message, error) {
	reqBytes, err := a.serializer.Serialize(*req)
	if err != nil {
		return nil, fmt.Errorf("rpc: failed to serialize %s request: %w", req.MsgType, err)
	}

	respBytes, err := a.transport.Send(a.shardId, reqBytes)
	if err != nil {
		return nil, fmt.Errorf("rpc: %s request to shard %d failed: %w", req.MsgType, a.shardId, err)
	}

	resp := &common.Message{}
	if err := a.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("rpc: failed to deserialize %s response: %w", req.MsgType, err)
	}

	switch {
	case resp.MsgType == common.MsgTError:
		return nil, fmt.Errorf("rpc: server error: %s", resp.Err)
	case resp.Code != kstorage.CodeOK:
		return nil, &kstorage.Error{Code: resp.Code, Msg: resp.Err}
	case resp.Err != "":
		return nil, fmt.Errorf("rpc: %s failed: %s", req.MsgType, resp.Err)
	case resp.MsgType != req.MsgType:
		return nil, fmt.Errorf("rpc: unexpected message type %s, expected %s", resp.MsgType, req.MsgType)
	}
	return resp, nil
}
