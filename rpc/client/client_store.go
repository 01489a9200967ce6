package client

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/ValentinKolb/kStorage/lib/kstorage"
	"github.com/ValentinKolb/kStorage/rpc/common"
	"github.com/ValentinKolb/kStorage/rpc/serializer"
	"github.com/ValentinKolb/kStorage/rpc/transport"
)

// NewRPCStore connects the transport and returns a store that forwards every
// operation to the store of shardId on the server.
func NewRPCStore(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*RPCStore, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &RPCStore{
		rpcClientAdapter: rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

// RPCStore is a kstorage.IStore backed by a remote store.
//
// Buffers passed to Read, Write and ListIDs are accessed with a
// kstorage.LocalCopier, a destination that is too small fails with
// kstorage.ErrTransferFault like it does locally.
type RPCStore struct {
	rpcClientAdapter
	copier kstorage.LocalCopier
}

var _ kstorage.IStore = (*RPCStore)(nil)

// --------------------------------------------------------------------------
// Interface Methods (docu see kstorage.IStore)
// --------------------------------------------------------------------------

func (s *RPCStore) AllocateGroup() (int, error) {
	resp, err := s.invoke(common.NewAllocRequest())
	if err != nil {
		return -1, err
	}
	return int(resp.Count), nil
}

func (s *RPCStore) GroupSize(gid int) (int, error) {
	if err := checkGroup(gid); err != nil {
		return 0, err
	}
	resp, err := s.invoke(common.NewSizeRequest(gid))
	if err != nil {
		return 0, err
	}
	return int(resp.Count), nil
}

// Write sends only the selected bytes of src. Invalid ranges are sent without
// data, the server then reports the same error a local store would.
func (s *RPCStore) Write(gid int, id int64, src []byte, offset, length int) error {
	if err := checkGroup(gid); err != nil {
		return err
	}
	var req *common.Message
	if offset >= 0 && length >= 0 && offset <= len(src) && length <= len(src)-offset {
		req = common.NewWriteRequest(gid, id, src[offset:offset+length], 0, length)
	} else {
		req = common.NewWriteRequest(gid, id, nil, offset, length)
	}
	_, err := s.invoke(req)
	return err
}

func (s *RPCStore) Read(gid int, id int64, dst []byte, offset, length int) (int, error) {
	if err := checkGroup(gid); err != nil {
		return 0, err
	}
	resp, err := s.invoke(common.NewReadRequest(gid, id, offset, length))
	if err != nil {
		return 0, err
	}
	if err := s.copier.Copy(dst, resp.Value); err != nil {
		return 0, kstorage.NewError(kstorage.CodeTransferFault, "copy to caller failed: %v", err)
	}
	return len(resp.Value), nil
}

func (s *RPCStore) Remove(gid int, id int64) error {
	if err := checkGroup(gid); err != nil {
		return err
	}
	_, err := s.invoke(common.NewRemoveRequest(gid, id))
	return err
}

func (s *RPCStore) ListIDs(gid int, dst []byte, capacity int) (int, error) {
	if err := checkGroup(gid); err != nil {
		return 0, err
	}
	resp, err := s.invoke(common.NewListRequest(gid, capacity))
	if err != nil {
		return 0, err
	}

	n := int(resp.Count)
	if len(resp.Value) != n*kstorage.IDSize {
		return 0, fmt.Errorf("rpc: list response holds %d bytes for %d ids", len(resp.Value), n)
	}
	for i := 0; i < n; i++ {
		at := i * kstorage.IDSize
		if at > len(dst) {
			return i, kstorage.NewError(kstorage.CodeTransferFault, "id %d does not fit into %d byte buffer", i, len(dst))
		}
		if err := s.copier.Copy(dst[at:], resp.Value[at:at+kstorage.IDSize]); err != nil {
			return i, kstorage.NewError(kstorage.CodeTransferFault, "copy of id %d failed: %v", i, err)
		}
	}
	return n, nil
}

func (s *RPCStore) Digest(gid int) ([32]byte, error) {
	var sum [32]byte
	if err := checkGroup(gid); err != nil {
		return sum, err
	}
	resp, err := s.invoke(common.NewDigestRequest(gid))
	if err != nil {
		return sum, err
	}
	if len(resp.Value) != len(sum) {
		return sum, fmt.Errorf("rpc: digest of %d bytes", len(resp.Value))
	}
	copy(sum[:], resp.Value)
	return sum, nil
}

// checkGroup rejects group ids that do not fit the int32 group field of a message
func checkGroup(gid int) error {
	if gid < 0 || gid > math.MaxInt32 {
		return kstorage.NewError(kstorage.CodeInvalidGroup, "group %d is not allocated", gid)
	}
	return nil
}

// Close closes the transport
func (s *RPCStore) Close() {
	if err := s.transport.Close(); err != nil {
		Logger.Warningf("failed to close transport: %v", err)
	}
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// Info returns the statistics of the remote store
func (s *RPCStore) Info() (kstorage.Info, error) {
	var info kstorage.Info
	resp, err := s.invoke(common.NewInfoRequest())
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(resp.Value, &info); err != nil {
		return info, fmt.Errorf("rpc: invalid info response: %w", err)
	}
	return info, nil
}
