package common

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ValentinKolb/kStorage/lib/kstorage"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Request fields
	GroupID  int32  `json:"group_id,omitempty"`  // Used for: all but Alloc
	RecordID int64  `json:"record_id,omitempty"` // Used for: Write, Read, Remove
	Offset   int64  `json:"offset,omitempty"`    // Used for: Write, Read
	Length   int64  `json:"length,omitempty"`    // Used for: Write, Read (max bytes), List (capacity)
	Value    []byte `json:"value,omitempty"`     // Used for: Write (request), Read, List, Digest, Info (response)

	// Response only fields
	Count int64            `json:"count,omitempty"` // Used for: Alloc (group id), Size, List responses
	Code  kstorage.ErrCode `json:"code,omitempty"`  // Error code of a failed store operation
	Err   string           `json:"err,omitempty"`   // Empty if no error, otherwise contains the error message
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// withErr sets the error fields of a response. For store errors only the
// detail message is sent, the client rebuilds the error from code and message.
func (m *Message) withErr(err error) *Message {
	if err == nil {
		return m
	}
	m.Code = kstorage.CodeOf(err)
	var e *kstorage.Error
	if errors.As(err, &e) {
		m.Err = e.Msg
	} else {
		m.Err = err.Error()
	}
	return m
}

// NewAllocRequest creates a new Alloc request
func NewAllocRequest() *Message {
	return &Message{MsgType: MsgTAlloc}
}

// NewAllocResponse creates a new Alloc response
func NewAllocResponse(gid int, err error) *Message {
	msg := &Message{
		MsgType: MsgTAlloc,
		Count:   int64(gid),
	}
	return msg.withErr(err)
}

// NewSizeRequest creates a new Size request
func NewSizeRequest(gid int) *Message {
	return &Message{
		MsgType: MsgTSize,
		GroupID: int32(gid),
	}
}

// NewSizeResponse creates a new Size response
func NewSizeResponse(size int, err error) *Message {
	msg := &Message{
		MsgType: MsgTSize,
		Count:   int64(size),
	}
	return msg.withErr(err)
}

// NewWriteRequest creates a new Write request. value holds the bytes to store,
// offset and length select them exactly like in kstorage.Store.Write.
func NewWriteRequest(gid int, id int64, value []byte, offset, length int) *Message {
	return &Message{
		MsgType:  MsgTWrite,
		GroupID:  int32(gid),
		RecordID: id,
		Value:    value,
		Offset:   int64(offset),
		Length:   int64(length),
	}
}

// NewWriteResponse creates a new Write response
func NewWriteResponse(err error) *Message {
	msg := &Message{MsgType: MsgTWrite}
	return msg.withErr(err)
}

// NewReadRequest creates a new Read request
func NewReadRequest(gid int, id int64, offset, length int) *Message {
	return &Message{
		MsgType:  MsgTRead,
		GroupID:  int32(gid),
		RecordID: id,
		Offset:   int64(offset),
		Length:   int64(length),
	}
}

// NewReadResponse creates a new Read response
func NewReadResponse(value []byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTRead,
		Value:   value,
	}
	return msg.withErr(err)
}

// NewRemoveRequest creates a new Remove request
func NewRemoveRequest(gid int, id int64) *Message {
	return &Message{
		MsgType:  MsgTRemove,
		GroupID:  int32(gid),
		RecordID: id,
	}
}

// NewRemoveResponse creates a new Remove response
func NewRemoveResponse(err error) *Message {
	msg := &Message{MsgType: MsgTRemove}
	return msg.withErr(err)
}

// NewListRequest creates a new List request
func NewListRequest(gid int, capacity int) *Message {
	return &Message{
		MsgType: MsgTList,
		GroupID: int32(gid),
		Length:  int64(capacity),
	}
}

// NewListResponse creates a new List response. ids holds count ids, kstorage.IDSize bytes each.
func NewListResponse(ids []byte, count int, err error) *Message {
	msg := &Message{
		MsgType: MsgTList,
		Value:   ids,
		Count:   int64(count),
	}
	return msg.withErr(err)
}

// NewDigestRequest creates a new Digest request
func NewDigestRequest(gid int) *Message {
	return &Message{
		MsgType: MsgTDigest,
		GroupID: int32(gid),
	}
}

// NewDigestResponse creates a new Digest response
func NewDigestResponse(sum [32]byte, err error) *Message {
	msg := &Message{MsgType: MsgTDigest}
	if err == nil {
		msg.Value = sum[:]
	}
	return msg.withErr(err)
}

// NewInfoRequest creates a new Info request
func NewInfoRequest() *Message {
	return &Message{MsgType: MsgTInfo}
}

// NewInfoResponse creates a new Info response, the info is transferred as json
func NewInfoResponse(info kstorage.Info, err error) *Message {
	msg := &Message{MsgType: MsgTInfo}
	if err == nil {
		msg.Value, err = json.Marshal(info)
	}
	return msg.withErr(err)
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// messageTypeNames maps every message type to its wire name (used by json)
var messageTypeNames = map[MessageType]string{
	MsgTUnknown: "unknown",
	MsgTSuccess: "success",
	MsgTError:   "error",
	MsgTAlloc:   "alloc",
	MsgTSize:    "size",
	MsgTWrite:   "write",
	MsgTRead:    "read",
	MsgTRemove:  "remove",
	MsgTList:    "list",
	MsgTDigest:  "digest",
	MsgTInfo:    "info",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for typ, name := range messageTypeNames {
		if name == s {
			*t = typ
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// IStore operations

	MsgTAlloc  // Allocate a group
	MsgTSize   // Number of records in a group
	MsgTWrite  // Insert or replace a record
	MsgTRead   // Read a range of a record
	MsgTRemove // Remove a record
	MsgTList   // List record ids of a group
	MsgTDigest // Content hash of a group

	// Introspection

	MsgTInfo // Store statistics
)
