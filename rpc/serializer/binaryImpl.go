package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/kStorage/lib/kstorage"
	"github.com/ValentinKolb/kStorage/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format:
//
//	[1 byte MsgType][1 byte flags][present fields in flag order]
//
// Integers are big endian, Value and Err are prefixed with a 4 byte length.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasGroup  byte = 1 << 0
	hasRecord byte = 1 << 1
	hasOffset byte = 1 << 2
	hasLength byte = 1 << 3
	hasValue  byte = 1 << 4
	hasCount  byte = 1 << 5
	hasCode   byte = 1 << 6
	hasErr    byte = 1 << 7
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, 2, b.sizeBytes(msg))
	result[0] = byte(msg.MsgType)

	var flags byte
	if msg.GroupID != 0 {
		flags |= hasGroup
		result = binary.BigEndian.AppendUint32(result, uint32(msg.GroupID))
	}
	if msg.RecordID != 0 {
		flags |= hasRecord
		result = binary.BigEndian.AppendUint64(result, uint64(msg.RecordID))
	}
	if msg.Offset != 0 {
		flags |= hasOffset
		result = binary.BigEndian.AppendUint64(result, uint64(msg.Offset))
	}
	if msg.Length != 0 {
		flags |= hasLength
		result = binary.BigEndian.AppendUint64(result, uint64(msg.Length))
	}
	if msg.Value != nil {
		flags |= hasValue
		result = binary.BigEndian.AppendUint32(result, uint32(len(msg.Value)))
		result = append(result, msg.Value...)
	}
	if msg.Count != 0 {
		flags |= hasCount
		result = binary.BigEndian.AppendUint64(result, uint64(msg.Count))
	}
	if msg.Code != kstorage.CodeOK {
		flags |= hasCode
		result = append(result, byte(msg.Code))
	}
	if msg.Err != "" {
		flags |= hasErr
		result = binary.BigEndian.AppendUint32(result, uint32(len(msg.Err)))
		result = append(result, msg.Err...)
	}

	// Set flags byte after knowing which fields are present
	result[1] = flags
	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < 2 {
		return fmt.Errorf("data too short for message header")
	}

	r := reader{data: data, pos: 2}
	flags := data[1]

	*msg = common.Message{MsgType: common.MessageType(data[0])}

	if flags&hasGroup != 0 {
		msg.GroupID = int32(r.u32("group id"))
	}
	if flags&hasRecord != 0 {
		msg.RecordID = int64(r.u64("record id"))
	}
	if flags&hasOffset != 0 {
		msg.Offset = int64(r.u64("offset"))
	}
	if flags&hasLength != 0 {
		msg.Length = int64(r.u64("length"))
	}
	if flags&hasValue != 0 {
		// an empty value stays non-nil, it is distinct from an absent one
		msg.Value = append([]byte{}, r.blob("value")...)
	}
	if flags&hasCount != 0 {
		msg.Count = int64(r.u64("count"))
	}
	if flags&hasCode != 0 {
		msg.Code = kstorage.ErrCode(r.u8("code"))
	}
	if flags&hasErr != 0 {
		msg.Err = string(r.blob("error"))
	}

	return r.err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte for MsgType + 1 byte for flags
	size := 2

	if msg.GroupID != 0 {
		size += 4
	}
	if msg.RecordID != 0 {
		size += 8
	}
	if msg.Offset != 0 {
		size += 8
	}
	if msg.Length != 0 {
		size += 8
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Count != 0 {
		size += 8
	}
	if msg.Code != kstorage.CodeOK {
		size += 1
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	return size
}

// reader decodes fields sequentially, the first short read sets err and
// turns all following reads into no-ops
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) take(n int, field string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("data too short for %s", field)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) u8(field string) byte {
	if b := r.take(1, field); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u32(field string) uint32 {
	if b := r.take(4, field); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64(field string) uint64 {
	if b := r.take(8, field); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (r *reader) blob(field string) []byte {
	n := r.u32(field + " length")
	return r.take(int(n), field)
}
