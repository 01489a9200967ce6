package serializer

import (
	"testing"

	"github.com/ValentinKolb/kStorage/lib/kstorage"
	"github.com/ValentinKolb/kStorage/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages returns messages covering every field. Value is either nil or
// non-empty here, empty values are only preserved by the binary format.
func testMessages() []common.Message {
	return []common.Message{
		{MsgType: common.MsgTSuccess},
		*common.NewAllocRequest(),
		*common.NewAllocResponse(3, nil),
		*common.NewWriteRequest(1, 42, []byte("payload"), 2, 5),
		*common.NewWriteResponse(kstorage.NewError(kstorage.CodeOutOfMemory, "budget exhausted")),
		*common.NewReadRequest(2, -7, 100, 1<<20),
		*common.NewReadResponse([]byte{0, 1, 2, 255}, nil),
		*common.NewRemoveResponse(kstorage.ErrNotFound),
		*common.NewListResponse(make([]byte, 3*kstorage.IDSize), 3, nil),
		*common.NewDigestResponse([32]byte{1, 2, 3}, nil),
		*common.NewErrorResponse("unknown message type"),
		{
			MsgType:  common.MsgTRead,
			GroupID:  -1,
			RecordID: -1 << 62,
			Offset:   -5,
			Length:   1 << 40,
			Value:    []byte("value"),
			Count:    -2,
			Code:     kstorage.CodeCapacity,
			Err:      "everything set",
		},
	}
}

func TestSerializerRoundTrip(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()
			for i, msg := range testMessages() {
				data, err := s.Serialize(msg)
				require.NoError(t, err, "message %d", i)

				var result common.Message
				require.NoError(t, s.Deserialize(data, &result), "message %d", i)
				assert.Equal(t, msg, result, "message %d", i)
			}
		})
	}
}

func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()
			for msgType := common.MsgTSuccess; msgType <= common.MsgTInfo; msgType++ {
				data, err := s.Serialize(common.Message{MsgType: msgType})
				require.NoError(t, err, msgType.String())

				var result common.Message
				require.NoError(t, s.Deserialize(data, &result), msgType.String())
				assert.Equal(t, msgType, result.MsgType)
			}
		})
	}
}

func TestDeserializeResetsMessage(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()
			data, err := s.Serialize(*common.NewSizeRequest(2))
			require.NoError(t, err)

			result := common.Message{RecordID: 9, Err: "stale"}
			require.NoError(t, s.Deserialize(data, &result))
			assert.Equal(t, *common.NewSizeRequest(2), result)
		})
	}
}

func TestBinaryEmptyValue(t *testing.T) {
	s := NewBinarySerializer()

	data, err := s.Serialize(*common.NewReadResponse([]byte{}, nil))
	require.NoError(t, err)

	var result common.Message
	require.NoError(t, s.Deserialize(data, &result))
	assert.NotNil(t, result.Value)
	assert.Empty(t, result.Value)

	data, err = s.Serialize(*common.NewReadResponse(nil, nil))
	require.NoError(t, err)
	require.NoError(t, s.Deserialize(data, &result))
	assert.Nil(t, result.Value)
}

func TestBinaryTruncated(t *testing.T) {
	s := NewBinarySerializer()

	data, err := s.Serialize(*common.NewWriteRequest(1, 42, []byte("payload"), 0, 7))
	require.NoError(t, err)

	for n := 0; n < len(data); n++ {
		var result common.Message
		assert.Error(t, s.Deserialize(data[:n], &result), "prefix of %d bytes", n)
	}
}

func TestBinaryCompact(t *testing.T) {
	s := NewBinarySerializer()

	data, err := s.Serialize(common.Message{MsgType: common.MsgTInfo})
	require.NoError(t, err)
	assert.Len(t, data, 2)

	data, err = s.Serialize(*common.NewSizeRequest(1))
	require.NoError(t, err)
	assert.Len(t, data, 2+4)
}

func TestJSONMessageTypeNames(t *testing.T) {
	s := NewJSONSerializer()

	data, err := s.Serialize(*common.NewDigestRequest(1))
	require.NoError(t, err)
	assert.JSONEq(t, `{"msg_type":"digest","group_id":1}`, string(data))

	var result common.Message
	assert.Error(t, s.Deserialize([]byte(`{"msg_type":"lock"}`), &result))
}
