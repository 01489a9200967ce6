package serializer

import (
	"testing"

	"github.com/ValentinKolb/kStorage/lib/kstorage"
	"github.com/ValentinKolb/kStorage/rpc/common"
)

// benchmarkMessages returns the typical requests and responses of a client session
func benchmarkMessages() map[string]common.Message {
	return map[string]common.Message{
		"SizeRequest":   *common.NewSizeRequest(1),
		"ReadRequest":   *common.NewReadRequest(1, 1234, 0, 4096),
		"WriteSmall":    *common.NewWriteRequest(1, 1234, []byte("v"), 0, 1),
		"WriteMedium":   *common.NewWriteRequest(1, 1234, make([]byte, 1024), 0, 1024),
		"WriteLarge":    *common.NewWriteRequest(1, 1234, make([]byte, 16*1024), 0, 16*1024),
		"ReadResponse":  *common.NewReadResponse(make([]byte, 1024), nil),
		"ListResponse":  *common.NewListResponse(make([]byte, 512*kstorage.IDSize), 512, nil),
		"ErrorResponse": *common.NewRemoveResponse(kstorage.NewError(kstorage.CodeNotFound, "record 1234 not in group 1")),
	}
}

func BenchmarkSerialize(b *testing.B) {
	for name, factory := range testSerializers {
		for msgName, msg := range benchmarkMessages() {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				s := factory()
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					if _, err := s.Serialize(msg); err != nil {
						b.Fatalf("Failed to serialize: %v", err)
					}
				}
			})
		}
	}
}

func BenchmarkDeserialize(b *testing.B) {
	for name, factory := range testSerializers {
		for msgName, msg := range benchmarkMessages() {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				s := factory()
				data, err := s.Serialize(msg)
				if err != nil {
					b.Fatalf("Failed to serialize: %v", err)
				}
				b.ReportAllocs()
				b.ResetTimer()

				var result common.Message
				for i := 0; i < b.N; i++ {
					if err := s.Deserialize(data, &result); err != nil {
						b.Fatalf("Failed to deserialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkSize reports the encoded size of every message instead of timing anything
func BenchmarkSize(b *testing.B) {
	for name, factory := range testSerializers {
		for msgName, msg := range benchmarkMessages() {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				data, err := factory().Serialize(msg)
				if err != nil {
					b.Fatalf("Failed to serialize: %v", err)
				}
				b.ReportMetric(float64(len(data)), "bytes/msg")
			})
		}
	}
}
