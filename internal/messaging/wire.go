package messaging

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mundrapranay/dcore/algorithms/common"
)

// Batch wire format, protobuf compatible:
//
//	message Batch   { repeated Message messages = 1; }
//	message Message { uint64 gid = 1; bytes payload = 2; }
//
// Batches concatenate, so per-channel buffers for the same destination are
// joined without re-encoding.
const (
	batchMessagesField protowire.Number = 1
	messageGIDField    protowire.Number = 1
	messagePayload     protowire.Number = 2
)

// appendMessage appends one (gid, payload) message to batch b.
func appendMessage(b []byte, gid int64, payload []byte) []byte {
	size := protowire.SizeTag(messageGIDField) + protowire.SizeVarint(uint64(gid)) +
		protowire.SizeTag(messagePayload) + protowire.SizeBytes(len(payload))
	b = protowire.AppendTag(b, batchMessagesField, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(size))
	b = protowire.AppendTag(b, messageGIDField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(gid))
	b = protowire.AppendTag(b, messagePayload, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	return b
}

// decodeBatch calls fn for every message in b. Payloads alias b.
func decodeBatch(b []byte, fn func(gid int64, payload []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("batch: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num != batchMessagesField || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("batch: %w", protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		msg, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return fmt.Errorf("batch message: %w", protowire.ParseError(n))
		}
		b = b[n:]
		gid, payload, err := decodeMessage(msg)
		if err != nil {
			return err
		}
		if err := fn(gid, payload); err != nil {
			return err
		}
	}
	return nil
}

func decodeMessage(b []byte) (int64, []byte, error) {
	var (
		gid     int64
		payload []byte
		seenGID bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, nil, fmt.Errorf("message: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == messageGIDField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, nil, fmt.Errorf("message gid: %w", protowire.ParseError(n))
			}
			b = b[n:]
			gid, seenGID = int64(v), true
		case num == messagePayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, nil, fmt.Errorf("message payload: %w", protowire.ParseError(n))
			}
			b = b[n:]
			payload = v
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return 0, nil, fmt.Errorf("message: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if !seenGID {
		return 0, nil, fmt.Errorf("message without vertex id: %w", common.ErrParse)
	}
	return gid, payload, nil
}
