package apiv1

import (
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"
)

// CodecName is the content subtype the coordination service is spoken in.
// Messages use the protobuf wire format of coordination.proto.
const CodecName = "dcore-proto"

func init() {
	encoding.RegisterCodec(wireCodec{})
}

// message is implemented by every request and response of the service.
type message interface {
	appendWire(b []byte) []byte
	// consumeField decodes one field whose tag was already read and
	// reports how many bytes of b it used.
	consumeField(num protowire.Number, typ protowire.Type, b []byte) (int, error)
}

type wireCodec struct{}

func (wireCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(message)
	if !ok {
		return nil, fmt.Errorf("%T is not a coordination message", v)
	}
	return m.appendWire(nil), nil
}

func (wireCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(message)
	if !ok {
		return fmt.Errorf("%T is not a coordination message", v)
	}
	return unmarshal(data, m)
}

func (wireCodec) Name() string {
	return CodecName
}

func unmarshal(b []byte, m message) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%T: %w", m, protowire.ParseError(n))
		}
		b = b[n:]
		n, err := m.consumeField(num, typ, b)
		if err != nil {
			return fmt.Errorf("%T field %d: %w", m, num, err)
		}
		b = b[n:]
	}
	return nil
}

// skipField consumes a field the message does not know.
func skipField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("wire type %d, want varint", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("wire type %d, want bytes", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return append([]byte(nil), v...), n, nil
}

func appendUint64(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendUint64(b, num, 1)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func (m *StartRoundRequest) appendWire(b []byte) []byte {
	b = appendUint64(b, 1, m.RoundId)
	// int32 is sign-extended on the wire.
	return appendUint64(b, 2, uint64(int64(m.ExpectedWorkers)))
}

func (m *StartRoundRequest) consumeField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch num {
	case 1:
		v, n, err := consumeVarint(typ, b)
		m.RoundId = v
		return n, err
	case 2:
		v, n, err := consumeVarint(typ, b)
		m.ExpectedWorkers = int32(v)
		return n, err
	}
	return skipField(num, typ, b)
}

func (m *StartRoundResponse) appendWire(b []byte) []byte {
	return appendBool(b, 1, m.Success)
}

func (m *StartRoundResponse) consumeField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	if num == 1 {
		v, n, err := consumeVarint(typ, b)
		m.Success = v != 0
		return n, err
	}
	return skipField(num, typ, b)
}

func (m *KeyValuePair) appendWire(b []byte) []byte {
	b = appendString(b, 1, m.Key)
	return appendBytes(b, 2, m.Value)
}

func (m *KeyValuePair) consumeField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch num {
	case 1:
		v, n, err := consumeBytes(typ, b)
		m.Key = string(v)
		return n, err
	case 2:
		v, n, err := consumeBytes(typ, b)
		m.Value = v
		return n, err
	}
	return skipField(num, typ, b)
}

func (m *PublishValuesRequest) appendWire(b []byte) []byte {
	b = appendUint64(b, 1, m.RoundId)
	b = appendString(b, 2, m.WorkerId)
	for _, p := range m.Pairs {
		if p == nil {
			p = &KeyValuePair{}
		}
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, p.appendWire(nil))
	}
	return b
}

func (m *PublishValuesRequest) consumeField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch num {
	case 1:
		v, n, err := consumeVarint(typ, b)
		m.RoundId = v
		return n, err
	case 2:
		v, n, err := consumeBytes(typ, b)
		m.WorkerId = string(v)
		return n, err
	case 3:
		v, n, err := consumeBytes(typ, b)
		if err != nil {
			return 0, err
		}
		p := &KeyValuePair{}
		if err := unmarshal(v, p); err != nil {
			return 0, err
		}
		m.Pairs = append(m.Pairs, p)
		return n, nil
	}
	return skipField(num, typ, b)
}

func (m *PublishValuesResponse) appendWire(b []byte) []byte {
	return appendBool(b, 1, m.Success)
}

func (m *PublishValuesResponse) consumeField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	if num == 1 {
		v, n, err := consumeVarint(typ, b)
		m.Success = v != 0
		return n, err
	}
	return skipField(num, typ, b)
}

func (m *GetValueRequest) appendWire(b []byte) []byte {
	b = appendUint64(b, 1, m.RoundId)
	return appendString(b, 2, m.Key)
}

func (m *GetValueRequest) consumeField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch num {
	case 1:
		v, n, err := consumeVarint(typ, b)
		m.RoundId = v
		return n, err
	case 2:
		v, n, err := consumeBytes(typ, b)
		m.Key = string(v)
		return n, err
	}
	return skipField(num, typ, b)
}

func (m *GetValueResponse) appendWire(b []byte) []byte {
	return appendBytes(b, 1, m.Value)
}

func (m *GetValueResponse) consumeField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	if num == 1 {
		v, n, err := consumeBytes(typ, b)
		m.Value = v
		return n, err
	}
	return skipField(num, typ, b)
}
