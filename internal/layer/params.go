package layer

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/born-ml/tessera/internal/neterr"
)

// Parameter records use the protobuf wire format without a schema file.
// Scalar fields equal to their default are omitted, so records written
// before a field existed decode to that field's default.

type paramEncoder struct {
	b []byte
}

func (e *paramEncoder) ints(num protowire.Number, v []int) {
	if len(v) == 0 {
		return
	}
	var packed []byte
	for _, x := range v {
		packed = protowire.AppendVarint(packed, uint64(x))
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, packed)
}

func (e *paramEncoder) int(num protowire.Number, v, def int) {
	if v == def {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, uint64(v))
}

func (e *paramEncoder) float(num protowire.Number, v, def float32) {
	if v == def {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.Fixed32Type)
	e.b = protowire.AppendFixed32(e.b, math.Float32bits(v))
}

func (e *paramEncoder) bool(num protowire.Number, v, def bool) {
	if v == def {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, protowire.EncodeBool(v))
}

type paramFields struct {
	varints map[protowire.Number]uint64
	fixed32 map[protowire.Number]uint32
	lists   map[protowire.Number][]uint64
}

func decodeParams(layer string, b []byte) (*paramFields, error) {
	f := &paramFields{
		varints: make(map[protowire.Number]uint64),
		fixed32: make(map[protowire.Number]uint32),
		lists:   make(map[protowire.Number][]uint64),
	}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, neterr.WithLayer(neterr.WrapFormat(protowire.ParseError(n), "parameter tag"), layer)
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, neterr.WithLayer(neterr.WrapFormat(protowire.ParseError(n), "parameter varint"), layer)
			}
			f.varints[num] = v
			f.lists[num] = append(f.lists[num], v)
			b = b[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, neterr.WithLayer(neterr.WrapFormat(protowire.ParseError(n), "parameter fixed32"), layer)
			}
			f.fixed32[num] = v
			b = b[n:]
		case protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, neterr.WithLayer(neterr.WrapFormat(protowire.ParseError(n), "parameter bytes"), layer)
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return nil, neterr.WithLayer(neterr.WrapFormat(protowire.ParseError(m), "packed parameter"), layer)
				}
				f.lists[num] = append(f.lists[num], v)
				packed = packed[m:]
			}
			b = b[n:]
		default:
			// Unknown wire types from newer writers are skipped.
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, neterr.WithLayer(neterr.WrapFormat(protowire.ParseError(n), "parameter field"), layer)
			}
			b = b[n:]
		}
	}
	return f, nil
}

func (f *paramFields) ints(num protowire.Number) []int {
	l := f.lists[num]
	if len(l) == 0 {
		return nil
	}
	out := make([]int, len(l))
	for i, v := range l {
		out[i] = int(v)
	}
	return out
}

func (f *paramFields) int(num protowire.Number, def int) int {
	if v, ok := f.varints[num]; ok {
		return int(v)
	}
	return def
}

func (f *paramFields) float(num protowire.Number, def float32) float32 {
	if v, ok := f.fixed32[num]; ok {
		return math.Float32frombits(v)
	}
	return def
}

func (f *paramFields) bool(num protowire.Number, def bool) bool {
	if v, ok := f.varints[num]; ok {
		return protowire.DecodeBool(v)
	}
	return def
}
