package simplugin

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

// RequestFrame is a hand-built flatbuffers table carrying a call's method,
// path, query and body across the wire. It mirrors the shape of a
// code-generated NylonHttpRequest table without depending on any generated
// package (its schema and generated sources live in a separate module this
// repo does not vendor); built directly against the flatbuffers builder
// primitives, the same primitives generated code itself compiles down to.
type RequestFrame struct {
	Method string
	Path   string
	Query  string
	Body   []byte
}

// Field slots, matching the vtable-offset convention flatc emits: slot i
// lives at vtable offset 4+2*i.
const (
	frameSlotMethod = 0
	frameSlotPath   = 1
	frameSlotQuery  = 2
	frameSlotBody   = 3
)

func encodeRequestFrame(f RequestFrame) []byte {
	size := len(f.Method) + len(f.Path) + len(f.Query) + len(f.Body) + 64
	b := flatbuffers.NewBuilder(size)

	bodyOff := b.CreateByteVector(f.Body)
	queryOff := b.CreateString(f.Query)
	pathOff := b.CreateString(f.Path)
	methodOff := b.CreateString(f.Method)

	b.StartObject(4)
	b.PrependUOffsetTSlot(frameSlotBody, bodyOff, 0)
	b.PrependUOffsetTSlot(frameSlotQuery, queryOff, 0)
	b.PrependUOffsetTSlot(frameSlotPath, pathOff, 0)
	b.PrependUOffsetTSlot(frameSlotMethod, methodOff, 0)
	root := b.EndObject()
	b.Finish(root)
	return b.FinishedBytes()
}

func decodeRequestFrame(buf []byte) RequestFrame {
	if len(buf) == 0 {
		return RequestFrame{}
	}
	t := &flatbuffers.Table{Bytes: buf, Pos: flatbuffers.GetUOffsetT(buf)}

	var f RequestFrame
	if o := t.Offset(4 + 2*frameSlotMethod); o != 0 {
		f.Method = string(t.ByteVector(o + t.Pos))
	}
	if o := t.Offset(4 + 2*frameSlotPath); o != 0 {
		f.Path = string(t.ByteVector(o + t.Pos))
	}
	if o := t.Offset(4 + 2*frameSlotQuery); o != 0 {
		f.Query = string(t.ByteVector(o + t.Pos))
	}
	if o := t.Offset(4 + 2*frameSlotBody); o != 0 {
		f.Body = t.ByteVector(o + t.Pos)
	}
	return f
}
