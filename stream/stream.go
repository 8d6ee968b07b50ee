// Package stream implements the module stream: a binary container that
// frames a sequence of content-addressed modules into one buffer and opens
// it again with random access to individual modules.
//
// # Layout
//
// All integers are little-endian.
//
//	header     16 bytes   magic "VSMS" | version u16 | flags u16 | count u32 | reserved u32
//	directory  count × 32 bytes, one entry per module:
//	           id [16]byte | kind u8 | ir version u8 | reserved u16 | seq u32 | offset u32 | length u32
//	payloads   concatenated; offsets are relative to the start of this section
//
// The container does not interpret payloads. The fragment encoding is
// versioned per entry (ir version) so it can evolve without changing framing.
//
// Open validates the header and the directory in O(count) and never decodes
// payloads, so a client may check out only the modules it needs.
package stream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/vecsync/ir"
)

// Format constants.
const (
	// Magic identifies a module stream.
	Magic = "VSMS"

	// FormatVersion is the framing version written by Encode.
	FormatVersion uint16 = 1

	// HeaderSize is the size of the fixed header in bytes.
	HeaderSize = 16

	// EntrySize is the size of one directory entry in bytes.
	EntrySize = 32
)

// Module is one transmission unit: a fragment or snapshot payload tagged with
// its ContentID.
type Module struct {
	ID        ir.ContentID
	Kind      ir.Kind
	IRVersion uint8
	Seq       uint32
	Payload   []byte
}

// Entry is a decoded directory entry.
type Entry struct {
	ID        ir.ContentID
	Kind      ir.Kind
	IRVersion uint8
	Seq       uint32
	Offset    uint32
	Length    uint32
}

// Encode frames modules into a single buffer. The output is a pure function
// of the module sequence, so equal input always produces equal bytes.
func Encode(modules []Module) ([]byte, error) {
	if uint64(len(modules)) > math.MaxUint32 {
		return nil, fmt.Errorf("stream: %d modules exceed the directory limit", len(modules))
	}
	var total uint64
	for _, m := range modules {
		total += uint64(len(m.Payload))
	}
	if total > math.MaxUint32 {
		return nil, fmt.Errorf("stream: payload section of %d bytes exceeds 4 GiB", total)
	}

	dirEnd := HeaderSize + EntrySize*len(modules)
	buf := make([]byte, dirEnd, dirEnd+int(total))

	copy(buf[0:4], Magic)
	binary.LittleEndian.PutUint16(buf[4:6], FormatVersion)
	binary.LittleEndian.PutUint16(buf[6:8], 0)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(modules)))
	binary.LittleEndian.PutUint32(buf[12:16], 0)

	var off uint32
	for i, m := range modules {
		e := buf[HeaderSize+i*EntrySize : HeaderSize+(i+1)*EntrySize]
		copy(e[0:16], m.ID[:])
		e[16] = byte(m.Kind)
		e[17] = m.IRVersion
		binary.LittleEndian.PutUint16(e[18:20], 0)
		binary.LittleEndian.PutUint32(e[20:24], m.Seq)
		binary.LittleEndian.PutUint32(e[24:28], off)
		binary.LittleEndian.PutUint32(e[28:32], uint32(len(m.Payload)))

		buf = append(buf, m.Payload...)
		off += uint32(len(m.Payload))
	}
	return buf, nil
}

// Stream is an opened module stream. It references the buffer passed to Open,
// which must not be modified while the Stream is in use.
type Stream struct {
	buf      []byte
	payloads []byte
	entries  []Entry
	index    map[ir.ContentID]int
}

// Open validates buf and returns a handle over its modules. Payloads are not
// copied or decoded.
//
// Open fails with a *FramingError when the buffer is truncated, carries an
// unknown magic or version, or has a directory entry pointing outside the
// payload section. Duplicate ContentIDs are accepted only when their payloads
// are byte-identical; otherwise Open fails with a *ConflictError.
func Open(buf []byte) (*Stream, error) {
	if len(buf) < HeaderSize {
		return nil, framingErr(len(buf), "truncated header: %d of %d bytes", len(buf), HeaderSize)
	}
	if string(buf[0:4]) != Magic {
		return nil, framingErr(0, "bad magic %q", buf[0:4])
	}
	if v := binary.LittleEndian.Uint16(buf[4:6]); v != FormatVersion {
		return nil, framingErr(4, "unsupported format version %d", v)
	}
	count := uint64(binary.LittleEndian.Uint32(buf[8:12]))
	dirEnd := HeaderSize + count*EntrySize
	if dirEnd > uint64(len(buf)) {
		return nil, framingErr(len(buf), "truncated directory: %d entries need %d bytes, have %d", count, dirEnd, len(buf))
	}

	s := &Stream{
		buf:      buf,
		payloads: buf[dirEnd:],
		entries:  make([]Entry, count),
		index:    make(map[ir.ContentID]int, count),
	}
	var end uint64
	for i := range s.entries {
		at := HeaderSize + i*EntrySize
		e := buf[at : at+EntrySize]

		var ent Entry
		copy(ent.ID[:], e[0:16])
		ent.Kind = ir.Kind(e[16])
		ent.IRVersion = e[17]
		ent.Seq = binary.LittleEndian.Uint32(e[20:24])
		ent.Offset = binary.LittleEndian.Uint32(e[24:28])
		ent.Length = binary.LittleEndian.Uint32(e[28:32])

		last := uint64(ent.Offset) + uint64(ent.Length)
		if last > uint64(len(s.payloads)) {
			return nil, framingErr(at+24, "entry %d spans [%d, %d) outside %d payload bytes", i, ent.Offset, last, len(s.payloads))
		}
		end = max(end, last)
		s.entries[i] = ent

		if j, dup := s.index[ent.ID]; dup {
			if !bytes.Equal(s.payloadOf(s.entries[j]), s.payloadOf(ent)) {
				return nil, &ConflictError{ID: ent.ID, First: j, Second: i}
			}
			continue
		}
		s.index[ent.ID] = i
	}
	if end != uint64(len(s.payloads)) {
		return nil, framingErr(int(dirEnd+end), "%d trailing bytes after last payload", uint64(len(s.payloads))-end)
	}
	return s, nil
}

func (s *Stream) payloadOf(e Entry) []byte {
	return s.payloads[e.Offset : e.Offset+e.Length : e.Offset+e.Length]
}

// Len returns the number of directory entries, duplicates included.
func (s *Stream) Len() int { return len(s.entries) }

// Entry returns the i-th directory entry.
func (s *Stream) Entry(i int) Entry { return s.entries[i] }

// Payload returns the payload of the i-th entry. The slice aliases the
// opened buffer and has no spare capacity.
func (s *Stream) Payload(i int) []byte { return s.payloadOf(s.entries[i]) }

// Module returns the i-th module, aliasing the opened buffer.
func (s *Stream) Module(i int) Module {
	e := s.entries[i]
	return Module{ID: e.ID, Kind: e.Kind, IRVersion: e.IRVersion, Seq: e.Seq, Payload: s.payloadOf(e)}
}

// Lookup returns the first module with the given ContentID.
func (s *Stream) Lookup(id ir.ContentID) (Module, bool) {
	i, ok := s.index[id]
	if !ok {
		return Module{}, false
	}
	return s.Module(i), true
}

// Checkout returns the modules with the given ContentIDs, in argument order.
// Payloads alias the opened buffer. A missing id fails with ErrNotFound.
func (s *Stream) Checkout(ids ...ir.ContentID) ([]Module, error) {
	out := make([]Module, 0, len(ids))
	for _, id := range ids {
		m, ok := s.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		out = append(out, m)
	}
	return out, nil
}

// CheckoutOwned materializes every distinct module, in directory order, into
// storage independent of the opened buffer. Byte-identical duplicates are
// returned once.
func (s *Stream) CheckoutOwned() []Module {
	out := make([]Module, 0, len(s.index))
	owned := make([]byte, 0, len(s.payloads))
	for i, e := range s.entries {
		if s.index[e.ID] != i {
			continue
		}
		start := len(owned)
		owned = append(owned, s.payloadOf(e)...)
		out = append(out, Module{
			ID:        e.ID,
			Kind:      e.Kind,
			IRVersion: e.IRVersion,
			Seq:       e.Seq,
			Payload:   owned[start:len(owned):len(owned)],
		})
	}
	return out
}

// Bytes returns the buffer the stream was opened from.
func (s *Stream) Bytes() []byte { return s.buf }
