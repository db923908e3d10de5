// Package wire marshals the pod-style parameter documents exchanged during
// format negotiation (spec §6): the Format document, ParamBuffers, and
// ParamMeta. Encoding follows the teacher's manual binary.LittleEndian
// field-by-field style rather than a reflection-based marshaller.
package wire

import "encoding/binary"

// MarshalError is a bare string error, matching the teacher's uapi package.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const (
	ErrInsufficientData MarshalError = "insufficient data for unmarshaling wire document"
)

// ModifierFlag tags a single modifier entry within a Format document
// (spec §6 "MANDATORY / DONT_FIXATE").
type ModifierFlag uint32

const (
	ModifierFlagNone       ModifierFlag = 0
	ModifierFlagMandatory  ModifierFlag = 1 << 0
	ModifierFlagDontFixate ModifierFlag = 1 << 1
)

// ModifierEntry is one (modifier, flags) pair inside a Format document's
// modifier array.
type ModifierEntry struct {
	Modifier uint64
	Flags    ModifierFlag
}

const modifierEntrySize = 12 // uint64 + uint32

// FormatDoc is the wire representation of a negotiated or candidate video
// format (spec §6).
type FormatDoc struct {
	FormatID      uint32
	Width         uint32
	Height        uint32
	FramerateNum  uint32
	FramerateDen  uint32
	Modifiers     []ModifierEntry
}

const formatDocHeaderSize = 20 // formatID + width + height + rate num/den

// Marshal encodes f into its wire byte form: a fixed header followed by the
// modifier array.
func (f *FormatDoc) Marshal() []byte {
	buf := make([]byte, formatDocHeaderSize+len(f.Modifiers)*modifierEntrySize)

	binary.LittleEndian.PutUint32(buf[0:4], f.FormatID)
	binary.LittleEndian.PutUint32(buf[4:8], f.Width)
	binary.LittleEndian.PutUint32(buf[8:12], f.Height)
	binary.LittleEndian.PutUint32(buf[12:16], f.FramerateNum)
	binary.LittleEndian.PutUint32(buf[16:20], f.FramerateDen)

	offset := formatDocHeaderSize
	for _, m := range f.Modifiers {
		binary.LittleEndian.PutUint64(buf[offset:offset+8], m.Modifier)
		binary.LittleEndian.PutUint32(buf[offset+8:offset+12], uint32(m.Flags))
		offset += modifierEntrySize
	}

	return buf
}

// UnmarshalFormatDoc decodes a Format document produced by Marshal.
func UnmarshalFormatDoc(data []byte) (*FormatDoc, error) {
	if len(data) < formatDocHeaderSize {
		return nil, ErrInsufficientData
	}

	f := &FormatDoc{
		FormatID:     binary.LittleEndian.Uint32(data[0:4]),
		Width:        binary.LittleEndian.Uint32(data[4:8]),
		Height:       binary.LittleEndian.Uint32(data[8:12]),
		FramerateNum: binary.LittleEndian.Uint32(data[12:16]),
		FramerateDen: binary.LittleEndian.Uint32(data[16:20]),
	}

	remaining := data[formatDocHeaderSize:]
	if len(remaining)%modifierEntrySize != 0 {
		return nil, ErrInsufficientData
	}

	count := len(remaining) / modifierEntrySize
	f.Modifiers = make([]ModifierEntry, count)
	offset := 0
	for i := 0; i < count; i++ {
		f.Modifiers[i] = ModifierEntry{
			Modifier: binary.LittleEndian.Uint64(remaining[offset : offset+8]),
			Flags:    ModifierFlag(binary.LittleEndian.Uint32(remaining[offset+8 : offset+12])),
		}
		offset += modifierEntrySize
	}

	return f, nil
}

// DataType is the bitmask of supported buffer memory kinds advertised in a
// ParamBuffers document (spec §6).
type DataType uint32

const (
	DataTypeMemFd DataType = 1 << 0
	DataTypeDmaBuf DataType = 1 << 1
)

// ParamBuffersDoc mirrors the consumer's buffer-pool constraints
// (spec §6 "ParamBuffers").
type ParamBuffersDoc struct {
	Buffers         uint32
	BlocksPerBuffer uint32
	Size            uint32
	Stride          uint32
	Align           uint32
	DataType        DataType
}

const paramBuffersSize = 24

// Marshal encodes p to its fixed 24-byte wire form.
func (p *ParamBuffersDoc) Marshal() []byte {
	buf := make([]byte, paramBuffersSize)
	binary.LittleEndian.PutUint32(buf[0:4], p.Buffers)
	binary.LittleEndian.PutUint32(buf[4:8], p.BlocksPerBuffer)
	binary.LittleEndian.PutUint32(buf[8:12], p.Size)
	binary.LittleEndian.PutUint32(buf[12:16], p.Stride)
	binary.LittleEndian.PutUint32(buf[16:20], p.Align)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(p.DataType))
	return buf
}

// UnmarshalParamBuffersDoc decodes a ParamBuffers document.
func UnmarshalParamBuffersDoc(data []byte) (*ParamBuffersDoc, error) {
	if len(data) < paramBuffersSize {
		return nil, ErrInsufficientData
	}
	return &ParamBuffersDoc{
		Buffers:         binary.LittleEndian.Uint32(data[0:4]),
		BlocksPerBuffer: binary.LittleEndian.Uint32(data[4:8]),
		Size:            binary.LittleEndian.Uint32(data[8:12]),
		Stride:          binary.LittleEndian.Uint32(data[12:16]),
		Align:           binary.LittleEndian.Uint32(data[16:20]),
		DataType:        DataType(binary.LittleEndian.Uint32(data[20:24])),
	}, nil
}

// MetaType distinguishes the kinds of per-buffer metadata a consumer may
// request alongside the pixel data (spec §6 "ParamMeta").
type MetaType uint32

const (
	MetaTypeHeader MetaType = iota
	MetaTypeVideoCrop
	MetaTypeVideoDamage
)

// ParamMetaDoc advertises one metadata region a buffer must carry.
type ParamMetaDoc struct {
	Type MetaType
	Size uint32
}

const paramMetaSize = 8

// Marshal encodes m to its fixed 8-byte wire form.
func (m *ParamMetaDoc) Marshal() []byte {
	buf := make([]byte, paramMetaSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.Type))
	binary.LittleEndian.PutUint32(buf[4:8], m.Size)
	return buf
}

// UnmarshalParamMetaDoc decodes a ParamMeta document.
func UnmarshalParamMetaDoc(data []byte) (*ParamMetaDoc, error) {
	if len(data) < paramMetaSize {
		return nil, ErrInsufficientData
	}
	return &ParamMetaDoc{
		Type: MetaType(binary.LittleEndian.Uint32(data[0:4])),
		Size: binary.LittleEndian.Uint32(data[4:8]),
	}, nil
}
