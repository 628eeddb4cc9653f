package wire

import "fmt"

// SignalKind identifies which of the three chunk shapes a decoded
// signal chunk carries.
type SignalKind int

const (
	HeaderReceived SignalKind = iota
	BufferReceived
	EndReceived
)

// ChannelUnit is one channel's (unit_code, scale_code) pair.
type ChannelUnit struct {
	UnitCode  float64
	ScaleCode float64
}

// SignalHeader describes the shape of every buffer chunk that follows
// it on the same stream.
type SignalHeader struct {
	SamplingHz      uint64
	Channels        uint16
	SamplesPerBlock uint32
	ChannelNames    []string
	ChannelUnits    []ChannelUnit // nil if not provided by the driver
	HasUnits        bool
}

// SignalBuffer is one channels x samples_per_block block, channel-major.
type SignalBuffer struct {
	Data []float64
}

// SignalChunk is a decoded signal-stream chunk: exactly one of Header,
// Buffer is populated, selected by Kind.
type SignalChunk struct {
	Kind   SignalKind
	Header SignalHeader
	Buffer SignalBuffer
}

// SignalCodec encodes and decodes the signal stream: a header chunk,
// followed by buffer chunks, followed by an end chunk.
type SignalCodec struct{}

// EncodeHeader builds the payload bytes for a SignalHeader chunk.
func (SignalCodec) EncodeHeader(h SignalHeader) []byte {
	w := &byteWriter{}
	w.putU64(h.SamplingHz)
	w.putU16(h.Channels)
	w.putU32(h.SamplesPerBlock)
	for _, name := range h.ChannelNames {
		w.putString(name)
	}
	if h.HasUnits {
		w.putByte(1)
		for _, u := range h.ChannelUnits {
			w.putF64(u.UnitCode)
			w.putF64(u.ScaleCode)
		}
	} else {
		w.putByte(0)
	}
	return w.buf
}

// EncodeBuffer builds the payload bytes for one buffer chunk. data
// must have exactly channels*samplesPerBlock elements, channel-major.
func (SignalCodec) EncodeBuffer(data []float64) []byte {
	w := &byteWriter{}
	for _, v := range data {
		w.putF64(v)
	}
	return w.buf
}

// EncodeEnd builds the (empty) payload for an end-of-stream chunk.
func (SignalCodec) EncodeEnd() []byte { return nil }

// DecodeHeader parses a header-chunk payload.
func (SignalCodec) DecodeHeader(payload []byte) (SignalHeader, error) {
	r := newByteReader(payload)
	var h SignalHeader
	var err error
	if h.SamplingHz, err = r.getU64(); err != nil {
		return h, fmt.Errorf("wire: decode signal header: %w", err)
	}
	if h.Channels, err = r.getU16(); err != nil {
		return h, fmt.Errorf("wire: decode signal header: %w", err)
	}
	if h.SamplesPerBlock, err = r.getU32(); err != nil {
		return h, fmt.Errorf("wire: decode signal header: %w", err)
	}
	h.ChannelNames = make([]string, h.Channels)
	for i := range h.ChannelNames {
		if h.ChannelNames[i], err = r.getString(); err != nil {
			return h, fmt.Errorf("wire: decode signal header: %w", err)
		}
	}
	hasUnits, err := r.getByte()
	if err != nil {
		return h, fmt.Errorf("wire: decode signal header: %w", err)
	}
	if hasUnits != 0 {
		h.HasUnits = true
		h.ChannelUnits = make([]ChannelUnit, h.Channels)
		for i := range h.ChannelUnits {
			unit, err := r.getF64()
			if err != nil {
				return h, fmt.Errorf("wire: decode signal header: %w", err)
			}
			scale, err := r.getF64()
			if err != nil {
				return h, fmt.Errorf("wire: decode signal header: %w", err)
			}
			h.ChannelUnits[i] = ChannelUnit{UnitCode: unit, ScaleCode: scale}
		}
	}
	return h, nil
}

// DecodeBuffer parses a buffer-chunk payload into a flat channel-major
// slice of count elements.
func (SignalCodec) DecodeBuffer(payload []byte, count int) ([]float64, error) {
	r := newByteReader(payload)
	out := make([]float64, count)
	for i := range out {
		v, err := r.getF64()
		if err != nil {
			return nil, fmt.Errorf("wire: decode signal buffer: %w", err)
		}
		out[i] = v
	}
	return out, nil
}
