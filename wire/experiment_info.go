package wire

import "fmt"

// ExperimentInfo is optional session metadata. Every field may be
// unset; unset fields are encoded as a single zero presence byte
// rather than their zero value, so absence round-trips distinctly
// from "age 0" or "empty name".
type ExperimentInfo struct {
	ExperimentID *uint64
	SubjectID    *uint64
	SubjectName  *string
	SubjectAge   *uint32
	SubjectSex   *string
	LabID        *uint64
	LabName      *string
	TechnicianID *uint64
	TechName     *string
	Date         *uint64 // seconds since epoch
}

// ExperimentInfoCodec encodes/decodes the experiment-info stream's
// single chunk: a presence byte plus value for each field, in a fixed
// field order.
type ExperimentInfoCodec struct{}

func (ExperimentInfoCodec) encodeU64(w *byteWriter, v *uint64) {
	if v == nil {
		w.putByte(0)
		return
	}
	w.putByte(1)
	w.putU64(*v)
}

func (ExperimentInfoCodec) encodeU32(w *byteWriter, v *uint32) {
	if v == nil {
		w.putByte(0)
		return
	}
	w.putByte(1)
	w.putU32(*v)
}

func (ExperimentInfoCodec) encodeString(w *byteWriter, v *string) {
	if v == nil {
		w.putByte(0)
		return
	}
	w.putByte(1)
	w.putString(*v)
}

// EncodeBuffer builds the payload for the experiment-info chunk.
func (c ExperimentInfoCodec) EncodeBuffer(info ExperimentInfo) []byte {
	w := &byteWriter{}
	c.encodeU64(w, info.ExperimentID)
	c.encodeU64(w, info.SubjectID)
	c.encodeString(w, info.SubjectName)
	c.encodeU32(w, info.SubjectAge)
	c.encodeString(w, info.SubjectSex)
	c.encodeU64(w, info.LabID)
	c.encodeString(w, info.LabName)
	c.encodeU64(w, info.TechnicianID)
	c.encodeString(w, info.TechName)
	c.encodeU64(w, info.Date)
	return w.buf
}

func (ExperimentInfoCodec) decodeU64(r *byteReader) (*uint64, error) {
	present, err := r.getByte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	v, err := r.getU64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (ExperimentInfoCodec) decodeU32(r *byteReader) (*uint32, error) {
	present, err := r.getByte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	v, err := r.getU32()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (ExperimentInfoCodec) decodeString(r *byteReader) (*string, error) {
	present, err := r.getByte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	v, err := r.getString()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// DecodeBuffer parses an experiment-info chunk payload.
func (c ExperimentInfoCodec) DecodeBuffer(payload []byte) (ExperimentInfo, error) {
	r := newByteReader(payload)
	var info ExperimentInfo
	var err error
	if info.ExperimentID, err = c.decodeU64(r); err != nil {
		return info, fmt.Errorf("wire: decode experiment info: %w", err)
	}
	if info.SubjectID, err = c.decodeU64(r); err != nil {
		return info, fmt.Errorf("wire: decode experiment info: %w", err)
	}
	if info.SubjectName, err = c.decodeString(r); err != nil {
		return info, fmt.Errorf("wire: decode experiment info: %w", err)
	}
	if info.SubjectAge, err = c.decodeU32(r); err != nil {
		return info, fmt.Errorf("wire: decode experiment info: %w", err)
	}
	if info.SubjectSex, err = c.decodeString(r); err != nil {
		return info, fmt.Errorf("wire: decode experiment info: %w", err)
	}
	if info.LabID, err = c.decodeU64(r); err != nil {
		return info, fmt.Errorf("wire: decode experiment info: %w", err)
	}
	if info.LabName, err = c.decodeString(r); err != nil {
		return info, fmt.Errorf("wire: decode experiment info: %w", err)
	}
	if info.TechnicianID, err = c.decodeU64(r); err != nil {
		return info, fmt.Errorf("wire: decode experiment info: %w", err)
	}
	if info.TechName, err = c.decodeString(r); err != nil {
		return info, fmt.Errorf("wire: decode experiment info: %w", err)
	}
	if info.Date, err = c.decodeU64(r); err != nil {
		return info, fmt.Errorf("wire: decode experiment info: %w", err)
	}
	return info, nil
}
