package vna

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the size of the datagram header in bytes.
	HeaderSize = 16
	// Magic is the leading two bytes ("AV") of every datagram.
	Magic uint16 = 0x4156
	// MaxDatagramSize keeps datagrams within a 1500-byte Ethernet MTU.
	MaxDatagramSize = 1472
	// MaxFragmentPayload is the largest payload carried by one datagram.
	MaxFragmentPayload = MaxDatagramSize - HeaderSize
	// MaxFragments is the largest number of fragments of one message.
	MaxFragments = 1<<16 - 1
)

// Opcode identifies the command of a message. Responses carry the opcode of their request.
type Opcode uint8

const (
	// OpPing checks reachability of the instrument.
	OpPing Opcode = iota + 1
	// OpReadProm reads one chunk of the instrument PROM.
	OpReadProm
	// OpProgram loads the sweep program and leaves the instrument ready to measure.
	OpProgram
	// OpIdle stops the instrument. It is sent without waiting for a response.
	OpIdle
	// OpMeasure triggers one sweep and returns the sampled paths.
	OpMeasure
	// OpArm starts free-running acquisition.
	OpArm
	// OpDisarm stops free-running acquisition.
	OpDisarm
	// OpFetch returns the next completed free-running sweep.
	OpFetch
	// OpFactoryCal returns the factory calibration stored on the instrument.
	OpFactoryCal
)

// String returns string representation of the opcode.
func (op Opcode) String() string {
	switch op {
	case OpPing:
		return "ping"
	case OpReadProm:
		return "read-prom"
	case OpProgram:
		return "program"
	case OpIdle:
		return "idle"
	case OpMeasure:
		return "measure"
	case OpArm:
		return "arm"
	case OpDisarm:
		return "disarm"
	case OpFetch:
		return "fetch"
	case OpFactoryCal:
		return "factory-cal"
	default:
		return fmt.Sprintf("opcode(%d)", uint8(op))
	}
}

// Status is the result code carried by a response.
type Status uint8

const (
	StatusOK Status = iota
	// StatusRejected indicates a malformed or unsupported request.
	StatusRejected
	// StatusProgOverflow indicates a sweep program larger than the instrument memory.
	StatusProgOverflow
	// StatusNotPresent indicates that the requested data does not exist, e.g. no factory calibration.
	StatusNotPresent
	// StatusNotReady indicates that the instrument is not programmed or not armed.
	StatusNotReady
)

// String returns string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRejected:
		return "rejected"
	case StatusProgOverflow:
		return "program-overflow"
	case StatusNotPresent:
		return "not-present"
	case StatusNotReady:
		return "not-ready"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Message is a request or response exchanged with the instrument.
type Message struct {
	Opcode  Opcode
	Status  Status
	Seq     uint32
	Payload []byte
}

// NewRequest creates a request with a fresh sequence number.
func NewRequest(op Opcode, payload []byte) *Message {
	return &Message{Opcode: op, Status: StatusOK, Seq: NextSequence(), Payload: payload}
}

// Reply creates the response to m.
func (m *Message) Reply(status Status, payload []byte) *Message {
	return &Message{Opcode: m.Opcode, Status: status, Seq: m.Seq, Payload: payload}
}

// Datagrams encodes m into one or more datagrams.
func (m *Message) Datagrams() ([][]byte, error) {
	count := (len(m.Payload) + MaxFragmentPayload - 1) / MaxFragmentPayload
	if count == 0 {
		count = 1
	}
	if count > MaxFragments {
		return nil, fmt.Errorf("message payload too large: %d bytes", len(m.Payload))
	}

	out := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		start := i * MaxFragmentPayload
		end := min(start+MaxFragmentPayload, len(m.Payload))
		chunk := m.Payload[start:end]

		buf := make([]byte, HeaderSize+len(chunk))
		binary.BigEndian.PutUint16(buf[0:], Magic)
		buf[2] = byte(m.Opcode)
		buf[3] = byte(m.Status)
		binary.BigEndian.PutUint32(buf[4:], m.Seq)
		binary.BigEndian.PutUint16(buf[8:], uint16(i))
		binary.BigEndian.PutUint16(buf[10:], uint16(count))
		binary.BigEndian.PutUint32(buf[12:], uint32(len(chunk)))
		copy(buf[HeaderSize:], chunk)
		out = append(out, buf)
	}

	return out, nil
}

// Fragment is one decoded datagram.
type Fragment struct {
	Opcode  Opcode
	Status  Status
	Seq     uint32
	Index   uint16
	Count   uint16
	Payload []byte
}

// DecodeFragment decodes a datagram. The returned payload aliases data.
// Failures wrap ErrBytes.
func DecodeFragment(data []byte) (Fragment, error) {
	if len(data) < HeaderSize {
		return Fragment{}, fmt.Errorf("%w: datagram length %d", ErrBytes, len(data))
	}
	if binary.BigEndian.Uint16(data) != Magic {
		return Fragment{}, fmt.Errorf("%w: bad magic %#04x", ErrBytes, binary.BigEndian.Uint16(data))
	}

	f := Fragment{
		Opcode: Opcode(data[2]),
		Status: Status(data[3]),
		Seq:    binary.BigEndian.Uint32(data[4:]),
		Index:  binary.BigEndian.Uint16(data[8:]),
		Count:  binary.BigEndian.Uint16(data[10:]),
	}
	length := binary.BigEndian.Uint32(data[12:])
	if int(length) != len(data)-HeaderSize {
		return Fragment{}, fmt.Errorf("%w: payload length %d, datagram carries %d", ErrBytes, length, len(data)-HeaderSize)
	}
	if f.Count == 0 || f.Index >= f.Count {
		return Fragment{}, fmt.Errorf("%w: fragment %d of %d", ErrBytes, f.Index, f.Count)
	}
	f.Payload = data[HeaderSize:]

	return f, nil
}

// Assembler collects the fragments of one message.
type Assembler struct {
	seq      uint32
	started  bool
	opcode   Opcode
	status   Status
	parts    [][]byte
	received int
}

// NewAssembler creates an assembler for the message with sequence number seq.
func NewAssembler(seq uint32) *Assembler {
	return &Assembler{seq: seq}
}

// Seq returns the sequence number the assembler accepts.
func (a *Assembler) Seq() uint32 { return a.seq }

// Add adds a fragment and returns the complete message once every fragment arrived.
// Fragments of other sequence numbers must be filtered by the caller.
// Duplicated fragments are ignored; inconsistent fragments fail with ErrBytes.
func (a *Assembler) Add(f Fragment) (*Message, error) {
	if f.Seq != a.seq {
		return nil, fmt.Errorf("%w: fragment sequence %d, want %d", ErrBytes, f.Seq, a.seq)
	}

	if !a.started {
		a.started = true
		a.opcode = f.Opcode
		a.status = f.Status
		a.parts = make([][]byte, f.Count)
	}
	if f.Opcode != a.opcode || f.Status != a.status || int(f.Count) != len(a.parts) {
		return nil, fmt.Errorf("%w: inconsistent fragment %d of message %d", ErrBytes, f.Index, a.seq)
	}

	if a.parts[f.Index] == nil {
		a.parts[f.Index] = append(make([]byte, 0, len(f.Payload)), f.Payload...)
		a.received++
	}
	if a.received < len(a.parts) {
		return nil, nil //nolint:nilnil
	}

	size := 0
	for _, p := range a.parts {
		size += len(p)
	}
	payload := make([]byte, 0, size)
	for _, p := range a.parts {
		payload = append(payload, p...)
	}

	return &Message{Opcode: a.opcode, Status: a.status, Seq: a.seq, Payload: payload}, nil
}

// Err converts a non-OK response status into the matching error.
func (m *Message) Err() error {
	switch m.Status {
	case StatusOK:
		return nil
	case StatusProgOverflow:
		return fmt.Errorf("%w: %s rejected by instrument", ErrProgOverflow, m.Opcode)
	case StatusNotPresent:
		return fmt.Errorf("%w: %s data not present on instrument", ErrBadCal, m.Opcode)
	case StatusNotReady:
		return fmt.Errorf("%w: instrument not ready for %s", ErrWrongState, m.Opcode)
	default:
		return fmt.Errorf("%w: %s answered with status %s", ErrBytes, m.Opcode, m.Status)
	}
}
