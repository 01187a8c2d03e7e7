// Package ipc is the control socket of a running backend. Messages are
// length-prefixed protobuf Struct values.
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Message types
const (
	TypeStatus         = "status"
	TypeFrame          = "frame"
	TypeReload         = "reload"
	TypeStatusResponse = "status_response"
	TypeOK             = "ok"
	TypeError          = "error"
)

// maxMessageSize bounds a single frame on the socket.
const maxMessageSize = 1 << 20

// OutputStatus is the wire form of one display snapshot.
type OutputStatus struct {
	GPU       string
	Name      string
	Connected bool
	Enabled   bool
	State     int
	Mode      string
	CrtcID    uint32
	PlaneID   uint32
	Commits   int
	Flips     int
	Skipped   int
	Locked    int
}

// Message is a request or a response.
type Message struct {
	Type    string
	Output  string
	Error   string
	Outputs []OutputStatus
}

// NewStatusMessage creates a status query.
func NewStatusMessage() *Message { return &Message{Type: TypeStatus} }

// NewFrameMessage asks for a new frame on output.
func NewFrameMessage(output string) *Message { return &Message{Type: TypeFrame, Output: output} }

// NewReloadMessage asks the backend to re-read its configuration.
func NewReloadMessage() *Message { return &Message{Type: TypeReload} }

// NewErrorMessage creates an error response.
func NewErrorMessage(format string, args ...interface{}) *Message {
	return &Message{Type: TypeError, Error: fmt.Sprintf(format, args...)}
}

func (o OutputStatus) toMap() map[string]interface{} {
	return map[string]interface{}{
		"gpu":       o.GPU,
		"name":      o.Name,
		"connected": o.Connected,
		"enabled":   o.Enabled,
		"state":     o.State,
		"mode":      o.Mode,
		"crtc_id":   o.CrtcID,
		"plane_id":  o.PlaneID,
		"commits":   o.Commits,
		"flips":     o.Flips,
		"skipped":   o.Skipped,
		"locked":    o.Locked,
	}
}

func outputFromStruct(s *structpb.Struct) OutputStatus {
	f := s.GetFields()
	num := func(k string) float64 { return f[k].GetNumberValue() }
	return OutputStatus{
		GPU:       f["gpu"].GetStringValue(),
		Name:      f["name"].GetStringValue(),
		Connected: f["connected"].GetBoolValue(),
		Enabled:   f["enabled"].GetBoolValue(),
		State:     int(num("state")),
		Mode:      f["mode"].GetStringValue(),
		CrtcID:    uint32(num("crtc_id")),
		PlaneID:   uint32(num("plane_id")),
		Commits:   int(num("commits")),
		Flips:     int(num("flips")),
		Skipped:   int(num("skipped")),
		Locked:    int(num("locked")),
	}
}

// Struct converts m to its protobuf form.
func (m *Message) Struct() (*structpb.Struct, error) {
	fields := map[string]interface{}{"type": m.Type}
	if m.Output != "" {
		fields["output"] = m.Output
	}
	if m.Error != "" {
		fields["error"] = m.Error
	}
	if m.Outputs != nil {
		list := make([]interface{}, 0, len(m.Outputs))
		for _, o := range m.Outputs {
			list = append(list, o.toMap())
		}
		fields["outputs"] = list
	}
	return structpb.NewStruct(fields)
}

// MessageFromStruct decodes a protobuf Struct into a Message.
func MessageFromStruct(s *structpb.Struct) (*Message, error) {
	f := s.GetFields()
	m := &Message{
		Type:   f["type"].GetStringValue(),
		Output: f["output"].GetStringValue(),
		Error:  f["error"].GetStringValue(),
	}
	if m.Type == "" {
		return nil, fmt.Errorf("message without a type")
	}
	if list := f["outputs"].GetListValue(); list != nil {
		m.Outputs = make([]OutputStatus, 0, len(list.GetValues()))
		for _, v := range list.GetValues() {
			st := v.GetStructValue()
			if st == nil {
				return nil, fmt.Errorf("malformed output entry")
			}
			m.Outputs = append(m.Outputs, outputFromStruct(st))
		}
	}
	return m, nil
}

// readMessage reads one length-prefixed message.
func readMessage(r io.Reader) (*Message, error) {
	// Read message length (4 bytes, big endian)
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("failed to read message length: %w", err)
	}
	if length > maxMessageSize {
		return nil, fmt.Errorf("message too large: %d bytes", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read message data: %w", err)
	}

	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return MessageFromStruct(&s)
}

// writeMessage writes one length-prefixed message.
func writeMessage(w io.Writer, m *Message) error {
	s, err := m.Struct()
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	data, err := proto.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("failed to write message length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write message data: %w", err)
	}
	return nil
}
