package client

import (
	"github.com/google/uuid"

	"github.com/marmos91/varbus/pkg/status"
	"github.com/marmos91/varbus/pkg/value"
	"github.com/marmos91/varbus/pkg/wire"
)

// VarSpec describes a variable to create.
type VarSpec struct {
	Name    string
	Type    value.Type
	Flags   wire.Flags
	Format  string
	Tags    string
	Readers []uint32
	Writers []uint32

	// Size presets the capacity of a String/Blob variable. When Value is
	// also set the capacity is the larger of Size and the value's length.
	// Ignored for scalar types.
	Size int

	// Value optionally sets an initial value; nil leaves the type's zero
	// value.
	Value *value.Object
}

// Info is the client-side view of a variable descriptor.
type Info struct {
	Name       string
	Handle     wire.Handle
	InstanceID uint32
	GUID       uuid.UUID
	Flags      wire.Flags
	Type       value.Type
	Format     string
	Tags       string
	Readers    []uint32
	Writers    []uint32
}

func infoFromWire(vi *wire.VarInfo) Info {
	return Info{
		Name:       vi.GetName(),
		Handle:     wire.Handle(vi.Handle),
		InstanceID: vi.InstanceID,
		GUID:       uuid.UUID(vi.GUID),
		Flags:      wire.Flags(vi.Flags),
		Type:       value.Type(vi.ValueType),
		Format:     vi.GetFormat(),
		Tags:       vi.GetTags(),
		Readers:    append([]uint32(nil), vi.GetReaders()...),
		Writers:    append([]uint32(nil), vi.GetWriters()...),
	}
}

// Create makes (or re-opens) a named variable and returns its handle.
func (s *Session) Create(spec VarSpec) (wire.Handle, error) {
	if spec.Name == "" || !spec.Type.Valid() {
		return wire.HandleInvalid, status.ErrInvalidArgument
	}

	m := s.newRequest(wire.ReqCreate)
	if err := m.Info.SetName(spec.Name); err != nil {
		return wire.HandleInvalid, err
	}
	if err := m.Info.SetFormat(spec.Format); err != nil {
		return wire.HandleInvalid, err
	}
	if err := m.Info.SetTags(spec.Tags); err != nil {
		return wire.HandleInvalid, err
	}
	if err := m.Info.SetReaders(spec.Readers); err != nil {
		return wire.HandleInvalid, err
	}
	if err := m.Info.SetWriters(spec.Writers); err != nil {
		return wire.HandleInvalid, err
	}
	m.Info.Flags = uint32(spec.Flags)
	m.Info.ValueType = uint16(spec.Type)
	if spec.Value == nil && !spec.Type.Scalar() {
		m.Info.ValueLen = uint32(spec.Size)
	}

	if spec.Value != nil {
		if spec.Value.Type() != spec.Type {
			return wire.HandleInvalid, status.ErrInvalidArgument
		}
		if err := marshalValue(&m, spec.Value, s.workBuf); err != nil {
			return wire.HandleInvalid, err
		}
		// Staging records the seed's length; a larger preset capacity wins.
		if !spec.Type.Scalar() && spec.Size > int(m.Info.ValueLen) {
			m.Info.ValueLen = uint32(spec.Size)
		}
	}

	resp, err := s.roundTrip(&m, 0)
	if err != nil {
		return wire.HandleInvalid, err
	}
	return wire.Handle(resp.Info.Handle), nil
}

// Lookup resolves a variable name to its descriptor.
func (s *Session) Lookup(name string) (Info, error) {
	if name == "" {
		return Info{}, status.ErrInvalidArgument
	}
	m := s.newRequest(wire.ReqLookup)
	if err := m.Info.SetName(name); err != nil {
		return Info{}, err
	}
	resp, err := s.roundTrip(&m, 0)
	if err != nil {
		return Info{}, err
	}
	return infoFromWire(&resp.Info), nil
}

// Get reads a variable's current value into dst. A dst that already
// references a buffer keeps it (failing ErrTooBig when the content does
// not fit); a zero dst gets a freshly owned buffer sized to the payload.
// A dst with a preset type must match the variable's type.
func (s *Session) Get(h wire.Handle, dst *value.Object) error {
	if h == wire.HandleInvalid || dst == nil {
		return status.ErrInvalidArgument
	}
	m := s.newRequest(wire.ReqGet)
	m.Info.Handle = uint32(h)
	resp, err := s.roundTrip(&m, 0)
	if err != nil {
		return err
	}
	return unmarshalValue(dst, resp, s.workBuf)
}

// Set writes a variable's value.
func (s *Session) Set(h wire.Handle, v *value.Object) error {
	if h == wire.HandleInvalid || v == nil {
		return status.ErrInvalidArgument
	}
	m := s.newRequest(wire.ReqSet)
	m.Info.Handle = uint32(h)
	if err := marshalValue(&m, v, s.workBuf); err != nil {
		return err
	}
	_, err := s.roundTrip(&m, 0)
	return err
}

// Unlink removes a variable.
func (s *Session) Unlink(h wire.Handle) error {
	if h == wire.HandleInvalid {
		return status.ErrInvalidArgument
	}
	m := s.newRequest(wire.ReqUnlink)
	m.Info.Handle = uint32(h)
	_, err := s.roundTrip(&m, 0)
	return err
}

// GetByName is Lookup followed by Get in two round trips.
func (s *Session) GetByName(name string, dst *value.Object) error {
	info, err := s.Lookup(name)
	if err != nil {
		return err
	}
	return s.Get(info.Handle, dst)
}
