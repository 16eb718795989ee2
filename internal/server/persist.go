package server

import (
	"bytes"
	"encoding/binary"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/marmos91/varbus/internal/logger"
	"github.com/marmos91/varbus/pkg/value"
	"github.com/marmos91/varbus/pkg/wire"
)

// varKeyPrefix namespaces persisted variables inside the database.
var varKeyPrefix = []byte("var/")

// persistence is the write-through store for variables carrying the
// persist flag. Each variable is one record: its fixed descriptor
// followed by the raw value buffer.
type persistence struct {
	db *badger.DB
}

func openPersistence(path string) (*persistence, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithSyncWrites(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open persistence database: %w", err)
	}
	return &persistence{db: db}, nil
}

func (p *persistence) close() error {
	return p.db.Close()
}

func varKey(name string) []byte {
	return append(append([]byte(nil), varKeyPrefix...), name...)
}

// encodeRecord serializes the variable: a VarInfo header reused as the
// on-disk descriptor, then the full value buffer for var-length types.
func encodeRecord(v *Variable) ([]byte, error) {
	var vi wire.VarInfo
	vi.InstanceID = v.instanceID
	vi.GUID = [16]byte(v.guid)
	vi.Flags = uint32(v.flags)
	vi.ValueType = uint16(v.typ)
	vi.Scalar = v.obj.Bits()
	vi.ValueLen = uint32(v.obj.Len())
	if err := vi.SetName(v.name); err != nil {
		return nil, err
	}
	if err := vi.SetFormat(v.format); err != nil {
		return nil, err
	}
	if err := vi.SetTags(joinTags(v.tags)); err != nil {
		return nil, err
	}
	if err := vi.SetReaders(v.readers); err != nil {
		return nil, err
	}
	if err := vi.SetWriters(v.writers); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, &vi); err != nil {
		return nil, fmt.Errorf("encode descriptor: %w", err)
	}
	if !v.typ.Scalar() {
		buf.Write(v.obj.Bytes())
	}
	return buf.Bytes(), nil
}

// decodeRecord rebuilds a table entry from its record. The handle is
// assigned by the store on restore; change serials restart at zero.
func decodeRecord(data []byte) (*Variable, error) {
	var vi wire.VarInfo
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.BigEndian, &vi); err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}

	t := value.Type(vi.ValueType)
	if !t.Valid() {
		return nil, fmt.Errorf("persisted variable %q has invalid type %d", vi.GetName(), vi.ValueType)
	}

	v := &Variable{
		name:       vi.GetName(),
		instanceID: vi.InstanceID,
		guid:       uuid.UUID(vi.GUID),
		flags:      wire.Flags(vi.Flags),
		typ:        t,
		format:     vi.GetFormat(),
		tags:       splitTags(vi.GetTags()),
		readers:    append([]uint32(nil), vi.GetReaders()...),
		writers:    append([]uint32(nil), vi.GetWriters()...),
		changed:    make(chan struct{}),
	}

	if t.Scalar() {
		v.obj = scalarFromBits(t, vi.Scalar)
		return v, nil
	}

	payload := data[len(data)-r.Len():]
	if uint32(len(payload)) != vi.ValueLen {
		return nil, fmt.Errorf("persisted variable %q: %d payload bytes, descriptor says %d",
			v.name, len(payload), vi.ValueLen)
	}
	buf := append([]byte(nil), payload...)
	if t == value.String {
		v.obj = value.BorrowString(buf)
	} else {
		v.obj = value.BorrowBlob(buf)
	}
	return v, nil
}

func scalarFromBits(t value.Type, bits uint64) value.Object {
	switch t {
	case value.UInt16:
		return value.UInt16Value(uint16(bits))
	case value.Int16:
		return value.Int16Value(int16(uint16(bits)))
	case value.UInt32:
		return value.UInt32Value(uint32(bits))
	case value.Int32:
		return value.Int32Value(int32(uint32(bits)))
	case value.UInt64:
		return value.UInt64Value(bits)
	case value.Int64:
		return value.Int64Value(int64(bits))
	default:
		return value.FloatFromBits(uint32(bits))
	}
}

func (p *persistence) save(v *Variable) error {
	rec, err := encodeRecord(v)
	if err != nil {
		return err
	}
	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Set(varKey(v.name), rec)
	})
}

func (p *persistence) remove(name string) error {
	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(varKey(name))
	})
}

// Restore loads every persisted variable into the table. Called once at
// startup before any binding accepts requests, so it may write to the
// maps without contention.
func (s *Store) Restore() error {
	if s.persist == nil {
		return nil
	}
	restored := 0
	err := s.persist.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(varKeyPrefix); it.ValidForPrefix(varKeyPrefix); it.Next() {
			err := it.Item().Value(func(data []byte) error {
				v, err := decodeRecord(data)
				if err != nil {
					logger.Warn("skipping corrupt persisted variable", logger.KeyError, err)
					return nil
				}
				s.next++
				v.handle = wire.Handle(s.next)
				s.byName[v.name] = v
				s.byHandle[v.handle] = v
				restored++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("restore persisted variables: %w", err)
	}
	if restored > 0 {
		logger.Info("restored persisted variables", logger.KeyMatches, restored)
	}
	if s.metrics != nil {
		s.metrics.SetVariableCount(len(s.byHandle))
	}
	return nil
}
