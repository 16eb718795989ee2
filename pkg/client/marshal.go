package client

import (
	"github.com/marmos91/varbus/pkg/value"
	"github.com/marmos91/varbus/pkg/wire"
)

// The value staging codec is shared with the server side; these aliases
// keep the call sites in this package short.

func marshalValue(m *wire.Message, obj *value.Object, workBuf []byte) error {
	return wire.StageValue(m, obj, workBuf)
}

func unmarshalValue(dst *value.Object, m *wire.Message, workBuf []byte) error {
	return wire.TakeValue(dst, m, workBuf)
}
