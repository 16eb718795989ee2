package client

import (
	"errors"

	"github.com/marmos91/varbus/pkg/status"
	"github.com/marmos91/varbus/pkg/value"
	"github.com/marmos91/varbus/pkg/wire"
)

// Query is a stateful get-first / get-next search over server-side
// variables. Fill the criteria, then drive First/Next until ErrNotFound,
// or fold the whole stream with Map. The server frees its iteration
// state only when the cursor is driven to exhaustion; a client that
// stops early leaks that state server-side until the session closes.
type Query struct {
	// Search criteria.
	SearchType wire.SearchType
	MatchText  string
	TagSpec    string
	InstanceID uint32
	Flags      wire.Flags

	// serverContext is the opaque continuation token; non-zero while an
	// iteration is in progress.
	serverContext uint32

	// Current result, valid after a successful First/Next.
	ResultName   string
	ResultHandle wire.Handle
	ResultType   value.Type
}

// Active reports whether the query holds a live server cursor.
func (q *Query) Active() bool { return q.serverContext != 0 }

func (q *Query) fill(m *wire.Message) error {
	m.RequestValue = uint32(q.SearchType)
	if err := m.Info.SetName(q.MatchText); err != nil {
		return err
	}
	if err := m.Info.SetTags(q.TagSpec); err != nil {
		return err
	}
	m.Info.InstanceID = q.InstanceID
	m.Info.Flags = uint32(q.Flags)
	return nil
}

func (q *Query) take(resp *wire.Message) error {
	q.serverContext = resp.Context
	if resp.Context == 0 {
		// Exhausted: the server has already freed the cursor.
		q.ResultName = ""
		q.ResultHandle = wire.HandleInvalid
		q.ResultType = value.Invalid
		return status.ErrNotFound
	}
	q.ResultName = resp.Info.GetName()
	q.ResultHandle = wire.Handle(resp.Info.Handle)
	q.ResultType = value.Type(resp.Info.ValueType)
	return nil
}

// First starts the search and positions the cursor on the first match.
// No match at all is ErrNotFound with the cursor left inactive.
func (s *Session) First(q *Query) error {
	if q == nil {
		return status.ErrInvalidArgument
	}
	m := s.newRequest(wire.ReqQueryFirst)
	if err := q.fill(&m); err != nil {
		return err
	}
	resp, err := s.roundTrip(&m, 0)
	if err != nil {
		if resp != nil {
			q.serverContext = resp.Context
		}
		return err
	}
	return q.take(resp)
}

// Next advances the cursor to the following match. Exhaustion is
// ErrNotFound and releases the server-side cursor.
func (s *Session) Next(q *Query) error {
	if q == nil {
		return status.ErrInvalidArgument
	}
	if q.serverContext == 0 {
		return status.ErrNotFound
	}
	m := s.newRequest(wire.ReqQueryNext)
	if err := q.fill(&m); err != nil {
		return err
	}
	m.Context = q.serverContext
	resp, err := s.roundTrip(&m, 0)
	if err != nil {
		if resp != nil {
			q.serverContext = resp.Context
		}
		return err
	}
	return q.take(resp)
}

// Map drives the query to completion, invoking fn once per match. A
// query matching nothing returns ErrNotFound; the first fn error aborts
// the fold and is returned. This is the only unbounded fold in the
// client, so fn must not issue requests on the same session.
func (s *Session) Map(q *Query, fn func(h wire.Handle) error) error {
	if err := s.First(q); err != nil {
		return err
	}
	for {
		if ferr := fn(q.ResultHandle); ferr != nil {
			return ferr
		}
		if err := s.Next(q); err != nil {
			if errors.Is(err, status.ErrNotFound) {
				// Exhaustion after at least one match is success.
				return nil
			}
			return err
		}
	}
}
