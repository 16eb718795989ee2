package client

import (
	"fmt"
	"io"

	"github.com/marmos91/varbus/pkg/template"
	"github.com/marmos91/varbus/pkg/value"
)

// Resolver returns a template.Resolver backed by this session: each
// ${name} reference costs a lookup plus a get. The resolver shares the
// session's request slot, so it must not be used while another request
// is in flight.
func (s *Session) Resolver() template.Resolver {
	return template.ResolverFunc(func(name string, w io.Writer) error {
		var obj value.Object
		if err := s.GetByName(name, &obj); err != nil {
			return err
		}
		text, err := obj.Format()
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, text); err != nil {
			return fmt.Errorf("write substitution: %w", err)
		}
		return nil
	})
}

// Expand substitutes ${name} references in text and writes the result
// to w. Unresolvable references are dropped from the output and the
// call reports a soft failure once the rest of the text is written.
func (s *Session) Expand(w io.Writer, text []byte) error {
	e := template.New(w, s.Resolver())
	if err := e.Process(text); err != nil {
		return err
	}
	return e.Finish()
}
