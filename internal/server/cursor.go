package server

import (
	"path"
	"regexp"
	"strings"

	"github.com/marmos91/varbus/pkg/status"
	"github.com/marmos91/varbus/pkg/wire"
)

// cursor is the server half of a get-first / get-next iteration. The
// match set is snapshotted at QueryFirst: variables created afterwards
// are not visited, variables unlinked mid-iteration are skipped when
// their turn comes. owner is the session id that opened the cursor; two
// sessions of one process iterate independently.
type cursor struct {
	owner   uint64
	matches []wire.Handle
	pos     int
}

// criteria is a decoded query request.
type criteria struct {
	search     wire.SearchType
	matchText  string
	tagSpec    []string
	instanceID uint32
	flags      wire.Flags

	// compiled regex, only for MatchByRegex.
	re *regexp.Regexp
}

func splitTags(spec string) []string {
	if spec == "" {
		return nil
	}
	parts := strings.Split(spec, ",")
	tags := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

func joinTags(tags []string) string { return strings.Join(tags, ",") }

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func compileCriteria(m *wire.Message) (criteria, error) {
	c := criteria{
		search:     wire.SearchType(m.RequestValue),
		matchText:  m.Info.GetName(),
		tagSpec:    splitTags(m.Info.GetTags()),
		instanceID: m.Info.InstanceID,
		flags:      wire.Flags(m.Info.Flags),
	}
	if c.search&wire.MatchByRegex != 0 {
		re, err := regexp.Compile(c.matchText)
		if err != nil {
			return criteria{}, status.ErrInvalidArgument
		}
		c.re = re
	}
	if c.search&wire.MatchByName != 0 {
		// Validate the glob up front so a malformed pattern fails the
		// query instead of silently matching nothing.
		if _, err := path.Match(c.matchText, ""); err != nil {
			return criteria{}, status.ErrInvalidArgument
		}
	}
	return c, nil
}

// matches evaluates the criteria against one variable. Caller holds the
// store mutex.
func (c *criteria) matches(v *Variable) bool {
	if c.search&wire.MatchByRegex != 0 && !c.re.MatchString(v.name) {
		return false
	}
	if c.search&wire.MatchByName != 0 {
		ok, _ := path.Match(c.matchText, v.name)
		if !ok {
			return false
		}
	}
	if c.search&wire.ByFlags != 0 && v.flags&c.flags != c.flags {
		return false
	}
	if c.search&wire.ByTags != 0 && !hasAllTags(v.tags, c.tagSpec) {
		return false
	}
	if c.search&wire.ByInstanceID != 0 && v.instanceID != c.instanceID {
		return false
	}
	return true
}

// QueryFirst snapshots the match set and returns the first result with
// a continuation token. No match is ErrNotFound with no cursor kept.
func (s *Store) QueryFirst(owner uint64, m *wire.Message, creds []uint32, workBuf []byte) (uint32, error) {
	c, err := compileCriteria(m)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := &cursor{owner: owner}
	for _, v := range s.byHandle {
		if v.readable(creds) && c.matches(v) {
			cur.matches = append(cur.matches, v.handle)
		}
	}
	if len(cur.matches) == 0 {
		return 0, status.ErrNotFound
	}

	s.nextCursor++
	token := s.nextCursor
	s.cursors[token] = cur
	return token, s.advanceLocked(token, cur, c.search, m, workBuf)
}

// QueryNext steps an existing cursor. Exhaustion frees the cursor and
// reports ErrNotFound with a zero context, which is what tells the
// client the iteration ended.
func (s *Store) QueryNext(owner uint64, m *wire.Message, creds []uint32, workBuf []byte) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.cursors[m.Context]
	if !ok || cur.owner != owner {
		return 0, status.ErrNotFound
	}
	return m.Context, s.advanceLocked(m.Context, cur, wire.SearchType(m.RequestValue), m, workBuf)
}

// advanceLocked moves the cursor to its next live, still-readable entry
// and fills the result fields of m in place. Exhaustion deletes the
// cursor and zeroes the context.
func (s *Store) advanceLocked(token uint32, cur *cursor, search wire.SearchType, m *wire.Message, workBuf []byte) error {
	for cur.pos < len(cur.matches) {
		h := cur.matches[cur.pos]
		cur.pos++

		v, ok := s.byHandle[h]
		if !ok {
			continue
		}

		m.Info = wire.VarInfo{Handle: uint32(v.handle), InstanceID: v.instanceID}
		_ = m.Info.SetName(v.name)
		m.Info.Flags = uint32(v.flags)
		if search&wire.ShowType != 0 {
			m.Info.ValueType = uint16(v.typ)
		}
		m.PayloadLen = 0
		if search&wire.ShowValue != 0 {
			if err := wire.StageValue(m, &v.obj, workBuf); err != nil {
				return err
			}
		}
		return nil
	}

	delete(s.cursors, token)
	m.Context = 0
	return status.ErrNotFound
}

// DropCursors frees every cursor owned by a departing session.
func (s *Store) DropCursors(owner uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, cur := range s.cursors {
		if cur.owner == owner {
			delete(s.cursors, token)
		}
	}
}
