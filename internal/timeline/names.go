package timeline

import "github.com/lox/liarspoker/internal/game"

// You is shown in place of the local player's name.
const You = "You"

// Names resolves a player id to a display name.
type Names interface {
	Name(id string) string
}

// NameFunc adapts a function to Names.
type NameFunc func(id string) string

func (f NameFunc) Name(id string) string { return f(id) }

// NamesFrom resolves ids against a state: the local session renders as
// "You", seated players by name, and anyone else by raw id.
func NamesFrom(s *game.State) Names {
	return NameFunc(func(id string) string {
		if id == "" {
			return ""
		}
		if s == nil {
			return id
		}
		if s.SelfID != "" && id == s.SelfID {
			return You
		}
		if p, ok := s.Snapshot.Player(id); ok && p.Name != "" {
			return p.Name
		}
		return id
	})
}
