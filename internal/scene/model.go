// Package scene provides the read-only scene catalog consumed by matchmaking:
// game modes, their room-size policies, and the broadcasts a room opens with.
package scene

import (
	"errors"
	"fmt"
	"strings"
)

// LegacyIndex is the index carried by the built-in legacy pairing scene.
// It never collides with a catalog index.
const LegacyIndex = -1

// Receiver values accepted on a Broadcast.
const (
	ReceiverAll = "all"
)

// RoomPolicy is the player-count window for rooms formed on a scene.
type RoomPolicy struct {
	MinimumPlayers int
	MaximumPlayers int
}

// Validate checks 1 <= MinimumPlayers <= MaximumPlayers.
func (p RoomPolicy) Validate() error {
	if p.MinimumPlayers < 1 {
		return fmt.Errorf("minimum_players must be >= 1, got %d", p.MinimumPlayers)
	}
	if p.MaximumPlayers < p.MinimumPlayers {
		return fmt.Errorf("maximum_players (%d) must be >= minimum_players (%d)", p.MaximumPlayers, p.MinimumPlayers)
	}
	return nil
}

// RoomSize reports how many of queued players form a room under this policy.
//
// Postcondition: ok is false when queued < MinimumPlayers; otherwise
// size == min(queued, MaximumPlayers).
func (p RoomPolicy) RoomSize(queued int) (size int, ok bool) {
	if queued < p.MinimumPlayers {
		return 0, false
	}
	return min(queued, p.MaximumPlayers), true
}

// Broadcast is a message a room delivers to its members once it opens.
type Broadcast struct {
	Name    string
	Code    int
	Payload string
	// Receiver selects recipients. Only "all" is meaningful for scene-defined broadcasts.
	Receiver string
}

// Scene is one game mode.
type Scene struct {
	// Index is the scene's position in its catalog, or LegacyIndex.
	Index int
	// Name is a single token used on the wire.
	Name string
	// Room is nil for scenes that are never matched.
	Room       *RoomPolicy
	Broadcasts []Broadcast
}

// Matchable reports whether the scheduler may form rooms for this scene.
func (s *Scene) Matchable() bool {
	return s.Room != nil
}

// Validate checks the scene's name, policy, and broadcasts.
func (s *Scene) Validate() error {
	var errs []string
	if s.Name == "" {
		errs = append(errs, "name must not be empty")
	} else if strings.ContainsAny(s.Name, " \t\r\n") {
		errs = append(errs, fmt.Sprintf("name %q must not contain whitespace", s.Name))
	}
	if s.Room != nil {
		if err := s.Room.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	for i, b := range s.Broadcasts {
		if b.Name == "" || strings.ContainsAny(b.Name, " \t\r\n") {
			errs = append(errs, fmt.Sprintf("broadcast %d: name %q must be a non-empty single token", i, b.Name))
		}
		if b.Receiver != "" && b.Receiver != ReceiverAll {
			errs = append(errs, fmt.Sprintf("broadcast %d: unknown receiver %q", i, b.Receiver))
		}
		if strings.ContainsAny(b.Payload, "\r\n") {
			errs = append(errs, fmt.Sprintf("broadcast %d: payload must be a single line", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("scene %q: %s", s.Name, strings.Join(errs, "; "))
	}
	return nil
}

// Legacy returns the scene used by the two-player bootstrap pairing path.
// It carries a single broadcast to all members and a fixed 2-player policy.
func Legacy() *Scene {
	return &Scene{
		Index: LegacyIndex,
		Name:  "legacy",
		Room:  &RoomPolicy{MinimumPlayers: 2, MaximumPlayers: 2},
		Broadcasts: []Broadcast{
			{Name: "TestBroadcast", Code: 27, Payload: "Hello there sir.", Receiver: ReceiverAll},
		},
	}
}

// Catalog is an immutable, index-addressed list of scenes.
// All methods are safe for concurrent use.
type Catalog struct {
	scenes []*Scene
}

// NewCatalog indexes and validates scenes in order.
//
// Precondition: scenes must be non-nil entries.
// Postcondition: Each scene's Index equals its position. Returns an error naming
// every invalid scene, or if two scenes share a name.
func NewCatalog(scenes []*Scene) (*Catalog, error) {
	var errs []error
	seen := make(map[string]int, len(scenes))
	for i, s := range scenes {
		s.Index = i
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, dup := seen[s.Name]; dup {
			errs = append(errs, fmt.Errorf("scene %q: duplicate of scene %d", s.Name, prev))
			continue
		}
		seen[s.Name] = i
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &Catalog{scenes: scenes}, nil
}

// Len returns the number of scenes.
func (c *Catalog) Len() int {
	return len(c.scenes)
}

// Get returns the scene at index.
//
// Postcondition: Returns (scene, true) for 0 <= index < Len(), or (nil, false).
func (c *Catalog) Get(index int) (*Scene, bool) {
	if index < 0 || index >= len(c.scenes) {
		return nil, false
	}
	return c.scenes[index], true
}

// Matchable returns scenes carrying a room policy, in index order.
func (c *Catalog) Matchable() []*Scene {
	out := make([]*Scene, 0, len(c.scenes))
	for _, s := range c.scenes {
		if s.Matchable() {
			out = append(out, s)
		}
	}
	return out
}
