package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxRoomNameLength = 64
	MaxRoomDescLength = 256
)

var ErrRoomNameEmpty = errors.New("room name must not be empty")
var ErrRoomNameTooLong = errors.New("room name too long")
var ErrRoomDescTooLong = errors.New("room description too long")
var ErrRoomDuplicate = errors.New("duplicate room name")
var ErrNoRooms = errors.New("room catalog must contain at least one room")

// Room is a server-defined chat room. Membership is never stored on the
// room; it is derived from the sessions currently pointing at it.
type Room struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description,omitempty"`
}

// Validate checks a single room definition.
func (r Room) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrRoomNameEmpty
	} else if utf8.RuneCountInString(r.Name) > MaxRoomNameLength {
		return ErrRoomNameTooLong
	}
	if utf8.RuneCountInString(r.Description) > MaxRoomDescLength {
		return ErrRoomDescTooLong
	}
	return nil
}

// RoomCatalog is the fixed, ordered set of rooms a server offers.
// It is immutable after construction.
type RoomCatalog struct {
	rooms []Room
	index map[string]struct{}
}

// DefaultRooms is the catalog used when no rooms file is configured.
func DefaultRooms() []Room {
	return []Room{
		{Name: "Sports", Description: "Scores, teams and match day talk"},
		{Name: "Gaming", Description: "Video and board games"},
		{Name: "Food", Description: "Recipes and restaurants"},
	}
}

// NewRoomCatalog validates rooms and builds a catalog preserving their order.
func NewRoomCatalog(rooms []Room) (*RoomCatalog, error) {
	if len(rooms) == 0 {
		return nil, ErrNoRooms
	}
	c := &RoomCatalog{
		rooms: make([]Room, 0, len(rooms)),
		index: make(map[string]struct{}, len(rooms)),
	}
	for _, r := range rooms {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("room %q: %w", r.Name, err)
		}
		if _, dup := c.index[r.Name]; dup {
			return nil, fmt.Errorf("room %q: %w", r.Name, ErrRoomDuplicate)
		}
		c.index[r.Name] = struct{}{}
		c.rooms = append(c.rooms, r)
	}
	return c, nil
}

// Contains reports whether name is a room of the catalog.
func (c *RoomCatalog) Contains(name string) bool {
	_, ok := c.index[name]
	return ok
}

// Names returns the room names in catalog order.
func (c *RoomCatalog) Names() []string {
	names := make([]string, len(c.rooms))
	for i, r := range c.rooms {
		names[i] = r.Name
	}
	return names
}

// Rooms returns a copy of the room definitions.
func (c *RoomCatalog) Rooms() []Room {
	out := make([]Room, len(c.rooms))
	copy(out, c.rooms)
	return out
}
