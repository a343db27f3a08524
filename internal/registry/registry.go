// Package registry holds the static set of chat rooms.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/campuschat/internal/model"
)

// DefaultRooms mirror the rooms the campus front-end ships as its fallback list.
var DefaultRooms = []model.Room{
	{ID: "general", Name: "💬 General Chat", Description: "Open discussion for all students", Category: model.RoomCategoryGeneral, Color: "#4CAF50"},
	{ID: "computer-engineering", Name: "💻 Computer Engineering", Description: "CE students discussion", Category: model.RoomCategoryAcademic, Color: "#2196F3"},
	{ID: "information-technology", Name: "📱 Information Technology", Description: "IT students discussion", Category: model.RoomCategoryAcademic, Color: "#FF9800"},
	{ID: "electronics-communication", Name: "📡 Electronics & Communication", Description: "ECE students discussion", Category: model.RoomCategoryAcademic, Color: "#9C27B0"},
	{ID: "mechanical-engineering", Name: "⚙️ Mechanical Engineering", Description: "Mechanical students discussion", Category: model.RoomCategoryAcademic, Color: "#607D8B"},
	{ID: "civil-engineering", Name: "🏗️ Civil Engineering", Description: "Civil students discussion", Category: model.RoomCategoryAcademic, Color: "#795548"},
	{ID: "chemical-engineering", Name: "🧪 Chemical Engineering", Description: "Chemical students discussion", Category: model.RoomCategoryAcademic, Color: "#E91E63"},
	{ID: "study-help", Name: "📚 Study Help", Description: "Academic support and study groups", Category: model.RoomCategorySupport, Color: "#3F51B5"},
	{ID: "events", Name: "🎉 College Events", Description: "Campus events and announcements", Category: model.RoomCategorySocial, Color: "#FF5722"},
}

var validate = validator.New()

// Registry is immutable after construction and safe for concurrent use.
type Registry struct {
	rooms []model.Room
	byID  map[string]int
}

func New(rooms []model.Room) (*Registry, error) {
	if len(rooms) == 0 {
		return nil, errors.New("registry: no rooms configured")
	}
	r := &Registry{
		rooms: make([]model.Room, 0, len(rooms)),
		byID:  make(map[string]int, len(rooms)),
	}
	for i, room := range rooms {
		if err := validate.Struct(room); err != nil {
			return nil, fmt.Errorf("registry: room #%d: %w", i, err)
		}
		if _, dup := r.byID[room.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate room id %q", room.ID)
		}
		r.byID[room.ID] = len(r.rooms)
		r.rooms = append(r.rooms, room)
	}
	return r, nil
}

type roomsFile struct {
	Rooms []model.Room `yaml:"rooms"`
}

// Load reads rooms from a YAML file. A missing file yields DefaultRooms.
func Load(path string) (*Registry, error) {
	if path == "" {
		return New(DefaultRooms)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(DefaultRooms)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	var f roomsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", path, err)
	}
	return New(f.Rooms)
}

// List returns rooms in configured order.
func (r *Registry) List() []model.Room {
	out := make([]model.Room, len(r.rooms))
	copy(out, r.rooms)
	return out
}

func (r *Registry) Get(id string) (model.Room, error) {
	i, ok := r.byID[id]
	if !ok {
		return model.Room{}, fmt.Errorf("room %q: %w", id, model.ErrRoomNotFound)
	}
	return r.rooms[i], nil
}

func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

func (r *Registry) IDs() []string {
	ids := make([]string, len(r.rooms))
	for i, room := range r.rooms {
		ids[i] = room.ID
	}
	return ids
}
