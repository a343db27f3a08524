package model

type RoomCategory string

const (
	RoomCategoryGeneral  RoomCategory = "general"
	RoomCategoryAcademic RoomCategory = "academic"
	RoomCategorySupport  RoomCategory = "support"
	RoomCategorySocial   RoomCategory = "social"
)

type Room struct {
	ID          string       `json:"id" yaml:"id" validate:"required"`
	Name        string       `json:"name" yaml:"name" validate:"required"`
	Description string       `json:"description" yaml:"description"`
	Color       string       `json:"color" yaml:"color"`
	Category    RoomCategory `json:"category" yaml:"category"`
}

// RoomWithPresence is the REST view of a room.
type RoomWithPresence struct {
	Room
	OnlineCount int `json:"onlineCount"`
}
