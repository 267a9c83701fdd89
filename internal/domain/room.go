package domain

type RoomID string

type Room struct {
	ID RoomID `json:"id"`
}
