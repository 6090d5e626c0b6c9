package store

import "time"

type User struct {
	ID        int64
	GUID      string
	Username  string
	FirstName string
	LastName  string
	UserImage string
}

// Chat is always a direct chat with exactly two participants.
type Chat struct {
	ID        int64
	GUID      string
	CreatedAt time.Time
	UpdatedAt time.Time
	Users     []User
}

// Other returns the participant that is not userID.
func (c *Chat) Other(userID int64) (User, bool) {
	for _, u := range c.Users {
		if u.ID != userID {
			return u, true
		}
	}
	return User{}, false
}

type Message struct {
	ID        int64
	GUID      string
	ChatID    int64
	UserID    int64
	Content   string
	CreatedAt time.Time
	IsDeleted bool
}

// MessageView is a message as seen by one viewer.
type MessageView struct {
	Message
	UserGUID string
	IsRead   bool
}
