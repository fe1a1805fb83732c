package chat

import "time"

// User is a chat account. ChannelID is the user-chosen relay room name and is
// distinct from ID.
type User struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Email     string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	ChannelID *string   `gorm:"size:255;uniqueIndex" json:"channelId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Channel returns the user's channel id or "" when none is set.
func (u User) Channel() string {
	if u.ChannelID == nil {
		return ""
	}
	return *u.ChannelID
}

// Profile is the public view of a user.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ChannelID string `json:"channelId"`
}

// Profile returns the public view of u.
func (u User) Profile() Profile {
	return Profile{ID: u.ID, Name: u.Name, ChannelID: u.Channel()}
}

// Friendship records that UserID added the owner of FriendChannelID.
type Friendship struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	UserID          string    `gorm:"size:36;uniqueIndex:idx_friend_pair;not null" json:"userId"`
	FriendChannelID string    `gorm:"size:255;uniqueIndex:idx_friend_pair;not null" json:"friendChannelId"`
	CreatedAt       time.Time `json:"createdAt"`
}
