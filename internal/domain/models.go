// Package domain defines the persistence models for users and threaded
// messages. These types are mapped with GORM and form the core data layer
// of the threads backend.
package domain

import "time"

// User is a registered account. Users are created once through registration
// and are never deleted by this service.
//
// Fields:
//   - ID: store-assigned numeric primary key, immutable.
//   - Name: display name.
//   - Email: unique login identifier, stored case-folded.
//   - PasswordHash: argon2id PHC string (salt + parameters + key). Never
//     serialized and never equal to the plaintext password.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type User struct {
	ID           int64     `json:"id"        gorm:"primaryKey;autoIncrement"`
	Name         string    `json:"name"      gorm:"type:varchar(255);not null"`
	Email        string    `json:"email"     gorm:"type:varchar(320);not null;uniqueIndex:ux_users_email"`
	PasswordHash string    `json:"-"         gorm:"column:password_hash;type:text;not null"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Public returns the response view of u: id, name and email only.
func (u *User) Public() *PublicUser {
	return &PublicUser{ID: u.ID, Name: u.Name, Email: u.Email}
}

// PublicUser is the only shape of a user that leaves the service boundary.
type PublicUser struct {
	ID    int64  `json:"id"    example:"1"`
	Name  string `json:"name"  example:"Ada"`
	Email string `json:"email" example:"ada@example.com"`
}

// Message is a single post. A message with a nil ParentID is a thread root;
// otherwise ParentID references an existing message at insert time, so the
// parent relation is a forest.
//
// Fields:
//   - ID: store-assigned numeric primary key.
//   - UserID: author, FK to users.id.
//   - Body: message text (column "message").
//   - ParentID: optional FK to message.id. Set to NULL by the store when the
//     parent is deleted, which turns the child into a thread root.
//   - MessageTime: instant the server accepted the message. Immutable.
//   - CreatedAt / UpdatedAt: row audit timestamps managed by GORM.
type Message struct {
	ID          int64     `json:"id"          gorm:"primaryKey;autoIncrement"`
	UserID      int64     `json:"userId"      gorm:"not null;index:idx_message_user_time,priority:1"`
	Body        string    `json:"message"     gorm:"column:message;type:text;not null"`
	ParentID    *int64    `json:"parentId"    gorm:"index:idx_message_parent"`
	MessageTime time.Time `json:"messageTime" gorm:"column:message_time;not null;index:idx_message_user_time,priority:2"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// User is the author. Users are never deleted while they own messages.
	User *User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	// Parent is the replied-to message. Deleting it orphans this row into a root.
	Parent *Message `json:"-" gorm:"foreignKey:ParentID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "message" }

// IsRoot reports whether m starts a thread.
func (m *Message) IsRoot() bool { return m.ParentID == nil }
