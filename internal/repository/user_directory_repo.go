package repository

import (
	"context"

	"gorm.io/gorm"
)

// UserInfo is the read-only projection of a platform account, used to derive
// display names for direct chats.
type UserInfo struct {
	ID   uint
	Name string
}

// UserDirectory looks up display data for platform users. The chat layer
// never mutates directory data.
type UserDirectory interface {
	User(ctx context.Context, userID uint) (UserInfo, error)
}

type userRow struct {
	ID   uint
	Name string
}

func (userRow) TableName() string { return "users" }

type userDirectory struct {
	db *gorm.DB
}

// NewUserDirectory constructs a read-only lookup over the platform's users
// table.
func NewUserDirectory(db *gorm.DB) UserDirectory {
	return &userDirectory{db: db}
}

func (d *userDirectory) User(ctx context.Context, userID uint) (UserInfo, error) {
	var user userRow
	if err := d.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return UserInfo{}, err
	}

	return UserInfo{ID: user.ID, Name: user.Name}, nil
}
