package repository

import (
	"context"

	"gorm.io/gorm"
)

// GroupInfo is the read-only projection of an external study group.
type GroupInfo struct {
	ID         uint
	Name       string
	TeacherID  uint
	StudentIDs []uint
}

// GroupDirectory looks up group membership from the wider platform. The chat
// layer never mutates directory data.
type GroupDirectory interface {
	Group(ctx context.Context, groupID uint) (GroupInfo, error)
}

// groupRow and groupStudentRow project the platform's group tables. The chat
// service only reads them; ownership stays with the directory module.
type groupRow struct {
	ID        uint
	Name      string
	TeacherID uint
}

func (groupRow) TableName() string { return "groups" }

type groupStudentRow struct {
	GroupID   uint
	StudentID uint
}

func (groupStudentRow) TableName() string { return "group_students" }

type groupDirectory struct {
	db *gorm.DB
}

// NewGroupDirectory constructs a read-only directory lookup over the
// platform's group tables.
func NewGroupDirectory(db *gorm.DB) GroupDirectory {
	return &groupDirectory{db: db}
}

func (d *groupDirectory) Group(ctx context.Context, groupID uint) (GroupInfo, error) {
	var group groupRow
	if err := d.db.WithContext(ctx).First(&group, groupID).Error; err != nil {
		return GroupInfo{}, err
	}

	var members []groupStudentRow
	if err := d.db.WithContext(ctx).Where("group_id = ?", groupID).Find(&members).Error; err != nil {
		return GroupInfo{}, err
	}

	info := GroupInfo{
		ID:        group.ID,
		Name:      group.Name,
		TeacherID: group.TeacherID,
	}
	for _, member := range members {
		info.StudentIDs = append(info.StudentIDs, member.StudentID)
	}

	return info, nil
}
