package db

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JobState 是后台发布任务的状态。
type JobState string

// 任务状态取值。
const (
	JobPending JobState = "PENDING"
	JobStarted JobState = "STARTED"
	JobSuccess JobState = "SUCCESS"
	JobFailure JobState = "FAILURE"
)

// NewsPublishTask 记录一次异步发布任务。
type NewsPublishTask struct {
	gorm.Model
	TaskID        string   `gorm:"size:64;uniqueIndex;not null"`
	NewsPostID    uint     `gorm:"not null;index"`
	NewsPost      NewsPost `gorm:"constraint:OnDelete:CASCADE;"`
	TriggeredByID *uint
	TriggeredBy   *User
	Status        JobState       `gorm:"size:20;not null;default:PENDING"`
	Result        datatypes.JSON `gorm:"type:json"`
	Error         string         `gorm:"type:text"`
}
