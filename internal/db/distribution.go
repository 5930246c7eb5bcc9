package db

import (
	"time"

	"gorm.io/gorm"
)

// DistributionStatus 是分发记录的状态。
type DistributionStatus string

// 分发状态取值。
const (
	DistributionPending DistributionStatus = "PENDING"
	DistributionSuccess DistributionStatus = "SUCCESS"
	DistributionFailed  DistributionStatus = "FAILED"
)

// NewsDistribution 记录一篇稿件在某个站点上的分发情况，(NewsPostID, PortalID) 唯一。
type NewsDistribution struct {
	gorm.Model
	NewsPostID       uint            `gorm:"not null;uniqueIndex:idx_distribution_news_portal"`
	NewsPost         NewsPost        `gorm:"constraint:OnDelete:CASCADE;"`
	PortalID         uint            `gorm:"not null;uniqueIndex:idx_distribution_news_portal"`
	Portal           Portal          `gorm:"constraint:OnDelete:CASCADE;"`
	PortalCategoryID *uint
	PortalCategory   *PortalCategory `gorm:"constraint:OnDelete:SET NULL;"`
	MasterCategoryID *uint
	PortalNewsID     string `gorm:"size:100;index"`

	AITitle            string `gorm:"size:255"`
	AIShortDescription string `gorm:"type:text"`
	AIContent          string `gorm:"type:text"`
	AIMetaTitle        string `gorm:"size:255"`
	AISlug             string `gorm:"size:255"`
	EditedImagePath    string `gorm:"size:255"`

	Status          DistributionStatus `gorm:"size:20;not null;default:PENDING;index"`
	ResponseMessage string             `gorm:"type:text"`
	RetryCount      uint               `gorm:"not null;default:0"`
	EditCount       uint               `gorm:"not null;default:0"`
	TimeTaken       float64            `gorm:"not null;default:0"`
	StartedAt       *time.Time
	CompletedAt     *time.Time
}
