package db

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 正文格式。
const (
	ContentFormatHTML     = "html"
	ContentFormatMarkdown = "markdown"
)

// NewsPost 是待分发的新闻稿件。
type NewsPost struct {
	gorm.Model
	CreatedByID      uint
	CreatedBy        User
	Title            string `gorm:"size:255;not null"`
	ShortDescription string `gorm:"type:text"`
	Content          string `gorm:"type:text"`
	ContentFormat    string `gorm:"size:20;not null;default:html"`
	ImagePath        string `gorm:"size:255"`
	PostTag          string `gorm:"size:255"`
	MetaTitle        string `gorm:"size:255"`
	Slug             string `gorm:"size:255;uniqueIndex"`

	IsActive     bool `gorm:"not null"`
	HeadLines    bool `gorm:"not null;default:false"`
	Articles     bool `gorm:"not null;default:false"`
	Trending     bool `gorm:"not null;default:false"`
	BreakingNews bool `gorm:"not null;default:false"`
	Event        bool `gorm:"not null;default:false"`

	EventDate    *time.Time
	EventEndDate *time.Time
	ScheduleDate *time.Time
	Counter      *uint

	MasterCategoryID        *uint
	MasterCategory          *MasterCategory
	PortalCategoryIDs       datatypes.JSONSlice[uint] `gorm:"type:json"`
	ExcludePortalCategories datatypes.JSONSlice[uint] `gorm:"type:json"`
	CrossPortalCategoryID   *uint
}

// NewsPortalImage 为某个站点单独指定的配图。
type NewsPortalImage struct {
	gorm.Model
	NewsPostID uint     `gorm:"not null;uniqueIndex:idx_news_portal_image"`
	NewsPost   NewsPost `gorm:"constraint:OnDelete:CASCADE;"`
	PortalID   uint     `gorm:"not null;uniqueIndex:idx_news_portal_image"`
	Portal     Portal   `gorm:"constraint:OnDelete:CASCADE;"`
	ImagePath  string   `gorm:"size:255;not null"`
}
