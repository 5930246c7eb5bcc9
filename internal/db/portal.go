package db

import "gorm.io/gorm"

// Portal 是一个接收新闻的外部站点。
type Portal struct {
	gorm.Model
	Name      string `gorm:"size:150;uniqueIndex;not null"`
	BaseURL   string `gorm:"size:255;not null"`
	DomainURL string `gorm:"size:255"`
	APIKey    string `gorm:"size:255"`
	SecretKey string `gorm:"size:255"`
	IsActive  bool   `gorm:"not null;default:true"`
}

// PortalCategory 是某个站点自己的分类，ExternalID 为站点侧的编号。
type PortalCategory struct {
	gorm.Model
	PortalID         uint   `gorm:"not null;uniqueIndex:idx_portal_category_external"`
	Portal           Portal `gorm:"constraint:OnDelete:CASCADE;"`
	Name             string `gorm:"size:150;not null"`
	ExternalID       string `gorm:"size:100;not null;uniqueIndex:idx_portal_category_external"`
	ParentName       string `gorm:"size:150"`
	ParentExternalID string `gorm:"size:100"`
}

// PortalPrompt 存储站点级或全局的改写提示词。
type PortalPrompt struct {
	gorm.Model
	PortalID   *uint   `gorm:"uniqueIndex"`
	Portal     *Portal `gorm:"constraint:OnDelete:CASCADE;"`
	Name       string  `gorm:"size:255"`
	PromptText string  `gorm:"type:text;not null"`
	IsActive   bool    `gorm:"not null"`
	IsGlobal   bool    `gorm:"not null;default:false;index"`
}

// 站点账号映射状态。
const (
	PortalUserMatched  = "MATCHED"
	PortalUserPending  = "PENDING"
	PortalUserMismatch = "MISMATCH"
)

// PortalUserMapping 记录本地用户在某个站点上的账号。
type PortalUserMapping struct {
	gorm.Model
	UserID         uint   `gorm:"not null;uniqueIndex:idx_user_portal"`
	User           User   `gorm:"constraint:OnDelete:CASCADE;"`
	PortalID       uint   `gorm:"not null;uniqueIndex:idx_user_portal"`
	Portal         Portal `gorm:"constraint:OnDelete:CASCADE;"`
	PortalUserID   string `gorm:"size:100"`
	PortalUsername string `gorm:"size:150"`
	Status         string `gorm:"size:20;not null;default:PENDING"`
	Notes          string `gorm:"type:text"`
}
