package db

import "gorm.io/gorm"

// MasterCategory 是内部统一分类，通过 CategoryMapping 对应到各站点分类。
type MasterCategory struct {
	gorm.Model
	Name        string `gorm:"size:150;uniqueIndex;not null"`
	Description string `gorm:"type:text"`
}

// CategoryMapping 将主分类映射到站点分类。
// UseDefaultContent 为 true 时按原文发布；IsDefault 在同一站点内至多一条。
type CategoryMapping struct {
	gorm.Model
	MasterCategoryID  uint           `gorm:"not null;uniqueIndex:idx_master_portal_category"`
	MasterCategory    MasterCategory `gorm:"constraint:OnDelete:CASCADE;"`
	PortalCategoryID  uint           `gorm:"not null;uniqueIndex:idx_master_portal_category"`
	PortalCategory    PortalCategory `gorm:"constraint:OnDelete:CASCADE;"`
	UseDefaultContent bool           `gorm:"not null;default:false"`
	IsDefault         bool           `gorm:"not null;default:false"`
}

// CrossPortalMapping 表示触发分类到目标分类的跨站点扇出关系。
type CrossPortalMapping struct {
	gorm.Model
	SourceCategoryID uint           `gorm:"not null;uniqueIndex:idx_cross_portal_pair"`
	SourceCategory   PortalCategory `gorm:"foreignKey:SourceCategoryID;constraint:OnDelete:CASCADE;"`
	TargetCategoryID uint           `gorm:"not null;uniqueIndex:idx_cross_portal_pair"`
	TargetCategory   PortalCategory `gorm:"foreignKey:TargetCategoryID;constraint:OnDelete:CASCADE;"`
}
