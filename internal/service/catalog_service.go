package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/newsrelay/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogService 管理站点、分类、映射与提示词，发布流程只读使用。
type CatalogService struct {
	db *gorm.DB
}

// NewCatalogService 构造 CatalogService。
func NewCatalogService(gdb *gorm.DB) *CatalogService {
	return &CatalogService{db: gdb}
}

// PortalInput 用于创建或更新站点。
type PortalInput struct {
	Name      string `yaml:"name"`
	BaseURL   string `yaml:"base_url"`
	DomainURL string `yaml:"domain_url"`
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
}

// UpsertPortal 按名称创建或更新站点。
func (s *CatalogService) UpsertPortal(ctx context.Context, input PortalInput) (*db.Portal, error) {
	name := strings.TrimSpace(input.Name)
	base := strings.TrimRight(strings.TrimSpace(input.BaseURL), "/")
	if name == "" || base == "" {
		return nil, errors.New("portal name and base url are required")
	}

	portal := db.Portal{Name: name}
	err := s.db.WithContext(ctx).
		Where(db.Portal{Name: name}).
		Assign(db.Portal{BaseURL: base, DomainURL: strings.TrimSpace(input.DomainURL), APIKey: input.APIKey, SecretKey: input.SecretKey, IsActive: true}).
		FirstOrCreate(&portal).Error
	if err != nil {
		return nil, fmt.Errorf("upsert portal %s: %w", name, err)
	}
	return &portal, nil
}

// ListPortals 返回全部站点。
func (s *CatalogService) ListPortals(ctx context.Context) ([]db.Portal, error) {
	var portals []db.Portal
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&portals).Error; err != nil {
		return nil, fmt.Errorf("list portals: %w", err)
	}
	return portals, nil
}

// PortalCategoryInput 用于创建站点分类。
type PortalCategoryInput struct {
	PortalID         uint
	Name             string
	ExternalID       string
	ParentName       string
	ParentExternalID string
}

// UpsertPortalCategory 按 (站点, 外部编号) 创建或更新分类。
func (s *CatalogService) UpsertPortalCategory(ctx context.Context, input PortalCategoryInput) (*db.PortalCategory, error) {
	external := strings.TrimSpace(input.ExternalID)
	if input.PortalID == 0 || external == "" {
		return nil, errors.New("portal and external id are required")
	}

	category := db.PortalCategory{}
	err := s.db.WithContext(ctx).
		Where(db.PortalCategory{PortalID: input.PortalID, ExternalID: external}).
		Assign(db.PortalCategory{Name: strings.TrimSpace(input.Name), ParentName: input.ParentName, ParentExternalID: input.ParentExternalID}).
		FirstOrCreate(&category).Error
	if err != nil {
		return nil, fmt.Errorf("upsert portal category: %w", err)
	}
	return &category, nil
}

// UpsertMasterCategory 按名称创建主分类。
func (s *CatalogService) UpsertMasterCategory(ctx context.Context, name, description string) (*db.MasterCategory, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("master category name is required")
	}
	master := db.MasterCategory{}
	err := s.db.WithContext(ctx).
		Where(db.MasterCategory{Name: name}).
		Assign(db.MasterCategory{Description: description}).
		FirstOrCreate(&master).Error
	if err != nil {
		return nil, fmt.Errorf("upsert master category: %w", err)
	}
	return &master, nil
}

// PortalCategory 按编号读取分类及所属站点。
func (s *CatalogService) PortalCategory(ctx context.Context, id uint) (*db.PortalCategory, error) {
	var category db.PortalCategory
	if err := s.db.WithContext(ctx).Preload("Portal").First(&category, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, configurationError(ErrCategoryNotFound, id)
		}
		return nil, fmt.Errorf("load portal category %d: %w", id, err)
	}
	return &category, nil
}

// PortalCategoriesByIDs 批量读取分类，按 ids 的顺序返回，不存在的编号被跳过。
func (s *CatalogService) PortalCategoriesByIDs(ctx context.Context, ids []uint) ([]db.PortalCategory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []db.PortalCategory
	if err := s.db.WithContext(ctx).Preload("Portal").Where("id IN ?", ids).Find(&found).Error; err != nil {
		return nil, fmt.Errorf("load portal categories: %w", err)
	}
	byID := make(map[uint]db.PortalCategory, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	ordered := make([]db.PortalCategory, 0, len(found))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			ordered = append(ordered, c)
			delete(byID, id)
		}
	}
	return ordered, nil
}

// MappingInput 描述主分类到一组站点分类的映射。
type MappingInput struct {
	MasterCategoryID  uint
	PortalCategoryIDs []uint
	UseDefaultContent bool
	IsDefault         bool
}

// UpsertCategoryMappings 创建或更新映射；IsDefault 为真时清除同站点其它映射的默认标记。
func (s *CatalogService) UpsertCategoryMappings(ctx context.Context, input MappingInput) ([]db.CategoryMapping, error) {
	if input.MasterCategoryID == 0 || len(input.PortalCategoryIDs) == 0 {
		return nil, errors.New("master category and portal categories are required")
	}

	var result []db.CategoryMapping
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&db.MasterCategory{}, input.MasterCategoryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return configurationError(ErrMasterNotFound, input.MasterCategoryID)
			}
			return err
		}
		for _, pcID := range input.PortalCategoryIDs {
			var category db.PortalCategory
			if err := tx.First(&category, pcID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return configurationError(ErrCategoryNotFound, pcID)
				}
				return err
			}

			mapping := db.CategoryMapping{}
			if err := tx.Where(db.CategoryMapping{MasterCategoryID: input.MasterCategoryID, PortalCategoryID: pcID}).
				FirstOrCreate(&mapping).Error; err != nil {
				return err
			}
			if err := tx.Model(&mapping).Updates(map[string]interface{}{
				"use_default_content": input.UseDefaultContent,
				"is_default":          input.IsDefault,
			}).Error; err != nil {
				return err
			}
			mapping.UseDefaultContent = input.UseDefaultContent
			mapping.IsDefault = input.IsDefault
			if input.IsDefault {
				if err := clearSiblingDefaults(tx, mapping.ID, category.PortalID); err != nil {
					return err
				}
			}
			result = append(result, mapping)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert category mappings: %w", err)
	}
	return result, nil
}

// SetMappingDefault 切换映射的默认标记，并保持每个站点至多一个默认映射。
func (s *CatalogService) SetMappingDefault(ctx context.Context, mappingID uint, isDefault bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var mapping db.CategoryMapping
		if err := tx.Preload("PortalCategory").First(&mapping, mappingID).Error; err != nil {
			return fmt.Errorf("load mapping %d: %w", mappingID, err)
		}
		if err := tx.Model(&mapping).Update("is_default", isDefault).Error; err != nil {
			return err
		}
		if !isDefault {
			return nil
		}
		return clearSiblingDefaults(tx, mapping.ID, mapping.PortalCategory.PortalID)
	})
}

func clearSiblingDefaults(tx *gorm.DB, keepID, portalID uint) error {
	sub := tx.Model(&db.PortalCategory{}).Select("id").Where("portal_id = ?", portalID)
	return tx.Model(&db.CategoryMapping{}).
		Where("id <> ? AND is_default = ? AND portal_category_id IN (?)", keepID, true, sub).
		Update("is_default", false).Error
}

// MappingsForMaster 返回主分类的全部映射，按编号排序。
func (s *CatalogService) MappingsForMaster(ctx context.Context, masterID uint) ([]db.CategoryMapping, error) {
	var mappings []db.CategoryMapping
	err := s.db.WithContext(ctx).
		Preload("PortalCategory.Portal").
		Where("master_category_id = ?", masterID).
		Order("id ASC").
		Find(&mappings).Error
	if err != nil {
		return nil, fmt.Errorf("load mappings for master %d: %w", masterID, err)
	}
	return mappings, nil
}

// CreateCrossPortalMappings 为源分类添加扇出目标，自身与重复项被忽略，返回源分类的全部目标。
func (s *CatalogService) CreateCrossPortalMappings(ctx context.Context, sourceID uint, targetIDs []uint) ([]db.CrossPortalMapping, error) {
	if _, err := s.PortalCategory(ctx, sourceID); err != nil {
		return nil, err
	}
	targets, err := s.PortalCategoriesByIDs(ctx, targetIDs)
	if err != nil {
		return nil, err
	}

	rows := make([]db.CrossPortalMapping, 0, len(targets))
	for _, target := range targets {
		if target.ID == sourceID {
			continue
		}
		rows = append(rows, db.CrossPortalMapping{SourceCategoryID: sourceID, TargetCategoryID: target.ID})
	}
	if len(rows) > 0 {
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
			return nil, fmt.Errorf("create cross portal mappings: %w", err)
		}
	}
	return s.CrossPortalMappings(ctx, sourceID)
}

// CrossPortalMappings 返回源分类的扇出映射。
func (s *CatalogService) CrossPortalMappings(ctx context.Context, sourceID uint) ([]db.CrossPortalMapping, error) {
	var mappings []db.CrossPortalMapping
	err := s.db.WithContext(ctx).
		Preload("TargetCategory.Portal").
		Where("source_category_id = ?", sourceID).
		Order("id ASC").
		Find(&mappings).Error
	if err != nil {
		return nil, fmt.Errorf("load cross portal mappings: %w", err)
	}
	return mappings, nil
}

// DeleteCrossPortalMapping 删除一条扇出映射。
func (s *CatalogService) DeleteCrossPortalMapping(ctx context.Context, sourceID, targetID uint) error {
	return s.db.WithContext(ctx).Unscoped().
		Where("source_category_id = ? AND target_category_id = ?", sourceID, targetID).
		Delete(&db.CrossPortalMapping{}).Error
}

// PromptInput 用于保存提示词。
type PromptInput struct {
	PortalID   *uint
	Name       string
	PromptText string
	IsActive   bool
	IsGlobal   bool
}

// SavePrompt 保存提示词：全局提示词唯一且不关联站点，站点提示词必须关联站点。
// 同一站点再次保存时覆盖原有提示词。
func (s *CatalogService) SavePrompt(ctx context.Context, input PromptInput) (*db.PortalPrompt, error) {
	text := strings.TrimSpace(input.PromptText)
	if text == "" {
		return nil, errors.New("prompt text is required")
	}
	if input.IsGlobal && input.PortalID != nil {
		return nil, ErrGlobalPromptHasPortal
	}
	if !input.IsGlobal && input.PortalID == nil {
		return nil, ErrPromptPortalRequired
	}

	var saved db.PortalPrompt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&db.PortalPrompt{})
		if input.IsGlobal {
			query = query.Where("is_global = ?", true)
		} else {
			query = query.Where("portal_id = ?", *input.PortalID)
		}
		err := query.First(&saved).Error
		switch {
		case err == nil:
			if input.IsGlobal {
				return ErrGlobalPromptExists
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			saved = db.PortalPrompt{PortalID: input.PortalID, IsGlobal: input.IsGlobal}
		default:
			return err
		}
		saved.Name = strings.TrimSpace(input.Name)
		saved.PromptText = text
		saved.IsActive = input.IsActive
		return tx.Save(&saved).Error
	})
	if err != nil {
		return nil, fmt.Errorf("save prompt: %w", err)
	}
	return &saved, nil
}

// ActivePrompt 返回站点的有效提示词：站点提示词优先，其次全局提示词。
func (s *CatalogService) ActivePrompt(ctx context.Context, portalID uint) (string, bool, error) {
	var prompt db.PortalPrompt
	err := s.db.WithContext(ctx).
		Where("portal_id = ? AND is_active = ?", portalID, true).
		First(&prompt).Error
	if err == nil {
		return prompt.PromptText, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, fmt.Errorf("load portal prompt: %w", err)
	}

	err = s.db.WithContext(ctx).
		Where("is_global = ? AND is_active = ?", true, true).
		First(&prompt).Error
	if err == nil {
		return prompt.PromptText, true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	return "", false, fmt.Errorf("load global prompt: %w", err)
}
