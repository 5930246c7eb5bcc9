package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/newsrelay/internal/db"
	"github.com/newsrelay/internal/logging"
	"github.com/newsrelay/internal/portal"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const editResponsePrefix = "EDIT: "

// DistributionEditInput 为编辑已发布稿件时可修改的字段，nil 表示沿用原值。
type DistributionEditInput struct {
	Title            *string    `json:"ai_title"`
	ShortDescription *string    `json:"ai_short_description"`
	Content          *string    `json:"ai_content"`
	MetaTitle        *string    `json:"ai_meta_title"`
	Slug             *string    `json:"ai_slug"`
	PostTag          *string    `json:"post_tag"`
	IsActive         *bool      `json:"is_active"`
	HeadLines        *bool      `json:"head_lines"`
	Articles         *bool      `json:"articles"`
	Trending         *bool      `json:"trending"`
	BreakingNews     *bool      `json:"breaking_news"`
	Event            *bool      `json:"event"`
	EventDate        *time.Time `json:"event_date"`
	EventEndDate     *time.Time `json:"event_end_date"`
	ScheduleDate     *time.Time `json:"schedule_date"`
	Counter          *uint      `json:"counter"`
	EditedImagePath  string     `json:"-"`
}

// DistributionEditResult 为编辑结果。
type DistributionEditResult struct {
	Portal       string `json:"portal"`
	PortalNewsID string `json:"portal_news_id"`
	Success      bool   `json:"success"`
	Response     string `json:"response"`
	EditCount    uint   `json:"edit_count"`
}

// DistributionService 对已发布到站点的稿件做编辑、删除与查询。
type DistributionService struct {
	db         *gorm.DB
	deliveries *DeliveryService
	gateway    PortalGateway
	logger     zerolog.Logger
}

// NewDistributionService 构造 DistributionService。
func NewDistributionService(gdb *gorm.DB, deliveries *DeliveryService, gateway PortalGateway) *DistributionService {
	return &DistributionService{
		db:         gdb,
		deliveries: deliveries,
		gateway:    gateway,
		logger:     logging.Component("distribution"),
	}
}

// Edit 保存本地修改并调用站点更新接口。站点调用失败不会改变分发状态。
func (s *DistributionService) Edit(ctx context.Context, id uint, input DistributionEditInput) (DistributionEditResult, error) {
	record, err := s.deliveries.Get(ctx, id)
	if err != nil {
		return DistributionEditResult{}, err
	}
	if strings.TrimSpace(record.PortalNewsID) == "" {
		return DistributionEditResult{}, ErrMissingRemoteID
	}

	var post db.NewsPost
	if err := s.db.WithContext(ctx).First(&post, record.NewsPostID).Error; err != nil {
		return DistributionEditResult{}, fmt.Errorf("load news post %d: %w", record.NewsPostID, err)
	}

	applyString(&record.AITitle, input.Title)
	applyString(&record.AIShortDescription, input.ShortDescription)
	applyString(&record.AIContent, input.Content)
	applyString(&record.AIMetaTitle, input.MetaTitle)
	applyString(&record.AISlug, input.Slug)
	if path := strings.TrimSpace(input.EditedImagePath); path != "" {
		record.EditedImagePath = path
	}

	article := portal.Article{
		Title:            firstNonEmpty(record.AITitle, post.Title),
		ShortDescription: firstNonEmpty(record.AIShortDescription, post.ShortDescription),
		Body:             firstNonEmpty(record.AIContent, post.Content),
		MetaTitle:        firstNonEmpty(record.AIMetaTitle, post.MetaTitle, post.Title),
		Slug:             firstNonEmpty(record.AISlug, post.Slug),
		Tags:             firstNonEmpty(derefString(input.PostTag), post.PostTag, "#latest"),
		IsActive:         boolOr(input.IsActive, post.IsActive),
		HeadLines:        boolOr(input.HeadLines, post.HeadLines),
		Articles:         boolOr(input.Articles, post.Articles),
		Trending:         boolOr(input.Trending, post.Trending),
		BreakingNews:     boolOr(input.BreakingNews, post.BreakingNews),
		Event:            boolOr(input.Event, post.Event),
		EventDate:        timeOr(input.EventDate, post.EventDate),
		EventEndDate:     timeOr(input.EventEndDate, post.EventEndDate),
		ScheduleDate:     timeOr(input.ScheduleDate, post.ScheduleDate),
		Counter:          post.Counter,
		ImagePath:        record.EditedImagePath,
	}
	if input.Counter != nil {
		article.Counter = input.Counter
	}

	res := s.gateway.Update(ctx, endpointFor(record.Portal), record.PortalNewsID, article)

	now := time.Now()
	updates := map[string]interface{}{
		"ai_title":             record.AITitle,
		"ai_short_description": record.AIShortDescription,
		"ai_content":           record.AIContent,
		"ai_meta_title":        record.AIMetaTitle,
		"ai_slug":              record.AISlug,
		"edited_image_path":    record.EditedImagePath,
		"edit_count":           gorm.Expr("edit_count + 1"),
		"response_message":     editResponsePrefix + truncateRunes(res.Message, 500),
		"completed_at":         now,
	}
	if err := s.db.WithContext(ctx).Model(record).Updates(updates).Error; err != nil {
		return DistributionEditResult{}, fmt.Errorf("save distribution edit: %w", err)
	}

	s.logger.Info().Uint("distribution_id", record.ID).Str("portal", record.Portal.Name).Bool("success", res.Success).
		Msg("distribution edited")
	return DistributionEditResult{
		Portal:       record.Portal.Name,
		PortalNewsID: record.PortalNewsID,
		Success:      res.Success,
		Response:     res.Message,
		EditCount:    record.EditCount + 1,
	}, nil
}

// Delete 删除站点上的稿件与本地记录；没有站点编号时只删除本地记录。
// 站点删除失败时保留本地记录并返回 ErrGateway。
func (s *DistributionService) Delete(ctx context.Context, id uint) (bool, error) {
	record, err := s.deliveries.Get(ctx, id)
	if err != nil {
		return false, err
	}

	remote := strings.TrimSpace(record.PortalNewsID) != ""
	if remote {
		res := s.gateway.Delete(ctx, endpointFor(record.Portal), record.PortalNewsID)
		if !res.Success {
			return false, fmt.Errorf("%w: %v", ErrGateway, res.Err())
		}
	}

	if err := s.db.WithContext(ctx).Unscoped().Delete(&db.NewsDistribution{}, record.ID).Error; err != nil {
		return remote, fmt.Errorf("delete distribution %d: %w", record.ID, err)
	}
	s.logger.Info().Uint("distribution_id", record.ID).Bool("remote", remote).Msg("distribution deleted")
	return remote, nil
}

// Fetch 读取站点上的稿件详情。
func (s *DistributionService) Fetch(ctx context.Context, id uint) (map[string]interface{}, error) {
	record, err := s.deliveries.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(record.PortalNewsID) == "" {
		return nil, ErrMissingRemoteID
	}
	res := s.gateway.Fetch(ctx, endpointFor(record.Portal), record.PortalNewsID)
	if !res.Success {
		return nil, fmt.Errorf("%w: %v", ErrGateway, res.Err())
	}
	return res.Data, nil
}

func applyString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func timeOr(v *time.Time, fallback *time.Time) *time.Time {
	if v == nil {
		return fallback
	}
	return v
}

// IsNotFound 表示错误对应的资源不存在。
func IsNotFound(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrDistributionNotFound) || errors.Is(err, ErrJobNotFound)
}
