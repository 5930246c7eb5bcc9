package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/newsrelay/internal/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NewsService 负责稿件的创建与读取。
type NewsService struct {
	db *gorm.DB
}

// NewNewsService 构造 NewsService。
func NewNewsService(gdb *gorm.DB) *NewsService {
	return &NewsService{db: gdb}
}

// NewsInput 为创建稿件时可填写的字段。
type NewsInput struct {
	Title            string     `json:"title" yaml:"title" binding:"required"`
	ShortDescription string     `json:"short_description" yaml:"short_description"`
	Content          string     `json:"content" yaml:"content"`
	ContentFormat    string     `json:"content_format" yaml:"content_format"`
	ImagePath        string     `json:"image_path" yaml:"image_path"`
	PostTag          string     `json:"post_tag" yaml:"post_tag"`
	MetaTitle        string     `json:"meta_title" yaml:"meta_title"`
	IsActive         *bool      `json:"is_active" yaml:"is_active"`
	HeadLines        bool       `json:"head_lines" yaml:"head_lines"`
	Articles         bool       `json:"articles" yaml:"articles"`
	Trending         bool       `json:"trending" yaml:"trending"`
	BreakingNews     bool       `json:"breaking_news" yaml:"breaking_news"`
	Event            bool       `json:"event" yaml:"event"`
	EventDate        *time.Time `json:"event_date" yaml:"event_date"`
	EventEndDate     *time.Time `json:"event_end_date" yaml:"event_end_date"`
	ScheduleDate     *time.Time `json:"schedule_date" yaml:"schedule_date"`
	Counter          *uint      `json:"counter" yaml:"counter"`

	MasterCategoryID        *uint  `json:"master_category_id" yaml:"master_category_id"`
	PortalCategoryIDs       []uint `json:"portal_category_ids" yaml:"portal_category_ids"`
	ExcludePortalCategories []uint `json:"exclude_portal_categories" yaml:"exclude_portal_categories"`
	CrossPortalCategoryID   *uint  `json:"cross_portal_category_id" yaml:"cross_portal_category_id"`
}

// Create 保存稿件并生成唯一 slug。
func (s *NewsService) Create(ctx context.Context, authorID uint, input NewsInput) (*db.NewsPost, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errors.New("title is required")
	}

	format := strings.ToLower(strings.TrimSpace(input.ContentFormat))
	if format != db.ContentFormatMarkdown {
		format = db.ContentFormatHTML
	}
	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}

	post := db.NewsPost{
		CreatedByID:             authorID,
		Title:                   title,
		ShortDescription:        strings.TrimSpace(input.ShortDescription),
		Content:                 input.Content,
		ContentFormat:           format,
		ImagePath:               strings.TrimSpace(input.ImagePath),
		PostTag:                 strings.TrimSpace(input.PostTag),
		MetaTitle:               strings.TrimSpace(input.MetaTitle),
		IsActive:                active,
		HeadLines:               input.HeadLines,
		Articles:                input.Articles,
		Trending:                input.Trending,
		BreakingNews:            input.BreakingNews,
		Event:                   input.Event,
		EventDate:               input.EventDate,
		EventEndDate:            input.EventEndDate,
		ScheduleDate:            input.ScheduleDate,
		Counter:                 input.Counter,
		MasterCategoryID:        input.MasterCategoryID,
		PortalCategoryIDs:       datatypes.JSONSlice[uint](input.PortalCategoryIDs),
		ExcludePortalCategories: datatypes.JSONSlice[uint](input.ExcludePortalCategories),
		CrossPortalCategoryID:   input.CrossPortalCategoryID,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slug, err := uniqueSlug(tx, title)
		if err != nil {
			return err
		}
		post.Slug = slug
		return tx.Create(&post).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create news post: %w", err)
	}
	return &post, nil
}

// Get 读取稿件。
func (s *NewsService) Get(ctx context.Context, id uint) (*db.NewsPost, error) {
	var post db.NewsPost
	if err := s.db.WithContext(ctx).First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, configurationError(ErrNewsNotFound, id)
		}
		return nil, fmt.Errorf("load news post %d: %w", id, err)
	}
	return &post, nil
}

// uniqueSlug 由标题生成 slug，冲突时依次追加 -1、-2…
func uniqueSlug(tx *gorm.DB, title string) (string, error) {
	base := Slugify(title)
	if base == "" {
		base = "news"
	}

	candidate := base
	for i := 1; ; i++ {
		var count int64
		if err := tx.Unscoped().Model(&db.NewsPost{}).Where("slug = ?", candidate).Count(&count).Error; err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}
