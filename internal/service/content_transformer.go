package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/newsrelay/internal/db"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gorm.io/gorm"
)

// FallbackRewritePrompt 在站点与全局都没有启用提示词时使用。
const FallbackRewritePrompt = "Rewrite for clarity"

// TransformedContent 是发往某个站点的最终内容。
type TransformedContent struct {
	Title            string
	ShortDescription string
	Body             string
	MetaTitle        string
	Slug             string
	ImagePath        string
	Rewritten        bool
}

// ContentTransformer 按目标的 ContentMode 生成原文或改写稿，并挑选配图。
type ContentTransformer struct {
	db       *gorm.DB
	catalog  *CatalogService
	rewriter PortalRewriter
	markdown goldmark.Markdown
}

// NewContentTransformer 构造 ContentTransformer。
func NewContentTransformer(gdb *gorm.DB, catalog *CatalogService, rewriter PortalRewriter) *ContentTransformer {
	return &ContentTransformer{
		db:       gdb,
		catalog:  catalog,
		rewriter: rewriter,
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Transform 生成目标站点的内容。改写失败返回 ErrRewriteFailed。
func (t *ContentTransformer) Transform(ctx context.Context, post *db.NewsPost, target Target) (TransformedContent, error) {
	body, err := t.renderBody(post)
	if err != nil {
		return TransformedContent{}, err
	}
	image, err := t.imageFor(ctx, post.ID, target.Category.PortalID, post.ImagePath)
	if err != nil {
		return TransformedContent{}, err
	}

	metaTitle := strings.TrimSpace(post.MetaTitle)
	if metaTitle == "" {
		metaTitle = post.Title
	}

	if target.Mode == ModeVerbatim {
		return TransformedContent{
			Title:            post.Title,
			ShortDescription: post.ShortDescription,
			Body:             body,
			MetaTitle:        metaTitle,
			Slug:             post.Slug,
			ImagePath:        image,
		}, nil
	}

	if t.rewriter == nil {
		return TransformedContent{}, fmt.Errorf("%w: no rewriter configured", ErrRewriteFailed)
	}

	prompt, found, err := t.catalog.ActivePrompt(ctx, target.Category.PortalID)
	if err != nil {
		return TransformedContent{}, err
	}
	if !found {
		prompt = FallbackRewritePrompt
	}

	rewritten, err := t.rewriter.RewriteForPortal(ctx, PortalRewriteInput{
		PortalName:       target.Category.Portal.Name,
		Prompt:           prompt,
		Title:            post.Title,
		ShortDescription: post.ShortDescription,
		Description:      body,
		MetaTitle:        metaTitle,
		Slug:             post.Slug,
	})
	if err != nil {
		if !errors.Is(err, ErrRewriteFailed) {
			err = fmt.Errorf("%w: %v", ErrRewriteFailed, err)
		}
		return TransformedContent{}, err
	}

	return TransformedContent{
		Title:            rewritten.Title,
		ShortDescription: rewritten.ShortDescription,
		Body:             rewritten.Description,
		MetaTitle:        rewritten.MetaTitle,
		Slug:             rewritten.Slug,
		ImagePath:        image,
		Rewritten:        true,
	}, nil
}

func (t *ContentTransformer) renderBody(post *db.NewsPost) (string, error) {
	if post.ContentFormat != db.ContentFormatMarkdown {
		return post.Content, nil
	}
	var buf bytes.Buffer
	if err := t.markdown.Convert([]byte(post.Content), &buf); err != nil {
		return "", fmt.Errorf("render markdown body: %w", err)
	}
	return buf.String(), nil
}

// imageFor 优先使用稿件为该站点单独上传的配图，其次为稿件配图。
func (t *ContentTransformer) imageFor(ctx context.Context, newsID, portalID uint, fallback string) (string, error) {
	var custom db.NewsPortalImage
	err := t.db.WithContext(ctx).
		Where("news_post_id = ? AND portal_id = ?", newsID, portalID).
		First(&custom).Error
	if err == nil && strings.TrimSpace(custom.ImagePath) != "" {
		return custom.ImagePath, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("load portal image: %w", err)
	}
	return strings.TrimSpace(fallback), nil
}
