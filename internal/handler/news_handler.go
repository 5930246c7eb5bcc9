package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newsrelay/internal/db"
	"github.com/newsrelay/internal/service"
)

func newsPayload(post *db.NewsPost) gin.H {
	return gin.H{
		"id":                        post.ID,
		"title":                     post.Title,
		"short_description":         post.ShortDescription,
		"content":                   post.Content,
		"content_format":            post.ContentFormat,
		"image_path":                post.ImagePath,
		"post_tag":                  post.PostTag,
		"meta_title":                post.MetaTitle,
		"slug":                      post.Slug,
		"is_active":                 post.IsActive,
		"head_lines":                post.HeadLines,
		"articles":                  post.Articles,
		"trending":                  post.Trending,
		"breaking_news":             post.BreakingNews,
		"event":                     post.Event,
		"event_date":                post.EventDate,
		"event_end_date":            post.EventEndDate,
		"schedule_date":             post.ScheduleDate,
		"counter":                   post.Counter,
		"master_category_id":        post.MasterCategoryID,
		"portal_category_ids":       post.PortalCategoryIDs,
		"exclude_portal_categories": post.ExcludePortalCategories,
		"cross_portal_category_id":  post.CrossPortalCategoryID,
		"created_by_id":             post.CreatedByID,
		"created_at":                post.CreatedAt,
	}
}

// CreateNews 创建稿件。
func (a *API) CreateNews(c *gin.Context) {
	var payload service.NewsInput
	if !bindJSON(c, &payload, "title is required") {
		return
	}

	post, err := a.news.Create(c.Request.Context(), currentUserID(c), payload)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"news": newsPayload(post)})
}

// GetNews 返回稿件详情。
func (a *API) GetNews(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	post, err := a.news.Get(c.Request.Context(), id)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"news": newsPayload(post)})
}
