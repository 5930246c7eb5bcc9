package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/newsrelay/internal/db"
	"github.com/newsrelay/internal/service"
)

func distributionPayload(d *db.NewsDistribution) gin.H {
	payload := gin.H{
		"id":                   d.ID,
		"news_post_id":         d.NewsPostID,
		"portal_id":            d.PortalID,
		"portal":               d.Portal.Name,
		"portal_category_id":   d.PortalCategoryID,
		"master_category_id":   d.MasterCategoryID,
		"portal_news_id":       d.PortalNewsID,
		"status":               d.Status,
		"response_message":     d.ResponseMessage,
		"retry_count":          d.RetryCount,
		"edit_count":           d.EditCount,
		"time_taken":           d.TimeTaken,
		"ai_title":             d.AITitle,
		"ai_short_description": d.AIShortDescription,
		"ai_meta_title":        d.AIMetaTitle,
		"ai_slug":              d.AISlug,
		"started_at":           d.StartedAt,
		"completed_at":         d.CompletedAt,
	}
	if d.PortalCategory != nil {
		payload["portal_category"] = d.PortalCategory.Name
	}
	return payload
}

// EditDistribution 修改已发布稿件并同步到站点。
func (a *API) EditDistribution(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var payload service.DistributionEditInput
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if !a.bindMultipartEdit(c, id, &payload) {
			return
		}
	} else if !bindJSON(c, &payload, "invalid distribution edit") {
		return
	}

	result, err := a.distributions.Edit(c.Request.Context(), id, payload)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DeleteDistribution 删除站点上的稿件与本地分发记录。
func (a *API) DeleteDistribution(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	remote, err := a.distributions.Delete(c.Request.Context(), id)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Distribution deleted", "remote_deleted": remote})
}

// FetchDistribution 读取站点上的稿件详情。
func (a *API) FetchDistribution(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	data, err := a.distributions.Fetch(c.Request.Context(), id)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// bindMultipartEdit 解析 multipart 编辑请求：data 字段为 JSON，image 为可选的新配图。
func (a *API) bindMultipartEdit(c *gin.Context, id uint, payload *service.DistributionEditInput) bool {
	if data := strings.TrimSpace(c.PostForm("data")); data != "" {
		if err := json.Unmarshal([]byte(data), payload); err != nil {
			respondError(c, http.StatusBadRequest, "invalid distribution edit")
			return false
		}
	}

	file, err := c.FormFile("image")
	if err != nil {
		return true
	}
	record, err := a.deliveries.Get(c.Request.Context(), id)
	if err != nil {
		a.respondServiceError(c, err)
		return false
	}
	src, err := file.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "failed to read image")
		return false
	}
	defer src.Close()

	saved, err := a.images.SavePortalImage(c.Request.Context(), record.NewsPostID, record.PortalID, src)
	if err != nil {
		a.respondServiceError(c, err)
		return false
	}
	payload.EditedImagePath = saved.ImagePath
	return true
}
