package handler

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/newsrelay/internal/service"
)

const publishedMessage = "News published successfully."

// publishRequest 的字段保持原始 JSON，以便宽松解析字符串形式的编号列表。
type publishRequest struct {
	MasterCategoryID      json.RawMessage `json:"master_category_id"`
	CrossPortalCategoryID json.RawMessage `json:"cross_portal_category_id"`
	PortalCategoryIDs     json.RawMessage `json:"portal_category_ids"`
	ExcludedCategoryIDs   json.RawMessage `json:"exclude_portal_categories"`
}

func (r publishRequest) overrides() service.PublishOverrides {
	var o service.PublishOverrides
	if id, ok := service.ParseOptionalID(r.MasterCategoryID); ok {
		o.MasterCategoryID = id
	}
	if id, ok := service.ParseOptionalID(r.CrossPortalCategoryID); ok {
		o.CrossPortalCategoryID = id
	}
	o.PortalCategoryIDs = service.ParseIDList(r.PortalCategoryIDs)
	o.ExcludedCategoryIDs = service.ParseIDList(r.ExcludedCategoryIDs)
	return o
}

// bindPublishRequest 读取可选的请求体，空请求体表示沿用稿件上保存的目标。
func bindPublishRequest(c *gin.Context) (service.PublishOverrides, bool) {
	raw, err := c.GetRawData()
	if err != nil {
		respondError(c, http.StatusBadRequest, "failed to read request body")
		return service.PublishOverrides{}, false
	}
	var payload publishRequest
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			respondError(c, http.StatusBadRequest, "invalid publish request")
			return service.PublishOverrides{}, false
		}
	}
	return payload.overrides(), true
}

// PublishNews 同步发布稿件，逐个目标返回结果。部分目标失败仍返回 200。
func (a *API) PublishNews(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	overrides, ok := bindPublishRequest(c)
	if !ok {
		return
	}

	results, err := a.publisher.Publish(c.Request.Context(), service.PublishRequest{
		NewsPostID: id,
		UserID:     currentUserID(c),
		Overrides:  overrides,
	})
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": publishedMessage,
		"results": results,
		"summary": service.Summarize(results),
	})
}

// PublishNewsAsync 解析目标后放入后台任务，立即返回任务编号。
func (a *API) PublishNewsAsync(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	overrides, ok := bindPublishRequest(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	post, targets, err := a.publisher.ResolveTargets(ctx, id, overrides)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	jobID, err := a.jobs.Enqueue(ctx, post.ID, currentUserID(c), targets)
	if err != nil {
		a.logger.Error().Err(err).Uint("news_id", post.ID).Msg("enqueue publish job failed")
		respondError(c, http.StatusServiceUnavailable, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Publish started in background",
		"job_id":  jobID,
		"targets": len(targets),
	})
}

// PublishStatus 返回后台任务状态。
func (a *API) PublishStatus(c *gin.Context) {
	jobID := strings.TrimSpace(c.Query("task_id"))
	if jobID == "" {
		respondError(c, http.StatusBadRequest, "task_id required")
		return
	}
	status, err := a.jobs.Status(c.Request.Context(), jobID)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// ListPublishTasks 返回稿件的后台任务历史。
func (a *API) ListPublishTasks(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	tasks, err := a.jobs.ListForNews(c.Request.Context(), id)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	items := make([]gin.H, 0, len(tasks))
	for _, t := range tasks {
		var triggeredBy interface{}
		if t.TriggeredBy != nil {
			triggeredBy = t.TriggeredBy.Username
		}
		items = append(items, gin.H{
			"task_id":      t.TaskID,
			"status":       t.Status,
			"created_at":   t.CreatedAt,
			"updated_at":   t.UpdatedAt,
			"triggered_by": triggeredBy,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tasks": items})
}

// ListDistributions 返回稿件在各站点上的分发记录。
func (a *API) ListDistributions(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	records, err := a.deliveries.ListForNews(c.Request.Context(), id)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	items := make([]gin.H, 0, len(records))
	for i := range records {
		items = append(items, distributionPayload(&records[i]))
	}
	c.JSON(http.StatusOK, gin.H{"distributions": items})
}
