package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/newsrelay/internal/db"
)

type credentialSyncRequest struct {
	Username string `json:"username"`
}

// SyncPortalCredentials 在各站点上按用户名查找当前用户的账号并保存映射。
// 未提供用户名时使用登录用户名。
func (a *API) SyncPortalCredentials(c *gin.Context) {
	var payload credentialSyncRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &payload, "invalid sync request") {
		return
	}

	userID := currentUserID(c)
	var user db.User
	if err := a.db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
		respondError(c, http.StatusUnauthorized, "authentication required")
		return
	}

	username := strings.TrimSpace(payload.Username)
	if username == "" {
		username = user.Username
	}

	results, err := a.credentials.Sync(c.Request.Context(), user.ID, username)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	matched := 0
	for _, r := range results {
		if r.Status == db.PortalUserMatched {
			matched++
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "matched": matched, "total": len(results)})
}
