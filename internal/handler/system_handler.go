package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/newsrelay/internal/service"
)

const maskPrefix = "****"

// HealthCheck 提供负载均衡与监控系统使用的健康检查端点。
func (a *API) HealthCheck(c *gin.Context) {
	sqlDB, err := a.db.DB()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "database handle unavailable",
		})
		return
	}

	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "error",
			"message": "database unreachable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"database": "up",
	})
}

// GetAISettings 返回当前改写服务设置，API Key 仅返回掩码。
func (a *API) GetAISettings(c *gin.Context) {
	settings, err := a.system.GetSettings()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load settings")
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": aiSettingsPayload(settings)})
}

// UpdateAISettings 保存改写服务设置。
func (a *API) UpdateAISettings(c *gin.Context) {
	var payload service.SystemSettingsInput
	if !bindJSON(c, &payload, "invalid settings") {
		return
	}

	// 回传的掩码表示保留原值
	current, err := a.system.GetSettings()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load settings")
		return
	}
	if isMasked(payload.OpenAIAPIKey) {
		payload.OpenAIAPIKey = current.OpenAIAPIKey
	}
	if isMasked(payload.DeepSeekAPIKey) {
		payload.DeepSeekAPIKey = current.DeepSeekAPIKey
	}

	settings, err := a.system.UpdateSettings(payload)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to save settings")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "Settings saved",
		"settings": aiSettingsPayload(settings),
	})
}

func aiSettingsPayload(settings service.SystemSettings) gin.H {
	return gin.H{
		"ai_provider":      settings.AIProvider,
		"ai_model":         settings.AIModel,
		"openai_api_key":   maskSecret(settings.OpenAIAPIKey),
		"deepseek_api_key": maskSecret(settings.DeepSeekAPIKey),
	}
}

func isMasked(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), maskPrefix)
}

func maskSecret(secret string) string {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return ""
	}
	runes := []rune(secret)
	if len(runes) <= 4 {
		return maskPrefix
	}
	return maskPrefix + string(runes[len(runes)-4:])
}
