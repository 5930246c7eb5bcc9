package handler

import (
	"net/http"
	"testing"

	"github.com/newsrelay/internal/db"
	"github.com/newsrelay/internal/portal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T) {
	env := setupHandlerTest(t)

	rr := env.doJSON(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)
}

func TestAISettingsMaskKeys(t *testing.T) {
	env := setupHandlerTest(t)
	env.login(t)

	rr := env.doJSON(t, http.MethodPut, "/api/settings/ai", map[string]string{
		"ai_provider":    "deepseek",
		"openai_api_key": "sk-openai-123456",
		"ai_model":       "deepseek-chat",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Settings map[string]string `json:"settings"`
	}
	decodeBody(t, rr, &resp)
	assert.Equal(t, "deepseek", resp.Settings["ai_provider"])
	assert.Equal(t, "****3456", resp.Settings["openai_api_key"])
	assert.Equal(t, "", resp.Settings["deepseek_api_key"])

	// 回传掩码时保留原有的 key
	rr = env.doJSON(t, http.MethodPut, "/api/settings/ai", map[string]string{
		"ai_provider":    "openai",
		"openai_api_key": "****3456",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var stored db.SystemSetting
	require.NoError(t, env.db.Where("key = ?", db.SettingKeyOpenAIAPIKey).First(&stored).Error)
	assert.Equal(t, "sk-openai-123456", stored.Value)

	rr = env.doJSON(t, http.MethodGet, "/api/settings/ai", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &resp)
	assert.Equal(t, "openai", resp.Settings["ai_provider"])
}

func TestMaskSecret(t *testing.T) {
	tests := map[string]string{
		"":          "",
		"abc":       "****",
		"abcdefgh":  "****efgh",
		" spaced  ": "****aced",
	}
	for in, want := range tests {
		assert.Equal(t, want, maskSecret(in), in)
	}
}

func TestSyncPortalCredentials(t *testing.T) {
	env := setupHandlerTest(t)
	env.login(t)
	env.gateway.lookups["beta"] = portal.UserLookup{Found: true, PortalUserID: "88"}

	rr := env.doJSON(t, http.MethodPost, "/api/portal-credentials/sync", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Matched int `json:"matched"`
		Total   int `json:"total"`
	}
	decodeBody(t, rr, &resp)
	assert.Equal(t, 1, resp.Matched)
	assert.Equal(t, 2, resp.Total)

	var mapping db.PortalUserMapping
	require.NoError(t, env.db.Where("user_id = ? AND portal_id = ?", env.user.ID, env.beta.ID).First(&mapping).Error)
	assert.Equal(t, "88", mapping.PortalUserID)
	assert.Equal(t, "editor", mapping.PortalUsername)

	var alphaMapping db.PortalUserMapping
	require.NoError(t, env.db.Where("user_id = ? AND portal_id = ?", env.user.ID, env.alpha.ID).First(&alphaMapping).Error)
	assert.Equal(t, db.PortalUserPending, alphaMapping.Status)
}
