package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/newsrelay/internal/service"
)

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, message)
		return false
	}
	return true
}

func parseUintParam(c *gin.Context, key string) (uint, error) {
	raw := c.Param(key)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return uint(id), nil
}

// uintParam 解析路径参数，失败时直接写出 400。
func uintParam(c *gin.Context, key string) (uint, bool) {
	id, err := parseUintParam(c, key)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return id, true
}

// respondServiceError 将服务层错误映射为 HTTP 状态码。
func (a *API) respondServiceError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case service.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrNoTargets),
		errors.Is(err, service.ErrMissingRemoteID),
		errors.Is(err, service.ErrInvalidImage):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrGateway):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		a.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	respondError(c, status, err.Error())
}
