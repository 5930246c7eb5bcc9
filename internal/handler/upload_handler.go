package handler

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const portalImageFieldPrefix = "portal_image_"

// UploadPortalImages 保存稿件在各站点上的专属配图，表单字段名为 portal_image_<站点编号>。
func (a *API) UploadPortalImages(c *gin.Context) {
	newsID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, http.StatusBadRequest, "multipart form required")
		return
	}

	fields := make([]string, 0, len(form.File))
	for field := range form.File {
		if strings.HasPrefix(field, portalImageFieldPrefix) {
			fields = append(fields, field)
		}
	}
	if len(fields) == 0 {
		respondError(c, http.StatusBadRequest, "no portal images uploaded")
		return
	}
	sort.Strings(fields)

	saved := make([]gin.H, 0, len(fields))
	for _, field := range fields {
		portalID, err := strconv.ParseUint(strings.TrimPrefix(field, portalImageFieldPrefix), 10, 32)
		if err != nil || portalID == 0 {
			respondError(c, http.StatusBadRequest, "invalid field "+field)
			return
		}
		files := form.File[field]
		if len(files) == 0 {
			continue
		}

		src, err := files[0].Open()
		if err != nil {
			respondError(c, http.StatusBadRequest, "failed to read "+field)
			return
		}
		record, err := a.images.SavePortalImage(c.Request.Context(), newsID, uint(portalID), src)
		src.Close()
		if err != nil {
			a.respondServiceError(c, err)
			return
		}

		saved = append(saved, gin.H{
			"portal_id":  record.PortalID,
			"image_path": record.ImagePath,
			"url":        a.images.PublicURL(record.ImagePath),
		})
	}

	c.JSON(http.StatusOK, gin.H{"message": "Portal images saved", "images": saved})
}
