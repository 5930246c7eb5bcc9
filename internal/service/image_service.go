package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/newsrelay/internal/db"
	_ "golang.org/x/image/webp"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidImage 表示上传的文件不是可识别的图片。
var ErrInvalidImage = errors.New("uploaded file is not a supported image")

var allowedImageFormats = map[string]string{
	"jpeg": ".jpg",
	"png":  ".png",
	"gif":  ".gif",
	"webp": ".webp",
}

// ImageService 保存稿件在某个站点上的专属配图。
type ImageService struct {
	db      *gorm.DB
	dir     string
	urlPath string
	maxSize int64
	now     func() time.Time
}

// NewImageService 构造 ImageService。
func NewImageService(gdb *gorm.DB, dir, urlPath string, maxSize int64) *ImageService {
	if maxSize <= 0 {
		maxSize = 10 << 20
	}
	return &ImageService{db: gdb, dir: dir, urlPath: urlPath, maxSize: maxSize, now: time.Now}
}

// SavePortalImage 校验并保存图片，覆盖该稿件在此站点上原有的配图。
func (s *ImageService) SavePortalImage(ctx context.Context, newsID, portalID uint, src io.Reader) (*db.NewsPortalImage, error) {
	if err := s.db.WithContext(ctx).First(&db.NewsPost{}, newsID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, configurationError(ErrNewsNotFound, newsID)
		}
		return nil, err
	}
	if err := s.db.WithContext(ctx).First(&db.Portal{}, portalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, configurationError(ErrPortalNotFound, portalID)
		}
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(src, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidImage, s.maxSize)
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	ext, ok := allowedImageFormats[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidImage, format)
	}

	rel := path.Join("portal_specific", s.now().Format("2006/01/02"), uuid.NewString()+ext)
	full := filepath.Join(s.dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}

	record := db.NewsPortalImage{NewsPostID: newsID, PortalID: portalID, ImagePath: full}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "news_post_id"}, {Name: "portal_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"image_path", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		_ = os.Remove(full)
		return nil, fmt.Errorf("save portal image: %w", err)
	}
	return &record, nil
}

// PublicURL 返回图片对外访问地址。
func (s *ImageService) PublicURL(imagePath string) string {
	rel, err := filepath.Rel(s.dir, imagePath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	return strings.TrimRight(s.urlPath, "/") + "/" + filepath.ToSlash(rel)
}
