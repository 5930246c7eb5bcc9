package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/newsrelay/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	maxResponseMessageRunes = 4000
	queuedMessage           = "Queued"
)

// deliveryEvent 驱动分发记录的状态迁移。
type deliveryEvent string

const (
	eventSucceed deliveryEvent = "succeed"
	eventFail    deliveryEvent = "fail"
	eventRetry   deliveryEvent = "retry"
)

var deliveryTransitions = map[db.DistributionStatus]map[deliveryEvent]db.DistributionStatus{
	db.DistributionPending: {
		eventSucceed: db.DistributionSuccess,
		eventFail:    db.DistributionFailed,
	},
	db.DistributionFailed: {
		eventRetry: db.DistributionPending,
	},
}

func nextStatus(from db.DistributionStatus, event deliveryEvent) (db.DistributionStatus, error) {
	if to, ok := deliveryTransitions[from][event]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, from)
}

// DeliveryOutcome 为一次发送尝试的结果。
type DeliveryOutcome struct {
	Success  bool
	Message  string
	RemoteID string
	Content  *TransformedContent
	Elapsed  time.Duration
}

// DeliveryService 管理 (稿件, 站点) 唯一的分发记录。
type DeliveryService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDeliveryService 构造 DeliveryService。
func NewDeliveryService(gdb *gorm.DB) *DeliveryService {
	return &DeliveryService{db: gdb, now: time.Now}
}

// AcquireOrCreate 读取或创建分发记录；已存在且分类变化时就地更新分类。
// created 表示本次新建。
func (s *DeliveryService) AcquireOrCreate(ctx context.Context, post *db.NewsPost, target Target) (*db.NewsDistribution, bool, error) {
	now := s.now()
	categoryID := target.Category.ID
	record := db.NewsDistribution{
		NewsPostID:       post.ID,
		PortalID:         target.Category.PortalID,
		PortalCategoryID: &categoryID,
		MasterCategoryID: post.MasterCategoryID,
		Status:           db.DistributionPending,
		ResponseMessage:  queuedMessage,
		StartedAt:        &now,
	}

	tx := s.db.WithContext(ctx)
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if res.Error != nil {
		return nil, false, fmt.Errorf("create distribution: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return &record, true, nil
	}

	var existing db.NewsDistribution
	if err := tx.Where("news_post_id = ? AND portal_id = ?", post.ID, target.Category.PortalID).First(&existing).Error; err != nil {
		return nil, false, fmt.Errorf("load distribution: %w", err)
	}
	if existing.PortalCategoryID == nil || *existing.PortalCategoryID != categoryID {
		if err := tx.Model(&existing).Update("portal_category_id", categoryID).Error; err != nil {
			return nil, false, fmt.Errorf("update distribution category: %w", err)
		}
		existing.PortalCategoryID = &categoryID
	}
	return &existing, false, nil
}

// Rearm 将失败记录重新置为 PENDING 并累加重试次数。
func (s *DeliveryService) Rearm(ctx context.Context, record *db.NewsDistribution) error {
	to, err := nextStatus(record.Status, eventRetry)
	if err != nil {
		return err
	}
	now := s.now()
	updates := map[string]interface{}{
		"status":      to,
		"retry_count": gorm.Expr("retry_count + 1"),
		"started_at":  now,
	}
	res := s.db.WithContext(ctx).Model(&db.NewsDistribution{}).
		Where("id = ? AND status = ?", record.ID, record.Status).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("rearm distribution %d: %w", record.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: distribution %d changed concurrently", ErrInvalidTransition, record.ID)
	}
	record.Status = to
	record.RetryCount++
	record.StartedAt = &now
	return nil
}

// Complete 写入发送结果：状态、响应、耗时与完成时间；成功时同时写入站点编号与实际发送的内容。
func (s *DeliveryService) Complete(ctx context.Context, record *db.NewsDistribution, outcome DeliveryOutcome) error {
	event := eventFail
	if outcome.Success {
		event = eventSucceed
	}
	to, err := nextStatus(record.Status, event)
	if err != nil {
		return err
	}

	now := s.now()
	updates := map[string]interface{}{
		"status":           to,
		"response_message": truncateRunes(outcome.Message, maxResponseMessageRunes),
		"time_taken":       roundSeconds(outcome.Elapsed),
		"completed_at":     now,
	}
	if outcome.Success {
		updates["portal_news_id"] = outcome.RemoteID
		if c := outcome.Content; c != nil {
			updates["ai_title"] = c.Title
			updates["ai_short_description"] = c.ShortDescription
			updates["ai_content"] = c.Body
			updates["ai_meta_title"] = c.MetaTitle
			updates["ai_slug"] = c.Slug
		}
	}

	if err := s.db.WithContext(ctx).Model(record).Updates(updates).Error; err != nil {
		return fmt.Errorf("complete distribution %d: %w", record.ID, err)
	}
	record.Status = to
	record.ResponseMessage = updates["response_message"].(string)
	record.CompletedAt = &now
	if outcome.Success {
		record.PortalNewsID = outcome.RemoteID
	}
	return nil
}

// Get 读取分发记录及站点。
func (s *DeliveryService) Get(ctx context.Context, id uint) (*db.NewsDistribution, error) {
	var record db.NewsDistribution
	if err := s.db.WithContext(ctx).Preload("Portal").Preload("PortalCategory").First(&record, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDistributionNotFound
		}
		return nil, fmt.Errorf("load distribution %d: %w", id, err)
	}
	return &record, nil
}

// ListForNews 返回稿件的全部分发记录。
func (s *DeliveryService) ListForNews(ctx context.Context, newsID uint) ([]db.NewsDistribution, error) {
	var records []db.NewsDistribution
	err := s.db.WithContext(ctx).
		Preload("Portal").
		Preload("PortalCategory").
		Where("news_post_id = ?", newsID).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list distributions: %w", err)
	}
	return records, nil
}

func roundSeconds(d time.Duration) float64 {
	return float64(d.Round(10*time.Millisecond).Milliseconds()) / 1000
}
