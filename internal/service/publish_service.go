package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/newsrelay/internal/db"
	"github.com/newsrelay/internal/lock"
	"github.com/newsrelay/internal/logging"
	"github.com/newsrelay/internal/metrics"
	"github.com/newsrelay/internal/portal"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// TargetOutcome 为单个目标的处理结果。
type TargetOutcome string

const (
	OutcomeSkippedAlreadySuccess TargetOutcome = "skipped_already_success"
	OutcomeTransformFailed       TargetOutcome = "transform_failed"
	OutcomeCredentialMissing     TargetOutcome = "credential_missing"
	OutcomeSentSuccess           TargetOutcome = "sent_success"
	OutcomeSentFailed            TargetOutcome = "sent_failed"
	OutcomeRecordFailed          TargetOutcome = "record_failed"
)

// AlreadyPublishedMessage 为已成功记录的跳过提示。
const AlreadyPublishedMessage = "Already published."

const recordWriteTimeout = 10 * time.Second

// detachedContext 不随调用方取消，带独立超时，用于写入最终状态。
func detachedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), recordWriteTimeout)
}

// TargetResult 为单个目标的结果条目。
type TargetResult struct {
	Portal            string        `json:"portal"`
	PortalID          uint          `json:"portal_id"`
	Category          string        `json:"category"`
	CategoryID        uint          `json:"category_id"`
	Success           bool          `json:"success"`
	Response          string        `json:"response"`
	Outcome           TargetOutcome `json:"outcome"`
	UseDefaultContent bool          `json:"use_default_content"`
	DistributionID    uint          `json:"distribution_id,omitempty"`
}

// PublishSummary 统计一批结果。
type PublishSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Summarize 统计结果条目，跳过的条目计入 Skipped 而非 Succeeded。
func Summarize(results []TargetResult) PublishSummary {
	summary := PublishSummary{Total: len(results)}
	for _, r := range results {
		switch {
		case r.Outcome == OutcomeSkippedAlreadySuccess:
			summary.Skipped++
		case r.Success:
			summary.Succeeded++
		default:
			summary.Failed++
		}
	}
	return summary
}

// PublishRequest 为一次同步发布请求。
type PublishRequest struct {
	NewsPostID uint
	UserID     uint
	Overrides  PublishOverrides
}

// PublishService 依次将稿件发布到每个目标，单个目标失败不影响其它目标。
type PublishService struct {
	db          *gorm.DB
	resolver    *TargetResolver
	transformer *ContentTransformer
	deliveries  *DeliveryService
	credentials *CredentialService
	gateway     PortalGateway
	locker      lock.Locker
	logger      zerolog.Logger
}

// PublishDeps 汇总 PublishService 的依赖。
type PublishDeps struct {
	DB          *gorm.DB
	Resolver    *TargetResolver
	Transformer *ContentTransformer
	Deliveries  *DeliveryService
	Credentials *CredentialService
	Gateway     PortalGateway
	Locker      lock.Locker
}

// NewPublishService 构造 PublishService，未提供 Locker 时使用进程内锁。
func NewPublishService(deps PublishDeps) *PublishService {
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &PublishService{
		db:          deps.DB,
		resolver:    deps.Resolver,
		transformer: deps.Transformer,
		deliveries:  deps.Deliveries,
		credentials: deps.Credentials,
		gateway:     deps.Gateway,
		locker:      locker,
		logger:      logging.Component("publish"),
	}
}

// ResolveTargets 读取稿件并解析目标，供同步与异步入口共用。
func (s *PublishService) ResolveTargets(ctx context.Context, newsID uint, overrides PublishOverrides) (*db.NewsPost, []Target, error) {
	post, err := s.loadPost(ctx, newsID)
	if err != nil {
		return nil, nil, err
	}
	targets, err := s.resolver.Resolve(ctx, post, overrides)
	if err != nil {
		return nil, nil, err
	}
	return post, targets, nil
}

// Publish 同步发布：解析目标后逐个处理并返回每个目标的结果。
func (s *PublishService) Publish(ctx context.Context, req PublishRequest) ([]TargetResult, error) {
	post, targets, err := s.ResolveTargets(ctx, req.NewsPostID, req.Overrides)
	if err != nil {
		return nil, err
	}
	user, err := s.loadUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	return s.PublishTargets(ctx, post, user, targets), nil
}

// PublishTargets 按顺序处理目标列表。批次开始后不响应 ctx 的取消，每个网络调用自带超时。
func (s *PublishService) PublishTargets(ctx context.Context, post *db.NewsPost, user *db.User, targets []Target) []TargetResult {
	ctx = context.WithoutCancel(ctx)
	s.logger.Info().Uint("news_id", post.ID).Str("targets", describeTargets(targets)).Msg("publishing news")

	results := make([]TargetResult, 0, len(targets))
	for _, target := range targets {
		results = append(results, s.publishOne(ctx, post, user, target))
	}
	return results
}

func (s *PublishService) publishOne(ctx context.Context, post *db.NewsPost, user *db.User, target Target) (result TargetResult) {
	start := time.Now()
	p := target.Category.Portal
	result = TargetResult{
		Portal:            p.Name,
		PortalID:          p.ID,
		Category:          target.Category.Name,
		CategoryID:        target.Category.ID,
		UseDefaultContent: target.UseDefaultContent(),
	}
	log := s.logger.With().Uint("news_id", post.ID).Str("portal", p.Name).Uint("category_id", target.Category.ID).Logger()

	var record *db.NewsDistribution
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("publish target panicked")
			result.Success = false
			result.Outcome = OutcomeRecordFailed
			result.Response = fmt.Sprintf("internal error: %v", r)
			if record != nil && record.Status == db.DistributionPending {
				if err := s.complete(ctx, record, DeliveryOutcome{Message: result.Response, Elapsed: time.Since(start)}); err != nil {
					log.Error().Err(err).Msg("complete distribution failed")
				}
			}
		}
		metrics.PublishTargets.WithLabelValues(p.Name, string(result.Outcome)).Inc()
		metrics.PublishDuration.WithLabelValues(p.Name).Observe(time.Since(start).Seconds())
	}()

	unlock, err := s.locker.Lock(ctx, lock.DistributionKey(post.ID, p.ID))
	if err != nil {
		return failResult(result, OutcomeRecordFailed, fmt.Sprintf("acquire lock: %v", err))
	}
	defer unlock()

	record, _, err = s.deliveries.AcquireOrCreate(ctx, post, target)
	if err != nil {
		log.Error().Err(err).Msg("acquire distribution failed")
		return failResult(result, OutcomeRecordFailed, err.Error())
	}
	result.DistributionID = record.ID

	switch record.Status {
	case db.DistributionSuccess:
		result.Success = true
		result.Outcome = OutcomeSkippedAlreadySuccess
		result.Response = AlreadyPublishedMessage
		return result
	case db.DistributionFailed:
		if err := s.deliveries.Rearm(ctx, record); err != nil {
			log.Error().Err(err).Msg("rearm distribution failed")
			return failResult(result, OutcomeRecordFailed, err.Error())
		}
	}

	credential, err := s.credentials.Resolve(ctx, *user, p)
	if err != nil {
		return s.finishFailure(ctx, log, record, result, OutcomeCredentialMissing, err, start)
	}

	content, err := s.transformer.Transform(ctx, post, target)
	if err != nil {
		return s.finishFailure(ctx, log, record, result, OutcomeTransformFailed, err, start)
	}

	res := s.gateway.Create(ctx, endpointFor(p), articleFor(post, target.Category, credential.PortalUserID, content))

	outcome := DeliveryOutcome{
		Success:  res.Success,
		Message:  res.Message,
		RemoteID: res.RemoteID,
		Content:  &content,
		Elapsed:  time.Since(start),
	}
	if err := s.complete(ctx, record, outcome); err != nil {
		log.Error().Err(err).Msg("complete distribution failed")
		return failResult(result, OutcomeRecordFailed, err.Error())
	}

	result.Success = res.Success
	result.Response = res.Message
	if res.Success {
		result.Outcome = OutcomeSentSuccess
		log.Info().Str("portal_news_id", res.RemoteID).Bool("rewritten", content.Rewritten).Msg("published to portal")
	} else {
		result.Outcome = OutcomeSentFailed
		log.Warn().Int("status", res.StatusCode).Str("response", truncateRunes(res.Message, 200)).Msg("portal rejected news")
	}
	return result
}

func (s *PublishService) finishFailure(ctx context.Context, log zerolog.Logger, record *db.NewsDistribution, result TargetResult, outcome TargetOutcome, cause error, start time.Time) TargetResult {
	message := cause.Error()
	log.Warn().Err(cause).Str("outcome", string(outcome)).Msg("publish target failed")
	if err := s.complete(ctx, record, DeliveryOutcome{Message: message, Elapsed: time.Since(start)}); err != nil {
		log.Error().Err(err).Msg("complete distribution failed")
	}
	return failResult(result, outcome, message)
}

func (s *PublishService) complete(ctx context.Context, record *db.NewsDistribution, outcome DeliveryOutcome) error {
	writeCtx, cancel := detachedContext(ctx)
	defer cancel()
	return s.deliveries.Complete(writeCtx, record, outcome)
}

func failResult(result TargetResult, outcome TargetOutcome, message string) TargetResult {
	result.Success = false
	result.Outcome = outcome
	result.Response = message
	return result
}

// articleFor 组装站点表单，标志位与日期取自稿件。
func articleFor(post *db.NewsPost, category db.PortalCategory, authorID string, content TransformedContent) portal.Article {
	return portal.Article{
		CategoryExternalID: category.ExternalID,
		Title:              content.Title,
		ShortDescription:   content.ShortDescription,
		Body:               content.Body,
		MetaTitle:          content.MetaTitle,
		Slug:               content.Slug,
		Tags:               post.PostTag,
		AuthorID:           authorID,
		EventDate:          post.EventDate,
		EventEndDate:       post.EventEndDate,
		ScheduleDate:       post.ScheduleDate,
		IsActive:           post.IsActive,
		Event:              post.Event,
		HeadLines:          post.HeadLines,
		Articles:           post.Articles,
		Trending:           post.Trending,
		BreakingNews:       post.BreakingNews,
		Counter:            post.Counter,
		ImagePath:          content.ImagePath,
	}
}

func (s *PublishService) loadPost(ctx context.Context, id uint) (*db.NewsPost, error) {
	var post db.NewsPost
	if err := s.db.WithContext(ctx).First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, configurationError(ErrNewsNotFound, id)
		}
		return nil, fmt.Errorf("load news post %d: %w", id, err)
	}
	return &post, nil
}

func (s *PublishService) loadUser(ctx context.Context, id uint) (*db.User, error) {
	var user db.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, configurationError(ErrUserNotFound, id)
		}
		return nil, fmt.Errorf("load user %d: %w", id, err)
	}
	return &user, nil
}
