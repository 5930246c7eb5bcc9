package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/newsrelay/internal/db"
	"github.com/newsrelay/internal/logging"
	"github.com/newsrelay/internal/metrics"
	"github.com/newsrelay/internal/worker"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JobSubmitter 接收后台任务，*worker.Pool 为默认实现。
type JobSubmitter interface {
	Submit(task worker.Task) error
}

// JobStatus 为任务轮询结果。
type JobStatus struct {
	JobID  string         `json:"job_id"`
	State  db.JobState    `json:"state"`
	Result datatypes.JSON `json:"result"`
}

type jobPayload struct {
	NewsPostID uint         `json:"news_post_id"`
	UserID     uint         `json:"user_id"`
	Targets    []TargetSpec `json:"targets"`
}

// PublishJobService 将发布放到后台执行并记录任务状态。
type PublishJobService struct {
	db        *gorm.DB
	publisher *PublishService
	resolver  *TargetResolver
	pool      JobSubmitter
	logger    zerolog.Logger
}

// NewPublishJobService 构造 PublishJobService。
func NewPublishJobService(gdb *gorm.DB, publisher *PublishService, resolver *TargetResolver, pool JobSubmitter) *PublishJobService {
	return &PublishJobService{
		db:        gdb,
		publisher: publisher,
		resolver:  resolver,
		pool:      pool,
		logger:    logging.Component("publish_job"),
	}
}

// Enqueue 保存 PENDING 任务并提交到任务池，返回任务编号。
func (s *PublishJobService) Enqueue(ctx context.Context, newsID, userID uint, targets []Target) (string, error) {
	jobID := uuid.NewString()
	payload := jobPayload{NewsPostID: newsID, UserID: userID, Targets: Specs(targets)}

	triggeredBy := userID
	task := db.NewsPublishTask{
		TaskID:        jobID,
		NewsPostID:    newsID,
		TriggeredByID: &triggeredBy,
		Status:        db.JobPending,
	}
	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		return "", fmt.Errorf("create publish task: %w", err)
	}
	metrics.Jobs.WithLabelValues(string(db.JobPending)).Inc()

	if err := s.pool.Submit(func(workerCtx context.Context) {
		s.run(workerCtx, jobID, payload)
	}); err != nil {
		s.finish(context.Background(), jobID, db.JobFailure, errorResult(err), err.Error())
		return "", fmt.Errorf("submit publish task: %w", err)
	}

	s.logger.Info().Str("job_id", jobID).Uint("news_id", newsID).Int("targets", len(targets)).Msg("publish job enqueued")
	return jobID, nil
}

// run 一旦开始即执行到底，工作池关闭时的取消不会中断批次。
func (s *PublishJobService) run(ctx context.Context, jobID string, payload jobPayload) {
	ctx = context.WithoutCancel(ctx)
	log := s.logger.With().Str("job_id", jobID).Uint("news_id", payload.NewsPostID).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("publish job panicked")
			msg := fmt.Sprintf("internal error: %v", r)
			s.finish(context.Background(), jobID, db.JobFailure, errorResult(errors.New(msg)), msg)
		}
	}()

	s.setState(ctx, jobID, db.JobStarted)

	post, err := s.publisher.loadPost(ctx, payload.NewsPostID)
	if err != nil {
		log.Warn().Err(err).Msg("publish job failed to load news")
		s.finish(ctx, jobID, db.JobFailure, errorResult(err), err.Error())
		return
	}
	user, err := s.publisher.loadUser(ctx, payload.UserID)
	if err != nil {
		log.Warn().Err(err).Msg("publish job failed to load user")
		s.finish(ctx, jobID, db.JobFailure, errorResult(err), err.Error())
		return
	}

	targets, missing, err := s.resolver.LoadTargets(ctx, payload.Targets)
	if err != nil {
		s.finish(ctx, jobID, db.JobFailure, errorResult(err), err.Error())
		return
	}

	results := make([]TargetResult, 0, len(payload.Targets))
	for _, m := range missing {
		results = append(results, TargetResult{
			CategoryID:        m.PortalCategoryID,
			Success:           false,
			Response:          "Invalid mapping",
			Outcome:           OutcomeRecordFailed,
			UseDefaultContent: m.UseDefaultContent,
		})
	}
	results = append(results, s.publisher.PublishTargets(ctx, post, user, targets)...)

	summary := Summarize(results)
	log.Info().Int("succeeded", summary.Succeeded).Int("failed", summary.Failed).Int("skipped", summary.Skipped).
		Msg("publish job finished")
	s.finish(ctx, jobID, db.JobSuccess, results, "")
}

// Status 返回任务状态与结果。
func (s *PublishJobService) Status(ctx context.Context, jobID string) (JobStatus, error) {
	var task db.NewsPublishTask
	if err := s.db.WithContext(ctx).Where("task_id = ?", jobID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return JobStatus{}, ErrJobNotFound
		}
		return JobStatus{}, fmt.Errorf("load publish task: %w", err)
	}

	status := JobStatus{JobID: task.TaskID, State: task.Status, Result: datatypes.JSON("null")}
	if len(task.Result) > 0 {
		status.Result = task.Result
	}
	return status, nil
}

// ListForNews 返回稿件的任务历史，最新的在前。
func (s *PublishJobService) ListForNews(ctx context.Context, newsID uint) ([]db.NewsPublishTask, error) {
	var tasks []db.NewsPublishTask
	err := s.db.WithContext(ctx).
		Preload("TriggeredBy").
		Where("news_post_id = ?", newsID).
		Order("created_at DESC, id DESC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list publish tasks: %w", err)
	}
	return tasks, nil
}

func (s *PublishJobService) setState(ctx context.Context, jobID string, state db.JobState) {
	if err := s.db.WithContext(ctx).Model(&db.NewsPublishTask{}).Where("task_id = ?", jobID).
		Update("status", state).Error; err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("update publish task state failed")
		return
	}
	metrics.Jobs.WithLabelValues(string(state)).Inc()
}

func (s *PublishJobService) finish(ctx context.Context, jobID string, state db.JobState, result interface{}, errText string) {
	encoded, err := json.Marshal(result)
	if err != nil {
		encoded = []byte("null")
	}
	updates := map[string]interface{}{
		"status": state,
		"result": datatypes.JSON(encoded),
		"error":  errText,
	}
	writeCtx, cancel := detachedContext(ctx)
	defer cancel()
	if err := s.db.WithContext(writeCtx).Model(&db.NewsPublishTask{}).Where("task_id = ?", jobID).Updates(updates).Error; err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("store publish task result failed")
		return
	}
	metrics.Jobs.WithLabelValues(string(state)).Inc()
}

func errorResult(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}
