package service

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration 表示发布所需的稿件、用户或分类不存在。
	ErrConfiguration = errors.New("configuration error")
	// ErrNoTargets 表示合并后没有任何目标分类。
	ErrNoTargets = errors.New("no portal categories resolved for publishing")
	// ErrRewriteFailed 表示 AI 改写未返回可用结果。
	ErrRewriteFailed = errors.New("ai rewrite failed")
	// ErrCredentialMissing 表示用户在站点上没有已匹配的账号。
	ErrCredentialMissing = errors.New("portal credential missing")
	// ErrGateway 表示站点接口调用失败。
	ErrGateway = errors.New("portal gateway error")

	ErrNewsNotFound         = errors.New("news post not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrPortalNotFound       = errors.New("portal not found")
	ErrCategoryNotFound     = errors.New("portal category not found")
	ErrMasterNotFound       = errors.New("master category not found")
	ErrJobNotFound          = errors.New("publish task not found")
	ErrDistributionNotFound = errors.New("distribution not found")
	ErrMissingRemoteID      = errors.New("distribution has no portal news id")
	ErrInvalidTransition    = errors.New("invalid distribution status transition")

	ErrGlobalPromptExists    = errors.New("a global prompt already exists")
	ErrGlobalPromptHasPortal = errors.New("global prompt must not reference a portal")
	ErrPromptPortalRequired  = errors.New("non-global prompt requires a portal")
)

// ConfigurationError 包装缺失的配置项，errors.Is 同时匹配 ErrConfiguration 与具体原因。
type ConfigurationError struct {
	Cause error
	ID    uint
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%v (id=%d)", e.Cause, e.ID)
}

// Unwrap 返回具体原因与 ErrConfiguration。
func (e *ConfigurationError) Unwrap() []error {
	return []error{e.Cause, ErrConfiguration}
}

func configurationError(cause error, id uint) error {
	return &ConfigurationError{Cause: cause, ID: id}
}
