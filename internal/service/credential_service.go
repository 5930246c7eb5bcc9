package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/newsrelay/internal/db"
	"github.com/newsrelay/internal/portal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PortalGateway 为站点接口调用，*portal.Client 为默认实现。
type PortalGateway interface {
	Create(ctx context.Context, ep portal.Endpoint, article portal.Article) portal.Result
	Update(ctx context.Context, ep portal.Endpoint, remoteID string, article portal.Article) portal.Result
	Delete(ctx context.Context, ep portal.Endpoint, remoteID string) portal.Result
	Fetch(ctx context.Context, ep portal.Endpoint, remoteID string) portal.Result
	CheckUsername(ctx context.Context, ep portal.Endpoint, username string) (portal.UserLookup, portal.Result)
}

func endpointFor(p db.Portal) portal.Endpoint {
	return portal.Endpoint{ID: p.ID, Name: p.Name, BaseURL: p.BaseURL, APIKey: p.APIKey}
}

// CredentialService 查询与同步用户在各站点上的账号映射。
type CredentialService struct {
	db      *gorm.DB
	gateway PortalGateway
}

// NewCredentialService 构造 CredentialService。
func NewCredentialService(gdb *gorm.DB, gateway PortalGateway) *CredentialService {
	return &CredentialService{db: gdb, gateway: gateway}
}

// Resolve 返回用户在站点上已匹配的账号，未匹配时返回 ErrCredentialMissing。
func (s *CredentialService) Resolve(ctx context.Context, user db.User, p db.Portal) (*db.PortalUserMapping, error) {
	var mapping db.PortalUserMapping
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND portal_id = ? AND status = ?", user.ID, p.ID, db.PortalUserMatched).
		First(&mapping).Error
	if err == nil {
		return &mapping, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &CredentialMissingError{Username: user.Username, Portal: p.Name}
	}
	return nil, fmt.Errorf("load portal credential: %w", err)
}

// CredentialMissingError 表示用户在站点上没有已匹配账号，errors.Is 匹配 ErrCredentialMissing。
type CredentialMissingError struct {
	Username string
	Portal   string
}

func (e *CredentialMissingError) Error() string {
	return fmt.Sprintf("User %s not mapped to portal %s", e.Username, e.Portal)
}

func (e *CredentialMissingError) Unwrap() error {
	return ErrCredentialMissing
}

// CredentialSyncResult 为一个站点的同步结果。
type CredentialSyncResult struct {
	PortalID     uint   `json:"portal_id"`
	Portal       string `json:"portal"`
	Status       string `json:"status"`
	PortalUserID string `json:"portal_user_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Sync 在所有启用的站点上按用户名查找账号，找到则标记 MATCHED，否则标记 PENDING。
func (s *CredentialService) Sync(ctx context.Context, userID uint, username string) ([]CredentialSyncResult, error) {
	var portals []db.Portal
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&portals).Error; err != nil {
		return nil, fmt.Errorf("list portals: %w", err)
	}

	results := make([]CredentialSyncResult, 0, len(portals))
	for _, p := range portals {
		lookup, res := s.gateway.CheckUsername(ctx, endpointFor(p), username)

		mapping := db.PortalUserMapping{
			UserID:         userID,
			PortalID:       p.ID,
			PortalUsername: username,
			Status:         db.PortalUserPending,
		}
		if lookup.Found {
			mapping.Status = db.PortalUserMatched
			mapping.PortalUserID = lookup.PortalUserID
		}

		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "portal_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"portal_user_id", "portal_username", "status", "updated_at"}),
		}).Create(&mapping).Error
		if err != nil {
			return nil, fmt.Errorf("save portal credential for %s: %w", p.Name, err)
		}

		entry := CredentialSyncResult{PortalID: p.ID, Portal: p.Name, Status: mapping.Status, PortalUserID: mapping.PortalUserID}
		if res.StatusCode == 0 && !res.Success {
			entry.Error = res.Message
		}
		results = append(results, entry)
	}
	return results, nil
}
