package handler

import (
	"github.com/newsrelay/internal/lock"
	"github.com/newsrelay/internal/logging"
	"github.com/newsrelay/internal/service"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Deps 为构造 API 所需的外部依赖。
type Deps struct {
	DB       *gorm.DB
	System   *service.SystemSettingService
	Rewriter service.PortalRewriter
	Gateway  service.PortalGateway
	Locker   lock.Locker
	Jobs     service.JobSubmitter

	UploadDir     string
	UploadURL     string
	UploadMaxSize int64
}

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db            *gorm.DB
	system        *service.SystemSettingService
	catalog       *service.CatalogService
	news          *service.NewsService
	resolver      *service.TargetResolver
	deliveries    *service.DeliveryService
	credentials   *service.CredentialService
	publisher     *service.PublishService
	jobs          *service.PublishJobService
	distributions *service.DistributionService
	images        *service.ImageService
	logger        zerolog.Logger
}

// NewAPI constructs a handler set with shared services.
func NewAPI(deps Deps) *API {
	catalog := service.NewCatalogService(deps.DB)
	resolver := service.NewTargetResolver(deps.DB, catalog)
	deliveries := service.NewDeliveryService(deps.DB)
	credentials := service.NewCredentialService(deps.DB, deps.Gateway)
	publisher := service.NewPublishService(service.PublishDeps{
		DB:          deps.DB,
		Resolver:    resolver,
		Transformer: service.NewContentTransformer(deps.DB, catalog, deps.Rewriter),
		Deliveries:  deliveries,
		Credentials: credentials,
		Gateway:     deps.Gateway,
		Locker:      deps.Locker,
	})

	system := deps.System
	if system == nil {
		system = service.NewSystemSettingService(deps.DB, service.SystemSettings{})
	}

	return &API{
		db:            deps.DB,
		system:        system,
		catalog:       catalog,
		news:          service.NewNewsService(deps.DB),
		resolver:      resolver,
		deliveries:    deliveries,
		credentials:   credentials,
		publisher:     publisher,
		jobs:          service.NewPublishJobService(deps.DB, publisher, resolver, deps.Jobs),
		distributions: service.NewDistributionService(deps.DB, deliveries, deps.Gateway),
		images:        service.NewImageService(deps.DB, deps.UploadDir, deps.UploadURL, deps.UploadMaxSize),
		logger:        logging.Component("http"),
	}
}

// DB exposes the underlying gorm instance.
func (a *API) DB() *gorm.DB {
	return a.db
}
