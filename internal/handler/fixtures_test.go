package handler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/newsrelay/internal/db"
	"github.com/newsrelay/internal/portal"
	"github.com/newsrelay/internal/service"
	"github.com/newsrelay/internal/worker"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testPassword = "s3cret-pass"

type fakeGateway struct {
	mu       sync.Mutex
	byPortal map[string]portal.Result
	lookups  map[string]portal.UserLookup
	creates  []string
	updates  int
	deletes  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{byPortal: map[string]portal.Result{}, lookups: map[string]portal.UserLookup{}}
}

func (g *fakeGateway) result(ep portal.Endpoint) portal.Result {
	if r, ok := g.byPortal[ep.Name]; ok {
		return r
	}
	return portal.Result{Success: true, StatusCode: 201, Message: `{"status":true,"data":{"id":7}}`, RemoteID: "7",
		Data: map[string]interface{}{"id": float64(7), "post_title": "remote"}}
}

func (g *fakeGateway) Create(_ context.Context, ep portal.Endpoint, a portal.Article) portal.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates = append(g.creates, ep.Name+":"+a.Title)
	return g.result(ep)
}

func (g *fakeGateway) Update(_ context.Context, ep portal.Endpoint, _ string, _ portal.Article) portal.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updates++
	return g.result(ep)
}

func (g *fakeGateway) Delete(_ context.Context, ep portal.Endpoint, _ string) portal.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletes++
	return g.result(ep)
}

func (g *fakeGateway) Fetch(_ context.Context, ep portal.Endpoint, _ string) portal.Result {
	return g.result(ep)
}

func (g *fakeGateway) CheckUsername(_ context.Context, ep portal.Endpoint, _ string) (portal.UserLookup, portal.Result) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.lookups[ep.Name]; ok {
		return l, portal.Result{Success: true, StatusCode: 200}
	}
	return portal.UserLookup{}, portal.Result{StatusCode: 404, Message: "not found"}
}

type echoRewriter struct{}

func (echoRewriter) RewriteForPortal(_ context.Context, in service.PortalRewriteInput) (service.PortalRewriteResult, error) {
	return service.PortalRewriteResult{
		Title:            in.PortalName + " | " + in.Title,
		ShortDescription: in.ShortDescription,
		Description:      in.Description,
		MetaTitle:        in.Title,
		Slug:             service.Slugify(in.PortalName + " " + in.Title),
	}, nil
}

// inlineSubmitter 在当前 goroutine 中直接执行任务。
type inlineSubmitter struct{ err error }

func (s inlineSubmitter) Submit(task worker.Task) error {
	if s.err != nil {
		return s.err
	}
	task(context.Background())
	return nil
}

type testEnv struct {
	engine  *gin.Engine
	db      *gorm.DB
	gateway *fakeGateway
	user    db.User
	alpha   db.Portal
	beta    db.Portal
	alphaC  db.PortalCategory
	betaC   db.PortalCategory
	master  db.MasterCategory
	cookies []*http.Cookie
	upload  string
}

func setupHandlerTest(t *testing.T) *testEnv {
	return setupHandlerTestWith(t, inlineSubmitter{})
}

func setupHandlerTestWith(t *testing.T, jobs service.JobSubmitter) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:handler-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := gdb.AutoMigrate(db.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	user, err := db.EnsureUser(gdb, "editor", testPassword)
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	ctx := context.Background()
	catalog := service.NewCatalogService(gdb)
	env := &testEnv{db: gdb, gateway: newFakeGateway(), user: *user, upload: t.TempDir()}

	alpha, err := catalog.UpsertPortal(ctx, service.PortalInput{Name: "alpha", BaseURL: "https://alpha.test", APIKey: "ak-alpha"})
	if err != nil {
		t.Fatalf("create portal: %v", err)
	}
	beta, err := catalog.UpsertPortal(ctx, service.PortalInput{Name: "beta", BaseURL: "https://beta.test"})
	if err != nil {
		t.Fatalf("create portal: %v", err)
	}
	env.alpha, env.beta = *alpha, *beta

	alphaC, err := catalog.UpsertPortalCategory(ctx, service.PortalCategoryInput{PortalID: alpha.ID, Name: "Alpha World", ExternalID: "10"})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	betaC, err := catalog.UpsertPortalCategory(ctx, service.PortalCategoryInput{PortalID: beta.ID, Name: "Beta World", ExternalID: "20"})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	env.alphaC, env.betaC = *alphaC, *betaC

	master, err := catalog.UpsertMasterCategory(ctx, "World", "")
	if err != nil {
		t.Fatalf("create master: %v", err)
	}
	env.master = *master
	if _, err := catalog.UpsertCategoryMappings(ctx, service.MappingInput{
		MasterCategoryID:  master.ID,
		PortalCategoryIDs: []uint{alphaC.ID, betaC.ID},
	}); err != nil {
		t.Fatalf("create mappings: %v", err)
	}

	for _, p := range []db.Portal{env.alpha, env.beta} {
		m := db.PortalUserMapping{UserID: user.ID, PortalID: p.ID, PortalUserID: fmt.Sprintf("%d", 100+p.ID), Status: db.PortalUserMatched}
		if err := gdb.Create(&m).Error; err != nil {
			t.Fatalf("create credential: %v", err)
		}
	}

	api := NewAPI(Deps{
		DB:        gdb,
		Rewriter:  echoRewriter{},
		Gateway:   env.gateway,
		Jobs:      jobs,
		UploadDir: env.upload,
		UploadURL: "/uploads",
	})
	env.engine = newTestEngine(api)
	return env
}

func newTestEngine(api *API) *gin.Engine {
	r := gin.New()
	r.Use(sessions.Sessions("test_session", cookie.NewStore([]byte("test-secret"))))
	r.GET("/healthz", api.HealthCheck)

	g := r.Group("/api")
	g.POST("/auth/login", api.Login)
	g.POST("/auth/logout", api.Logout)

	auth := g.Group("")
	auth.Use(AuthRequired())
	auth.POST("/news", api.CreateNews)
	auth.GET("/news/:id", api.GetNews)
	auth.POST("/news/:id/publish", api.PublishNews)
	auth.POST("/news/:id/publish/async", api.PublishNewsAsync)
	auth.GET("/news/:id/publish-tasks", api.ListPublishTasks)
	auth.GET("/news/:id/distributions", api.ListDistributions)
	auth.POST("/news/:id/portal-images", api.UploadPortalImages)
	auth.GET("/publish/status", api.PublishStatus)
	auth.PUT("/distributions/:id", api.EditDistribution)
	auth.DELETE("/distributions/:id", api.DeleteDistribution)
	auth.GET("/distributions/:id/fetch", api.FetchDistribution)
	auth.POST("/portal-credentials/sync", api.SyncPortalCredentials)
	auth.GET("/settings/ai", api.GetAISettings)
	auth.PUT("/settings/ai", api.UpdateAISettings)
	return r
}

func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	for _, c := range e.cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	e.engine.ServeHTTP(rr, req)
	if cookies := rr.Result().Cookies(); len(cookies) > 0 {
		e.cookies = cookies
	}
	return rr
}

func (e *testEnv) doJSON(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return e.serve(req)
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	rr := e.doJSON(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "editor", "password": testPassword})
	if rr.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rr.Code, rr.Body.String())
	}
}

func (e *testEnv) createNews(t *testing.T, payload map[string]interface{}) uint {
	t.Helper()
	rr := e.doJSON(t, http.MethodPost, "/api/news", payload)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create news failed: %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		News struct {
			ID uint `json:"id"`
		} `json:"news"`
	}
	decodeBody(t, rr, &resp)
	return resp.News.ID
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}
