package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/newsrelay/internal/db"
	"github.com/newsrelay/internal/portal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeHTTPClient struct {
	handler func(*http.Request) (*http.Response, error)
}

func (f fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if f.handler == nil {
		return nil, errors.New("no handler configured")
	}
	return f.handler(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     make(http.Header),
	}
}

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:service-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := gdb.AutoMigrate(db.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

// catalogFixture 为两个站点与常用分类。
type catalogFixture struct {
	user    db.User
	alpha   db.Portal
	beta    db.Portal
	gamma   db.Portal
	alphaA  db.PortalCategory
	alphaB  db.PortalCategory
	betaA   db.PortalCategory
	gammaA  db.PortalCategory
	master  db.MasterCategory
	catalog *CatalogService
}

func seedCatalog(t *testing.T, gdb *gorm.DB) catalogFixture {
	t.Helper()
	ctx := context.Background()
	catalog := NewCatalogService(gdb)

	user := db.User{Username: "alice", Password: "x"}
	if err := gdb.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	mustPortal := func(name string) db.Portal {
		p, err := catalog.UpsertPortal(ctx, PortalInput{Name: name, BaseURL: "https://" + name + ".test"})
		if err != nil {
			t.Fatalf("create portal: %v", err)
		}
		return *p
	}
	mustCategory := func(p db.Portal, name, external string) db.PortalCategory {
		c, err := catalog.UpsertPortalCategory(ctx, PortalCategoryInput{PortalID: p.ID, Name: name, ExternalID: external})
		if err != nil {
			t.Fatalf("create category: %v", err)
		}
		c.Portal = p
		return *c
	}

	f := catalogFixture{user: user, catalog: catalog}
	f.alpha = mustPortal("alpha")
	f.beta = mustPortal("beta")
	f.gamma = mustPortal("gamma")
	f.alphaA = mustCategory(f.alpha, "Alpha News", "10")
	f.alphaB = mustCategory(f.alpha, "Alpha Sports", "11")
	f.betaA = mustCategory(f.beta, "Beta News", "20")
	f.gammaA = mustCategory(f.gamma, "Gamma News", "30")

	master, err := catalog.UpsertMasterCategory(ctx, "World", "")
	if err != nil {
		t.Fatalf("create master: %v", err)
	}
	f.master = *master
	return f
}

func matchUser(t *testing.T, gdb *gorm.DB, user db.User, portals ...db.Portal) {
	t.Helper()
	for _, p := range portals {
		m := db.PortalUserMapping{UserID: user.ID, PortalID: p.ID, PortalUserID: fmt.Sprintf("u-%d", p.ID), Status: db.PortalUserMatched}
		if err := gdb.Create(&m).Error; err != nil {
			t.Fatalf("create credential: %v", err)
		}
	}
}

func createPost(t *testing.T, gdb *gorm.DB, post db.NewsPost) *db.NewsPost {
	t.Helper()
	if post.Slug == "" {
		post.Slug = fmt.Sprintf("post-%d", time.Now().UnixNano())
	}
	if post.ContentFormat == "" {
		post.ContentFormat = db.ContentFormatHTML
	}
	if err := gdb.Create(&post).Error; err != nil {
		t.Fatalf("create post: %v", err)
	}
	return &post
}

// fakeGateway 按站点名返回预设结果并记录调用。
type fakeGateway struct {
	mu       sync.Mutex
	creates  []portal.Article
	portals  []string
	byPortal map[string]portal.Result
	updates  int
	deletes  int
	fetches  int
	lookups  map[string]portal.UserLookup
	fallback portal.Result
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		byPortal: map[string]portal.Result{},
		lookups:  map[string]portal.UserLookup{},
		fallback: portal.Result{Success: true, StatusCode: 201, Message: `{"status":true}`, RemoteID: "r-1"},
	}
}

func (g *fakeGateway) result(ep portal.Endpoint) portal.Result {
	if r, ok := g.byPortal[ep.Name]; ok {
		return r
	}
	return g.fallback
}

func (g *fakeGateway) Create(_ context.Context, ep portal.Endpoint, a portal.Article) portal.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates = append(g.creates, a)
	g.portals = append(g.portals, ep.Name)
	return g.result(ep)
}

func (g *fakeGateway) Update(_ context.Context, ep portal.Endpoint, _ string, a portal.Article) portal.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updates++
	g.creates = append(g.creates, a)
	return g.result(ep)
}

func (g *fakeGateway) Delete(_ context.Context, ep portal.Endpoint, _ string) portal.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletes++
	return g.result(ep)
}

func (g *fakeGateway) Fetch(_ context.Context, ep portal.Endpoint, _ string) portal.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	res := g.result(ep)
	if res.Success && res.Data == nil {
		res.Data = map[string]interface{}{"id": 1}
	}
	return res
}

func (g *fakeGateway) CheckUsername(_ context.Context, ep portal.Endpoint, _ string) (portal.UserLookup, portal.Result) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.lookups[ep.Name]; ok {
		return l, portal.Result{Success: l.Found, StatusCode: 200}
	}
	return portal.UserLookup{}, portal.Result{StatusCode: 200, Message: "not found"}
}

func (g *fakeGateway) createCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.creates)
}

// stubRewriter 返回可预测的改写结果。
type stubRewriter struct {
	mu      sync.Mutex
	err     error
	failFor map[string]error
	prompts []string
}

func (s *stubRewriter) RewriteForPortal(_ context.Context, in PortalRewriteInput) (PortalRewriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, in.Prompt)
	if s.err != nil {
		return PortalRewriteResult{}, s.err
	}
	if err, ok := s.failFor[in.PortalName]; ok {
		return PortalRewriteResult{}, err
	}
	return PortalRewriteResult{
		Title:            in.PortalName + ": " + in.Title,
		ShortDescription: "short " + in.PortalName,
		Description:      "<p>rewritten for " + in.PortalName + "</p>",
		MetaTitle:        "meta " + in.PortalName,
		Slug:             Slugify(in.PortalName + " " + in.Title),
	}, nil
}

type publishHarness struct {
	db          *gorm.DB
	fixture     catalogFixture
	gateway     *fakeGateway
	rewriter    *stubRewriter
	deliveries  *DeliveryService
	resolver    *TargetResolver
	publisher   *PublishService
	credentials *CredentialService
}

func newPublishHarness(t *testing.T) *publishHarness {
	t.Helper()
	gdb := setupServiceTestDB(t)
	f := seedCatalog(t, gdb)
	gateway := newFakeGateway()
	rewriter := &stubRewriter{}
	resolver := NewTargetResolver(gdb, f.catalog)
	deliveries := NewDeliveryService(gdb)
	credentials := NewCredentialService(gdb, gateway)
	publisher := NewPublishService(PublishDeps{
		DB:          gdb,
		Resolver:    resolver,
		Transformer: NewContentTransformer(gdb, f.catalog, rewriter),
		Deliveries:  deliveries,
		Credentials: credentials,
		Gateway:     gateway,
	})
	return &publishHarness{
		db:          gdb,
		fixture:     f,
		gateway:     gateway,
		rewriter:    rewriter,
		deliveries:  deliveries,
		resolver:    resolver,
		publisher:   publisher,
		credentials: credentials,
	}
}

func uintPtr(v uint) *uint { return &v }
