package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/newsrelay/internal/db"
	"github.com/newsrelay/internal/service"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// Fixture 为站点目录的 YAML 描述。
type Fixture struct {
	Users            []UserFixture         `yaml:"users"`
	Portals          []PortalFixture       `yaml:"portals"`
	MasterCategories []MasterFixture       `yaml:"master_categories"`
	CrossMappings    []CrossMappingFixture `yaml:"cross_mappings"`
	Prompts          []PromptFixture       `yaml:"prompts"`
	Credentials      []CredentialFixture   `yaml:"credentials"`
	News             []NewsFixture         `yaml:"news"`
}

type UserFixture struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type PortalFixture struct {
	service.PortalInput `yaml:",inline"`

	Categories []CategoryFixture `yaml:"categories"`
}

type CategoryFixture struct {
	Name             string `yaml:"name"`
	ExternalID       string `yaml:"external_id"`
	ParentName       string `yaml:"parent_name"`
	ParentExternalID string `yaml:"parent_external_id"`
}

// CategoryRef 以 (站点名, 外部编号) 引用站点分类。
type CategoryRef struct {
	Portal     string `yaml:"portal"`
	ExternalID string `yaml:"external_id"`
}

type MasterFixture struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Mappings    []MappingFixture `yaml:"mappings"`
}

type MappingFixture struct {
	CategoryRef `yaml:",inline"`

	UseDefaultContent bool `yaml:"use_default_content"`
	IsDefault         bool `yaml:"is_default"`
}

type CrossMappingFixture struct {
	Source  CategoryRef   `yaml:"source"`
	Targets []CategoryRef `yaml:"targets"`
}

type PromptFixture struct {
	Portal   string `yaml:"portal"`
	Global   bool   `yaml:"global"`
	Name     string `yaml:"name"`
	Text     string `yaml:"text"`
	Inactive bool   `yaml:"inactive"`
}

type CredentialFixture struct {
	Username     string `yaml:"username"`
	Portal       string `yaml:"portal"`
	PortalUserID string `yaml:"portal_user_id"`
}

// NewsFixture 为示例稿件，分类以名称引用。
type NewsFixture struct {
	service.NewsInput `yaml:",inline"`

	Author string        `yaml:"author"`
	Master string        `yaml:"master"`
	Manual []CategoryRef `yaml:"manual"`
}

// Summary 统计写入的条目。
type Summary struct {
	Users, Portals, Categories, Masters, Mappings, CrossMappings, Prompts, Credentials, News int
}

func (s Summary) String() string {
	return fmt.Sprintf("users=%d portals=%d categories=%d masters=%d mappings=%d cross=%d prompts=%d credentials=%d news=%d",
		s.Users, s.Portals, s.Categories, s.Masters, s.Mappings, s.CrossMappings, s.Prompts, s.Credentials, s.News)
}

// LoadFixture 读取 YAML 文件。
func LoadFixture(path string) (Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("read fixture: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Fixture{}, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return f, nil
}

type seeder struct {
	db         *gorm.DB
	catalog    *service.CatalogService
	users      map[string]db.User
	portals    map[string]db.Portal
	categories map[CategoryRef]db.PortalCategory
	masters    map[string]db.MasterCategory
	summary    Summary
}

// Apply 按依赖顺序写入目录，重复执行结果不变。
func Apply(ctx context.Context, gdb *gorm.DB, f Fixture) (Summary, error) {
	s := &seeder{
		db:         gdb,
		catalog:    service.NewCatalogService(gdb),
		users:      map[string]db.User{},
		portals:    map[string]db.Portal{},
		categories: map[CategoryRef]db.PortalCategory{},
		masters:    map[string]db.MasterCategory{},
	}
	steps := []func(context.Context, Fixture) error{
		s.seedUsers,
		s.seedPortals,
		s.seedMasters,
		s.seedCrossMappings,
		s.seedPrompts,
		s.seedCredentials,
		s.seedNews,
	}
	for _, step := range steps {
		if err := step(ctx, f); err != nil {
			return s.summary, err
		}
	}
	return s.summary, nil
}

func (s *seeder) seedUsers(_ context.Context, f Fixture) error {
	for _, u := range f.Users {
		user, err := db.EnsureUser(s.db, u.Username, u.Password)
		if err != nil {
			return fmt.Errorf("user %s: %w", u.Username, err)
		}
		if user == nil {
			return fmt.Errorf("user %q: username and password are required", u.Username)
		}
		s.users[user.Username] = *user
		s.summary.Users++
	}
	return nil
}

func (s *seeder) seedPortals(ctx context.Context, f Fixture) error {
	for _, pf := range f.Portals {
		p, err := s.catalog.UpsertPortal(ctx, pf.PortalInput)
		if err != nil {
			return fmt.Errorf("portal %s: %w", pf.Name, err)
		}
		s.portals[p.Name] = *p
		s.summary.Portals++

		for _, cf := range pf.Categories {
			c, err := s.catalog.UpsertPortalCategory(ctx, service.PortalCategoryInput{
				PortalID:         p.ID,
				Name:             cf.Name,
				ExternalID:       cf.ExternalID,
				ParentName:       cf.ParentName,
				ParentExternalID: cf.ParentExternalID,
			})
			if err != nil {
				return fmt.Errorf("category %s/%s: %w", p.Name, cf.ExternalID, err)
			}
			s.categories[CategoryRef{Portal: p.Name, ExternalID: c.ExternalID}] = *c
			s.summary.Categories++
		}
	}
	return nil
}

func (s *seeder) category(ref CategoryRef) (db.PortalCategory, error) {
	key := CategoryRef{Portal: strings.TrimSpace(ref.Portal), ExternalID: strings.TrimSpace(ref.ExternalID)}
	c, ok := s.categories[key]
	if !ok {
		return db.PortalCategory{}, fmt.Errorf("unknown category %s/%s", key.Portal, key.ExternalID)
	}
	return c, nil
}

func (s *seeder) seedMasters(ctx context.Context, f Fixture) error {
	for _, mf := range f.MasterCategories {
		m, err := s.catalog.UpsertMasterCategory(ctx, mf.Name, mf.Description)
		if err != nil {
			return fmt.Errorf("master %s: %w", mf.Name, err)
		}
		s.masters[m.Name] = *m
		s.summary.Masters++

		for _, mapping := range mf.Mappings {
			c, err := s.category(mapping.CategoryRef)
			if err != nil {
				return fmt.Errorf("master %s: %w", mf.Name, err)
			}
			if _, err := s.catalog.UpsertCategoryMappings(ctx, service.MappingInput{
				MasterCategoryID:  m.ID,
				PortalCategoryIDs: []uint{c.ID},
				UseDefaultContent: mapping.UseDefaultContent,
				IsDefault:         mapping.IsDefault,
			}); err != nil {
				return err
			}
			s.summary.Mappings++
		}
	}
	return nil
}

func (s *seeder) seedCrossMappings(ctx context.Context, f Fixture) error {
	for _, cm := range f.CrossMappings {
		source, err := s.category(cm.Source)
		if err != nil {
			return err
		}
		ids := make([]uint, 0, len(cm.Targets))
		for _, ref := range cm.Targets {
			c, err := s.category(ref)
			if err != nil {
				return err
			}
			ids = append(ids, c.ID)
		}
		if _, err := s.catalog.CreateCrossPortalMappings(ctx, source.ID, ids); err != nil {
			return err
		}
		s.summary.CrossMappings += len(ids)
	}
	return nil
}

func (s *seeder) seedPrompts(ctx context.Context, f Fixture) error {
	for _, pf := range f.Prompts {
		input := service.PromptInput{Name: pf.Name, PromptText: pf.Text, IsActive: !pf.Inactive, IsGlobal: pf.Global}
		if !pf.Global {
			p, ok := s.portals[pf.Portal]
			if !ok {
				return fmt.Errorf("prompt %q: unknown portal %q", pf.Name, pf.Portal)
			}
			id := p.ID
			input.PortalID = &id
		}
		_, err := s.catalog.SavePrompt(ctx, input)
		switch {
		case errors.Is(err, service.ErrGlobalPromptExists):
			continue
		case err != nil:
			return err
		}
		s.summary.Prompts++
	}
	return nil
}

func (s *seeder) seedCredentials(ctx context.Context, f Fixture) error {
	for _, cf := range f.Credentials {
		user, ok := s.users[cf.Username]
		if !ok {
			return fmt.Errorf("credential: unknown user %q", cf.Username)
		}
		p, ok := s.portals[cf.Portal]
		if !ok {
			return fmt.Errorf("credential: unknown portal %q", cf.Portal)
		}
		mapping := db.PortalUserMapping{UserID: user.ID, PortalID: p.ID}
		err := s.db.WithContext(ctx).
			Where(db.PortalUserMapping{UserID: user.ID, PortalID: p.ID}).
			Assign(db.PortalUserMapping{PortalUserID: cf.PortalUserID, PortalUsername: user.Username, Status: db.PortalUserMatched}).
			FirstOrCreate(&mapping).Error
		if err != nil {
			return fmt.Errorf("credential %s@%s: %w", cf.Username, cf.Portal, err)
		}
		s.summary.Credentials++
	}
	return nil
}

func (s *seeder) seedNews(ctx context.Context, f Fixture) error {
	svc := service.NewNewsService(s.db)
	for _, nf := range f.News {
		author, ok := s.users[nf.Author]
		if !ok {
			return fmt.Errorf("news %q: unknown author %q", nf.Title, nf.Author)
		}
		input := nf.NewsInput
		if nf.Master != "" {
			m, ok := s.masters[nf.Master]
			if !ok {
				return fmt.Errorf("news %q: unknown master category %q", nf.Title, nf.Master)
			}
			id := m.ID
			input.MasterCategoryID = &id
		}
		for _, ref := range nf.Manual {
			c, err := s.category(ref)
			if err != nil {
				return fmt.Errorf("news %q: %w", nf.Title, err)
			}
			input.PortalCategoryIDs = append(input.PortalCategoryIDs, c.ID)
		}

		var existing int64
		if err := s.db.WithContext(ctx).Model(&db.NewsPost{}).Where("title = ?", input.Title).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			continue
		}
		if _, err := svc.Create(ctx, author.ID, input); err != nil {
			return fmt.Errorf("news %q: %w", nf.Title, err)
		}
		s.summary.News++
	}
	return nil
}
