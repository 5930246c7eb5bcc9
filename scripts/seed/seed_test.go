package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/newsrelay/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupSeedTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:seed-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := gdb.AutoMigrate(db.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return gdb
}

func TestExampleFixtureApplies(t *testing.T) {
	gdb := setupSeedTestDB(t)
	fixture, err := LoadFixture("catalog.example.yaml")
	require.NoError(t, err)

	summary, err := Apply(context.Background(), gdb, fixture)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Portals)
	assert.Equal(t, 4, summary.Categories)
	assert.Equal(t, 4, summary.Mappings)
	assert.Equal(t, 1, summary.CrossMappings)
	assert.Equal(t, 2, summary.Prompts)
	assert.Equal(t, 1, summary.News)

	var world db.PortalCategory
	require.NoError(t, gdb.Where("external_id = ?", "12").First(&world).Error)
	var mapping db.CategoryMapping
	require.NoError(t, gdb.Where("portal_category_id = ?", world.ID).First(&mapping).Error)
	assert.True(t, mapping.UseDefaultContent)
	assert.True(t, mapping.IsDefault)

	var post db.NewsPost
	require.NoError(t, gdb.First(&post).Error)
	require.NotNil(t, post.MasterCategoryID)
	assert.Equal(t, "harbour-reopens-after-storm", post.Slug)

	// 重复执行不产生重复数据
	again, err := Apply(context.Background(), gdb, fixture)
	require.NoError(t, err)
	assert.Equal(t, 0, again.News)
	assert.Equal(t, 1, again.Prompts)

	var count int64
	require.NoError(t, gdb.Model(&db.PortalCategory{}).Count(&count).Error)
	assert.Equal(t, int64(4), count)
	require.NoError(t, gdb.Model(&db.CrossPortalMapping{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	require.NoError(t, gdb.Model(&db.PortalUserMapping{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestApplyRejectsUnknownReferences(t *testing.T) {
	gdb := setupSeedTestDB(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
portals:
  - name: solo
    base_url: https://solo.example
master_categories:
  - name: World
    mappings:
      - portal: solo
        external_id: "404"
`), 0o644))

	fixture, err := LoadFixture(path)
	require.NoError(t, err)
	_, err = Apply(context.Background(), gdb, fixture)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown category solo/404")
}
