package service

import (
	"context"
	"errors"
	"testing"

	"github.com/newsrelay/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func categoryIDs(targets []Target) []uint {
	ids := make([]uint, 0, len(targets))
	for _, t := range targets {
		ids = append(ids, t.Category.ID)
	}
	return ids
}

func TestMergeTargetsPrecedence(t *testing.T) {
	a := db.PortalCategory{Name: "a"}
	a.ID = 1
	b := db.PortalCategory{Name: "b"}
	b.ID = 2
	c := db.PortalCategory{Name: "c"}
	c.ID = 3
	d := db.PortalCategory{Name: "d"}
	d.ID = 4

	targets := MergeTargets(TargetSources{
		MasterMappings: []db.CategoryMapping{
			{PortalCategory: a, UseDefaultContent: false},
			{PortalCategory: b, UseDefaultContent: true},
		},
		Trigger:      &a,
		CrossTargets: []db.PortalCategory{b, c},
		Manual:       []db.PortalCategory{c, d},
	})

	require.Len(t, targets, 4)
	assert.Equal(t, []uint{1, 2, 3, 4}, categoryIDs(targets))
	// 触发分类强制原文，且覆盖主分类映射的改写设置
	assert.Equal(t, ModeVerbatim, targets[0].Mode)
	assert.Equal(t, SourceCrossTrigger, targets[0].Source)
	// 已存在的目标不被扇出目标覆盖
	assert.Equal(t, ModeVerbatim, targets[1].Mode)
	assert.Equal(t, SourceMasterMapping, targets[1].Source)
	assert.Equal(t, ModeRewritten, targets[2].Mode)
	assert.Equal(t, SourceCrossTarget, targets[2].Source)
	assert.Equal(t, SourceManual, targets[3].Source)
}

func TestMergeTargetsExclusionsWin(t *testing.T) {
	a := db.PortalCategory{}
	a.ID = 7
	b := db.PortalCategory{}
	b.ID = 8

	targets := MergeTargets(TargetSources{
		Trigger:  &a,
		Manual:   []db.PortalCategory{b},
		Excluded: []uint{7, 8},
	})
	assert.Empty(t, targets)
}

func TestResolveMasterAndManualTargets(t *testing.T) {
	gdb := setupServiceTestDB(t)
	f := seedCatalog(t, gdb)
	ctx := context.Background()

	_, err := f.catalog.UpsertCategoryMappings(ctx, MappingInput{
		MasterCategoryID:  f.master.ID,
		PortalCategoryIDs: []uint{f.alphaA.ID},
		UseDefaultContent: true,
	})
	require.NoError(t, err)
	_, err = f.catalog.UpsertCategoryMappings(ctx, MappingInput{
		MasterCategoryID:  f.master.ID,
		PortalCategoryIDs: []uint{f.betaA.ID},
	})
	require.NoError(t, err)

	post := createPost(t, gdb, db.NewsPost{
		CreatedByID:       f.user.ID,
		Title:             "Hello",
		MasterCategoryID:  &f.master.ID,
		PortalCategoryIDs: datatypes.JSONSlice[uint]{f.gammaA.ID, f.alphaA.ID},
	})

	resolver := NewTargetResolver(gdb, f.catalog)
	targets, err := resolver.Resolve(ctx, post, PublishOverrides{})
	require.NoError(t, err)
	assert.Equal(t, []uint{f.alphaA.ID, f.betaA.ID, f.gammaA.ID}, categoryIDs(targets))
	assert.True(t, targets[0].UseDefaultContent())
	assert.False(t, targets[1].UseDefaultContent())
	assert.Equal(t, "alpha", targets[0].Category.Portal.Name)
	assert.Equal(t, "gamma", targets[2].Category.Portal.Name)
}

func TestResolveCrossPortalTrigger(t *testing.T) {
	gdb := setupServiceTestDB(t)
	f := seedCatalog(t, gdb)
	ctx := context.Background()

	mappings, err := f.catalog.CreateCrossPortalMappings(ctx, f.alphaA.ID, []uint{f.betaA.ID, f.alphaA.ID, f.gammaA.ID})
	require.NoError(t, err)
	require.Len(t, mappings, 2)

	post := createPost(t, gdb, db.NewsPost{
		CreatedByID:           f.user.ID,
		Title:                 "Cross",
		CrossPortalCategoryID: &f.alphaA.ID,
	})

	resolver := NewTargetResolver(gdb, f.catalog)
	targets, err := resolver.Resolve(ctx, post, PublishOverrides{ExcludedCategoryIDs: []uint{f.gammaA.ID}})
	require.NoError(t, err)
	require.Equal(t, []uint{f.alphaA.ID, f.betaA.ID}, categoryIDs(targets))
	assert.True(t, targets[0].UseDefaultContent())
	assert.False(t, targets[1].UseDefaultContent())
}

func TestResolveOverridesReplaceStoredValues(t *testing.T) {
	gdb := setupServiceTestDB(t)
	f := seedCatalog(t, gdb)
	ctx := context.Background()

	post := createPost(t, gdb, db.NewsPost{
		CreatedByID:       f.user.ID,
		Title:             "Override",
		PortalCategoryIDs: datatypes.JSONSlice[uint]{f.alphaA.ID},
	})
	resolver := NewTargetResolver(gdb, f.catalog)

	targets, err := resolver.Resolve(ctx, post, PublishOverrides{PortalCategoryIDs: []uint{f.betaA.ID}})
	require.NoError(t, err)
	assert.Equal(t, []uint{f.betaA.ID}, categoryIDs(targets))

	_, err = resolver.Resolve(ctx, post, PublishOverrides{PortalCategoryIDs: []uint{}})
	assert.ErrorIs(t, err, ErrNoTargets)
}

func TestResolveIgnoresUnknownIDs(t *testing.T) {
	gdb := setupServiceTestDB(t)
	f := seedCatalog(t, gdb)
	ctx := context.Background()

	missing := uint(9999)
	post := createPost(t, gdb, db.NewsPost{
		CreatedByID:           f.user.ID,
		Title:                 "Unknown",
		CrossPortalCategoryID: &missing,
		PortalCategoryIDs:     datatypes.JSONSlice[uint]{missing, f.betaA.ID},
	})
	resolver := NewTargetResolver(gdb, f.catalog)
	targets, err := resolver.Resolve(ctx, post, PublishOverrides{})
	require.NoError(t, err)
	assert.Equal(t, []uint{f.betaA.ID}, categoryIDs(targets))
}

func TestResolveNoTargets(t *testing.T) {
	gdb := setupServiceTestDB(t)
	f := seedCatalog(t, gdb)

	post := createPost(t, gdb, db.NewsPost{CreatedByID: f.user.ID, Title: "Empty"})
	_, err := NewTargetResolver(gdb, f.catalog).Resolve(context.Background(), post, PublishOverrides{})
	if !errors.Is(err, ErrNoTargets) {
		t.Fatalf("expected ErrNoTargets, got %v", err)
	}
}

func TestLoadTargetsReportsMissing(t *testing.T) {
	gdb := setupServiceTestDB(t)
	f := seedCatalog(t, gdb)

	specs := []TargetSpec{
		{PortalCategoryID: f.alphaA.ID, UseDefaultContent: true, Source: string(SourceManual)},
		{PortalCategoryID: 4242},
	}
	targets, missing, err := NewTargetResolver(gdb, f.catalog).LoadTargets(context.Background(), specs)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, ModeVerbatim, targets[0].Mode)
	assert.Equal(t, "alpha", targets[0].Category.Portal.Name)
	require.Len(t, missing, 1)
	assert.Equal(t, uint(4242), missing[0].PortalCategoryID)
}

func TestParseIDList(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []uint
	}{
		{"absent", "", nil},
		{"null", "null", nil},
		{"numbers", "[1, 2, 3]", []uint{1, 2, 3}},
		{"numeric strings", `["4", " 5 "]`, []uint{4, 5}},
		{"encoded array", `"[6,7]"`, []uint{6, 7}},
		{"skips junk", `[1, "x", -2, 2.5, 0, 8]`, []uint{1, 8}},
		{"malformed", `{"a":1}`, []uint{}},
		{"bad string", `"abc"`, []uint{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseIDList([]byte(tc.raw)))
		})
	}
}

func TestParseOptionalID(t *testing.T) {
	id, ok := ParseOptionalID(nil)
	assert.Nil(t, id)
	assert.False(t, ok)

	id, ok = ParseOptionalID([]byte(`"12"`))
	require.True(t, ok)
	assert.Equal(t, uint(12), *id)

	id, ok = ParseOptionalID([]byte(`null`))
	require.True(t, ok)
	assert.Equal(t, uint(0), *id)

	id, ok = ParseOptionalID([]byte(`"abc"`))
	require.True(t, ok)
	assert.Equal(t, uint(0), *id)
}
