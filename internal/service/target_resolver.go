package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/newsrelay/internal/db"
	"gorm.io/gorm"
)

// ContentMode 决定目标站点收到原文还是改写稿。
type ContentMode int

const (
	// ModeVerbatim 原文发布。
	ModeVerbatim ContentMode = iota + 1
	// ModeRewritten 由 AI 按站点提示词改写后发布。
	ModeRewritten
)

func (m ContentMode) String() string {
	switch m {
	case ModeVerbatim:
		return "verbatim"
	case ModeRewritten:
		return "rewritten"
	default:
		return "unknown"
	}
}

// TargetSource 标记目标来自哪一路配置。
type TargetSource string

const (
	SourceMasterMapping TargetSource = "master_mapping"
	SourceCrossTrigger  TargetSource = "cross_trigger"
	SourceCrossTarget   TargetSource = "cross_target"
	SourceManual        TargetSource = "manual"
)

// Target 是一次发布的单个目标分类。
type Target struct {
	Category db.PortalCategory
	Mode     ContentMode
	Source   TargetSource
}

// UseDefaultContent 为真表示原文发布。
func (t Target) UseDefaultContent() bool {
	return t.Mode == ModeVerbatim
}

// TargetSources 为合并的三路输入，均已按配置顺序排好。
type TargetSources struct {
	MasterMappings []db.CategoryMapping
	Trigger        *db.PortalCategory
	CrossTargets   []db.PortalCategory
	Manual         []db.PortalCategory
	Excluded       []uint
}

type orderedTargets struct {
	order []uint
	byID  map[uint]Target
}

func (o *orderedTargets) put(t Target, overwrite bool) {
	id := t.Category.ID
	if _, exists := o.byID[id]; exists {
		if overwrite {
			o.byID[id] = t
		}
		return
	}
	o.order = append(o.order, id)
	o.byID[id] = t
}

// MergeTargets 合并三路来源：主分类映射 → 跨站触发分类（强制原文，覆盖已有项）与其扇出目标
// （仅补充缺失项，改写）→ 手动指定（仅补充缺失项，改写），最后去掉排除项。
func MergeTargets(src TargetSources) []Target {
	merged := &orderedTargets{byID: make(map[uint]Target)}

	for _, m := range src.MasterMappings {
		mode := ModeRewritten
		if m.UseDefaultContent {
			mode = ModeVerbatim
		}
		merged.put(Target{Category: m.PortalCategory, Mode: mode, Source: SourceMasterMapping}, false)
	}

	if src.Trigger != nil {
		merged.put(Target{Category: *src.Trigger, Mode: ModeVerbatim, Source: SourceCrossTrigger}, true)
		for _, c := range src.CrossTargets {
			merged.put(Target{Category: c, Mode: ModeRewritten, Source: SourceCrossTarget}, false)
		}
	}

	for _, c := range src.Manual {
		merged.put(Target{Category: c, Mode: ModeRewritten, Source: SourceManual}, false)
	}

	excluded := make(map[uint]struct{}, len(src.Excluded))
	for _, id := range src.Excluded {
		excluded[id] = struct{}{}
	}

	targets := make([]Target, 0, len(merged.order))
	for _, id := range merged.order {
		if _, skip := excluded[id]; skip {
			continue
		}
		targets = append(targets, merged.byID[id])
	}
	return targets
}

// PublishOverrides 为单次发布请求覆盖稿件上保存的目标配置。
// 为 nil 的字段使用稿件上的值；非 nil 的空切片表示显式清空。
type PublishOverrides struct {
	MasterCategoryID      *uint
	CrossPortalCategoryID *uint
	PortalCategoryIDs     []uint
	ExcludedCategoryIDs   []uint
}

// TargetResolver 根据稿件与覆盖项解析发布目标。
type TargetResolver struct {
	db      *gorm.DB
	catalog *CatalogService
}

// NewTargetResolver 构造 TargetResolver。
func NewTargetResolver(gdb *gorm.DB, catalog *CatalogService) *TargetResolver {
	return &TargetResolver{db: gdb, catalog: catalog}
}

// Resolve 返回有序去重后的目标列表，为空时返回 ErrNoTargets。
func (r *TargetResolver) Resolve(ctx context.Context, post *db.NewsPost, overrides PublishOverrides) ([]Target, error) {
	masterID := post.MasterCategoryID
	if overrides.MasterCategoryID != nil {
		masterID = overrides.MasterCategoryID
	}
	triggerID := post.CrossPortalCategoryID
	if overrides.CrossPortalCategoryID != nil {
		triggerID = overrides.CrossPortalCategoryID
	}
	manualIDs := []uint(post.PortalCategoryIDs)
	if overrides.PortalCategoryIDs != nil {
		manualIDs = overrides.PortalCategoryIDs
	}
	excluded := []uint(post.ExcludePortalCategories)
	if overrides.ExcludedCategoryIDs != nil {
		excluded = overrides.ExcludedCategoryIDs
	}

	var src TargetSources
	src.Excluded = excluded

	if masterID != nil && *masterID != 0 {
		mappings, err := r.catalog.MappingsForMaster(ctx, *masterID)
		if err != nil {
			return nil, err
		}
		src.MasterMappings = mappings
	}

	if triggerID != nil && *triggerID != 0 {
		trigger, err := r.catalog.PortalCategory(ctx, *triggerID)
		switch {
		case err == nil:
			src.Trigger = trigger
			mappings, err := r.catalog.CrossPortalMappings(ctx, trigger.ID)
			if err != nil {
				return nil, err
			}
			for _, m := range mappings {
				src.CrossTargets = append(src.CrossTargets, m.TargetCategory)
			}
		case errors.Is(err, ErrCategoryNotFound):
			// 触发分类不存在时忽略该来源
		default:
			return nil, err
		}
	}

	manual, err := r.catalog.PortalCategoriesByIDs(ctx, manualIDs)
	if err != nil {
		return nil, err
	}
	src.Manual = manual

	targets := MergeTargets(src)
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	return targets, nil
}

// LoadTargets 按编号重新加载目标分类，用于后台任务。缺失的分类在 missing 中返回。
func (r *TargetResolver) LoadTargets(ctx context.Context, specs []TargetSpec) ([]Target, []TargetSpec, error) {
	ids := make([]uint, 0, len(specs))
	for _, s := range specs {
		ids = append(ids, s.PortalCategoryID)
	}
	categories, err := r.catalog.PortalCategoriesByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[uint]db.PortalCategory, len(categories))
	for _, c := range categories {
		byID[c.ID] = c
	}

	var (
		targets []Target
		missing []TargetSpec
	)
	for _, s := range specs {
		c, ok := byID[s.PortalCategoryID]
		if !ok {
			missing = append(missing, s)
			continue
		}
		mode := ModeRewritten
		if s.UseDefaultContent {
			mode = ModeVerbatim
		}
		targets = append(targets, Target{Category: c, Mode: mode, Source: TargetSource(s.Source)})
	}
	return targets, missing, nil
}

// TargetSpec 是目标的可序列化形式，随后台任务一起保存。
type TargetSpec struct {
	PortalCategoryID  uint   `json:"portal_category_id"`
	UseDefaultContent bool   `json:"use_default_content"`
	Source            string `json:"source,omitempty"`
}

// Specs 将目标转为可序列化形式。
func Specs(targets []Target) []TargetSpec {
	specs := make([]TargetSpec, 0, len(targets))
	for _, t := range targets {
		specs = append(specs, TargetSpec{
			PortalCategoryID:  t.Category.ID,
			UseDefaultContent: t.UseDefaultContent(),
			Source:            string(t.Source),
		})
	}
	return specs
}

// ParseIDList 宽松解析请求中的编号列表：JSON 数组、内含 JSON 数组的字符串、数字或数字字符串元素。
// raw 为空或 null 时返回 nil（未提供）；格式错误时返回空切片。
func ParseIDList(raw []byte) []uint {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}

	var value interface{}
	if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
		return []uint{}
	}
	if s, ok := value.(string); ok {
		if err := json.Unmarshal([]byte(s), &value); err != nil {
			return []uint{}
		}
	}

	list, ok := value.([]interface{})
	if !ok {
		return []uint{}
	}
	ids := make([]uint, 0, len(list))
	for _, item := range list {
		if id, ok := idFromValue(item); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// ParseOptionalID 解析单个编号；未提供时返回 (nil, false)，格式错误时返回指向 0 的指针。
func ParseOptionalID(raw []byte) (*uint, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, false
	}
	zero := uint(0)
	if trimmed == "null" {
		return &zero, true
	}
	var value interface{}
	if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
		return &zero, true
	}
	id, ok := idFromValue(value)
	if !ok {
		return &zero, true
	}
	return &id, true
}

func idFromValue(v interface{}) (uint, bool) {
	switch val := v.(type) {
	case float64:
		if val <= 0 || val != math.Trunc(val) || val > math.MaxUint32 {
			return 0, false
		}
		return uint(val), true
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return 0, false
		}
		for _, r := range trimmed {
			if r < '0' || r > '9' {
				return 0, false
			}
		}
		n, err := strconv.ParseUint(trimmed, 10, 32)
		if err != nil || n == 0 {
			return 0, false
		}
		return uint(n), true
	default:
		return 0, false
	}
}

func describeTargets(targets []Target) string {
	parts := make([]string, 0, len(targets))
	for _, t := range targets {
		parts = append(parts, fmt.Sprintf("%d:%s", t.Category.ID, t.Mode))
	}
	return strings.Join(parts, ",")
}
