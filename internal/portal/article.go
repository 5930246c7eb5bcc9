package portal

import (
	"strconv"
	"time"
)

// Article 是发往站点的稿件内容，字段与站点表单一一对应。
type Article struct {
	CategoryExternalID string
	Title              string
	ShortDescription   string
	Body               string
	MetaTitle          string
	Slug               string
	Tags               string
	AuthorID           string

	EventDate    *time.Time
	EventEndDate *time.Time
	ScheduleDate *time.Time

	IsActive     bool
	Event        bool
	HeadLines    bool
	Articles     bool
	Trending     bool
	BreakingNews bool
	Counter      *uint

	// ImagePath 为本地图片路径，为空时不上传文件。
	ImagePath string
}

type formField struct {
	name  string
	value string
}

func flag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func isoDate(v *time.Time, now time.Time) string {
	if v == nil {
		return now.Format(time.DateOnly)
	}
	return v.Format(time.DateOnly)
}

func isoDateTime(v *time.Time, now time.Time) string {
	if v == nil {
		return now.Format(time.RFC3339)
	}
	return v.Format(time.RFC3339)
}

func (a Article) counter() string {
	if a.Counter == nil {
		return "0"
	}
	return strconv.FormatUint(uint64(*a.Counter), 10)
}

// createFields 按站点接口约定的顺序生成表单字段。
func (a Article) createFields(now time.Time) []formField {
	return []formField{
		{"post_cat", a.CategoryExternalID},
		{"post_title", a.Title},
		{"post_short_des", a.ShortDescription},
		{"post_des", a.Body},
		{"meta_title", a.MetaTitle},
		{"slug", a.Slug},
		{"post_tag", a.Tags},
		{"author", a.AuthorID},
		{"Event_date", isoDate(a.EventDate, now)},
		{"Eventend_date", isoDate(a.EventEndDate, now)},
		{"schedule_date", isoDateTime(a.ScheduleDate, now)},
		{"is_active", flag(a.IsActive)},
		{"Event", flag(a.Event)},
		{"Head_Lines", flag(a.HeadLines)},
		{"articles", flag(a.Articles)},
		{"trending", flag(a.Trending)},
		{"BreakingNews", flag(a.BreakingNews)},
		{"post_status", a.counter()},
	}
}

// updateFields 与 createFields 相同，但不修改分类与作者。
func (a Article) updateFields(now time.Time) []formField {
	all := a.createFields(now)
	fields := make([]formField, 0, len(all))
	for _, f := range all {
		if f.name == "post_cat" || f.name == "author" {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}
