package service

import (
	"regexp"
	"strings"
)

func truncateRunes(input string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(input)
	if len(runes) <= limit {
		return input
	}
	return string(runes[:limit])
}

var slugInvalidChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify 生成 URL 安全的 slug：小写、非字母数字折叠为单个连字符。
func Slugify(input string) string {
	lowered := strings.ToLower(strings.TrimSpace(input))
	return strings.Trim(slugInvalidChars.ReplaceAllString(lowered, "-"), "-")
}
