package service

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// htmlImagePlaceholders 负责在生成 AI Prompt 前压缩 <img src> 长链接，并在拿到结果后恢复。
type htmlImagePlaceholders struct {
	replacements map[string]string
}

// compressHTMLImageURLs 将正文中的图片地址替换为 image://asset-N 占位符。
// 正文无法解析或不含图片时原样返回。
func compressHTMLImageURLs(input string) (string, *htmlImagePlaceholders) {
	placeholders := &htmlImagePlaceholders{}
	if !strings.Contains(strings.ToLower(input), "<img") {
		return input, placeholders
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(input))
	if err != nil {
		return input, placeholders
	}

	seen := make(map[string]string)
	index := 1
	output := input
	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		src = strings.TrimSpace(src)
		if src == "" || !strings.Contains(output, src) {
			return
		}
		if _, done := seen[src]; done {
			return
		}
		placeholder := fmt.Sprintf("image://asset-%d", index)
		index++
		seen[src] = placeholder
		output = strings.ReplaceAll(output, src, placeholder)
	})

	if len(seen) == 0 {
		return input, placeholders
	}
	placeholders.replacements = make(map[string]string, len(seen))
	for original, placeholder := range seen {
		placeholders.replacements[placeholder] = original
	}
	return output, placeholders
}

// Count 返回被替换的图片数量。
func (p *htmlImagePlaceholders) Count() int {
	if p == nil {
		return 0
	}
	return len(p.replacements)
}

// Restore 将占位符恢复为原始的图片链接。
func (p *htmlImagePlaceholders) Restore(input string) string {
	if p.Count() == 0 {
		return input
	}
	// 先替换编号大的，避免 asset-1 误伤 asset-10
	output := input
	for i := len(p.replacements); i >= 1; i-- {
		placeholder := fmt.Sprintf("image://asset-%d", i)
		if original, ok := p.replacements[placeholder]; ok {
			output = strings.ReplaceAll(output, placeholder, original)
		}
	}
	return output
}
