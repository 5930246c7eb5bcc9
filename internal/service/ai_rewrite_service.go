package service

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/goccy/go-json"
	"github.com/microcosm-cc/bluemonday"
	"github.com/newsrelay/internal/metrics"
)

const (
	defaultOpenAIRewriteModel   = "gpt-4o-mini"
	defaultDeepSeekRewriteModel = "deepseek-chat"
	defaultRewriteMaxTokens     = 4096
	defaultRewriteTemperature   = 0.7
)

var rewriteFieldNames = []string{"title", "short_description", "description", "meta_title", "slug"}

// PortalRewriteInput 为单个站点改写所需的原文与提示词。
type PortalRewriteInput struct {
	PortalName       string
	Prompt           string
	Title            string
	ShortDescription string
	Description      string
	MetaTitle        string
	Slug             string
}

// PortalRewriteResult 为改写后的五个字段。
type PortalRewriteResult struct {
	Title            string `json:"title"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description"`
	MetaTitle        string `json:"meta_title"`
	Slug             string `json:"slug"`
}

// PortalRewriter 为每个站点生成不同的稿件变体。
type PortalRewriter interface {
	RewriteForPortal(ctx context.Context, input PortalRewriteInput) (PortalRewriteResult, error)
}

// AIRewriteService 基于大模型接口为站点生成改写版本。
type AIRewriteService struct {
	client *aiChatClient
	policy *bluemonday.Policy
}

// NewAIRewriteService 构造默认的 AIRewriteService。
func NewAIRewriteService(settings *SystemSettingService, timeout time.Duration) *AIRewriteService {
	return &AIRewriteService{
		client: newAIChatClient(settings, timeout),
		policy: bluemonday.UGCPolicy(),
	}
}

// SetHTTPClient 覆盖默认 HTTP 客户端，主要用于测试。
func (s *AIRewriteService) SetHTTPClient(client httpDoer) {
	s.client.SetHTTPClient(client)
}

// SetOpenAIBaseURL 覆盖默认的 OpenAI API 地址。
func (s *AIRewriteService) SetOpenAIBaseURL(base string) {
	s.client.SetOpenAIBaseURL(base)
}

// SetDeepSeekBaseURL 覆盖默认的 DeepSeek API 地址。
func (s *AIRewriteService) SetDeepSeekBaseURL(base string) {
	s.client.SetDeepSeekBaseURL(base)
}

// SetRequestsPerMinute 限制改写调用频率。
func (s *AIRewriteService) SetRequestsPerMinute(n int) {
	s.client.SetRequestsPerMinute(n)
}

// RewriteForPortal 调用大模型改写标题、摘要、正文、meta 标题与 slug。
// 任何失败都包装为 ErrRewriteFailed。
func (s *AIRewriteService) RewriteForPortal(ctx context.Context, input PortalRewriteInput) (PortalRewriteResult, error) {
	result, err := s.rewrite(ctx, input)
	if err != nil {
		metrics.RewriteRequests.WithLabelValues("failure").Inc()
		return PortalRewriteResult{}, fmt.Errorf("%w: %s: %v", ErrRewriteFailed, input.PortalName, err)
	}
	metrics.RewriteRequests.WithLabelValues("success").Inc()
	return result, nil
}

func (s *AIRewriteService) rewrite(ctx context.Context, input PortalRewriteInput) (PortalRewriteResult, error) {
	description, images := compressHTMLImageURLs(input.Description)
	input.Description = description

	userPrompt, err := buildPortalRewritePrompt(input)
	if err != nil {
		return PortalRewriteResult{}, err
	}
	logAIExchange("rewrite", "request", userPrompt)

	resp, err := s.client.call(ctx, aiChatRequest{
		SystemPrompt: input.Prompt,
		UserPrompt:   userPrompt,
		MaxTokens:    defaultRewriteMaxTokens,
		Temperature:  defaultRewriteTemperature,
	})
	if err != nil {
		return PortalRewriteResult{}, err
	}
	logAIExchange("rewrite", "response", resp.Content)

	result, err := parseRewriteResponse(resp.Content)
	if err != nil {
		return PortalRewriteResult{}, err
	}
	result.Description = s.policy.Sanitize(images.Restore(result.Description))
	result.Slug = firstNonEmpty(normalizeSlug(result.Slug), Slugify(result.MetaTitle), normalizeSlug(input.Slug))
	if result.Slug == "" {
		return PortalRewriteResult{}, fmt.Errorf("rewritten slug is empty")
	}
	return result, nil
}

// normalizeSlug 保留任意文字的字母、组合符与数字，其余字符折叠为单个连字符并转小写。
func normalizeSlug(input string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(input)) {
		if unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}

func buildPortalRewritePrompt(input PortalRewriteInput) (string, error) {
	metaTitle := strings.TrimSpace(input.MetaTitle)
	if metaTitle == "" {
		metaTitle = input.Title
	}
	slug := strings.TrimSpace(input.Slug)
	if slug == "" {
		slug = Slugify(metaTitle)
	}

	var source bytes.Buffer
	encoder := json.NewEncoder(&source)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(map[string]string{
		"title":             input.Title,
		"short_description": input.ShortDescription,
		"description":       input.Description,
		"meta_title":        metaTitle,
		"slug":              slug,
		"portal_name":       input.PortalName,
	}); err != nil {
		return "", fmt.Errorf("encode rewrite source: %w", err)
	}

	var builder strings.Builder
	builder.WriteString("Rewrite the following news content for the portal.\n")
	builder.WriteString("Each portal must have a unique variation of the rewritten content.\n\n")
	builder.WriteString("Rules:\n")
	builder.WriteString("- Preserve all HTML tags, attributes, images, links, lists and formatting inside the description.\n")
	builder.WriteString("- Rewrite the text of title, short_description, description and meta_title.\n")
	builder.WriteString("- short_description must be a 1-2 sentence summary under 160 characters.\n")
	builder.WriteString("- slug must be a lowercase, hyphen separated version of the rewritten meta_title.\n")
	builder.WriteString("- Keep every image://asset-N placeholder unchanged.\n\n")
	builder.WriteString("Return ONLY valid JSON with keys: title, short_description, description, meta_title, slug.\n\n")
	builder.Write(source.Bytes())
	return builder.String(), nil
}

var (
	jsonFencePattern    = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	embeddedJSONPattern = regexp.MustCompile(`(?s)\{.*\}|\[.*\]`)
)

// parseRewriteResponse 宽松解析模型输出：支持代码块、夹杂说明文字、数组与单键包裹对象。
func parseRewriteResponse(content string) (PortalRewriteResult, error) {
	trimmed := strings.TrimSpace(content)
	if m := jsonFencePattern.FindStringSubmatch(trimmed); len(m) == 2 {
		trimmed = strings.TrimSpace(m[1])
	}

	var data interface{}
	if err := json.Unmarshal([]byte(trimmed), &data); err != nil {
		match := embeddedJSONPattern.FindString(trimmed)
		if match == "" {
			return PortalRewriteResult{}, fmt.Errorf("no JSON structure in model response")
		}
		if err := json.Unmarshal([]byte(match), &data); err != nil {
			return PortalRewriteResult{}, fmt.Errorf("decode model response: %w", err)
		}
	}

	if list, ok := data.([]interface{}); ok {
		if len(list) == 0 {
			return PortalRewriteResult{}, fmt.Errorf("model returned an empty list")
		}
		data = list[0]
	}

	obj, ok := data.(map[string]interface{})
	if !ok {
		return PortalRewriteResult{}, fmt.Errorf("model response is not an object")
	}
	if len(obj) == 1 {
		for key, inner := range obj {
			if !isRewriteField(key) {
				if nested, ok := inner.(map[string]interface{}); ok {
					obj = nested
				}
			}
		}
	}

	fields := make(map[string]string, len(rewriteFieldNames))
	for _, name := range rewriteFieldNames {
		value, _ := obj[name].(string)
		value = strings.TrimSpace(value)
		if value == "" {
			return PortalRewriteResult{}, fmt.Errorf("model response missing %s", name)
		}
		fields[name] = value
	}

	return PortalRewriteResult{
		Title:            fields["title"],
		ShortDescription: fields["short_description"],
		Description:      fields["description"],
		MetaTitle:        fields["meta_title"],
		Slug:             fields["slug"],
	}, nil
}

func isRewriteField(key string) bool {
	for _, name := range rewriteFieldNames {
		if key == name {
			return true
		}
	}
	return false
}
