package service

import (
	"strings"
	"unicode/utf8"

	"github.com/newsrelay/internal/logging"
)

const maxAILogSnippetRunes = 1024

// logAIExchange 用于输出 AI 请求与响应的关键信息，方便排查模型行为。
func logAIExchange(kind, phase, content string) {
	log := logging.Component("ai")
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		log.Debug().Str("kind", kind).Str("phase", phase).Msg("<empty>")
		return
	}

	runeCount := utf8.RuneCountInString(trimmed)
	snippet := trimmed
	if runeCount > maxAILogSnippetRunes {
		snippet = string([]rune(trimmed)[:maxAILogSnippetRunes]) + "…(truncated)"
	}
	log.Debug().Str("kind", kind).Str("phase", phase).Int("runes", runeCount).Msg(snippet)
}
