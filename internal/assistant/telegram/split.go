package telegram

import (
	"strings"

	"github.com/kart-io/anticorruption-bot/pkg/utils/text"
)

// MaxMessageLength Telegram 单条消息的字符上限。
const MaxMessageLength = 4096

// SplitMessage 按行切分长消息，每段不超过 limit 个字符。
// 单行超长时按字符硬切。
func SplitMessage(s string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	if text.RuneLen(s) <= limit {
		return []string{s}
	}

	var (
		parts []string
		cur   strings.Builder
		n     int
	)
	flush := func() {
		if n > 0 {
			parts = append(parts, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
			n = 0
		}
	}

	for _, line := range strings.SplitAfter(s, "\n") {
		l := text.RuneLen(line)
		if n+l > limit {
			flush()
		}
		for l > limit {
			head := text.Truncate(line, limit)
			parts = append(parts, head)
			line = line[len(head):]
			l -= limit
		}
		cur.WriteString(line)
		n += l
	}
	flush()

	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
