package biz

import (
	"regexp"
	"strings"

	"github.com/kart-io/anticorruption-bot/pkg/utils/text"
)

// DefaultMaxReplyLength Telegram 单条消息的字符上限。
const DefaultMaxReplyLength = 4096

type rule struct {
	re   *regexp.Regexp
	repl string
}

// 顺序有意义：先处理成对的长标记，再处理单字符标记。
var markdownRules = []rule{
	{regexp.MustCompile("(?s)```[\\w+-]*\\n?(.*?)```"), "$1"},
	{regexp.MustCompile(`(?s)\*\*(.+?)\*\*`), "$1"},
	{regexp.MustCompile(`(?s)__(.+?)__`), "$1"},
	{regexp.MustCompile(`(?s)~~(.+?)~~`), "$1"},
	{regexp.MustCompile(`\*(\S(?:[^*\n]*\S)?)\*`), "$1"},
	{regexp.MustCompile(`(^|[^\p{L}\p{N}_])_([^_\n]+)_([^\p{L}\p{N}_]|$)`), "${1}${2}${3}"},
	{regexp.MustCompile("`([^`\\n]+)`"), "$1"},
	{regexp.MustCompile(`\[([^\]\n]*)\]\(([^)\n]*)\)`), "$1"},
	{regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]+`), ""},
	{regexp.MustCompile(`\\([\\` + "`" + `*_{}\[\]()#+\-.!])`), "$1"},
}

// Sanitizer 去除回复中的轻量标记并限制长度。
type Sanitizer struct {
	maxLength int
}

// NewSanitizer 创建清洗器，maxLength <= 0 时使用 Telegram 上限。
func NewSanitizer(maxLength int) *Sanitizer {
	if maxLength <= 0 {
		maxLength = DefaultMaxReplyLength
	}
	return &Sanitizer{maxLength: maxLength}
}

// Sanitize 先截断再反复剥离标记直到不再变化，因此结果对自身幂等。
func (s *Sanitizer) Sanitize(raw string) string {
	out := text.Truncate(raw, s.maxLength)
	for {
		next := strings.TrimSpace(stripMarkdown(out))
		if next == out {
			return out
		}
		out = next
	}
}

func stripMarkdown(s string) string {
	for _, r := range markdownRules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}
