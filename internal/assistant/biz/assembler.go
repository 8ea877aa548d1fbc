package biz

import (
	"fmt"
	"strings"

	"github.com/kart-io/anticorruption-bot/pkg/utils/text"
)

// AssemblerConfig 上下文组装配置。
type AssemblerConfig struct {
	// MaxChunks 使用的片段数量上限。
	MaxChunks int
	// MaxChunkChars 单个片段的字符上限。
	MaxChunkChars int
	// MaxChars 整个上下文的字符上限。
	MaxChars int
}

// DefaultAssemblerConfig 返回默认配置。
func DefaultAssemblerConfig() *AssemblerConfig {
	return &AssemblerConfig{MaxChunks: 5, MaxChunkChars: 1500, MaxChars: 7000}
}

// Assembler 将片段拼接为带编号的上下文。
type Assembler struct {
	config *AssemblerConfig
}

// NewAssembler 创建组装器。
func NewAssembler(config *AssemblerConfig) *Assembler {
	if config == nil {
		config = DefaultAssemblerConfig()
	}
	return &Assembler{config: config}
}

// Assemble 每个片段标注为 "[Пункт N]"，有来源时附加 "(来源)"，片段间以换行分隔。
// 超出总上限时从尾部截断。空输入返回空串。
func (a *Assembler) Assemble(chunks []RetrievedChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	if a.config.MaxChunks > 0 && len(chunks) > a.config.MaxChunks {
		chunks = chunks[:a.config.MaxChunks]
	}

	parts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		body := text.Truncate(c.Text, a.config.MaxChunkChars)
		if c.Source != "" {
			parts = append(parts, fmt.Sprintf("[Пункт %d] (%s) %s", i+1, c.Source, body))
		} else {
			parts = append(parts, fmt.Sprintf("[Пункт %d] %s", i+1, body))
		}
	}

	return text.Truncate(strings.Join(parts, "\n"), a.config.MaxChars)
}
