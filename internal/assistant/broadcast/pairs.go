package broadcast

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/kart-io/logger"
)

// Pair 一组用于推送的问答。
type Pair struct {
	Question string `xml:"question"`
	Answer   string `xml:"answer"`
}

type pairsFile struct {
	XMLName xml.Name `xml:"pairs"`
	Pairs   []Pair   `xml:"pair"`
}

// LoadPairs 读取 <pairs><pair><question/><answer/></pair></pairs> 文件。
// 文件不存在时返回空列表；问题或答案为空的条目被跳过。
func LoadPairs(path string) ([]Pair, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warnw("broadcast pairs file not found", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pairs file: %w", err)
	}

	var f pairsFile
	if err := xml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pairs file %s: %w", path, err)
	}

	pairs := make([]Pair, 0, len(f.Pairs))
	for _, p := range f.Pairs {
		p.Question = strings.TrimSpace(p.Question)
		p.Answer = strings.TrimSpace(p.Answer)
		if p.Question == "" || p.Answer == "" {
			continue
		}
		pairs = append(pairs, p)
	}

	logger.Infow("broadcast pairs loaded", "path", path, "count", len(pairs))
	return pairs, nil
}

// Format 推送消息正文。
func (p Pair) Format() string {
	return fmt.Sprintf("Вопрос: %s\n\nОтвет: %s", p.Question, p.Answer)
}
