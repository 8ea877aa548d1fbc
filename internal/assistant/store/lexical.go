package store

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/ru"
	"github.com/blevesearch/bleve/v2/mapping"
	htmlhl "github.com/blevesearch/bleve/v2/search/highlight/highlighter/html"
	index "github.com/blevesearch/bleve_index_api"
	"github.com/kart-io/logger"

	"github.com/kart-io/anticorruption-bot/pkg/utils/text"
)

// BackendBleve 关键词索引后端名称。
const BackendBleve = "bleve"

const (
	fieldText   = "text"
	fieldSource = "source"

	batchSize = 500
)

// BleveIndex 基于 bleve 的 BM25 关键词索引，使用俄语分词与词干。
type BleveIndex struct {
	index         bleve.Index
	maxChunkChars int
	status        IndexStatus
}

type lexicalDoc struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

func newLexicalMapping() *mapping.IndexMappingImpl {
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = ru.AnalyzerName
	textField.Store = true
	textField.IncludeTermVectors = true

	sourceField := bleve.NewTextFieldMapping()
	sourceField.Index = false
	sourceField.Store = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(fieldText, textField)
	doc.AddFieldMappingsAt(fieldSource, sourceField)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = ru.AnalyzerName
	m.ScoringModel = index.BM25Scoring
	return m
}

// BuildLexicalIndex 在 dir 下构建关键词索引，目录已存在时返回错误。
func BuildLexicalIndex(dir string, records []Record) error {
	idx, err := bleve.New(dir, newLexicalMapping())
	if err != nil {
		return fmt.Errorf("create lexical index: %w", err)
	}
	defer idx.Close()

	batch := idx.NewBatch()
	for i, r := range records {
		if err := batch.Index(strconv.Itoa(i), lexicalDoc{Text: r.Text, Source: r.Source}); err != nil {
			return fmt.Errorf("index record %d: %w", i, err)
		}
		if batch.Size() >= batchSize {
			if err := idx.Batch(batch); err != nil {
				return fmt.Errorf("write batch: %w", err)
			}
			batch.Reset()
		}
	}
	if batch.Size() > 0 {
		if err := idx.Batch(batch); err != nil {
			return fmt.Errorf("write batch: %w", err)
		}
	}
	return nil
}

// OpenLexicalIndex 以只读方式打开关键词索引。
// 目录不存在或无法打开时返回 unavailable 状态的空索引。
func OpenLexicalIndex(dir string, maxChunkChars int) *BleveIndex {
	b := &BleveIndex{maxChunkChars: maxChunkChars}

	if dir == "" {
		b.status = unavailable(BackendBleve, errors.New("lexical index disabled"))
		return b
	}
	if _, err := os.Stat(dir); err != nil {
		return b.degrade(err)
	}

	idx, err := bleve.OpenUsing(dir, map[string]interface{}{"read_only": true})
	if err != nil {
		return b.degrade(fmt.Errorf("open lexical index %s: %w", dir, err))
	}

	count, err := idx.DocCount()
	if err != nil {
		_ = idx.Close()
		return b.degrade(err)
	}

	b.index = idx
	b.status = IndexStatus{Backend: BackendBleve, State: StateOK, Size: int(count)}
	logger.Infow("lexical index loaded", "dir", dir, "size", count)
	return b
}

func (b *BleveIndex) degrade(err error) *BleveIndex {
	logger.Warnw("lexical index unavailable, keyword search disabled", "error", err.Error())
	b.status = unavailable(BackendBleve, err)
	return b
}

// Status 返回索引状态。
func (b *BleveIndex) Status() IndexStatus {
	return b.status
}

// SanitizeQuery 将字母、数字、下划线和空白之外的字符替换为空格。
func SanitizeQuery(q string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, q)
}

// Search 按 BM25 检索，返回高亮片段；没有片段时返回文档开头。
func (b *BleveIndex) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	if b.index == nil || k <= 0 {
		return nil, nil
	}
	q := strings.TrimSpace(SanitizeQuery(query))
	if q == "" {
		return nil, nil
	}

	mq := bleve.NewMatchQuery(q)
	mq.SetField(fieldText)

	req := bleve.NewSearchRequestOptions(mq, k, 0, false)
	req.Fields = []string{fieldText, fieldSource}
	req.Highlight = bleve.NewHighlightWithStyle(htmlhl.Name)
	req.Highlight.AddField(fieldText)

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, m := range res.Hits {
		id, _ := strconv.ParseInt(m.ID, 10, 64)
		source, _ := m.Fields[fieldSource].(string)

		snippet := bestFragment(m.Fragments[fieldText])
		if snippet == "" {
			snippet, _ = m.Fields[fieldText].(string)
		}

		hits = append(hits, Hit{
			Index:  id,
			Text:   text.Truncate(strings.TrimSpace(snippet), b.maxChunkChars),
			Source: source,
			Score:  m.Score,
		})
	}
	return hits, nil
}

var markReplacer = strings.NewReplacer("<mark>", "", "</mark>", "")

func bestFragment(fragments []string) string {
	for _, f := range fragments {
		f = strings.TrimSpace(html.UnescapeString(markReplacer.Replace(f)))
		f = strings.Trim(f, "…")
		if f = strings.TrimSpace(f); f != "" {
			return f
		}
	}
	return ""
}

// Close 关闭索引。
func (b *BleveIndex) Close() error {
	if b.index == nil {
		return nil
	}
	return b.index.Close()
}
