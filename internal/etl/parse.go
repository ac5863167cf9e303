package etl

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// FileData 是解析后的导出文件：表头加等宽的数据行。
type FileData struct {
	Columns []string
	Rows    [][]string
	// RaggedRows 统计被补齐或截断的行数，写进数据质量报告。
	RaggedRows int
}

// ParseFile 读取竖线分隔、首行为表头的导出文件。
// 引号包裹的字段按 CSV 规则处理；列数不齐的行补空或截断并计数。
func ParseFile(path string) (*FileData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '|'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("解析文件失败: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("文件没有表头行")
	}

	header := records[0]
	columns := make([]string, len(header))
	for i, c := range header {
		columns[i] = strings.ToLower(strings.TrimSpace(stripBOM(c)))
	}
	if len(columns) == 0 || (len(columns) == 1 && columns[0] == "") {
		return nil, fmt.Errorf("表头行为空")
	}

	data := &FileData{Columns: columns}
	width := len(columns)
	for _, rec := range records[1:] {
		// 导出尾部偶见的全空行直接丢弃。
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) != width {
			data.RaggedRows++
			rec = fitWidth(rec, width)
		}
		data.Rows = append(data.Rows, rec)
	}
	return data, nil
}

func fitWidth(rec []string, width int) []string {
	if len(rec) > width {
		return rec[:width]
	}
	out := make([]string, width)
	copy(out, rec)
	return out
}

func stripBOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}
