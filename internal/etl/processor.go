package etl

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"hhsetl/internal/config"
	"hhsetl/internal/migrate"
	"hhsetl/internal/store"
)

// Processor 负责单个文件的完整处理：指纹判重、解析、结构校验、清洗、批量入库、留痕。
type Processor struct {
	st        *store.Store
	cfg       config.Config
	validator *migrate.Validator
	tr        *Transformer
	logger    *slog.Logger
}

func NewProcessor(st *store.Store, cfg config.Config, validator *migrate.Validator, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		st:        st,
		cfg:       cfg,
		validator: validator,
		tr:        NewTransformer(cfg.Quality, cfg.PHI),
		logger:    logger,
	}
}

// FileOutcome 是单文件处理结果，喂给作业层记账。
type FileOutcome struct {
	FileName  string
	TableName string
	Status    string
	Records   int64
	Inserted  int64
	Updated   int64
	Skipped   int64
	Error     string
	Seconds   float64
}

// ProcessFile 处理一个导出文件。文件级失败写进返回值而非 error；
// error 只在上下文取消时非空。force 跳过"已处理"指纹判断强制重跑。
func (p *Processor) ProcessFile(ctx context.Context, path string, trigger string, triggeredBy *string, force bool) (FileOutcome, error) {
	start := time.Now()
	out := FileOutcome{FileName: filepath.Base(path), Status: store.ETLFileFailed}
	var fileHash string
	finish := func() FileOutcome {
		out.Seconds = time.Since(start).Seconds()
		return out
	}
	fail := func(format string, args ...any) (FileOutcome, error) {
		out.Error = fmt.Sprintf(format, args...)
		p.logger.Error("文件处理失败", "file", out.FileName, "error", out.Error)
		p.recordMetadata(out, "failed", trigger, triggeredBy, path, fileHash, start)
		return finish(), nil
	}

	hash, err := FileSHA256(path)
	if err != nil {
		return fail("计算文件指纹失败: %v", err)
	}
	fileHash = hash

	if p.cfg.ETL.SkipProcessed && !force && !p.cfg.ETL.ForceReprocess {
		processed, err := p.st.IsFileProcessed(ctx, out.FileName, hash)
		if err != nil {
			p.logger.Warn("查询文件处理记录失败", "file", out.FileName, "error", err)
		} else if processed {
			out.Status = store.ETLFileSkipped
			p.logger.Info("文件内容未变化，跳过", "file", out.FileName)
			return finish(), nil
		}
	}

	table, ok := TableForFile(out.FileName, ImportableTables(p.cfg.Quality))
	if !ok {
		return fail("无法从文件名推断目标表")
	}
	out.TableName = table

	data, err := ParseFile(path)
	if err != nil {
		return fail("解析失败: %v", err)
	}
	out.Records = int64(len(data.Rows))

	findings, err := p.validator.CheckFile(ctx, table, out.FileName, data.Columns)
	if err != nil {
		if ctx.Err() != nil {
			return finish(), ctx.Err()
		}
		return fail("结构校验失败: %v", err)
	}
	missingTable := false
	for _, f := range findings {
		if insErr := p.st.InsertSchemaError(ctx, f); insErr != nil {
			p.logger.Warn("写入结构问题失败", "file", out.FileName, "error", insErr)
		}
		if f.ErrorType == "missing_table" {
			missingTable = true
		}
	}
	if missingTable {
		return fail("目标表 %s 不存在", table)
	}

	importCols, keepIdx, err := p.importableColumns(ctx, table, data.Columns)
	if err != nil {
		return fail("%v", err)
	}

	var issues []store.DataQualityIssue
	if data.RaggedRows > 0 {
		fn := out.FileName
		issues = append(issues, store.DataQualityIssue{
			TableName:        table,
			IssueType:        "ragged_rows",
			IssueDescription: fmt.Sprintf("%d 行列数与表头不一致，已补齐或截断", data.RaggedRows),
			FileName:         &fn,
		})
	}

	rows := make([][]any, 0, len(data.Rows))
	for _, rec := range data.Rows {
		projected := make([]string, len(keepIdx))
		for i, idx := range keepIdx {
			projected[i] = rec[idx]
		}
		values, rowIssues, ok := p.tr.Row(table, importCols, projected, out.FileName)
		issues = append(issues, rowIssues...)
		if !ok {
			out.Skipped++
			continue
		}
		rows = append(rows, values)
	}

	pk := p.cfg.Quality.PrimaryKey(table)
	batch := p.cfg.ETL.BatchSize
	for i := 0; i < len(rows); i += batch {
		if err := ctx.Err(); err != nil {
			return finish(), err
		}
		end := i + batch
		if end > len(rows) {
			end = len(rows)
		}
		inserted, updated, err := p.st.UpsertDomainRows(ctx, table, importCols, pk, rows[i:end])
		if err != nil {
			if ctx.Err() != nil {
				return finish(), ctx.Err()
			}
			out.Inserted, out.Updated = 0, 0
			return fail("写入第 %d-%d 行失败: %v", i+1, end, err)
		}
		out.Inserted += inserted
		out.Updated += updated
	}

	if len(issues) > 0 {
		if err := p.st.InsertDataQualityIssues(ctx, issues); err != nil {
			p.logger.Warn("写入数据质量问题失败", "file", out.FileName, "error", err)
		}
	}

	out.Status = store.ETLFileCompleted
	p.recordMetadata(out, "success", trigger, triggeredBy, path, fileHash, start)
	p.logger.Info("文件处理完成",
		"file", out.FileName,
		"table", table,
		"records", out.Records,
		"inserted", out.Inserted,
		"updated", out.Updated,
		"skipped", out.Skipped,
		"quality_issues", len(issues))
	return finish(), nil
}

// importableColumns 求文件表头与线上表结构的交集，保持文件内的列顺序。
// 主键列必须在交集里，否则无法 upsert。
func (p *Processor) importableColumns(ctx context.Context, table string, fileColumns []string) ([]string, []int, error) {
	tableCols, err := p.validator.TableColumns(ctx, table)
	if err != nil {
		return nil, nil, err
	}
	known := make(map[string]bool, len(tableCols))
	for _, c := range tableCols {
		known[c] = true
	}

	var cols []string
	var idx []int
	for i, c := range fileColumns {
		if known[c] {
			cols = append(cols, c)
			idx = append(idx, i)
		}
	}
	if len(cols) == 0 {
		return nil, nil, fmt.Errorf("文件没有任何列能对上表 %s", table)
	}
	pk := p.cfg.Quality.PrimaryKey(table)
	for _, c := range cols {
		if c == pk {
			return cols, idx, nil
		}
	}
	return nil, nil, fmt.Errorf("文件缺少主键列 %s，无法导入", pk)
}

// recordMetadata 把文件结果写进 etl_metadata；跳过的文件不覆盖上次成功记录。
func (p *Processor) recordMetadata(out FileOutcome, status string, trigger string, triggeredBy *string, path string, hash string, start time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec := store.ETLFileRecord{
		FileName:              out.FileName,
		TableName:             out.TableName,
		FileDate:              FileDate(path),
		RecordsProcessed:      out.Records,
		RecordsInserted:       out.Inserted,
		RecordsUpdated:        out.Updated,
		ProcessingStartedAt:   start.UTC().Format("2006-01-02 15:04:05"),
		ProcessingCompletedAt: time.Now().UTC().Format("2006-01-02 15:04:05"),
		Status:                status,
		FileHash:              hash,
		TriggerType:           trigger,
		TriggeredBy:           triggeredBy,
	}
	if out.Error != "" {
		msg := out.Error
		rec.ErrorMessage = &msg
	}
	if err := p.st.UpsertETLFileRecord(ctx, rec); err != nil {
		p.logger.Warn("写入 etl_metadata 失败", "file", out.FileName, "error", err)
	}
}
