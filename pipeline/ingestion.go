package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"salescast/ml"
)

// DefaultSheet 原始数据工作簿中的工作表名
const DefaultSheet = "BlinkIT Grocery Data"

// RawRecord 数据文件中的一行，键为规范化后的列名
type RawRecord struct {
	Line   int
	Values map[string]string
}

// LoadOptions 数据加载配置
type LoadOptions struct {
	Sheet         string
	Variant       ml.Variant
	ReferenceYear int
	Logger        *zap.Logger
}

// Dataset 清洗后的历史数据
type Dataset struct {
	Source   string
	Rows     []ml.HistoricalRow
	HasSales bool
	Stats    CleaningStats
	Issues   []QualityIssue
}

// columnAliases 列名别名 -> 规范列名
var columnAliases = map[string]string{
	"item_identifier":           "item_identifier",
	"item_id":                   "item_identifier",
	"item_fat_content":          ml.FieldItemFatContent,
	"fat_content":               ml.FieldItemFatContent,
	"item_type":                 ml.FieldItemType,
	"item_visibility":           ml.FieldItemVisibility,
	"item_weight":               ml.FieldItemWeight,
	"outlet_identifier":         "outlet_identifier",
	"outlet_id":                 "outlet_identifier",
	"outlet_establishment_year": ml.FieldOutletEstablishmentYear,
	"outlet_location_type":      ml.FieldOutletLocationType,
	"outlet_size":               ml.FieldOutletSize,
	"outlet_type":               ml.FieldOutletType,
	"rating":                    ml.FieldRating,
	"sales":                     "sales",
	"total_sales":               "sales",
	"item_outlet_sales":         "sales",
}

// RequiredColumns 返回指定变体必须存在的列
func RequiredColumns(variant ml.Variant) []string {
	cols := []string{
		ml.FieldItemType,
		ml.FieldItemVisibility,
		ml.FieldItemWeight,
		ml.FieldOutletLocationType,
		ml.FieldOutletSize,
		ml.FieldOutletType,
	}
	if variant == ml.VariantOutletAge {
		return append(cols, ml.FieldItemFatContent, ml.FieldOutletEstablishmentYear)
	}
	return append(cols, ml.FieldRating)
}

// LoadHistorical 读取 .csv 或 .xlsx 历史数据并清洗
func LoadHistorical(path string, opts LoadOptions) (*Dataset, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var records []RawRecord
	var columns []string
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		var f *os.File
		if f, err = os.Open(path); err != nil {
			return nil, err
		}
		defer f.Close()
		columns, records, err = ReadCSV(f)
	case ".xlsx", ".xlsm":
		var f *os.File
		if f, err = os.Open(path); err != nil {
			return nil, err
		}
		defer f.Close()
		columns, records, err = ReadXLSX(f, opts.Sheet)
	default:
		return nil, fmt.Errorf("unsupported dataset format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := checkColumns(columns, RequiredColumns(opts.Variant)); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cleaner := NewDataCleaner(CleanerOptions{
		Variant:       opts.Variant,
		ReferenceYear: opts.ReferenceYear,
		Logger:        logger,
	})
	rows, issues := cleaner.Clean(records)
	stats := cleaner.GetStats()
	if len(rows) == 0 {
		return nil, fmt.Errorf("read %s: no usable rows (%d rejected)", path, stats.Rejected)
	}
	FillMissingWeights(rows)

	logger.Info("historical dataset loaded",
		zap.String("path", path),
		zap.Int64("processed", stats.TotalProcessed),
		zap.Int64("passed", stats.Passed),
		zap.Int64("rejected", stats.Rejected),
		zap.Int64("corrected", stats.Corrected),
	)
	return &Dataset{
		Source:   path,
		Rows:     rows,
		HasSales: hasColumn(columns, "sales"),
		Stats:    stats,
		Issues:   issues,
	}, nil
}

// ReadCSV 读取带表头的 CSV，兼容 UTF-8/UTF-16 BOM
func ReadCSV(r io.Reader) ([]string, []RawRecord, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("empty file")
		}
		return nil, nil, err
	}
	columns := normalizeHeader(header)

	var records []RawRecord
	line := 1
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, toRecord(line, columns, fields))
	}
	return columns, records, nil
}

// ReadXLSX 读取工作簿中的一张表，sheet 为空时使用 DefaultSheet 或第一张表
func ReadXLSX(r io.Reader, sheet string) ([]string, []RawRecord, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, err
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, errors.New("workbook has no sheets")
	}
	if sheet == "" {
		sheet = sheets[0]
		for _, name := range sheets {
			if name == DefaultSheet {
				sheet = name
			}
		}
	}

	rows, err := book.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("sheet %q is empty", sheet)
	}
	columns := normalizeHeader(rows[0])
	records := make([]RawRecord, 0, len(rows)-1)
	for i, fields := range rows[1:] {
		if isBlank(fields) {
			continue
		}
		records = append(records, toRecord(i+2, columns, fields))
	}
	return columns, records, nil
}

// ToHistoricalRow 将原始记录解析为历史数据行，空重量标记为缺失
func ToHistoricalRow(rec RawRecord) (*ml.HistoricalRow, error) {
	row := &ml.HistoricalRow{
		ItemIdentifier:     rec.Values["item_identifier"],
		ItemFatContent:     rec.Values[ml.FieldItemFatContent],
		ItemType:           rec.Values[ml.FieldItemType],
		OutletIdentifier:   rec.Values["outlet_identifier"],
		OutletLocationType: rec.Values[ml.FieldOutletLocationType],
		OutletSize:         rec.Values[ml.FieldOutletSize],
		OutletType:         rec.Values[ml.FieldOutletType],
	}

	var err error
	if row.ItemVisibility, err = parseFloat(rec, ml.FieldItemVisibility); err != nil {
		return nil, err
	}
	if strings.TrimSpace(rec.Values[ml.FieldItemWeight]) == "" {
		row.WeightMissing = true
	} else if row.ItemWeight, err = parseFloat(rec, ml.FieldItemWeight); err != nil {
		return nil, err
	}
	if raw := strings.TrimSpace(rec.Values[ml.FieldOutletEstablishmentYear]); raw != "" {
		year, err := parseFloat(rec, ml.FieldOutletEstablishmentYear)
		if err != nil {
			return nil, err
		}
		row.OutletEstablishmentYear = int(year)
	}
	if raw := strings.TrimSpace(rec.Values[ml.FieldRating]); raw != "" {
		if row.Rating, err = parseFloat(rec, ml.FieldRating); err != nil {
			return nil, err
		}
	}
	if raw := strings.TrimSpace(rec.Values["sales"]); raw != "" {
		if row.Sales, err = parseFloat(rec, "sales"); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func parseFloat(rec RawRecord, column string) (float64, error) {
	raw := strings.TrimSpace(rec.Values[column])
	if raw == "" {
		return 0, fmt.Errorf("%s is empty", column)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not a number", column, raw)
	}
	return v, nil
}

// normalizeHeader "Item Weight" -> "item_weight"，未知列保留规范化后的名字
func normalizeHeader(header []string) []string {
	columns := make([]string, len(header))
	for i, name := range header {
		key := strings.ToLower(ml.CleanLabel(name))
		key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
		if canonical, ok := columnAliases[key]; ok {
			key = canonical
		}
		columns[i] = key
	}
	return columns
}

func toRecord(line int, columns, fields []string) RawRecord {
	values := make(map[string]string, len(columns))
	for i, column := range columns {
		if i < len(fields) {
			values[column] = fields[i]
		}
	}
	return RawRecord{Line: line, Values: values}
}

func checkColumns(columns, required []string) error {
	var missing []string
	for _, want := range required {
		if !hasColumn(columns, want) {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

func hasColumn(columns []string, name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}
	return false
}

func isBlank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
