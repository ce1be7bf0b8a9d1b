package pipeline

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"salescast/ml"
)

// CleaningRule 清洗规则
type CleaningRule interface {
	Apply(*ml.HistoricalRow) (*ml.HistoricalRow, error)
	Name() string
}

// QualityIssue 质量问题
type QualityIssue struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"` // low, medium, high
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Line      int       `json:"line"`
}

// CleaningStats 清洗统计
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Corrected      int64            `json:"corrected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// CleanerOptions 清洗器配置
type CleanerOptions struct {
	Variant       ml.Variant
	ReferenceYear int
	Logger        *zap.Logger
}

// DataCleaner 数据清洗器
type DataCleaner struct {
	rules []CleaningRule

	stats     CleaningStats
	statsLock sync.RWMutex

	logger *zap.Logger
}

// NewDataCleaner 创建数据清洗器，按变体添加默认规则
func NewDataCleaner(opts CleanerOptions) *DataCleaner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReferenceYear <= 0 {
		opts.ReferenceYear = ml.DefaultReferenceYear
	}
	cleaner := &DataCleaner{
		rules: make([]CleaningRule, 0),
		stats: CleaningStats{
			Issues: make(map[string]int64),
		},
		logger: logger.Named("cleaner"),
	}

	cleaner.AddRule(NewRequiredCategoryRule(opts.Variant))
	cleaner.AddRule(NewFatContentRule())
	cleaner.AddRule(NewVisibilityRule())
	cleaner.AddRule(NewWeightRule())
	if opts.Variant == ml.VariantOutletAge {
		cleaner.AddRule(NewEstablishmentYearRule(opts.ReferenceYear))
	} else {
		cleaner.AddRule(NewRatingRule())
	}
	cleaner.AddRule(NewSalesRule())
	cleaner.AddRule(NewDuplicateDetectionRule())

	return cleaner
}

// AddRule 添加清洗规则
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
	dc.logger.Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

// Clean 解析并清洗记录，返回通过的行和被拒绝行的问题
func (dc *DataCleaner) Clean(records []RawRecord) ([]ml.HistoricalRow, []QualityIssue) {
	var cleaned []ml.HistoricalRow
	var issues []QualityIssue

	dc.statsLock.Lock()
	defer dc.statsLock.Unlock()

	for _, rec := range records {
		dc.stats.TotalProcessed++

		row, err := ToHistoricalRow(rec)
		if err != nil {
			issue := dc.newIssue("parse", rec.Line, err)
			dc.reject(&issues, []QualityIssue{issue})
			continue
		}

		original := *row
		var rowIssues []QualityIssue

		for _, rule := range dc.rules {
			cleanedRow, err := rule.Apply(row)
			if err != nil {
				rowIssues = append(rowIssues, dc.newIssue(rule.Name(), rec.Line, err))
				continue
			}
			if cleanedRow != nil {
				row = cleanedRow
			}
		}

		if len(rowIssues) > 0 {
			dc.reject(&issues, rowIssues)
			continue
		}
		if original != *row {
			dc.stats.Corrected++
		}
		dc.stats.Passed++
		cleaned = append(cleaned, *row)
	}

	dc.stats.LastClean = time.Now()
	if dc.stats.Rejected > 0 {
		dc.logger.Warn("rows rejected during cleaning",
			zap.Int64("rejected", dc.stats.Rejected),
			zap.Any("issues", dc.stats.Issues),
		)
	}
	return cleaned, issues
}

func (dc *DataCleaner) newIssue(kind string, line int, err error) QualityIssue {
	dc.stats.Issues[kind]++
	return QualityIssue{
		Type:      kind,
		Severity:  "high",
		Message:   err.Error(),
		Timestamp: time.Now(),
		Line:      line,
	}
}

func (dc *DataCleaner) reject(out *[]QualityIssue, rowIssues []QualityIssue) {
	dc.stats.Rejected++
	*out = append(*out, rowIssues...)
}

// GetStats 获取统计信息
func (dc *DataCleaner) GetStats() CleaningStats {
	dc.statsLock.RLock()
	defer dc.statsLock.RUnlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// FillMissingWeights 用已知重量的均值填充缺失重量，WeightMissing 标记保留
func FillMissingWeights(rows []ml.HistoricalRow) float64 {
	mean, ok := ml.MeanWeight(rows)
	if !ok {
		return 0
	}
	for i := range rows {
		if rows[i].WeightMissing {
			rows[i].ItemWeight = mean
		}
	}
	return mean
}

// ============ 清洗规则实现 ============

// RequiredCategoryRule 必填类别字段
type RequiredCategoryRule struct {
	Fields []string
}

func NewRequiredCategoryRule(variant ml.Variant) *RequiredCategoryRule {
	fields := []string{ml.FieldItemType, ml.FieldOutletSize, ml.FieldOutletLocationType, ml.FieldOutletType}
	if variant == ml.VariantOutletAge {
		fields = append(fields, ml.FieldItemFatContent)
	}
	return &RequiredCategoryRule{Fields: fields}
}

func (r *RequiredCategoryRule) Name() string {
	return "required_category"
}

func (r *RequiredCategoryRule) Apply(row *ml.HistoricalRow) (*ml.HistoricalRow, error) {
	for _, field := range r.Fields {
		if ml.CleanLabel(row.Category(field)) == "" {
			return nil, fmt.Errorf("%s is empty", field)
		}
	}
	return row, nil
}

// FatContentRule 统一脂肪含量写法（LF、low fat -> Low Fat，reg -> Regular）
type FatContentRule struct{}

func NewFatContentRule() *FatContentRule {
	return &FatContentRule{}
}

func (r *FatContentRule) Name() string {
	return "fat_content"
}

func (r *FatContentRule) Apply(row *ml.HistoricalRow) (*ml.HistoricalRow, error) {
	if row.ItemFatContent == "" {
		return row, nil
	}
	fixed := *row
	fixed.ItemFatContent = ml.CanonicalLabel(ml.FieldItemFatContent, row.ItemFatContent)
	return &fixed, nil
}

// VisibilityRule 可见度范围 [0, 1]
type VisibilityRule struct {
	Min float64
	Max float64
}

func NewVisibilityRule() *VisibilityRule {
	return &VisibilityRule{Min: 0, Max: 1}
}

func (r *VisibilityRule) Name() string {
	return "visibility_range"
}

func (r *VisibilityRule) Apply(row *ml.HistoricalRow) (*ml.HistoricalRow, error) {
	if math.IsNaN(row.ItemVisibility) || row.ItemVisibility < r.Min || row.ItemVisibility > r.Max {
		return nil, fmt.Errorf("item visibility %.4f out of range [%.0f, %.0f]", row.ItemVisibility, r.Min, r.Max)
	}
	return row, nil
}

// WeightRule 非正或非有限的重量视为缺失
type WeightRule struct{}

func NewWeightRule() *WeightRule {
	return &WeightRule{}
}

func (r *WeightRule) Name() string {
	return "weight"
}

func (r *WeightRule) Apply(row *ml.HistoricalRow) (*ml.HistoricalRow, error) {
	if row.WeightMissing {
		return row, nil
	}
	if row.ItemWeight > 0 && !math.IsInf(row.ItemWeight, 0) && !math.IsNaN(row.ItemWeight) {
		return row, nil
	}
	fixed := *row
	fixed.ItemWeight = 0
	fixed.WeightMissing = true
	return &fixed, nil
}

// EstablishmentYearRule 开业年份须在 [MinYear, ReferenceYear]
type EstablishmentYearRule struct {
	MinYear       int
	ReferenceYear int
}

func NewEstablishmentYearRule(referenceYear int) *EstablishmentYearRule {
	return &EstablishmentYearRule{MinYear: 1900, ReferenceYear: referenceYear}
}

func (r *EstablishmentYearRule) Name() string {
	return "establishment_year"
}

func (r *EstablishmentYearRule) Apply(row *ml.HistoricalRow) (*ml.HistoricalRow, error) {
	if row.OutletEstablishmentYear < r.MinYear || row.OutletEstablishmentYear > r.ReferenceYear {
		return nil, fmt.Errorf("establishment year %d out of range [%d, %d]",
			row.OutletEstablishmentYear, r.MinYear, r.ReferenceYear)
	}
	return row, nil
}

// RatingRule 评分范围 [0, 5]
type RatingRule struct{}

func NewRatingRule() *RatingRule {
	return &RatingRule{}
}

func (r *RatingRule) Name() string {
	return "rating_range"
}

func (r *RatingRule) Apply(row *ml.HistoricalRow) (*ml.HistoricalRow, error) {
	if math.IsNaN(row.Rating) || row.Rating < 0 || row.Rating > 5 {
		return nil, fmt.Errorf("rating %.2f out of range [0, 5]", row.Rating)
	}
	return row, nil
}

// SalesRule 销售额不能为负
type SalesRule struct{}

func NewSalesRule() *SalesRule {
	return &SalesRule{}
}

func (r *SalesRule) Name() string {
	return "sales"
}

func (r *SalesRule) Apply(row *ml.HistoricalRow) (*ml.HistoricalRow, error) {
	if math.IsNaN(row.Sales) || math.IsInf(row.Sales, 0) || row.Sales < 0 {
		return nil, fmt.Errorf("sales %.2f is invalid", row.Sales)
	}
	return row, nil
}

// DuplicateDetectionRule 同一商品在同一门店只保留一行
type DuplicateDetectionRule struct {
	seenMap map[string]struct{}
	mu      sync.Mutex
}

func NewDuplicateDetectionRule() *DuplicateDetectionRule {
	return &DuplicateDetectionRule{
		seenMap: make(map[string]struct{}),
	}
}

func (r *DuplicateDetectionRule) Name() string {
	return "duplicate_detection"
}

func (r *DuplicateDetectionRule) Apply(row *ml.HistoricalRow) (*ml.HistoricalRow, error) {
	item := strings.TrimSpace(row.ItemIdentifier)
	outlet := strings.TrimSpace(row.OutletIdentifier)
	if item == "" || outlet == "" {
		return row, nil
	}
	key := item + "_" + outlet

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.seenMap[key]; exists {
		return nil, fmt.Errorf("duplicate row: item %s at outlet %s", item, outlet)
	}

	r.seenMap[key] = struct{}{}
	return row, nil
}
