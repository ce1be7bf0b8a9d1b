package ml

// HistoricalRow is one record of the historical sales dataset the encoder is fitted on.
type HistoricalRow struct {
	ItemIdentifier          string
	ItemFatContent          string
	ItemType                string
	ItemVisibility          float64
	ItemWeight              float64
	WeightMissing           bool
	OutletIdentifier        string
	OutletEstablishmentYear int
	OutletLocationType      string
	OutletSize              string
	OutletType              string
	Rating                  float64
	Sales                   float64
}

// Category returns the raw value of a categorical field.
func (r HistoricalRow) Category(field string) string {
	switch field {
	case FieldItemFatContent:
		return r.ItemFatContent
	case FieldItemType:
		return r.ItemType
	case FieldOutletSize:
		return r.OutletSize
	case FieldOutletLocationType:
		return r.OutletLocationType
	case FieldOutletType:
		return r.OutletType
	default:
		return ""
	}
}

// MeanWeight averages the weights that are present. ok is false when every weight is missing.
func MeanWeight(rows []HistoricalRow) (mean float64, ok bool) {
	var sum float64
	var n int
	for _, row := range rows {
		if row.WeightMissing {
			continue
		}
		sum += row.ItemWeight
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
