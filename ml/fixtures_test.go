package ml

func sampleRows() []HistoricalRow {
	return []HistoricalRow{
		{ItemFatContent: "Low Fat", ItemType: "Dairy", ItemVisibility: 0.016, ItemWeight: 9.3, OutletEstablishmentYear: 1999, OutletLocationType: "Tier 1", OutletSize: "Medium", OutletType: "Supermarket Type1", Rating: 5, Sales: 3735.14},
		{ItemFatContent: "Regular", ItemType: "Soft Drinks", ItemVisibility: 0.019, ItemWeight: 5.92, OutletEstablishmentYear: 2009, OutletLocationType: "Tier 3", OutletSize: "Medium", OutletType: "Supermarket Type2", Rating: 3.9, Sales: 443.42},
		{ItemFatContent: "LF", ItemType: "Meat", ItemVisibility: 0.017, ItemWeight: 17.5, OutletEstablishmentYear: 1999, OutletLocationType: "Tier 1", OutletSize: "Medium", OutletType: "Supermarket Type1", Rating: 4.2, Sales: 2097.27},
		{ItemFatContent: "reg", ItemType: "Fruits and Vegetables", ItemVisibility: 0.0, WeightMissing: true, OutletEstablishmentYear: 1998, OutletLocationType: "Tier 3", OutletSize: "Small", OutletType: "Grocery Store", Rating: 4.1, Sales: 732.38},
		{ItemFatContent: "low fat", ItemType: "Household", ItemVisibility: 0.0, ItemWeight: 8.93, OutletEstablishmentYear: 1987, OutletLocationType: "Tier 3", OutletSize: "High", OutletType: "Supermarket Type1", Rating: 4.6, Sales: 994.71},
		{ItemFatContent: "Regular", ItemType: "Baking Goods", ItemVisibility: 0.041, ItemWeight: 10.395, OutletEstablishmentYear: 2009, OutletLocationType: "Tier 3", OutletSize: "Medium", OutletType: "Supermarket Type2", Rating: 3.2, Sales: 556.61},
		{ItemFatContent: "Regular", ItemType: "Snack Foods", ItemVisibility: 0.012, ItemWeight: 13.65, OutletEstablishmentYear: 1987, OutletLocationType: "Tier 3", OutletSize: "High", OutletType: "Supermarket Type1", Rating: 4.8, Sales: 343.55},
		{ItemFatContent: "Low Fat", ItemType: "Snack Foods", ItemVisibility: 0.127, WeightMissing: true, OutletEstablishmentYear: 1985, OutletLocationType: "Tier 3", OutletSize: "Medium", OutletType: "Supermarket Type3", Rating: 2.7, Sales: 4022.76},
		{ItemFatContent: "Regular", ItemType: "Frozen Foods", ItemVisibility: 0.016, ItemWeight: 16.2, OutletEstablishmentYear: 2002, OutletLocationType: "Tier 2", OutletSize: "Small", OutletType: "Supermarket Type1", Rating: 4.0, Sales: 1076.6},
		{ItemFatContent: "Regular", ItemType: "Frozen Foods", ItemVisibility: 0.094, ItemWeight: 19.2, OutletEstablishmentYear: 2007, OutletLocationType: "Tier 2", OutletSize: "Small", OutletType: "Supermarket Type1", Rating: 3.5, Sales: 4710.54},
		{ItemFatContent: "Low Fat", ItemType: "Fruits and Vegetables", ItemVisibility: 0.0, ItemWeight: 11.8, OutletEstablishmentYear: 1999, OutletLocationType: "Tier 1", OutletSize: "Medium", OutletType: "Supermarket Type1", Rating: 4.4, Sales: 1516.03},
		{ItemFatContent: "Regular", ItemType: "Dairy", ItemVisibility: 0.045, ItemWeight: 18.5, OutletEstablishmentYear: 1997, OutletLocationType: "Tier 1", OutletSize: "Small", OutletType: "Supermarket Type1", Rating: 4.9, Sales: 2187.15},
	}
}

func fitSample(variant Variant) *Encoder {
	enc, err := Fit(sampleRows(), FitOptions{Variant: variant, ReferenceYear: 2025})
	if err != nil {
		panic(err)
	}
	return enc
}

func float64Ptr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }

func dairyRequest() PredictionRequest {
	return PredictionRequest{
		ItemWeight:              9.3,
		ItemVisibility:          0.016,
		ItemFatContent:          "Low Fat",
		ItemType:                "Dairy",
		OutletSize:              "Medium",
		OutletLocationType:      "Tier 1",
		OutletType:              "Supermarket Type1",
		OutletEstablishmentYear: intPtr(1999),
	}
}
