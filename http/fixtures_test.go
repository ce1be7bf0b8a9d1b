package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"salescast/db"
	"salescast/ml"
	"salescast/monitoring"
)

type constantModel struct {
	value    float64
	features int
}

func (m constantModel) Predict([]float64) (float64, error) { return m.value, nil }
func (m constantModel) NumFeatures() int                   { return m.features }

type failingModel struct {
	features int
}

func (m failingModel) Predict([]float64) (float64, error) { return 0, errors.New("tree corrupted") }
func (m failingModel) NumFeatures() int                   { return m.features }

// memoryLog 内存预测日志
type memoryLog struct {
	mu      sync.Mutex
	records []db.PredictionRecord
	pingErr error
}

func (l *memoryLog) SavePrediction(_ context.Context, rec *db.PredictionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec.ID = int64(len(l.records) + 1)
	l.records = append(l.records, *rec)
	return nil
}

func (l *memoryLog) RecentPredictions(_ context.Context, userID int64, limit int) ([]db.PredictionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []db.PredictionRecord
	for i := len(l.records) - 1; i >= 0 && len(out) < limit; i-- {
		if l.records[i].UserID.Valid && l.records[i].UserID.Int64 == userID {
			out = append(out, l.records[i])
		}
	}
	return out, nil
}

func (l *memoryLog) Ping(context.Context) error {
	return l.pingErr
}

func (l *memoryLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// memoryUsers 内存用户存储
type memoryUsers struct {
	mu    sync.Mutex
	users []db.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{}
}

func (m *memoryUsers) CreateUser(_ context.Context, u *db.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return db.ErrConflict
		}
	}
	u.ID = int64(len(m.users) + 1)
	u.CreatedAt = time.Now().UTC()
	m.users = append(m.users, *u)
	return nil
}

func (m *memoryUsers) FindUserByUsername(_ context.Context, username string) (*db.User, error) {
	return m.find(func(u db.User) bool { return u.Username == username })
}

func (m *memoryUsers) FindUserByEmail(_ context.Context, email string) (*db.User, error) {
	return m.find(func(u db.User) bool { return u.Email == email })
}

func (m *memoryUsers) FindUserByID(_ context.Context, id int64) (*db.User, error) {
	return m.find(func(u db.User) bool { return u.ID == id })
}

func (m *memoryUsers) find(match func(db.User) bool) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			found := u
			return &found, nil
		}
	}
	return nil, db.ErrNotFound
}

func testEncoder(t *testing.T) *ml.Encoder {
	t.Helper()
	rows := []ml.HistoricalRow{
		{ItemFatContent: "Low Fat", ItemType: "Dairy", ItemVisibility: 0.016, ItemWeight: 9.3, OutletEstablishmentYear: 1999, OutletLocationType: "Tier 1", OutletSize: "Medium", OutletType: "Supermarket Type1", Sales: 3735.14},
		{ItemFatContent: "Regular", ItemType: "Soft Drinks", ItemVisibility: 0.019, ItemWeight: 5.92, OutletEstablishmentYear: 2009, OutletLocationType: "Tier 3", OutletSize: "Medium", OutletType: "Supermarket Type2", Sales: 443.42},
		{ItemFatContent: "LF", ItemType: "Meat", ItemVisibility: 0.017, ItemWeight: 17.5, OutletEstablishmentYear: 1999, OutletLocationType: "Tier 1", OutletSize: "Small", OutletType: "Grocery Store", Sales: 2097.27},
		{ItemFatContent: "reg", ItemType: "Snack Foods", ItemVisibility: 0.1, WeightMissing: true, OutletEstablishmentYear: 1987, OutletLocationType: "Tier 2", OutletSize: "High", OutletType: "Supermarket Type3", Sales: 732.38},
	}
	enc, err := ml.Fit(rows, ml.FitOptions{Variant: ml.VariantOutletAge, ReferenceYear: 2025})
	if err != nil {
		t.Fatalf("fit encoder: %v", err)
	}
	return enc
}

// newTestPredictor 返回装载了 model 的预测器；model 为空时处于降级模式
func newTestPredictor(t *testing.T, enc *ml.Encoder, model ml.Regressor) *ml.Predictor {
	t.Helper()
	p := ml.NewPredictor(enc, ml.PredictorOptions{})
	if model != nil {
		if err := p.SetModel(model, ml.MetadataFor(enc, ml.ModelGradientBoostedTrees)); err != nil {
			t.Fatalf("install model: %v", err)
		}
	}
	return p
}

func newTestRouter(t *testing.T, deps Dependencies) http.Handler {
	t.Helper()
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetricsCollector()
	}
	handler, err := NewRouter(DefaultServerConfig(), deps)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return handler
}

const dairyJSON = `{
	"item_weight": 9.3,
	"item_visibility": 0.016,
	"item_fat_content": "low fat",
	"item_type": "Dairy",
	"outlet_size": "Medium",
	"outlet_location_type": "Tier 1",
	"outlet_type": "Supermarket Type1",
	"outlet_establishment_year": 1999
}`
