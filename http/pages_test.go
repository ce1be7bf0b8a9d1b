package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"salescast/auth"
	"salescast/db"
	"salescast/ml"
	"salescast/monitoring"
)

func TestPublicPages(t *testing.T) {
	handler := newTestRouter(t, Dependencies{
		Predictor: newTestPredictor(t, testEncoder(t), constantModel{value: 1, features: 8}),
	})

	tests := []struct {
		path   string
		status int
		want   string
	}{
		{"/", http.StatusOK, `<option value="Snack Foods">Snack Foods</option>`},
		{"/", http.StatusOK, `name="outlet_establishment_year" type="number" step="1" min="1900" max="2025"`},
		{"/about", http.StatusOK, "<h1>About</h1>"},
		{"/how-it-works", http.StatusOK, "<h1>How it works</h1>"},
		{"/contact", http.StatusOK, "<h1>Contact</h1>"},
		{"/does-not-exist", http.StatusNotFound, "<h1>Page not found</h1>"},
		{"/static/style.css", http.StatusOK, ".topbar"},
		{"/login", http.StatusNotFound, "Page not found"},
	}

	for _, tt := range tests {
		w := get(handler, tt.path)
		if w.Code != tt.status {
			t.Fatalf("%s: expected %d, got %d", tt.path, tt.status, w.Code)
		}
		if !strings.Contains(w.Body.String(), tt.want) {
			t.Fatalf("%s: expected body to contain %q:\n%s", tt.path, tt.want, w.Body.String())
		}
	}
}

func TestHomeRendersConcurrently(t *testing.T) {
	handler := newTestRouter(t, Dependencies{
		Predictor: newTestPredictor(t, testEncoder(t), constantModel{value: 1, features: 8}),
	})

	var wg sync.WaitGroup
	failures := make(chan string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				w := get(handler, "/")
				if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Outlet Location Type") {
					failures <- fmt.Sprintf("status %d", w.Code)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(failures)
	for msg := range failures {
		t.Fatalf("concurrent render failed: %s", msg)
	}
}

func TestFieldLabel(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if got := fieldLabel(ml.FieldOutletLocationType); got != "Outlet Location Type" {
					t.Errorf("fieldLabel = %q", got)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestHomeWarnsWhenModelMissing(t *testing.T) {
	handler := newTestRouter(t, Dependencies{Predictor: newTestPredictor(t, testEncoder(t), nil)})

	w := get(handler, "/")
	if !strings.Contains(w.Body.String(), "Predictions are unavailable") {
		t.Fatalf("expected degraded notice:\n%s", w.Body.String())
	}
}

func TestAPINotFoundIsJSON(t *testing.T) {
	handler := newTestRouter(t, Dependencies{Predictor: newTestPredictor(t, testEncoder(t), nil)})

	w := get(handler, "/api/unknown")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if payload := decodeBody(t, w); payload["code"] != codeNotFound {
		t.Fatalf("unexpected body: %v", payload)
	}
}

// testSite 带真实 SQLite 存储和会话的完整站点
type testSite struct {
	server *httptest.Server
	client *http.Client
	store  *db.Store
	hub    *monitoring.Hub
}

func newTestSite(t *testing.T) *testSite {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store, err := db.InitDB(ctx, "sqlite3", filepath.Join(t.TempDir(), "site.db"))
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sessions, err := auth.NewSessionManager(auth.SessionOptions{Secret: "site-test-secret-0123456789"})
	if err != nil {
		t.Fatal(err)
	}
	hub := monitoring.NewHub(nil, nil)
	go hub.Run(ctx)

	handler := newTestRouter(t, Dependencies{
		Predictor:   newTestPredictor(t, testEncoder(t), constantModel{value: 1234.5678, features: 8}),
		Predictions: store,
		Users:       auth.NewService(store, auth.NewBcryptHasher(bcrypt.MinCost), nil),
		Sessions:    sessions,
		AuthEnabled: true,
		Hub:         hub,
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &testSite{
		server: server,
		client: &http.Client{Jar: jar, Timeout: 5 * time.Second},
		store:  store,
		hub:    hub,
	}
}

func (s *testSite) do(t *testing.T, method, path, contentType, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, s.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(data)
}

func (s *testSite) postForm(t *testing.T, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	return s.do(t, http.MethodPost, path, "application/x-www-form-urlencoded", form.Encode())
}

func TestAccountFlow(t *testing.T) {
	site := newTestSite(t)

	// 未登录访问仪表盘跳转到登录页
	resp, body := site.do(t, http.MethodGet, "/dashboard", "", "")
	if resp.Request.URL.Path != "/login" || resp.Request.URL.Query().Get("next") != "/dashboard" {
		t.Fatalf("expected redirect to login, ended at %s", resp.Request.URL)
	}
	if !strings.Contains(body, "Please log in to continue.") {
		t.Fatalf("expected flash message:\n%s", body)
	}

	// 匿名预测被拒绝
	resp, _ = site.do(t, http.MethodPost, "/predict", "application/json", dairyJSON)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	// 表单校验
	resp, body = site.postForm(t, "/register", url.Values{
		"username":         {"alice"},
		"email":            {"alice@example.com"},
		"password":         {"correct-horse"},
		"confirm_password": {"wrong-horse"},
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "does not match password") || !strings.Contains(body, `value="alice@example.com"`) {
		t.Fatalf("expected form errors and kept values:\n%s", body)
	}

	long := strings.Repeat("p", 80)
	resp, body = site.postForm(t, "/register", url.Values{
		"username":         {"alice"},
		"email":            {"alice@example.com"},
		"password":         {long},
		"confirm_password": {long},
	})
	if resp.StatusCode != http.StatusUnprocessableEntity || !strings.Contains(body, "must be at most 72 bytes") {
		t.Fatalf("expected 422 for an overlong password, got %d:\n%s", resp.StatusCode, body)
	}

	resp, body = site.postForm(t, "/register", url.Values{
		"username":         {"alice"},
		"email":            {"Alice@Example.com"},
		"password":         {"correct-horse"},
		"confirm_password": {"correct-horse"},
	})
	if resp.StatusCode != http.StatusOK || resp.Request.URL.Path != "/dashboard" {
		t.Fatalf("expected dashboard after registration, got %d at %s", resp.StatusCode, resp.Request.URL)
	}
	if !strings.Contains(body, "Welcome, alice!") || !strings.Contains(body, "No predictions yet") {
		t.Fatalf("unexpected dashboard:\n%s", body)
	}

	// 登录后的预测写入该用户的记录
	resp, _ = site.do(t, http.MethodPost, "/predict", "application/json", dairyJSON)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	_, body = site.do(t, http.MethodGet, "/dashboard", "", "")
	if !strings.Contains(body, "1234.57") || !strings.Contains(body, "Item Type: Dairy") {
		t.Fatalf("expected prediction on dashboard:\n%s", body)
	}

	resp, body = site.do(t, http.MethodPost, "/logout", "", "")
	if resp.Request.URL.Path != "/" || !strings.Contains(body, "You have been logged out.") {
		t.Fatalf("unexpected logout result at %s:\n%s", resp.Request.URL, body)
	}
	resp, _ = site.do(t, http.MethodPost, "/predict", "application/json", dairyJSON)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}

	resp, body = site.postForm(t, "/register", url.Values{
		"username":         {"alice"},
		"email":            {"other@example.com"},
		"password":         {"correct-horse"},
		"confirm_password": {"correct-horse"},
	})
	if resp.StatusCode != http.StatusUnprocessableEntity || !strings.Contains(body, "is already taken") {
		t.Fatalf("expected duplicate username error, got %d:\n%s", resp.StatusCode, body)
	}

	resp, body = site.postForm(t, "/login", url.Values{"username": {"alice"}, "password": {"nope-nope"}})
	if resp.StatusCode != http.StatusUnauthorized || !strings.Contains(body, "Invalid username or password.") {
		t.Fatalf("expected login failure, got %d:\n%s", resp.StatusCode, body)
	}

	resp, body = site.postForm(t, "/login", url.Values{
		"username": {"alice"},
		"password": {"correct-horse"},
		"next":     {"//evil.example/"},
	})
	if resp.StatusCode != http.StatusOK || resp.Request.URL.Path != "/dashboard" {
		t.Fatalf("expected dashboard after login, got %d at %s", resp.StatusCode, resp.Request.URL)
	}
	if !strings.Contains(body, "Logged in as alice.") || !strings.Contains(body, "1234.57") {
		t.Fatalf("unexpected dashboard after login:\n%s", body)
	}

	count, err := site.store.CountPredictions(context.Background())
	if err != nil || count != 1 {
		t.Fatalf("expected 1 stored prediction, got %d (%v)", count, err)
	}
}

func TestTamperedSessionIsAnonymous(t *testing.T) {
	site := newTestSite(t)
	u, _ := url.Parse(site.server.URL)
	site.client.Jar.SetCookies(u, []*http.Cookie{{Name: auth.DefaultSessionCookie, Value: "not-a-jwt", Path: "/"}})

	resp, _ := site.do(t, http.MethodPost, "/predict", "application/json", dairyJSON)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	for _, c := range site.client.Jar.Cookies(u) {
		if c.Name == auth.DefaultSessionCookie {
			t.Fatal("expected invalid session cookie to be cleared")
		}
	}

	_, body := site.do(t, http.MethodGet, "/about", "", "")
	if !strings.Contains(body, `class="flash flash-danger">Your session is no longer valid.`) {
		t.Fatalf("expected session error flash:\n%s", body)
	}
}

func TestPredictionFeed(t *testing.T) {
	site := newTestSite(t)
	site.postForm(t, "/register", url.Values{
		"username":         {"bob"},
		"email":            {"bob@example.com"},
		"password":         {"correct-horse"},
		"confirm_password": {"correct-horse"},
	})

	wsURL := "ws" + strings.TrimPrefix(site.server.URL, "http") + "/ws/predictions"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for site.hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, _ := site.do(t, http.MethodPost, "/predict", "application/json", dairyJSON)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string                     `json:"type"`
		Data monitoring.PredictionEvent `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != string(monitoring.PredictionMade) {
		t.Fatalf("unexpected message type %s", msg.Type)
	}
	if msg.Data.PredictedSales != 1234.57 || !msg.Data.Authenticated {
		t.Fatalf("unexpected event: %+v", msg.Data)
	}
}

func TestSafeNext(t *testing.T) {
	tests := map[string]string{
		"":                "/dashboard",
		"/dashboard?x=1":  "/dashboard?x=1",
		"https://evil.io": "/dashboard",
		"//evil.io":       "/dashboard",
		"/\\evil.io":      "/dashboard",
		"/about":          "/about",
	}
	for in, want := range tests {
		if got := safeNext(in); got != want {
			t.Errorf("safeNext(%q) = %q, want %q", in, got, want)
		}
	}
}
