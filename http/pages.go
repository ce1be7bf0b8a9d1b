package http

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"salescast/auth"
	"salescast/db"
	"salescast/ml"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

const dashboardLimit = 20

// pageData 传给页面模板的数据
type pageData struct {
	Title       string
	User        auth.Authenticatable
	AuthEnabled bool
	Flash       *auth.Flash
	Status      int

	// home
	Variant    ml.Variant
	Fields     []formField
	ModelReady bool
	Reason     string

	// register / login
	Form   map[string]string
	Errors auth.FormErrors
	Error  string
	Next   string

	// dashboard
	Predictions []predictionRow
}

// formField 预测表单中的一个输入项，Options 非空时渲染为下拉框
type formField struct {
	Name    string
	Label   string
	Options []string
	Step    string
	Min     string
	Max     string
}

// predictionRow 仪表盘中的一条预测记录
type predictionRow struct {
	CreatedAt      time.Time
	SchemaVersion  string
	Features       []featureValue
	PredictedSales float64
}

type featureValue struct {
	Name  string
	Value string
}

// pageRenderer 每个页面单独解析 base.html + 页面模板
type pageRenderer struct {
	pages map[string]*template.Template
}

var templateFuncs = template.FuncMap{
	"label": fieldLabel,
	"money": func(v float64) string { return fmt.Sprintf("%.2f", v) },
}

func newPageRenderer() (*pageRenderer, error) {
	names, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	pr := &pageRenderer{pages: make(map[string]*template.Template, len(names))}
	for _, path := range names {
		name := strings.TrimPrefix(path, "templates/")
		if name == "base.html" {
			continue
		}
		tmpl, err := template.New(name).Funcs(templateFuncs).ParseFS(templateFS, "templates/base.html", path)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		pr.pages[name] = tmpl
	}
	return pr, nil
}

// render 先渲染到缓冲区，模板出错时不会输出半个页面
func (pr *pageRenderer) render(w http.ResponseWriter, status int, name string, data pageData) error {
	tmpl, ok := pr.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

func staticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

// fieldLabel "outlet_location_type" -> "Outlet Location Type"。Caser 有状态，每次调用新建
func fieldLabel(name string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(name, "_", " "))
}

// page 构造通用页面数据并取出一次性提示
func (a *app) page(w http.ResponseWriter, r *http.Request, title string) pageData {
	data := pageData{
		Title:       title,
		User:        auth.UserFrom(r.Context()),
		AuthEnabled: a.deps.AuthEnabled,
	}
	if flash, ok := auth.PopFlash(w, r); ok {
		data.Flash = &flash
	}
	return data
}

func (a *app) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	data.Status = status
	if err := a.pages.render(w, status, name, data); err != nil {
		a.logger.Error("page render failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("page", name),
			zap.Error(err),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// handleHome 首页：根据编码器生成预测表单
func (a *app) handleHome(w http.ResponseWriter, r *http.Request) {
	data := a.page(w, r, "Predict sales")
	enc := a.deps.Predictor.Encoder()
	data.Variant = enc.Schema().Variant
	data.Fields = predictionFormFields(enc)
	data.ModelReady, data.Reason = a.deps.Predictor.Ready()
	a.render(w, r, http.StatusOK, "home.html", data)
}

func predictionFormFields(enc *ml.Encoder) []formField {
	var fields []formField
	for _, name := range ml.RequestFields(enc.Schema().Variant) {
		field := formField{Name: name, Label: fieldLabel(name)}
		if encoding := enc.Encoding(name); encoding != nil {
			field.Options = encoding.Labels()
		} else {
			switch name {
			case ml.FieldItemVisibility:
				field.Step, field.Min, field.Max = "any", "0", "1"
			case ml.FieldRating:
				field.Step, field.Min, field.Max = "0.1", "0", "5"
			case ml.FieldOutletEstablishmentYear:
				field.Step, field.Min, field.Max = "1", "1900", fmt.Sprint(enc.ReferenceYear())
			default:
				field.Step, field.Min = "any", "0"
			}
		}
		fields = append(fields, field)
	}
	return fields
}

// handleStaticPage 无动态内容的页面
func (a *app) handleStaticPage(name, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.render(w, r, http.StatusOK, name, a.page(w, r, title))
	}
}

func (a *app) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if wantsJSON(r) {
		respondJSON(w, http.StatusNotFound, errorResponse{Error: "not found", Code: codeNotFound})
		return
	}
	a.render(w, r, http.StatusNotFound, "404.html", a.page(w, r, "Page not found"))
}

func (a *app) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed", Code: codeMethodNotAllowed})
}

// handleInternalError panic 后的响应
func (a *app) handleInternalError(w http.ResponseWriter, r *http.Request) {
	if wantsJSON(r) {
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error", Code: codeInternal})
		return
	}
	data := pageData{Title: "Server error", User: auth.UserFrom(r.Context()), AuthEnabled: a.deps.AuthEnabled}
	a.render(w, r, http.StatusInternalServerError, "500.html", data)
}

// ============ 用户 ============

// sessionMiddleware 从会话 cookie 恢复用户，无效会话按匿名处理并清除
func (a *app) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var user auth.Authenticatable = auth.AnonymousUser{}

		session, err := a.deps.Sessions.Read(r)
		switch {
		case err == nil:
			found, lookupErr := a.deps.Users.Lookup(r.Context(), session.UserID)
			if lookupErr == nil {
				user = found
				break
			}
			if !errors.Is(lookupErr, db.ErrNotFound) {
				a.logger.Error("session user lookup failed", zap.Int64("user_id", session.UserID), zap.Error(lookupErr))
				break
			}
			a.deps.Sessions.Clear(w)
		case !errors.Is(err, auth.ErrNoSession):
			a.logger.Debug("discarding invalid session", zap.Error(err))
			a.deps.Sessions.Clear(w)
			auth.SetFlash(w, auth.FlashError, "Your session is no longer valid. Please log in again.")
		}

		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}

// requireLogin 未登录时跳转登录页并带上原地址
func (a *app) requireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.UserFrom(r.Context()).IsAuthenticated() {
			next.ServeHTTP(w, r)
			return
		}
		auth.SetFlash(w, auth.FlashInfo, "Please log in to continue.")
		http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
	})
}

func (a *app) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	if auth.UserFrom(r.Context()).IsAuthenticated() {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	a.render(w, r, http.StatusOK, "register.html", a.page(w, r, "Register"))
}

func (a *app) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		a.render(w, r, http.StatusBadRequest, "register.html", a.page(w, r, "Register"))
		return
	}
	form := auth.RegistrationForm{
		Username:        r.PostForm.Get("username"),
		Email:           r.PostForm.Get("email"),
		Password:        r.PostForm.Get("password"),
		ConfirmPassword: r.PostForm.Get("confirm_password"),
	}

	user, err := a.deps.Users.Register(r.Context(), form)
	if err != nil {
		data := a.page(w, r, "Register")
		data.Form = map[string]string{"username": form.Username, "email": form.Email}
		var formErrs auth.FormErrors
		if errors.As(err, &formErrs) {
			data.Errors = formErrs
			a.render(w, r, http.StatusUnprocessableEntity, "register.html", data)
			return
		}
		a.logger.Error("registration failed", zap.Error(err))
		data.Error = "Registration is unavailable right now. Please try again later."
		a.render(w, r, http.StatusInternalServerError, "register.html", data)
		return
	}

	if _, err := a.deps.Sessions.Issue(w, user); err != nil {
		a.logger.Error("issue session failed", zap.Error(err))
		auth.SetFlash(w, auth.FlashSuccess, "Account created. Please log in.")
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	auth.SetFlash(w, auth.FlashSuccess, "Welcome, "+user.Username()+"!")
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (a *app) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	next := safeNext(r.URL.Query().Get("next"))
	if auth.UserFrom(r.Context()).IsAuthenticated() {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	data := a.page(w, r, "Log in")
	data.Next = next
	a.render(w, r, http.StatusOK, "login.html", data)
}

func (a *app) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		a.render(w, r, http.StatusBadRequest, "login.html", a.page(w, r, "Log in"))
		return
	}
	username := r.PostForm.Get("username")
	next := safeNext(r.PostForm.Get("next"))

	user, err := a.deps.Users.Authenticate(r.Context(), username, r.PostForm.Get("password"))
	if err != nil {
		data := a.page(w, r, "Log in")
		data.Form = map[string]string{"username": username}
		data.Next = next
		if errors.Is(err, auth.ErrInvalidCredentials) {
			data.Error = "Invalid username or password."
			a.render(w, r, http.StatusUnauthorized, "login.html", data)
			return
		}
		a.logger.Error("login failed", zap.Error(err))
		data.Error = "Login is unavailable right now. Please try again later."
		a.render(w, r, http.StatusInternalServerError, "login.html", data)
		return
	}

	if _, err := a.deps.Sessions.Issue(w, user); err != nil {
		a.logger.Error("issue session failed", zap.Error(err))
		a.handleInternalError(w, r)
		return
	}
	auth.SetFlash(w, auth.FlashSuccess, "Logged in as "+user.Username()+".")
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (a *app) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.deps.Sessions.Clear(w)
	auth.SetFlash(w, auth.FlashInfo, "You have been logged out.")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleDashboard 当前用户最近的预测
func (a *app) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := a.page(w, r, "Dashboard")
	if a.deps.Predictions != nil {
		records, err := a.deps.Predictions.RecentPredictions(r.Context(), data.User.ID(), dashboardLimit)
		if err != nil {
			a.logger.Error("load recent predictions failed", zap.Error(err))
			data.Error = "Recent predictions could not be loaded."
		}
		for _, rec := range records {
			data.Predictions = append(data.Predictions, predictionRow{
				CreatedAt:      rec.CreatedAt,
				SchemaVersion:  rec.SchemaVersion,
				Features:       decodeFeatures(rec.Features),
				PredictedSales: rec.PredictedSales,
			})
		}
	}
	a.render(w, r, http.StatusOK, "dashboard.html", data)
}

func decodeFeatures(raw []byte) []featureValue {
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	features := make([]featureValue, 0, len(names))
	for _, name := range names {
		features = append(features, featureValue{Name: fieldLabel(name), Value: fmt.Sprint(values[name])})
	}
	return features
}

// safeNext 只允许站内相对地址，防止开放重定向
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/dashboard"
	}
	return next
}
