package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "easee-invoicing/internal/api/http"
	"easee-invoicing/internal/audit"
	"easee-invoicing/internal/auth"
	"easee-invoicing/internal/easee"
	invoiceapp "easee-invoicing/internal/invoicing/application"
	invoicing "easee-invoicing/internal/invoicing/domain"
	"easee-invoicing/internal/invoicing/interfaces"
	"easee-invoicing/internal/observability/metrics"
)

//go:embed templates/*.html static/*
var assets embed.FS

const (
	errMissingCredentials = "Please provide both username and password"
	authFailedPrefix      = "Authentication failed: "
)

// Authenticator exchanges Easee credentials for an access token.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (easee.Token, error)
}

// Options wires the server's collaborators.
type Options struct {
	Authenticator Authenticator
	Sites         apihttp.SiteSource
	Invoices      *invoiceapp.InvoiceService
	Audit         audit.Logger
	SessionSecret []byte
	SessionTTL    time.Duration
	Logger        *zap.Logger
	Now           func() time.Time
}

// Server serves the web UI and JSON APIs.
type Server struct {
	auth       Authenticator
	sites      apihttp.SiteSource
	invoices   *invoiceapp.InvoiceService
	audit      audit.Logger
	secret     []byte
	sessionTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time
	templates  *template.Template
	invoiceAPI *interfaces.InvoiceHandler
}

// NewServer validates options and parses the embedded templates.
func NewServer(opts Options) (*Server, error) {
	if opts.Authenticator == nil {
		return nil, errors.New("web: nil authenticator")
	}
	if opts.Sites == nil {
		return nil, errors.New("web: nil site source")
	}
	if opts.Invoices == nil {
		return nil, errors.New("web: nil invoice service")
	}
	if len(opts.SessionSecret) == 0 {
		return nil, auth.ErrEmptySecret
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 12 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	tmpl, err := template.New("web").Funcs(template.FuncMap{
		"amount": interfaces.FormatAmount,
		"energy": interfaces.FormatEnergy,
		"ago":    humanize.Time,
	}).ParseFS(assets, "templates/*.html")
	if err != nil {
		return nil, err
	}
	invoiceAPI, err := interfaces.NewInvoiceHandler(opts.Invoices, opts.Audit, opts.Logger)
	if err != nil {
		return nil, err
	}
	return &Server{
		auth:       opts.Authenticator,
		sites:      opts.Sites,
		invoices:   opts.Invoices,
		audit:      opts.Audit,
		secret:     opts.SessionSecret,
		sessionTTL: opts.SessionTTL,
		logger:     opts.Logger,
		now:        opts.Now,
		templates:  tmpl,
		invoiceAPI: invoiceAPI,
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	static, _ := fs.Sub(assets, "static")

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)
	mux.HandleFunc("/dashboard", s.handleDashboard)
	mux.HandleFunc("/invoices/", s.handleInvoicePage)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	mux.Handle("/api/sites", apihttp.NewSitesHandler(s.sites, s.logger))
	mux.Handle("/api/chargers/", apihttp.NewChargersHandler(s.sites, s.logger))
	mux.Handle("/api/consumption/", apihttp.NewConsumptionHandler(s.invoices, s.logger))
	s.invoiceAPI.Register(mux)

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	authMiddleware := auth.NewMiddleware(s.secret, auth.NewWebPolicy(), s.logger)
	return loggingMiddleware(recoverMiddleware(authMiddleware.Wrap(mux), s.logger), s.logger)
}

type page struct {
	Title    string
	Username string
	Error    string
	Form     loginForm
	Currency string
	Year     int
	Months   []monthOption
	Invoice  *invoicing.InvoiceAggregate
	Lines    []invoicing.InvoiceLine
}

type loginForm struct {
	Username string
}

type monthOption struct {
	Number   int
	Name     string
	Selected bool
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if auth.UsernameFromContext(r.Context()) != "" {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.render(w, http.StatusOK, "login.html", page{Title: "Sign in"})
	case http.MethodPost:
		s.login(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.render(w, http.StatusBadRequest, "login.html", page{Title: "Sign in", Error: errMissingCredentials})
		return
	}
	username := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")
	form := loginForm{Username: username}
	if username == "" || password == "" {
		s.render(w, http.StatusOK, "login.html", page{Title: "Sign in", Error: errMissingCredentials, Form: form})
		return
	}

	token, err := s.auth.Authenticate(r.Context(), username, password)
	if err != nil {
		metrics.IncLogin(metrics.ResultError)
		s.logger.Info("login failed", zap.String("username", username), zap.Error(err))
		s.render(w, http.StatusOK, "login.html", page{Title: "Sign in", Error: authFailedPrefix + err.Error(), Form: form})
		return
	}

	session, expiresAt, err := auth.IssueSession(username, token.AccessToken, token.Lifetime(s.sessionTTL), s.secret)
	if err != nil {
		metrics.IncLogin(metrics.ResultError)
		s.logger.Error("issue session failed", zap.Error(err))
		s.render(w, http.StatusInternalServerError, "login.html", page{Title: "Sign in", Error: authFailedPrefix + err.Error(), Form: form})
		return
	}
	auth.SetSessionCookie(w, r, session, expiresAt)
	metrics.IncLogin(metrics.ResultSuccess)
	s.logAudit(r, username, audit.ActionSessionLogin)
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if username := auth.UsernameFromContext(r.Context()); username != "" {
		s.logAudit(r, username, audit.ActionSessionLogout)
	}
	auth.ClearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	now := s.now()
	months := make([]monthOption, 0, 12)
	for m := time.January; m <= time.December; m++ {
		months = append(months, monthOption{Number: int(m), Name: m.String(), Selected: m == now.Month()})
	}
	s.render(w, http.StatusOK, "dashboard.html", page{
		Title:    "Dashboard",
		Username: auth.UsernameFromContext(r.Context()),
		Currency: s.invoices.Currency(),
		Year:     now.Year(),
		Months:   months,
	})
}

func (s *Server) handleInvoicePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/invoices/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	username := auth.UsernameFromContext(r.Context())
	inv, lines, err := s.invoices.Get(r.Context(), id)
	if err != nil {
		status := interfaces.StatusForError(err)
		s.render(w, status, "error.html", page{
			Title:    http.StatusText(status),
			Username: username,
			Error:    err.Error(),
		})
		return
	}
	s.render(w, http.StatusOK, "invoice.html", page{
		Title:    "Invoice " + inv.ID,
		Username: username,
		Invoice:  inv,
		Lines:    lines,
	})
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data page) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("render template failed", zap.String("template", name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) logAudit(r *http.Request, actor, action string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(r.Context(), audit.FromRequest(r, actor, action, audit.ResourceSession, actor)); err != nil {
		s.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}
