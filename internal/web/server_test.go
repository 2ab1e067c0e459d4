package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"easee-invoicing/internal/auth"
	consumptionapp "easee-invoicing/internal/consumption/application"
	"easee-invoicing/internal/easee"
	invoiceapp "easee-invoicing/internal/invoicing/application"
	"easee-invoicing/internal/invoicing/infrastructure/memory"
	"easee-invoicing/internal/invoicing/infrastructure/pricing"
)

const testAccessToken = "tok-1"

func newFakeEasee(t *testing.T) *httptest.Server {
	t.Helper()
	authorized := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") != "Bearer "+testAccessToken {
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		return true
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/accounts/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["userName"] != "user@example.com" || body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("Invalid credentials"))
			return
		}
		_, _ = w.Write([]byte(`{"accessToken":"` + testAccessToken + `","expiresIn":3600,"tokenType":"Bearer"}`))
	})
	mux.HandleFunc("/api/sites", func(w http.ResponseWriter, r *http.Request) {
		if authorized(w, r) {
			_, _ = w.Write([]byte(`[{"id":1,"name":"Home"}]`))
		}
	})
	mux.HandleFunc("/api/sites/1/chargers", func(w http.ResponseWriter, r *http.Request) {
		if authorized(w, r) {
			_, _ = w.Write([]byte(`[{"id":"CH1","name":"Garage"}]`))
		}
	})
	mux.HandleFunc("/api/chargers/lifetime-energy/CH1/hourly", func(w http.ResponseWriter, r *http.Request) {
		if authorized(w, r) {
			_, _ = w.Write([]byte(`[
				{"timestamp":"2024-01-01T00:00:00Z","consumption":5000},
				{"timestamp":"2024-01-02T00:00:00Z","consumption":3000}
			]`))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	return newTestHandlerWithTTL(t, time.Hour)
}

func newTestHandlerWithTTL(t *testing.T, sessionTTL time.Duration) http.Handler {
	t.Helper()
	upstream := newFakeEasee(t)
	client, err := easee.NewClient(upstream.URL + "/api")
	require.NoError(t, err)
	reader, err := consumptionapp.NewService(client)
	require.NoError(t, err)
	prices, err := pricing.NewFixedPriceProvider(2)
	require.NoError(t, err)
	invoices, err := invoiceapp.NewInvoiceService(memory.NewInvoiceRepository(), reader, prices, invoiceapp.WithChargerLister(client))
	require.NoError(t, err)

	server, err := NewServer(Options{
		Authenticator: client,
		Sites:         client,
		Invoices:      invoices,
		SessionSecret: []byte("test-secret"),
		SessionTTL:    sessionTTL,
		Now:           func() time.Time { return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return server.Handler()
}

func do(h http.Handler, req *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func postLogin(h http.Handler, username, password string) *httptest.ResponseRecorder {
	form := url.Values{}
	if username != "" {
		form.Set("username", username)
	}
	if password != "" {
		form.Set("password", password)
	}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return do(h, req, nil)
}

func login(t *testing.T, h http.Handler) *http.Cookie {
	t.Helper()
	rec := postLogin(h, "user@example.com", "secret")
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			assert.True(t, c.HttpOnly)
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func TestLogin_SessionLifetimeCappedByConfig(t *testing.T) {
	h := newTestHandlerWithTTL(t, 10*time.Minute)
	cookie := login(t, h)

	// The fake upstream grants one hour; the configured ten minutes wins.
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), cookie.Expires, 5*time.Second)
	claims, err := auth.ParseSession(cookie.Value, []byte("test-secret"))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), claims.ExpiresAt.Time, 5*time.Second)
}

func TestLoginPage(t *testing.T) {
	h := newTestHandler(t)
	rec := do(h, httptest.NewRequest(http.MethodGet, "/login", nil), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "EV Charging Invoicing")
	assert.Contains(t, body, "Sign in")
	assert.Contains(t, body, `name="username"`)
	assert.Contains(t, body, `name="password"`)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestIndex_Unauthenticated(t *testing.T) {
	h := newTestHandler(t)
	rec := do(h, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	rec = do(h, httptest.NewRequest(http.MethodGet, "/dashboard", nil), nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestLogin_MissingFields(t *testing.T) {
	h := newTestHandler(t)
	rec := postLogin(h, "user@example.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Please provide both username and password")
	assert.Empty(t, rec.Result().Cookies())
}

func TestLogin_BadCredentials(t *testing.T) {
	h := newTestHandler(t)
	rec := postLogin(h, "user@example.com", "wrong")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Authentication failed: Invalid credentials")
	assert.Empty(t, rec.Result().Cookies())
}

func TestAuthenticatedFlow(t *testing.T) {
	h := newTestHandler(t)
	cookie := login(t, h)

	rec := do(h, httptest.NewRequest(http.MethodGet, "/", nil), cookie)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))

	rec = do(h, httptest.NewRequest(http.MethodGet, "/dashboard", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, want := range []string{"Select Site", "Generate Report", "Logout", "loadSites", "loadChargers", "generateReport", "displayReport", "user@example.com"} {
		assert.Contains(t, body, want)
	}
	assert.Contains(t, body, `<option value="3" selected>March</option>`)

	rec = do(h, httptest.NewRequest(http.MethodGet, "/api/sites", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"sites":[{"id":1,"name":"Home"}]}`, rec.Body.String())

	rec = do(h, httptest.NewRequest(http.MethodGet, "/api/chargers/1", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"chargers":[{"id":"CH1","name":"Garage"}]}`, rec.Body.String())

	rec = do(h, httptest.NewRequest(http.MethodGet, "/api/consumption/CH1?year=2024&month=1", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report struct {
		Success    bool              `json:"success"`
		TotalKWh   float64           `json:"total_kwh"`
		TotalPrice float64           `json:"total_price"`
		HourlyData []json.RawMessage `json:"hourly_data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Success)
	assert.Equal(t, 8.0, report.TotalKWh)
	assert.Equal(t, 16.0, report.TotalPrice)
	assert.Len(t, report.HourlyData, 2)

	rec = do(h, httptest.NewRequest(http.MethodGet, "/api/consumption/CH1", nil), cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Year and month are required"}`, rec.Body.String())
}

func TestAPI_Unauthenticated(t *testing.T) {
	h := newTestHandler(t)
	for _, path := range []string{"/api/sites", "/api/chargers/1", "/api/consumption/CH1?year=2024&month=1", "/api/invoices"} {
		rec := do(h, httptest.NewRequest(http.MethodGet, path, nil), nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.JSONEq(t, `{"error":"Not authenticated"}`, rec.Body.String(), path)
	}
}

func TestLogout(t *testing.T) {
	h := newTestHandler(t)
	cookie := login(t, h)

	rec := do(h, httptest.NewRequest(http.MethodGet, "/logout", nil), cookie)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	var cleared *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			cleared = c
		}
	}
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge)
}

func TestInvoicePage(t *testing.T) {
	h := newTestHandler(t)
	cookie := login(t, h)

	req := httptest.NewRequest(http.MethodPost, "/api/invoices/generate", strings.NewReader(`{"charger_id":"CH1","month":"2024-01"}`))
	rec := do(h, req, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var generated struct {
		InvoiceID string `json:"invoice_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &generated))
	require.NotEmpty(t, generated.InvoiceID)

	rec = do(h, httptest.NewRequest(http.MethodGet, "/invoices/"+generated.InvoiceID, nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, generated.InvoiceID)
	assert.Contains(t, body, "16.00")
	assert.Contains(t, body, "2024-01-01")
	assert.Contains(t, body, "Download PDF")
	assert.Contains(t, body, "Freeze")

	rec = do(h, httptest.NewRequest(http.MethodGet, "/invoices/inv-missing", nil), cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t)
	rec := do(h, httptest.NewRequest(http.MethodGet, "/healthz", nil), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(h, httptest.NewRequest(http.MethodGet, "/static/app.css", nil), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/":                                 "/",
		"/api/sites":                        "/api/sites",
		"/api/chargers/42":                  "/api/chargers/{site_id}",
		"/api/consumption/CH1":              "/api/consumption/{charger_id}",
		"/api/invoices":                     "/api/invoices",
		"/api/invoices/generate":            "/api/invoices/generate",
		"/api/invoices/inv-1":               "/api/invoices/{id}",
		"/api/invoices/inv-1/export.pdf":    "/api/invoices/{id}/export.pdf",
		"/api/invoices/inv-1/export.xlsx":   "/api/invoices/{id}/export.xlsx",
		"/api/invoices/inv-1/freeze":        "/api/invoices/{id}/freeze",
		"/api/invoices/inv-1/void":          "/api/invoices/{id}/void",
		"/api/invoices/inv-1/aaaa-random-1": "other",
		"/api/invoices/inv-2/bbbb-random-2": "other",
		"/api/invoices/inv-1/freeze/extra":  "other",
		"/invoices/inv-1":                   "/invoices/{id}",
		"/static/app.css":                   "/static/",
		"/wp-admin":                         "other",
	}
	for path, want := range cases {
		assert.Equal(t, want, routeLabel(path), path)
	}
}
