package main

import (
	"encoding/json"
	"hash/fnv"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const consumptionTimeLayout = "2006-01-02T15:04:05"

type fakeEaseeServer struct {
	start    time.Time
	latency  time.Duration
	failRate float64
	username string
	password string
	logger   *zap.Logger

	mu         sync.Mutex
	tokens     map[string]struct{}
	byEndpoint map[string]int64
	totalCalls int64

	sites []fakeSite
}

type fakeSite struct {
	ID       int           `json:"id"`
	Name     string        `json:"name"`
	Chargers []fakeCharger `json:"-"`
}

type fakeCharger struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	addr := getenvDefault("FAKE_EASEE_ADDR", ":18081")
	srv := newFakeEaseeServer(
		getenvDefault("FAKE_EASEE_USER", "demo@example.com"),
		getenvDefault("FAKE_EASEE_PASSWORD", "demo"),
		time.Duration(getenvIntDefault("FAKE_EASEE_LATENCY_MS", 0))*time.Millisecond,
		getenvFloatDefault("FAKE_EASEE_FAIL_RATE", 0),
		logger,
	)

	logger.Info("fake easee api listening", zap.String("addr", addr), zap.String("base_url", "http://localhost"+addr+"/api"))
	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		logger.Fatal("listen", zap.Error(err))
	}
}

func newFakeEaseeServer(username, password string, latency time.Duration, failRate float64, logger *zap.Logger) *fakeEaseeServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &fakeEaseeServer{
		start:      time.Now().UTC(),
		latency:    latency,
		failRate:   failRate,
		username:   username,
		password:   password,
		logger:     logger,
		tokens:     make(map[string]struct{}),
		byEndpoint: make(map[string]int64),
		sites: []fakeSite{
			{ID: 1001, Name: "Home", Chargers: []fakeCharger{{ID: "EH000001", Name: "Garage"}}},
			{ID: 1002, Name: "Cabin", Chargers: []fakeCharger{{ID: "EH000002", Name: "Driveway"}, {ID: "EH000003", Name: "Carport"}}},
		},
	}
}

func (s *fakeEaseeServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/api/accounts/login", s.handleLogin)
	mux.HandleFunc("/api/sites", s.authorized("sites", s.handleSites))
	mux.HandleFunc("/api/sites/", s.authorized("chargers", s.handleChargers))
	mux.HandleFunc("/api/chargers/lifetime-energy/", s.authorized("consumption", s.handleConsumption))
	return mux
}

func (s *fakeEaseeServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *fakeEaseeServer) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"started_at":  s.start.Format(time.RFC3339),
		"total":       atomic.LoadInt64(&s.totalCalls),
		"by_endpoint": s.byEndpoint,
	})
}

func (s *fakeEaseeServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.recordCall("login")
	var body struct {
		UserName string `json:"userName"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if body.UserName != s.username || body.Password != s.password {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"title": "Invalid credentials", "status": 401})
		return
	}
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = struct{}{}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  token,
		"expiresIn":    86400,
		"tokenType":    "Bearer",
		"refreshToken": uuid.NewString(),
	})
}

func (s *fakeEaseeServer) authorized(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.recordCall(endpoint)
		if s.latency > 0 {
			time.Sleep(s.latency)
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		_, ok := s.tokens[token]
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if s.failRate > 0 && rand.Float64() < s.failRate {
			http.Error(w, "fake upstream failure", http.StatusInternalServerError)
			return
		}
		next(w, r)
	}
}

func (s *fakeEaseeServer) handleSites(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sites)
}

// handleChargers serves /api/sites/{id}/chargers.
func (s *fakeEaseeServer) handleChargers(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sites/")
	siteID, suffix, _ := strings.Cut(rest, "/")
	if suffix != "chargers" {
		http.NotFound(w, r)
		return
	}
	for _, site := range s.sites {
		if strconv.Itoa(site.ID) == siteID {
			writeJSON(w, http.StatusOK, site.Chargers)
			return
		}
	}
	http.NotFound(w, r)
}

// handleConsumption serves /api/chargers/lifetime-energy/{id}/hourly with
// deterministic hourly kWh for the requested window.
func (s *fakeEaseeServer) handleConsumption(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/chargers/lifetime-energy/")
	chargerID, suffix, _ := strings.Cut(rest, "/")
	if suffix != "hourly" || !s.knownCharger(chargerID) {
		http.NotFound(w, r)
		return
	}
	from, err := parseWindowTime(r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := parseWindowTime(r.URL.Query().Get("to"))
	if err != nil || to.Before(from) {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, hourlyReadings(chargerID, from, to))
}

func (s *fakeEaseeServer) knownCharger(id string) bool {
	for _, site := range s.sites {
		for _, charger := range site.Chargers {
			if charger.ID == id {
				return true
			}
		}
	}
	return false
}

func (s *fakeEaseeServer) recordCall(endpoint string) {
	atomic.AddInt64(&s.totalCalls, 1)
	s.mu.Lock()
	s.byEndpoint[endpoint]++
	s.mu.Unlock()
}

type hourlyReading struct {
	Date string  `json:"date"`
	KWh  float64 `json:"kwh"`
}

// hourlyReadings charges in the evening only, seeded by charger and day.
func hourlyReadings(chargerID string, from, to time.Time) []hourlyReading {
	out := []hourlyReading{}
	for hour := from.Truncate(time.Hour); !hour.After(to); hour = hour.Add(time.Hour) {
		if hour.Hour() < 18 || hour.Hour() > 22 {
			continue
		}
		h := fnv.New64a()
		_, _ = h.Write([]byte(chargerID + hour.Format(consumptionTimeLayout)))
		rng := rand.New(rand.NewSource(int64(h.Sum64())))
		if rng.Float64() < 0.4 {
			continue
		}
		kwh := float64(int(rng.Float64()*7400)) / 1000
		out = append(out, hourlyReading{Date: hour.Format(time.RFC3339), KWh: kwh})
	}
	return out
}

func parseWindowTime(value string) (time.Time, error) {
	value = strings.TrimSuffix(value, "Z")
	if i := strings.LastIndex(value, "."); i > 0 {
		value = value[:i]
	}
	return time.Parse(consumptionTimeLayout, value)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
