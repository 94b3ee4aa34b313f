package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"rydar/internal/api/handlers"
	"rydar/internal/api/middleware"
	"rydar/internal/auth"
	"rydar/internal/config"
	"rydar/internal/geo"
	"rydar/internal/repository/memory"
	"rydar/internal/services"
)

type testServer struct {
	engine *gin.Engine
	tokens *auth.TokenService
}

func setupTestServer(t *testing.T, opts ...func(*RouterOptions)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.NewDefaultConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	key, err := cfg.Auth.SecretBytes()
	if err != nil {
		t.Fatal(err)
	}
	tokens := auth.NewTokenService(key, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	index := geo.NewSpatialIndex(cfg.Geo.GeohashPrecision, cfg.Geo.MaxCoverCells)
	routeRepo := memory.NewRouteRepository()

	locationService := services.NewLocationService(index, routeRepo, cfg.Presence, logger)
	proximityService := services.NewProximityService(index, cfg.Presence, logger)
	routeService := services.NewRouteService(routeRepo, logger)

	locationHandler := handlers.NewLocationHandler(locationService, proximityService,
		cfg.Presence.DefaultRadiusMeters, cfg.Presence.DefaultLimit)
	routeHandler := handlers.NewRouteHandler(routeService)
	healthHandler := handlers.NewHealthHandler(index, cfg.Presence.Backend)

	routerOpts := RouterOptions{
		Logger:         logger,
		RequestTimeout: cfg.Server.RequestTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	for _, opt := range opts {
		opt(&routerOpts)
	}

	router := NewRouter(locationHandler, routeHandler, healthHandler, tokens, routerOpts)
	engine := gin.New()
	router.Setup(engine)

	return &testServer{engine: engine, tokens: tokens}
}

func (s *testServer) token(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	tok, err := s.tokens.Issue(userID, roles...)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (s *testServer) do(method, path, token, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := setupTestServer(t)

	w := srv.do("GET", "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	if response["status"] != "ok" || response["backend"] != "grid" {
		t.Errorf("Unexpected health body %v", response)
	}
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("Expected a request id header")
	}
}

func TestIngestAndNearby(t *testing.T) {
	srv := setupTestServer(t)
	driverA := srv.token(t, "driver-a", auth.RoleDriver)
	driverB := srv.token(t, "driver-b", auth.RoleDriver)
	rider := srv.token(t, "rider-1", auth.RoleRider)

	w := srv.do("POST", "/api/v1/drivers/me/location", driverA,
		`{"latitude":40.000,"longitude":-75.000,"currRouteName":"Main St","customComments":""}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d. Body: %s", w.Code, w.Body.String())
	}
	w = srv.do("POST", "/api/v1/drivers/me/location", driverB,
		`{"latitude":41.000,"longitude":-76.000,"currRouteName":"Elsewhere","customComments":"Two seats"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d. Body: %s", w.Code, w.Body.String())
	}

	w = srv.do("GET", "/api/v1/drivers/nearby?latitude=40&longitude=-75&radiusMeters=500&limit=20", rider, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", w.Code, w.Body.String())
	}

	var response struct {
		NearbyDrivers []map[string]interface{} `json:"nearbyDrivers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatal(err)
	}
	if len(response.NearbyDrivers) != 1 {
		t.Fatalf("Expected one nearby driver, got %v", response.NearbyDrivers)
	}
	a := response.NearbyDrivers[0]
	if a["userId"] != "driver-a" || a["latitude"] != 40.0 || a["longitude"] != -75.0 || a["currRouteName"] != "Main St" {
		t.Errorf("Unexpected driver entry %v", a)
	}
	if v, ok := a["customComments"]; !ok || v != nil {
		t.Errorf("Expected customComments null, got %v", v)
	}
}

func TestNearbyDefaultsAndFilter(t *testing.T) {
	srv := setupTestServer(t)
	rider := srv.token(t, "rider-1", auth.RoleRider)

	for id, route := range map[string]string{"driver-down": "Downtown", "driver-up": "Uptown"} {
		w := srv.do("POST", "/api/v1/drivers/me/location", srv.token(t, id, auth.RoleDriver),
			`{"latitude":37.7750,"longitude":-122.4190,"currRouteName":"`+route+`"}`)
		if w.Code != http.StatusNoContent {
			t.Fatalf("Ingest %s: expected 204, got %d", id, w.Code)
		}
	}

	// Default radius is 1000 m, so omitting it still finds both.
	w := srv.do("GET", "/api/v1/drivers/nearby?latitude=37.775&longitude=-122.419", rider, "")
	var all handlers.NearbyResponse
	json.Unmarshal(w.Body.Bytes(), &all)
	if len(all.NearbyDrivers) != 2 {
		t.Fatalf("Expected both drivers with defaults, got %+v", all.NearbyDrivers)
	}

	w = srv.do("GET", "/api/v1/drivers/nearby?latitude=37.775&longitude=-122.419&destinationName=downtown", rider, "")
	var filtered handlers.NearbyResponse
	json.Unmarshal(w.Body.Bytes(), &filtered)
	if len(filtered.NearbyDrivers) != 1 || filtered.NearbyDrivers[0].UserID != "driver-down" {
		t.Errorf("Expected only driver-down, got %+v", filtered.NearbyDrivers)
	}

	// Nobody nearby is a success with an empty list.
	w = srv.do("GET", "/api/v1/drivers/nearby?latitude=0&longitude=0", rider, "")
	if w.Code != http.StatusOK || w.Body.String() != `{"nearbyDrivers":[]}` {
		t.Errorf("Expected empty list, got %d %s", w.Code, w.Body.String())
	}
}

func TestValidationErrors(t *testing.T) {
	srv := setupTestServer(t)
	driver := srv.token(t, "driver-1", auth.RoleDriver)

	tests := []struct {
		name      string
		method    string
		path      string
		body      string
		wantField string
	}{
		{name: "Latitude out of range", method: "POST", path: "/api/v1/drivers/me/location", body: `{"latitude":91,"longitude":0,"currRouteName":"r"}`, wantField: "latitude"},
		{name: "Missing longitude", method: "POST", path: "/api/v1/drivers/me/location", body: `{"latitude":1,"currRouteName":"r"}`, wantField: "longitude"},
		{name: "Missing route", method: "POST", path: "/api/v1/drivers/me/location", body: `{"latitude":1,"longitude":1}`, wantField: "currRouteName"},
		{name: "String latitude", method: "POST", path: "/api/v1/drivers/me/location", body: `{"latitude":"north","longitude":1,"currRouteName":"r"}`, wantField: "latitude"},
		{name: "Malformed JSON", method: "POST", path: "/api/v1/drivers/me/location", body: `{"latitude":`, wantField: "body"},
		{name: "Route missing destination latitude", method: "POST", path: "/api/v1/drivers/me/routes", body: `{"routeName":"r","destination":{"longitude":1}}`, wantField: "destination.latitude"},
		{name: "Limit over cap", method: "GET", path: "/api/v1/drivers/nearby?latitude=1&longitude=1&limit=101", wantField: "limit"},
		{name: "Negative radius", method: "GET", path: "/api/v1/drivers/nearby?latitude=1&longitude=1&radiusMeters=-5", wantField: "radiusMeters"},
		{name: "Missing latitude", method: "GET", path: "/api/v1/drivers/nearby?longitude=1", wantField: "latitude"},
		{name: "Blank latitude", method: "GET", path: "/api/v1/drivers/nearby?latitude=&longitude=-75", wantField: "latitude"},
		{name: "Blank longitude", method: "GET", path: "/api/v1/drivers/nearby?latitude=40&longitude=", wantField: "longitude"},
		{name: "Blank radius", method: "GET", path: "/api/v1/drivers/nearby?latitude=40&longitude=-75&radiusMeters=", wantField: "radiusMeters"},
		{name: "Blank limit", method: "GET", path: "/api/v1/drivers/nearby?latitude=40&longitude=-75&limit=", wantField: "limit"},
		{name: "Non-numeric latitude", method: "GET", path: "/api/v1/drivers/nearby?latitude=abc&longitude=1", wantField: "latitude"},
		{name: "Non-numeric limit", method: "GET", path: "/api/v1/drivers/nearby?latitude=1&longitude=1&limit=many", wantField: "limit"},
		{name: "NaN radius", method: "GET", path: "/api/v1/drivers/nearby?latitude=1&longitude=1&radiusMeters=NaN", wantField: "radiusMeters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(tt.method, tt.path, driver, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("Expected status 400, got %d. Body: %s", w.Code, w.Body.String())
			}
			var body struct {
				Error string `json:"error"`
				Field string `json:"field"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("Expected JSON error body, got %s", w.Body.String())
			}
			if body.Field != tt.wantField || body.Error == "" {
				t.Errorf("Expected field %q with a message, got %+v", tt.wantField, body)
			}
		})
	}

	// Latitude 0 is a real coordinate, not a missing field.
	w := srv.do("POST", "/api/v1/drivers/me/location", driver, `{"latitude":0,"longitude":0,"currRouteName":"Null Island"}`)
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for the origin, got %d. Body: %s", w.Code, w.Body.String())
	}
}

func TestAuthErrors(t *testing.T) {
	srv := setupTestServer(t)
	rider := srv.token(t, "rider-1", auth.RoleRider)

	key, _ := config.NewDefaultConfig().Auth.SecretBytes()
	expired, _ := auth.NewTokenService(key, "rydar", -time.Minute).Issue("driver-1", auth.RoleDriver)
	forged, _ := auth.NewTokenService([]byte("0123456789abcdef0123456789abcdef"), "rydar", time.Minute).Issue("driver-1", auth.RoleDriver)

	tests := []struct {
		name     string
		token    string
		wantCode int
	}{
		{name: "No token", token: "", wantCode: http.StatusUnauthorized},
		{name: "Garbage token", token: "driver-1", wantCode: http.StatusUnauthorized},
		{name: "Expired token", token: expired, wantCode: http.StatusUnauthorized},
		{name: "Signed with another key", token: forged, wantCode: http.StatusUnauthorized},
		{name: "Rider cannot ingest", token: rider, wantCode: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do("POST", "/api/v1/drivers/me/location", tt.token, `{"latitude":1,"longitude":1,"currRouteName":"r"}`)
			if w.Code != tt.wantCode {
				t.Fatalf("Expected status %d, got %d", tt.wantCode, w.Code)
			}
			if tt.wantCode != http.StatusUnauthorized {
				return
			}
			var response map[string]interface{}
			json.Unmarshal(w.Body.Bytes(), &response)
			if response["code"] != middleware.AuthErrorCode {
				t.Errorf("Expected code %s, got %v", middleware.AuthErrorCode, response["code"])
			}
			if w.Header().Get("WWW-Authenticate") == "" {
				t.Error("Expected WWW-Authenticate header")
			}
		})
	}
}

func TestStopBroadcastAndGetMyLocation(t *testing.T) {
	srv := setupTestServer(t)
	driver := srv.token(t, "driver-1", auth.RoleDriver)

	w := srv.do("GET", "/api/v1/drivers/me/location", driver, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 before broadcasting, got %d", w.Code)
	}

	srv.do("POST", "/api/v1/drivers/me/location", driver, `{"latitude":37.77,"longitude":-122.41,"currRouteName":"Home","customComments":"  hi "}`)

	w = srv.do("GET", "/api/v1/drivers/me/location", driver, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var presence map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &presence)
	if presence["userId"] != "driver-1" || presence["customComments"] != "hi" {
		t.Errorf("Unexpected presence %v", presence)
	}

	w = srv.do("DELETE", "/api/v1/drivers/me/location", driver, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
	w = srv.do("DELETE", "/api/v1/drivers/me/location", driver, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected idempotent 204, got %d", w.Code)
	}
	w = srv.do("GET", "/api/v1/drivers/me/location", driver, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after stop, got %d", w.Code)
	}
}

func TestRoutesCRUD(t *testing.T) {
	srv := setupTestServer(t)
	driver := srv.token(t, "driver-1", auth.RoleDriver)
	rider := srv.token(t, "rider-1", auth.RoleRider)

	body := `{"routeName":"Downtown","destination":{"latitude":37.79,"longitude":-122.40},"customComments":"No pets"}`
	w := srv.do("POST", "/api/v1/drivers/me/routes", driver, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d. Body: %s", w.Code, w.Body.String())
	}
	w = srv.do("GET", "/api/v1/drivers/me/routes/Downtown", driver, "")
	var route map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &route)
	if w.Code != http.StatusOK || route["routeName"] != "Downtown" {
		t.Errorf("Expected stored route, got %d %v", w.Code, route)
	}
	w = srv.do("GET", "/api/v1/drivers/me/routes/Uptown", driver, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown route, got %d", w.Code)
	}

	w = srv.do("POST", "/api/v1/drivers/me/routes", driver, body)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate, got %d", w.Code)
	}

	// Broadcasting under the stored route borrows its comment.
	srv.do("POST", "/api/v1/drivers/me/location", driver, `{"latitude":37.77,"longitude":-122.41,"currRouteName":"Downtown"}`)
	w = srv.do("GET", "/api/v1/drivers/nearby?latitude=37.77&longitude=-122.41", rider, "")
	var nearby handlers.NearbyResponse
	json.Unmarshal(w.Body.Bytes(), &nearby)
	if len(nearby.NearbyDrivers) != 1 || nearby.NearbyDrivers[0].CustomComments.Text != "No pets" {
		t.Errorf("Expected stored route comment, got %+v", nearby.NearbyDrivers)
	}

	w = srv.do("PUT", "/api/v1/drivers/me/routes/Downtown", driver,
		`{"routeName":"Financial District","destination":{"latitude":37.79,"longitude":-122.40}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d. Body: %s", w.Code, w.Body.String())
	}

	w = srv.do("GET", "/api/v1/drivers/me/routes", driver, "")
	var list struct {
		Routes []map[string]interface{} `json:"routes"`
	}
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Routes) != 1 || list.Routes[0]["routeName"] != "Financial District" {
		t.Errorf("Expected renamed route, got %v", list.Routes)
	}

	w = srv.do("DELETE", "/api/v1/drivers/me/routes/Financial%20District", driver, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
	w = srv.do("DELETE", "/api/v1/drivers/me/routes/Financial%20District", driver, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}

	w = srv.do("GET", "/api/v1/drivers/me/routes", rider, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected riders to be refused, got %d", w.Code)
	}
}

func TestIngestRateLimit(t *testing.T) {
	srv := setupTestServer(t, func(o *RouterOptions) {
		o.IngestLimiter = middleware.NewRateLimiter(0.001, 2, 100)
	})
	driver := srv.token(t, "driver-1", auth.RoleDriver)
	body := `{"latitude":1,"longitude":1,"currRouteName":"r"}`

	for i := 0; i < 2; i++ {
		if w := srv.do("POST", "/api/v1/drivers/me/location", driver, body); w.Code != http.StatusNoContent {
			t.Fatalf("Push %d: expected 204, got %d", i, w.Code)
		}
	}
	w := srv.do("POST", "/api/v1/drivers/me/location", driver, body)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}

	// Budgets are per driver.
	other := srv.token(t, "driver-2", auth.RoleDriver)
	if w := srv.do("POST", "/api/v1/drivers/me/location", other, body); w.Code != http.StatusNoContent {
		t.Errorf("Expected another driver to be unaffected, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := setupTestServer(t)

	req, _ := http.NewRequest("OPTIONS", "/api/v1/drivers/nearby", nil)
	req.Header.Set("Origin", "http://localhost:19006")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Expected any origin allowed, got %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
}
