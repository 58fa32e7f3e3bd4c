package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/suite"

	"github.com/avatarctic/quota-admission/internal/application/services"
	"github.com/avatarctic/quota-admission/internal/core/ports"
	"github.com/avatarctic/quota-admission/internal/infrastructure/health"
	saas_http "github.com/avatarctic/quota-admission/internal/infrastructure/httpserver"
	"github.com/avatarctic/quota-admission/internal/infrastructure/memory"
	tmocks "github.com/avatarctic/quota-admission/test/mocks"

	_ "time/tzdata"
)

const jwtSecret = "server-test-secret"

type ServerTestSuite struct {
	suite.Suite
	ts        *httptest.Server
	hits      *tmocks.HitRepositoryMock
	admission *services.AdmissionService
	fullID    uuid.UUID
}

func (s *ServerTestSuite) SetupTest() {
	store, err := memory.NewCounterStore(1000)
	s.Require().NoError(err)

	s.fullID = uuid.New()
	s.hits = &tmocks.HitRepositoryMock{CountHitsFn: func(_ context.Context, id uuid.UUID, _, _ time.Time) (int64, error) {
		if id == s.fullID {
			return 10000, nil
		}
		return 0, nil
	}}
	logger, _ := logtest.NewNullLogger()
	quotaSvc := services.NewQuotaService(store, s.hits, nil, nil, logger)
	s.admission = services.NewAdmissionService(services.AdmissionDeps{
		RateLimiter: services.NewRateLimiterService(store, nil, logger),
		Quota:       quotaSvc,
	}, nil, logger)

	srv, err := saas_http.NewServer(&saas_http.ServerConfig{
		Host:         "127.0.0.1",
		Port:         "0",
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		IdleTimeout:  time.Second,
		JWTSecret:    jwtSecret,
	}, logger, saas_http.ServerDeps{
		AdmissionService: s.admission,
		IdentityResolver: &tmocks.IdentityResolverMock{},
		QuotaService:     quotaSvc,
		HitRepository:    s.hits,
		HealthCheckers:   []ports.HealthChecker{health.NewCounterStoreHealthChecker(store)},
	})
	s.Require().NoError(err)
	s.ts = httptest.NewServer(srv.Echo())
}

func (s *ServerTestSuite) TearDownTest() {
	s.ts.Close()
	s.Require().NoError(s.admission.Close(context.Background()))
}

func (s *ServerTestSuite) token(id uuid.UUID) string {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   id.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(jwtSecret))
	s.Require().NoError(err)
	return tok
}

func (s *ServerTestSuite) do(method, path string, body any, token string) (*http.Response, []byte) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		s.Require().NoError(err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, r)
	s.Require().NoError(err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return resp, out
}

func (s *ServerTestSuite) TestHealth() {
	resp, body := s.do(http.MethodGet, "/health", nil, "")
	s.Equal(http.StatusOK, resp.StatusCode)

	var got map[string]any
	s.Require().NoError(json.Unmarshal(body, &got))
	s.Equal("healthy", got["status"])
	s.Equal(map[string]any{"counter_store": "healthy"}, got["dependencies"])
}

func (s *ServerTestSuite) TestUsageRequiresToken() {
	resp, _ := s.do(http.MethodGet, "/api/v1/usage", nil, "")
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *ServerTestSuite) TestUsageIsMetered() {
	id := uuid.New()
	resp, body := s.do(http.MethodGet, "/api/v1/usage", nil, s.token(id))
	s.Require().Equal(http.StatusOK, resp.StatusCode, string(body))
	s.Equal("9999", resp.Header.Get("X-Quota-Remaining"))
	s.Equal("49", resp.Header.Get("X-RateLimit-Remaining"))

	var usage saas_http.UsageResponse
	s.Require().NoError(json.Unmarshal(body, &usage))
	s.Equal(id, usage.IdentityID)
	s.Equal(int64(1), usage.Used)
	s.Equal(int64(10000), usage.Limit)
	s.Len(s.hits.Created(), 1)
}

func (s *ServerTestSuite) TestUsageOverQuota() {
	resp, body := s.do(http.MethodGet, "/api/v1/usage", nil, s.token(s.fullID))
	s.Equal(http.StatusTooManyRequests, resp.StatusCode)
	s.NotEmpty(resp.Header.Get("Retry-After"))
	s.JSONEq(`{"error":"over quota","reason":"over_quota","retry_after_seconds":`+resp.Header.Get("Retry-After")+`}`, string(body))
	s.Empty(s.hits.Created())
}

func (s *ServerTestSuite) TestDecide() {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	offset := 600
	req := saas_http.DecideRequest{IdentityID: s.fullID.String(), TimezoneOffset: &offset, SourceKey: "198.51.100.4", Now: &now}

	resp, body := s.do(http.MethodPost, "/api/v1/admission/decide", req, s.token(uuid.New()))
	s.Require().Equal(http.StatusOK, resp.StatusCode, string(body))

	var got map[string]any
	s.Require().NoError(json.Unmarshal(body, &got))
	s.Equal(false, got["allowed"])
	s.Equal("over_quota", got["reason"])
	// period ends 2024-05-31T14:00:00Z
	s.EqualValues(1389600, got["retry_after_seconds"])
	s.Equal("1389600", resp.Header.Get("Retry-After"))

	req.IdentityID = uuid.New().String()
	req.TimezoneOffset = nil
	req.Timezone = "Asia/Kolkata"
	resp, body = s.do(http.MethodPost, "/api/v1/admission/decide", req, s.token(uuid.New()))
	s.Require().Equal(http.StatusOK, resp.StatusCode, string(body))
	s.Require().NoError(json.Unmarshal(body, &got))
	s.Equal(true, got["allowed"])
	s.Equal("ok", got["reason"])
}

func (s *ServerTestSuite) TestDecideRejectsBadRequests() {
	tok := s.token(uuid.New())
	cases := []saas_http.DecideRequest{
		{IdentityID: uuid.New().String()},
		{IdentityID: "nope", SourceKey: "src"},
	}
	for _, c := range cases {
		resp, body := s.do(http.MethodPost, "/api/v1/admission/decide", c, tok)
		s.Equal(http.StatusBadRequest, resp.StatusCode, string(body))
	}
}

func (s *ServerTestSuite) TestDecideInvalidTimezoneUsesUTCMonth() {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	outOfRange := 99999
	cases := map[string]saas_http.DecideRequest{
		"offset out of range": {IdentityID: s.fullID.String(), TimezoneOffset: &outOfRange, SourceKey: "198.51.100.7", Now: &now},
		"unknown zone":        {IdentityID: s.fullID.String(), Timezone: "Mars/Olympus_Mons", SourceKey: "198.51.100.7", Now: &now},
	}
	for name, req := range cases {
		resp, body := s.do(http.MethodPost, "/api/v1/admission/decide", req, s.token(uuid.New()))
		s.Require().Equal(http.StatusOK, resp.StatusCode, "%s: %s", name, body)

		var got map[string]any
		s.Require().NoError(json.Unmarshal(body, &got))
		s.Equal("over_quota", got["reason"], name)
		// UTC period ends 2024-06-01T00:00:00Z
		s.EqualValues(1425600, got["retry_after_seconds"], name)
		s.Equal("1717200000", resp.Header.Get("X-Quota-Reset"), name)
	}
}

func (s *ServerTestSuite) TestMetrics() {
	s.do(http.MethodGet, "/health", nil, "")
	resp, body := s.do(http.MethodGet, "/metrics", nil, "")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Contains(string(body), "http_requests_total")
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}
