package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"restaurant-order-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubValidator map[string]*service.AuthUser

func (s stubValidator) ValidateToken(_ context.Context, token string) (*service.AuthUser, error) {
	if u, ok := s[token]; ok {
		return u, nil
	}
	return nil, service.ErrInvalidToken
}

func newRouter(t *testing.T) (*gin.Engine, *test.Hook) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, hook := test.NewNullLogger()

	users := stubValidator{
		"admin-token": {ID: "1", Name: "Admin", Permissions: []string{"admin"}, Enabled: true},
		"staff-token": {ID: "2", Name: "Staff", Permissions: []string{"orders"}, Enabled: true},
	}

	r := gin.New()
	r.Use(RequestID(), RequestLogger(logger))
	protected := r.Group("/", AuthMiddleware(users, logger), AdminOnly())
	protected.GET("/secret", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": c.GetString(UserIDKey)})
	})
	return r, hook
}

func get(r http.Handler, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/secret", nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthAndAdminOnly(t *testing.T) {
	r, _ := newRouter(t)

	cases := []struct {
		name   string
		auth   string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic admin-token", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", http.StatusUnauthorized},
		{"not admin", "Bearer staff-token", http.StatusForbidden},
		{"admin", "Bearer admin-token", http.StatusOK},
		{"lowercase scheme", "bearer admin-token", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			if tc.auth != "" {
				h.Set("Authorization", tc.auth)
			}
			w := get(r, h)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestRequestIDAndLogger(t *testing.T) {
	r, hook := newRouter(t)

	w := get(r, http.Header{"Authorization": []string{"Bearer admin-token"}})
	require.Equal(t, http.StatusOK, w.Code)
	generated := w.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, generated, entry.Data["request_id"])
	assert.Equal(t, http.StatusOK, entry.Data["status_code"])

	w = get(r, http.Header{RequestIDHeader: []string{"abc-123"}})
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}
