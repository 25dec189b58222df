package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type staticTokens map[string]string

func (s staticTokens) ParseToken(token string) (string, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return "", errors.New("invalid token")
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/me", AuthMiddleware(staticTokens{"good": "u1"}), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("userID"))
	})

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{name: "missing", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic good", status: http.StatusUnauthorized},
		{name: "unknown token", header: "Bearer bad", status: http.StatusUnauthorized},
		{name: "valid", header: "bearer good", status: http.StatusOK, body: "u1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}
