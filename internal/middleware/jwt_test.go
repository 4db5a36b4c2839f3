package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prepdeck/prepdeck-backend/internal/service"
)

func adminContext(t *testing.T, claims *service.Claims) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	if claims != nil {
		c.Set(ContextKeyClaims, claims)
	}
	return c, w
}

func TestRequireAdminBlocksNonAdmins(t *testing.T) {
	cases := []struct {
		name   string
		claims *service.Claims
	}{
		{"no claims", nil},
		{"regular user", &service.Claims{UserID: "u1"}},
	}
	for _, tc := range cases {
		c, w := adminContext(t, tc.claims)
		RequireAdmin()(c)
		if !c.IsAborted() || w.Code != http.StatusForbidden {
			t.Errorf("%s: aborted=%v code=%d, want aborted 403", tc.name, c.IsAborted(), w.Code)
		}
	}
}

func TestRequireAdminPassesAdmins(t *testing.T) {
	c, _ := adminContext(t, &service.Claims{UserID: "u1", IsAdmin: true})
	RequireAdmin()(c)
	if c.IsAborted() {
		t.Fatal("admin request was aborted")
	}
}

func TestBearerTokenExtraction(t *testing.T) {
	cases := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"bearer header", "Bearer abc", "", "abc"},
		{"case insensitive scheme", "bearer abc", "", "abc"},
		{"query fallback", "", "xyz", "xyz"},
		{"header wins over query", "Bearer abc", "xyz", "abc"},
		{"wrong scheme falls through", "Basic abc", "xyz", "xyz"},
		{"nothing", "", "", ""},
	}
	for _, tc := range cases {
		gin.SetMode(gin.TestMode)
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/?token="+tc.query, nil)
		if tc.header != "" {
			c.Request.Header.Set("Authorization", tc.header)
		}
		if got := bearerToken(c); got != tc.want {
			t.Errorf("%s: bearerToken = %q, want %q", tc.name, got, tc.want)
		}
	}
}
