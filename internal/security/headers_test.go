package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(mw gin.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(mw)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHeadersMiddleware(t *testing.T) {
	w := serve(HeadersMiddleware(), httptest.NewRequest("GET", "/ping", nil))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
		"Content-Security-Policy": apiCSP,
	}
	for name, v := range want {
		if got := w.Header().Get(name); got != v {
			t.Errorf("%s = %q, want %q", name, got, v)
		}
	}
}

func TestCORSOriginAllowlist(t *testing.T) {
	cases := []struct {
		name    string
		origins []string
		origin  string
		allow   bool
	}{
		{"listed origin", []string{"https://acethrift.app"}, "https://acethrift.app", true},
		{"unlisted origin", []string{"https://acethrift.app"}, "https://evil.example", false},
		{"wildcard", []string{"*"}, "https://anywhere.example", true},
		{"empty list allows all", nil, "https://anywhere.example", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ping", nil)
			req.Header.Set("Origin", tc.origin)
			w := serve(CORSMiddleware(tc.origins), req)

			got := w.Header().Get("Access-Control-Allow-Origin") != ""
			if got != tc.allow {
				t.Errorf("allow-origin present = %v, want %v", got, tc.allow)
			}
		})
	}
}

func TestCORSWildcardOmitsCredentials(t *testing.T) {
	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	w := serve(CORSMiddleware([]string{"*"}), req)

	if w.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("wildcard CORS must not advertise credentials")
	}
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "https://acethrift.app")
	w := serve(CORSMiddleware([]string{"https://acethrift.app"}), req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("Access-Control-Allow-Methods not set on preflight")
	}
}
