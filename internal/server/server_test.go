package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/acethrift/ace/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testTreasury = "0x00000000000000000000000000000000000000fe"
	testAdmin    = "test-admin-secret"
)

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Env:               "development",
		LogLevel:          "error",
		TreasuryAddress:   testTreasury,
		PlatformFeeBPS:    250,
		MaxEscrowDuration: 7 * 24 * time.Hour,
		MaxBulkPurchase:   20,
		AdminSecret:       testAdmin,
		RateLimitRPM:      100000,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// do issues a JSON request against the router and decodes the response body.
func do(t *testing.T, s *Server, method, path, body string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp map[string]interface{}
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
		}
	}
	return w.Code, resp
}

// register creates an account and returns auth headers for it.
func register(t *testing.T, s *Server, addr string) map[string]string {
	t.Helper()
	body := fmt.Sprintf(`{"address":%q,"name":"test key"}`, addr)
	code, resp := do(t, s, "POST", "/v1/auth/register", body, nil)
	if code != http.StatusCreated {
		t.Fatalf("Registration failed with %d: %v", code, resp)
	}
	key, _ := resp["apiKey"].(string)
	if key == "" {
		t.Fatal("Expected apiKey in registration response")
	}
	return map[string]string{"Authorization": "Bearer " + key}
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	code, resp := do(t, s, "GET", "/health", "", nil)
	if code != http.StatusOK {
		t.Errorf("Expected 200, got %d", code)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	// Server hasn't called Run() so ready is false
	code, _ := do(t, s, "GET", "/health/ready", "", nil)
	if code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/metrics",
		"GET:/ws",
		"GET:/v1/products",
		"POST:/v1/products",
		"GET:/v1/escrows/:id",
		"POST:/v1/escrows",
		"POST:/v1/escrows/:id/confirm",
		"POST:/v1/escrows/:id/refund",
		"GET:/v1/products/:id/offers",
		"POST:/v1/offers",
		"POST:/v1/products/:id/offers/:index/accept",
		"POST:/v1/checkout/bulk",
		"POST:/v1/webhooks",
		"POST:/v1/admin/deposits",
		"POST:/v1/admin/escrows/:id/refund",
		"GET:/v1/accounts/:address/balance",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Auth enforcement tests
// ---------------------------------------------------------------------------

func TestProtectedRouteRequiresKey(t *testing.T) {
	s := newTestServer(t)

	body := `{"name":"Jacket","tokenPrice":"10","ethPrice":"0.01","quantity":1}`
	code, _ := do(t, s, "POST", "/v1/products", body, nil)
	if code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without API key, got %d", code)
	}
}

func TestAdminRouteRequiresSecret(t *testing.T) {
	s := newTestServer(t)

	body := `{"address":"0xaaaa000000000000000000000000000000000001","denom":"ace","amount":"100","txHash":"0xdep1"}`

	code, _ := do(t, s, "POST", "/v1/admin/deposits", body, nil)
	if code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without admin secret, got %d", code)
	}

	code, _ = do(t, s, "POST", "/v1/admin/deposits", body, map[string]string{"X-Admin-Secret": testAdmin})
	if code != http.StatusCreated {
		t.Errorf("Expected 201 with admin secret, got %d", code)
	}
}

// ---------------------------------------------------------------------------
// End-to-end purchase flow
// ---------------------------------------------------------------------------

func TestPurchaseFlow(t *testing.T) {
	s := newTestServer(t)

	seller := "0xaaaa000000000000000000000000000000000001"
	buyer := "0xbbbb000000000000000000000000000000000002"
	sellerAuth := register(t, s, seller)
	buyerAuth := register(t, s, buyer)
	adminAuth := map[string]string{"X-Admin-Secret": testAdmin}

	// Credit the buyer and grant the marketplace a spending allowance
	deposit := fmt.Sprintf(`{"address":%q,"denom":"ace","amount":"100","txHash":"0xdep2"}`, buyer)
	if code, resp := do(t, s, "POST", "/v1/admin/deposits", deposit, adminAuth); code != http.StatusCreated {
		t.Fatalf("Deposit failed with %d: %v", code, resp)
	}
	approve := `{"denom":"ace","amount":"100"}`
	if code, resp := do(t, s, "POST", "/v1/accounts/"+buyer+"/approve", approve, buyerAuth); code != http.StatusOK {
		t.Fatalf("Approve failed with %d: %v", code, resp)
	}

	// Seller lists a product
	listing := `{"name":"Vintage Jacket","tokenPrice":"10","ethPrice":"0.01","quantity":5}`
	code, product := do(t, s, "POST", "/v1/products", listing, sellerAuth)
	if code != http.StatusCreated {
		t.Fatalf("Listing failed with %d: %v", code, product)
	}
	productID, _ := product["id"].(string)
	if productID == "" {
		t.Fatal("Expected product id in listing response")
	}

	// Buyer opens an escrow for two units
	create := fmt.Sprintf(`{"productId":%q,"quantity":2,"denom":"ace","amount":"20"}`, productID)
	code, esc := do(t, s, "POST", "/v1/escrows", create, buyerAuth)
	if code != http.StatusCreated {
		t.Fatalf("Escrow creation failed with %d: %v", code, esc)
	}
	escrowID := fmt.Sprintf("%.0f", esc["id"].(float64))

	// Both parties confirm; settlement pays the seller minus the 2.5% fee
	if code, resp := do(t, s, "POST", "/v1/escrows/"+escrowID+"/confirm", "", buyerAuth); code != http.StatusOK {
		t.Fatalf("Buyer confirm failed with %d: %v", code, resp)
	}
	if code, resp := do(t, s, "POST", "/v1/escrows/"+escrowID+"/confirm", "", sellerAuth); code != http.StatusOK {
		t.Fatalf("Seller confirm failed with %d: %v", code, resp)
	}

	code, balResp := do(t, s, "GET", "/v1/accounts/"+seller+"/balance?denom=ace", "", nil)
	if code != http.StatusOK {
		t.Fatalf("Balance lookup failed with %d: %v", code, balResp)
	}
	bal, _ := balResp["balance"].(map[string]interface{})
	if got := bal["available"]; got != "19.500000" {
		t.Errorf("Expected seller available 19.500000, got %v", got)
	}

	// Treasury collected the fee
	code, treasResp := do(t, s, "GET", "/v1/accounts/"+testTreasury+"/balance?denom=ace", "", nil)
	if code != http.StatusOK {
		t.Fatalf("Treasury balance lookup failed with %d: %v", code, treasResp)
	}
	tbal, _ := treasResp["balance"].(map[string]interface{})
	if got := tbal["available"]; got != "0.500000" {
		t.Errorf("Expected treasury available 0.500000, got %v", got)
	}

	// Stock came down and the sale is reflected on the product
	code, after := do(t, s, "GET", "/v1/products/"+productID, "", nil)
	if code != http.StatusOK {
		t.Fatalf("Product lookup failed with %d: %v", code, after)
	}
	if got := after["quantity"].(float64); got != 3 {
		t.Errorf("Expected remaining quantity 3, got %v", got)
	}
}

func TestEscrowRefundFlow(t *testing.T) {
	s := newTestServer(t)

	seller := "0xaaaa000000000000000000000000000000000003"
	buyer := "0xbbbb000000000000000000000000000000000004"
	sellerAuth := register(t, s, seller)
	buyerAuth := register(t, s, buyer)
	adminAuth := map[string]string{"X-Admin-Secret": testAdmin}

	deposit := fmt.Sprintf(`{"address":%q,"denom":"ace","amount":"50","txHash":"0xdep3"}`, buyer)
	do(t, s, "POST", "/v1/admin/deposits", deposit, adminAuth)
	do(t, s, "POST", "/v1/accounts/"+buyer+"/approve", `{"denom":"ace","amount":"50"}`, buyerAuth)

	listing := `{"name":"Wool Scarf","tokenPrice":"5","ethPrice":"0.005","quantity":1}`
	_, product := do(t, s, "POST", "/v1/products", listing, sellerAuth)
	productID := product["id"].(string)

	create := fmt.Sprintf(`{"productId":%q,"quantity":1,"denom":"ace","amount":"5"}`, productID)
	_, esc := do(t, s, "POST", "/v1/escrows", create, buyerAuth)
	escrowID := fmt.Sprintf("%.0f", esc["id"].(float64))

	// Buyer cannot refund before the deadline
	code, _ := do(t, s, "POST", "/v1/escrows/"+escrowID+"/refund", "", buyerAuth)
	if code != http.StatusConflict {
		t.Errorf("Expected 409 refunding before deadline, got %d", code)
	}

	// Admin refund bypasses the deadline gate
	code, resp := do(t, s, "POST", "/v1/admin/escrows/"+escrowID+"/refund", "", adminAuth)
	if code != http.StatusOK {
		t.Fatalf("Admin refund failed with %d: %v", code, resp)
	}

	code, balResp := do(t, s, "GET", "/v1/accounts/"+buyer+"/balance?denom=ace", "", nil)
	if code != http.StatusOK {
		t.Fatalf("Balance lookup failed with %d: %v", code, balResp)
	}
	bal, _ := balResp["balance"].(map[string]interface{})
	if got := bal["available"]; got != "50.000000" {
		t.Errorf("Expected buyer made whole at 50.000000, got %v", got)
	}
}

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	code, _ := do(t, s, "GET", "/v1/nonexistent", "", nil)
	if code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", code)
	}
}
