package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fintrack/models"
)

// helper to perform requests with an optional auth token
func performRequest(r http.Handler, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	return bytes.NewBuffer(b)
}

func setupTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	// integration tests are opt-in. Set DB_DSN_TEST=1 and DB_DSN to run them.
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	gin.SetMode(gin.TestMode)
	jwtSecret = []byte("integration-test-secret")
	_ = os.Setenv("SEED_ADMIN_EMAIL", "admin@example.com")
	_ = os.Setenv("SEED_ADMIN_PASSWORD", "admin123")

	initDB()
	if err := db.Exec("TRUNCATE TABLE transactions, refresh_tokens, users").Error; err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
	seedDB()
	invalidateTransactionCaches()

	r := gin.New()
	setupRoutes(r)
	return r
}

func mustRegister(t *testing.T, r *gin.Engine, name, email, password string) {
	t.Helper()
	resp := performRequest(r, http.MethodPost, "/register",
		jsonBody(t, map[string]string{"name": name, "email": email, "password": password}), "")
	if resp.Code != http.StatusCreated {
		t.Fatalf("register failed status=%d body=%s", resp.Code, resp.Body.String())
	}
}

func mustLogin(t *testing.T, r *gin.Engine, email, password string) string {
	t.Helper()
	resp := performRequest(r, http.MethodPost, "/login",
		jsonBody(t, map[string]string{"email": email, "password": password}), "")
	if resp.Code != http.StatusOK {
		t.Fatalf("login failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var loginResp map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &loginResp); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	if loginResp["token"] == "" {
		t.Fatalf("empty token in login response: %+v", loginResp)
	}
	return loginResp["token"]
}

func mustCreateTransaction(t *testing.T, r *gin.Engine, token, kind, category string, amount float64, date string) models.Transaction {
	t.Helper()
	resp := performRequest(r, http.MethodPost, "/transactions",
		jsonBody(t, map[string]any{"type": kind, "category": category, "amount": amount, "date": date}), token)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create transaction failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var created struct {
		Transaction models.Transaction `json:"transaction"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}
	return created.Transaction
}

func mustList(t *testing.T, r *gin.Engine, token, query string) transactionList {
	t.Helper()
	resp := performRequest(r, http.MethodGet, "/transactions"+query, nil, token)
	if resp.Code != http.StatusOK {
		t.Fatalf("list failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var list transactionList
	if err := json.Unmarshal(resp.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to decode list response: %v", err)
	}
	return list
}

func assertTotals(t *testing.T, list transactionList, income, expense int64) {
	t.Helper()
	if !list.TotalIncome.Equal(decimal.NewFromInt(income)) {
		t.Errorf("expected totalIncome %d, got %s", income, list.TotalIncome)
	}
	if !list.TotalExpense.Equal(decimal.NewFromInt(expense)) {
		t.Errorf("expected totalExpense %d, got %s", expense, list.TotalExpense)
	}
	if !list.Balance.Equal(list.TotalIncome.Sub(list.TotalExpense)) {
		t.Errorf("balance identity broken: %s - %s != %s", list.TotalIncome, list.TotalExpense, list.Balance)
	}
}

func TestListTotalsOrderingAndPagination(t *testing.T) {
	r := setupTestServer(t)
	mustRegister(t, r, "User One", "user1@example.com", "password123")
	token := mustLogin(t, r, "user1@example.com", "password123")

	mustCreateTransaction(t, r, token, "income", "salary", 1000, "2025-01-05")
	mustCreateTransaction(t, r, token, "income", "bonus", 500, "2025-01-06")
	mustCreateTransaction(t, r, token, "expense", "groceries", 300, "2025-01-07")

	list := mustList(t, r, token, "?page=1&limit=10")
	if list.Total != 3 || len(list.Transactions) != 3 {
		t.Fatalf("expected 3 transactions, got total=%d len=%d", list.Total, len(list.Transactions))
	}
	assertTotals(t, list, 1500, 300)
	if !list.Balance.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("expected balance 1200, got %s", list.Balance)
	}

	// newest first
	if list.Transactions[0].Category != "groceries" || list.Transactions[2].Category != "salary" {
		t.Errorf("expected newest-first ordering, got %s .. %s",
			list.Transactions[0].Category, list.Transactions[2].Category)
	}

	// page 2 of size 2 over 3 items holds exactly 1 item; totals are
	// invariant under pagination
	page2 := mustList(t, r, token, "?page=2&limit=2")
	if page2.Total != 3 || len(page2.Transactions) != 1 {
		t.Errorf("expected 1 item on page 2, got total=%d len=%d", page2.Total, len(page2.Transactions))
	}
	if page2.Page != 2 || page2.Limit != 2 {
		t.Errorf("expected page=2 limit=2 echoed, got page=%d limit=%d", page2.Page, page2.Limit)
	}
	assertTotals(t, page2, 1500, 300)

	// invalid pagination values fall back to defaults instead of failing
	fallback := mustList(t, r, token, "?page=abc&limit=-5")
	if fallback.Page != 1 || fallback.Limit != 10 {
		t.Errorf("expected defaults page=1 limit=10, got page=%d limit=%d", fallback.Page, fallback.Limit)
	}
	assertTotals(t, fallback, 1500, 300)
}

func TestOwnerScopedVisibility(t *testing.T) {
	r := setupTestServer(t)
	mustRegister(t, r, "User One", "user1@example.com", "password123")
	mustRegister(t, r, "User Two", "user2@example.com", "password123")
	tokenA := mustLogin(t, r, "user1@example.com", "password123")
	tokenB := mustLogin(t, r, "user2@example.com", "password123")

	mustCreateTransaction(t, r, tokenA, "income", "salary", 1000, "2025-02-01")
	txB := mustCreateTransaction(t, r, tokenB, "expense", "rent", 700, "2025-02-02")

	listB := mustList(t, r, tokenB, "")
	if listB.Total != 1 {
		t.Fatalf("expected user2 to see 1 transaction, got %d", listB.Total)
	}
	for _, tx := range listB.Transactions {
		if tx.UserID != txB.UserID {
			t.Errorf("non-privileged listing leaked transaction owned by %s", tx.UserID)
		}
	}
	assertTotals(t, listB, 0, 700)
}

func TestForeignTransactionIndistinguishableFromMissing(t *testing.T) {
	r := setupTestServer(t)
	mustRegister(t, r, "User One", "user1@example.com", "password123")
	mustRegister(t, r, "User Two", "user2@example.com", "password123")
	tokenA := mustLogin(t, r, "user1@example.com", "password123")
	tokenB := mustLogin(t, r, "user2@example.com", "password123")

	txA := mustCreateTransaction(t, r, tokenA, "income", "salary", 1000, "2025-02-01")
	unknownID := uuid.NewString()

	update := map[string]any{"amount": 1}
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		var body io.Reader
		if method == http.MethodPut {
			body = jsonBody(t, update)
		}
		foreign := performRequest(r, method, "/transactions/"+txA.ID, body, tokenB)
		if method == http.MethodPut {
			body = jsonBody(t, update)
		}
		missing := performRequest(r, method, "/transactions/"+unknownID, body, tokenB)
		if foreign.Code != http.StatusNotFound {
			t.Errorf("%s foreign transaction: expected 404, got %d", method, foreign.Code)
		}
		if foreign.Code != missing.Code || foreign.Body.String() != missing.Body.String() {
			t.Errorf("%s: foreign and missing ids must be indistinguishable, got %d/%s vs %d/%s",
				method, foreign.Code, foreign.Body.String(), missing.Code, missing.Body.String())
		}
	}

	// the record is untouched
	listA := mustList(t, r, tokenA, "")
	if listA.Total != 1 || !listA.Transactions[0].Amount.Equal(decimal.NewFromInt(1000)) {
		t.Error("foreign mutation attempt must not modify the record")
	}
}

func TestCreateUpdateListRoundTrip(t *testing.T) {
	r := setupTestServer(t)
	mustRegister(t, r, "User One", "user1@example.com", "password123")
	token := mustLogin(t, r, "user1@example.com", "password123")

	tx := mustCreateTransaction(t, r, token, "expense", "groceries", 120, "2025-03-01")

	resp := performRequest(r, http.MethodPut, "/transactions/"+tx.ID,
		jsonBody(t, map[string]any{"amount": 80, "category": "food", "note": "market"}), token)
	if resp.Code != http.StatusOK {
		t.Fatalf("update failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var updated struct {
		Transaction models.Transaction `json:"transaction"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &updated); err != nil {
		t.Fatalf("failed to decode update response: %v", err)
	}
	if !updated.Transaction.Amount.Equal(decimal.NewFromInt(80)) || updated.Transaction.Category != "food" {
		t.Errorf("update must return the post-update record, got %+v", updated.Transaction)
	}
	if updated.Transaction.Type != "expense" {
		t.Errorf("omitted fields must keep their value, got type=%s", updated.Transaction.Type)
	}

	list := mustList(t, r, token, "")
	if len(list.Transactions) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(list.Transactions))
	}
	got := list.Transactions[0]
	if !got.Amount.Equal(decimal.NewFromInt(80)) || got.Category != "food" || got.Note != "market" {
		t.Errorf("list must reflect updated fields, got %+v", got)
	}
	assertTotals(t, list, 0, 80)
}

func TestRolePromotionWidensScope(t *testing.T) {
	r := setupTestServer(t)
	mustRegister(t, r, "User One", "user1@example.com", "password123")
	mustRegister(t, r, "User Two", "user2@example.com", "password123")
	tokenA := mustLogin(t, r, "user1@example.com", "password123")
	tokenB := mustLogin(t, r, "user2@example.com", "password123")
	adminToken := mustLogin(t, r, "admin@example.com", "admin123")

	mustCreateTransaction(t, r, tokenA, "income", "salary", 1000, "2025-04-01")
	mustCreateTransaction(t, r, tokenB, "expense", "rent", 700, "2025-04-02")

	// before promotion: own scope only, and no user directory access
	if got := mustList(t, r, tokenB, "").Total; got != 1 {
		t.Fatalf("expected user2 to see 1 transaction before promotion, got %d", got)
	}
	if resp := performRequest(r, http.MethodGet, "/users", nil, tokenB); resp.Code != http.StatusForbidden {
		t.Errorf("expected 403 on /users for non-privileged caller, got %d", resp.Code)
	}

	// resolve user2's id through the privileged directory
	resp := performRequest(r, http.MethodGet, "/users", nil, adminToken)
	if resp.Code != http.StatusOK {
		t.Fatalf("admin user listing failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var users []models.User
	if err := json.Unmarshal(resp.Body.Bytes(), &users); err != nil {
		t.Fatalf("failed to decode users: %v", err)
	}
	var userBID string
	for _, u := range users {
		if u.Email == "user2@example.com" {
			userBID = u.ID
		}
	}
	if userBID == "" {
		t.Fatal("user2 not present in directory")
	}

	resp = performRequest(r, http.MethodPatch, "/users/"+userBID+"/role",
		jsonBody(t, map[string]string{"role": "admin"}), adminToken)
	if resp.Code != http.StatusOK {
		t.Fatalf("role change failed status=%d body=%s", resp.Code, resp.Body.String())
	}

	// the old token still carries the old role; a fresh login reflects the
	// promotion and widens the visible scope to all users' transactions
	promotedToken := mustLogin(t, r, "user2@example.com", "password123")
	if got := mustList(t, r, promotedToken, "").Total; got != 2 {
		t.Errorf("expected promoted user to see all 2 transactions, got %d", got)
	}
	if resp := performRequest(r, http.MethodGet, "/users", nil, promotedToken); resp.Code != http.StatusOK {
		t.Errorf("expected promoted user to list accounts, got %d", resp.Code)
	}
}

func TestRoleManagementValidation(t *testing.T) {
	r := setupTestServer(t)
	mustRegister(t, r, "User One", "user1@example.com", "password123")
	tokenA := mustLogin(t, r, "user1@example.com", "password123")
	adminToken := mustLogin(t, r, "admin@example.com", "admin123")

	target := uuid.NewString()
	resp := performRequest(r, http.MethodPatch, "/users/"+target+"/role",
		jsonBody(t, map[string]string{"role": "admin"}), tokenA)
	if resp.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-privileged role change, got %d", resp.Code)
	}

	resp = performRequest(r, http.MethodPatch, "/users/"+target+"/role",
		jsonBody(t, map[string]string{"role": "superuser"}), adminToken)
	if resp.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid role, got %d", resp.Code)
	}

	resp = performRequest(r, http.MethodPatch, "/users/"+target+"/role",
		jsonBody(t, map[string]string{"role": "manager"}), adminToken)
	if resp.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown user, got %d", resp.Code)
	}
}

func TestCreateValidation(t *testing.T) {
	r := setupTestServer(t)
	mustRegister(t, r, "User One", "user1@example.com", "password123")
	token := mustLogin(t, r, "user1@example.com", "password123")

	cases := []map[string]any{
		{"category": "salary", "amount": 100, "date": "2025-01-01"},                         // missing type
		{"type": "income", "amount": 100, "date": "2025-01-01"},                             // missing category
		{"type": "income", "category": "salary", "date": "2025-01-01"},                      // missing amount
		{"type": "income", "category": "salary", "amount": 100},                             // missing date
		{"type": "transfer", "category": "salary", "amount": 100, "date": "2025-01-01"},     // bad type
		{"type": "income", "category": "salary", "amount": -100, "date": "2025-01-01"},      // negative amount
		{"type": "income", "category": "salary", "amount": 100, "date": "next tuesday"},     // bad date
		{"type": "income", "category": "   ", "amount": 100, "date": "2025-01-01"},          // blank category
	}
	for i, body := range cases {
		resp := performRequest(r, http.MethodPost, "/transactions", jsonBody(t, body), token)
		if resp.Code != http.StatusBadRequest {
			t.Errorf("case %d: expected 400, got %d body=%s", i, resp.Code, resp.Body.String())
		}
	}

	if list := mustList(t, r, token, ""); list.Total != 0 {
		t.Errorf("expected no transactions recorded, got %d", list.Total)
	}
}

func TestAuthRequiredAndIndistinguishableLoginFailures(t *testing.T) {
	r := setupTestServer(t)
	mustRegister(t, r, "User One", "user1@example.com", "password123")

	if resp := performRequest(r, http.MethodGet, "/transactions", nil, ""); resp.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.Code)
	}
	if resp := performRequest(r, http.MethodGet, "/transactions", nil, "bogus-token"); resp.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with bad token, got %d", resp.Code)
	}

	wrongPassword := performRequest(r, http.MethodPost, "/login",
		jsonBody(t, map[string]string{"email": "user1@example.com", "password": "nope"}), "")
	unknownAccount := performRequest(r, http.MethodPost, "/login",
		jsonBody(t, map[string]string{"email": "ghost@example.com", "password": "nope"}), "")
	if wrongPassword.Code != http.StatusUnauthorized || unknownAccount.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for both failures, got %d and %d", wrongPassword.Code, unknownAccount.Code)
	}
	if wrongPassword.Body.String() != unknownAccount.Body.String() {
		t.Error("wrong password and unknown account must be indistinguishable")
	}
}

func TestRefreshRotationAndRevocation(t *testing.T) {
	r := setupTestServer(t)
	mustRegister(t, r, "User One", "user1@example.com", "password123")

	resp := performRequest(r, http.MethodPost, "/login",
		jsonBody(t, map[string]string{"email": "user1@example.com", "password": "password123"}), "")
	if resp.Code != http.StatusOK {
		t.Fatalf("login failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var loginResp map[string]string
	_ = json.Unmarshal(resp.Body.Bytes(), &loginResp)
	refreshToken := loginResp["refresh_token"]
	if refreshToken == "" {
		t.Fatal("login must return a refresh token")
	}

	resp = performRequest(r, http.MethodPost, "/refresh",
		jsonBody(t, map[string]string{"refresh_token": refreshToken}), "")
	if resp.Code != http.StatusOK {
		t.Fatalf("refresh failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var refreshResp map[string]string
	_ = json.Unmarshal(resp.Body.Bytes(), &refreshResp)
	if refreshResp["token"] == "" || refreshResp["refresh_token"] == "" {
		t.Fatalf("refresh must return new tokens: %+v", refreshResp)
	}

	// rotation: the presented token is now dead
	resp = performRequest(r, http.MethodPost, "/refresh",
		jsonBody(t, map[string]string{"refresh_token": refreshToken}), "")
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("expected rotated-out refresh token rejected, got %d", resp.Code)
	}

	// explicit revocation kills the new one
	newRefresh := refreshResp["refresh_token"]
	resp = performRequest(r, http.MethodPost, "/revoke_refresh",
		jsonBody(t, map[string]string{"refresh_token": newRefresh}), "")
	if resp.Code != http.StatusOK {
		t.Fatalf("revoke failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodPost, "/refresh",
		jsonBody(t, map[string]string{"refresh_token": newRefresh}), "")
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("expected revoked refresh token rejected, got %d", resp.Code)
	}
}

func TestListCacheInvalidatedByMutations(t *testing.T) {
	r := setupTestServer(t)
	mustRegister(t, r, "User One", "user1@example.com", "password123")
	token := mustLogin(t, r, "user1@example.com", "password123")

	mustCreateTransaction(t, r, token, "income", "salary", 1000, "2025-05-01")
	first := mustList(t, r, token, "")
	if first.Total != 1 {
		t.Fatalf("expected 1 transaction, got %d", first.Total)
	}
	// the second read is served from cache; a mutation must drop it
	_ = mustList(t, r, token, "")

	tx := mustCreateTransaction(t, r, token, "expense", "rent", 400, "2025-05-02")
	afterCreate := mustList(t, r, token, "")
	if afterCreate.Total != 2 {
		t.Errorf("expected create to invalidate cached listing, got total=%d", afterCreate.Total)
	}
	assertTotals(t, afterCreate, 1000, 400)

	resp := performRequest(r, http.MethodDelete, "/transactions/"+tx.ID, nil, token)
	if resp.Code != http.StatusOK {
		t.Fatalf("delete failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	afterDelete := mustList(t, r, token, "")
	if afterDelete.Total != 1 {
		t.Errorf("expected delete to invalidate cached listing, got total=%d", afterDelete.Total)
	}
	assertTotals(t, afterDelete, 1000, 0)
}

func TestMonthlyReport(t *testing.T) {
	r := setupTestServer(t)
	mustRegister(t, r, "User One", "user1@example.com", "password123")
	token := mustLogin(t, r, "user1@example.com", "password123")

	mustCreateTransaction(t, r, token, "income", "salary", 1000, "2025-01-05")
	mustCreateTransaction(t, r, token, "expense", "groceries", 300, "2025-01-07")
	mustCreateTransaction(t, r, token, "income", "salary", 1000, "2025-02-05")

	resp := performRequest(r, http.MethodGet, "/transactions/report", nil, token)
	if resp.Code != http.StatusOK {
		t.Fatalf("report failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var report struct {
		Report []reportRow `json:"report"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if len(report.Report) != 2 {
		t.Fatalf("expected 2 monthly rows, got %d", len(report.Report))
	}
	jan := report.Report[0]
	if jan.Month != "2025-01" || !jan.Income.Equal(decimal.NewFromInt(1000)) || !jan.Expense.Equal(decimal.NewFromInt(300)) {
		t.Errorf("unexpected january row: %+v", jan)
	}
	feb := report.Report[1]
	if feb.Month != "2025-02" || !feb.Income.Equal(decimal.NewFromInt(1000)) || !feb.Expense.IsZero() {
		t.Errorf("unexpected february row: %+v", feb)
	}
}
