package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"path/filepath"
	"testing"

	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/engine"
	"gigline/internal/migrate"
	"gigline/internal/storage"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default(workspace)
	store, err := storage.New(filepath.Join(workspace, "solutions"))
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	e := engine.New(conn, cfg, store)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: "test-secret"},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func registerAndLogin(t *testing.T, s *testServer, email, role string) map[string]string {
	t.Helper()
	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v1/auth/register", map[string]any{
		"email": email, "password": "hunter2hunter2", "role": role, "full_name": "Test User",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: %d %s", email, res.StatusCode, data)
	}
	res, data = doJSON(t, s.Client(), http.MethodPost, s.URL+"/v1/auth/login", map[string]any{
		"email": email, "password": "hunter2hunter2",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login %s: %d %s", email, res.StatusCode, data)
	}
	var token struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(data, &token); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	if token.TokenType != "bearer" || token.AccessToken == "" {
		t.Fatalf("token: %+v", token)
	}
	return map[string]string{"Authorization": "Bearer " + token.AccessToken}
}

func TestHealthOpen(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}
}

func TestAuthEndpoints(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	buyer := registerAndLogin(t, s, "buyer@example.com", "buyer")

	// duplicate email
	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v1/auth/register", map[string]any{
		"email": "buyer@example.com", "password": "hunter2hunter2", "role": "developer", "full_name": "Dup",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate register: %d %s", res.StatusCode, data)
	}

	// admin role rejected over HTTP; huma enum validation turns it into 400
	res, data = doJSON(t, s.Client(), http.MethodPost, s.URL+"/v1/auth/register", map[string]any{
		"email": "root@example.com", "password": "hunter2hunter2", "role": "admin", "full_name": "Root",
	}, nil)
	if res.StatusCode != http.StatusBadRequest && res.StatusCode != http.StatusForbidden {
		t.Fatalf("admin register: %d %s", res.StatusCode, data)
	}

	// bad credentials
	res, _ = doJSON(t, s.Client(), http.MethodPost, s.URL+"/v1/auth/login", map[string]any{
		"email": "buyer@example.com", "password": "wrong-password",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login: %d", res.StatusCode)
	}

	// token round trip
	res, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v1/me", nil, buyer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, data)
	}
	var me struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	json.Unmarshal(data, &me)
	if me.Email != "buyer@example.com" || me.Role != "buyer" {
		t.Fatalf("me: %+v", me)
	}

	// no token, garbage token
	res, _ = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v1/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: %d", res.StatusCode)
	}
	res, _ = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v1/projects", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", res.StatusCode)
	}
}

func TestProjectQueryFilters(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	buyer := registerAndLogin(t, s, "buyer@example.com", "buyer")
	dev := registerAndLogin(t, s, "dev@example.com", "developer")

	for _, p := range []map[string]any{
		{"title": "Cheap gig", "description": "small", "expected_hourly_rate": 30, "expected_duration_hours": 10},
		{"title": "Big build", "description": "large", "expected_hourly_rate": 80, "expected_duration_hours": 120},
	} {
		res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v1/projects", p, buyer)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create: %d %s", res.StatusCode, data)
		}
	}

	count := func(query string) int {
		t.Helper()
		res, data := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v1/projects"+query, nil, dev)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("list %q: %d %s", query, res.StatusCode, data)
		}
		var listing []json.RawMessage
		json.Unmarshal(data, &listing)
		return len(listing)
	}

	if n := count(""); n != 2 {
		t.Fatalf("unfiltered = %d", n)
	}
	if n := count("?min_rate=50"); n != 1 {
		t.Fatalf("min_rate = %d", n)
	}
	if n := count("?max_rate=50"); n != 1 {
		t.Fatalf("max_rate = %d", n)
	}
	if n := count("?min_duration=100&max_duration=200"); n != 1 {
		t.Fatalf("duration band = %d", n)
	}
	if n := count("?min_rate=90"); n != 0 {
		t.Fatalf("empty band = %d", n)
	}
}

func TestMarketplaceFlow(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	buyer := registerAndLogin(t, s, "buyer@example.com", "buyer")
	dev := registerAndLogin(t, s, "dev@example.com", "developer")
	rival := registerAndLogin(t, s, "rival@example.com", "developer")

	// buyer posts a project
	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v1/projects", map[string]any{
		"title":                   "Build importer",
		"description":             "CSV to sqlite",
		"expected_hourly_rate":    50,
		"expected_duration_hours": 40,
		"tags":                    []string{"go"},
	}, buyer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, data)
	}
	var project struct {
		ID int64 `json:"id"`
	}
	json.Unmarshal(data, &project)

	// developer can see it in the open listing
	res, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v1/projects?search=importer", nil, dev)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("open listing: %d %s", res.StatusCode, data)
	}
	var listing []json.RawMessage
	json.Unmarshal(data, &listing)
	if len(listing) != 1 {
		t.Fatalf("open listing size: %d", len(listing))
	}

	// both developers bid
	res, data = doJSON(t, s.Client(), http.MethodPost, s.URL+"/v1/proposals", map[string]any{
		"project_id": project.ID, "cover_letter": "pick me", "proposed_hourly_rate": 45,
	}, dev)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("proposal: %d %s", res.StatusCode, data)
	}
	var proposal struct {
		ID int64 `json:"id"`
	}
	json.Unmarshal(data, &proposal)
	res, _ = doJSON(t, s.Client(), http.MethodPost, s.URL+"/v1/proposals", map[string]any{
		"project_id": project.ID, "cover_letter": "no, me", "proposed_hourly_rate": 60,
	}, rival)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("rival proposal: %d", res.StatusCode)
	}

	// buyer reviews proposals with developer identity attached
	res, data = doJSON(t, s.Client(), http.MethodGet, fmt.Sprintf("%s/v1/proposals/project/%d", s.URL, project.ID), nil, buyer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("project proposals: %d %s", res.StatusCode, data)
	}
	var withDev []struct {
		DeveloperEmail string `json:"developer_email"`
	}
	json.Unmarshal(data, &withDev)
	if len(withDev) != 2 || withDev[0].DeveloperEmail == "" {
		t.Fatalf("proposal listing: %s", data)
	}
	// the rival developer may not read them
	res, _ = doJSON(t, s.Client(), http.MethodGet, fmt.Sprintf("%s/v1/proposals/project/%d", s.URL, project.ID), nil, rival)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("rival reads proposals: %d", res.StatusCode)
	}

	// accept and materialize the task
	res, data = doJSON(t, s.Client(), http.MethodPost, fmt.Sprintf("%s/v1/tasks/proposal/%d/accept-and-create-task", s.URL, proposal.ID), nil, buyer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("accept-and-create: %d %s", res.StatusCode, data)
	}
	var task struct {
		ID         int64   `json:"id"`
		Title      string  `json:"title"`
		HourlyRate float64 `json:"hourly_rate"`
		Status     string  `json:"status"`
	}
	json.Unmarshal(data, &task)
	if task.Title != "Build importer" || task.HourlyRate != 45 || task.Status != "todo" {
		t.Fatalf("task snapshot: %+v", task)
	}

	// second accept is a conflict
	res, _ = doJSON(t, s.Client(), http.MethodPost, fmt.Sprintf("%s/v1/tasks/proposal/%d/accept-and-create-task", s.URL, proposal.ID), nil, buyer)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second accept: %d", res.StatusCode)
	}

	// rival's bid was auto-rejected
	res, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v1/proposals/my-proposals", nil, rival)
	var rivalProps []struct {
		Status string `json:"status"`
	}
	json.Unmarshal(data, &rivalProps)
	if res.StatusCode != http.StatusOK || len(rivalProps) != 1 || rivalProps[0].Status != "rejected" {
		t.Fatalf("rival proposals: %d %s", res.StatusCode, data)
	}

	// developer submits work: multipart with hours and artifact
	submitURL := fmt.Sprintf("%s/v1/tasks/%d/submit", s.URL, task.ID)
	res, data = doMultipart(t, s.Client(), submitURL, dev["Authorization"], "38", "solution.zip", []byte("zip bytes"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, data)
	}
	var submitted struct {
		Status      string  `json:"status"`
		TimeSpent   float64 `json:"time_spent"`
		HasSolution bool    `json:"has_solution"`
	}
	json.Unmarshal(data, &submitted)
	if submitted.Status != "submitted" || submitted.TimeSpent != 38 || !submitted.HasSolution {
		t.Fatalf("submitted task: %+v", submitted)
	}

	// artifact is locked until payment
	downloadURL := fmt.Sprintf("%s/v1/tasks/%d/download", s.URL, task.ID)
	res, _ = doJSON(t, s.Client(), http.MethodGet, downloadURL, nil, buyer)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("download before pay: %d", res.StatusCode)
	}

	// buyer pays; 45 * 38 is exactly 1710
	res, data = doJSON(t, s.Client(), http.MethodPost, s.URL+"/v1/payments", map[string]any{"task_id": task.ID}, buyer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("pay: %d %s", res.StatusCode, data)
	}
	var payment struct {
		ID     int64  `json:"id"`
		Amount string `json:"amount"`
	}
	json.Unmarshal(data, &payment)
	if payment.Amount != "1710" {
		t.Fatalf("amount: %s", payment.Amount)
	}

	// paying twice conflicts, in either spelling
	res, _ = doJSON(t, s.Client(), http.MethodPost, s.URL+"/v1/payments", map[string]any{"task_id": task.ID}, buyer)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("double pay: %d", res.StatusCode)
	}
	res, _ = doJSON(t, s.Client(), http.MethodPost, fmt.Sprintf("%s/v1/tasks/%d/mark-paid", s.URL, task.ID), nil, buyer)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("mark-paid after pay: %d", res.StatusCode)
	}

	// payment unlocks the artifact for both sides
	for _, who := range []map[string]string{buyer, dev} {
		res, data = doJSON(t, s.Client(), http.MethodGet, downloadURL, nil, who)
		if res.StatusCode != http.StatusOK || string(data) != "zip bytes" {
			t.Fatalf("download: %d %q", res.StatusCode, data)
		}
	}
	// but not for outsiders
	res, _ = doJSON(t, s.Client(), http.MethodGet, downloadURL, nil, rival)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("rival download: %d", res.StatusCode)
	}

	// buyer sees the payment in their history
	res, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v1/payments/my-payments", nil, buyer)
	var history []struct {
		Amount string `json:"amount"`
	}
	json.Unmarshal(data, &history)
	if res.StatusCode != http.StatusOK || len(history) != 1 || history[0].Amount != "1710" {
		t.Fatalf("payment history: %d %s", res.StatusCode, data)
	}
}

func TestMarkPaidSettles(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	buyer := registerAndLogin(t, s, "buyer@example.com", "buyer")
	dev := registerAndLogin(t, s, "dev@example.com", "developer")

	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v1/projects", map[string]any{
		"title": "Small job", "description": "quick fix", "expected_hourly_rate": 30, "expected_duration_hours": 2,
	}, buyer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("project: %d %s", res.StatusCode, data)
	}
	var project struct {
		ID int64 `json:"id"`
	}
	json.Unmarshal(data, &project)
	res, data = doJSON(t, s.Client(), http.MethodPost, s.URL+"/v1/proposals", map[string]any{
		"project_id": project.ID, "cover_letter": "on it", "proposed_hourly_rate": 30,
	}, dev)
	var proposal struct {
		ID int64 `json:"id"`
	}
	json.Unmarshal(data, &proposal)
	res, data = doJSON(t, s.Client(), http.MethodPost, fmt.Sprintf("%s/v1/tasks/proposal/%d/accept-and-create-task", s.URL, proposal.ID), nil, buyer)
	var task struct {
		ID int64 `json:"id"`
	}
	json.Unmarshal(data, &task)

	res, _ = doMultipart(t, s.Client(), fmt.Sprintf("%s/v1/tasks/%d/submit", s.URL, task.ID), dev["Authorization"], "2", "fix.patch", []byte("diff"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d", res.StatusCode)
	}

	// mark-paid runs the full settlement, recording a payment row
	res, data = doJSON(t, s.Client(), http.MethodPost, fmt.Sprintf("%s/v1/tasks/%d/mark-paid", s.URL, task.ID), nil, buyer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("mark-paid: %d %s", res.StatusCode, data)
	}
	var settled struct {
		Status string `json:"status"`
	}
	json.Unmarshal(data, &settled)
	if settled.Status != "paid" {
		t.Fatalf("status: %+v", settled)
	}
	res, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v1/payments/my-payments", nil, buyer)
	var history []struct {
		Amount string `json:"amount"`
	}
	json.Unmarshal(data, &history)
	if len(history) != 1 || history[0].Amount != "60" {
		t.Fatalf("settlement record: %s", data)
	}
}

func TestAdminDashboard(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	buyer := registerAndLogin(t, s, "buyer@example.com", "buyer")
	res, _ := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v1/admin/dashboard", nil, buyer)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("buyer dashboard: %d", res.StatusCode)
	}

	// admin accounts come from the CLI path, then log in normally
	if _, err := s.Engine.CreateAdmin(context.Background(), "root@example.com", "hunter2hunter2", "Root"); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/v1/auth/login", map[string]any{
		"email": "root@example.com", "password": "hunter2hunter2",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin login: %d %s", res.StatusCode, data)
	}
	var token struct {
		AccessToken string `json:"access_token"`
	}
	json.Unmarshal(data, &token)
	admin := map[string]string{"Authorization": "Bearer " + token.AccessToken}

	res, data = doJSON(t, s.Client(), http.MethodGet, s.URL+"/v1/admin/dashboard", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin dashboard: %d %s", res.StatusCode, data)
	}
	var stats struct {
		TotalUsers  int `json:"total_users"`
		TotalBuyers int `json:"total_buyers"`
	}
	json.Unmarshal(data, &stats)
	if stats.TotalUsers != 2 || stats.TotalBuyers != 1 {
		t.Fatalf("stats: %+v", stats)
	}
}

func doMultipart(t *testing.T, client *http.Client, url, authz, timeSpent, filename string, content []byte) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("time_spent", timeSpent); err != nil {
		t.Fatalf("write field: %v", err)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write file: %v", err)
	}
	mw.Close()
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", authz)
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}
