package giglinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Gigline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// User represents an API account.
type User struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	FullName string `json:"full_name"`
}

// Project represents a posted project (partial).
type Project struct {
	ID                    int64    `json:"id"`
	Title                 string   `json:"title"`
	Description           string   `json:"description"`
	BuyerID               int64    `json:"buyer_id"`
	ExpectedHourlyRate    float64  `json:"expected_hourly_rate"`
	ExpectedDurationHours float64  `json:"expected_duration_hours"`
	Tags                  []string `json:"tags"`
	IsOpen                bool     `json:"is_open"`
}

// Proposal represents a developer's bid.
type Proposal struct {
	ID                 int64    `json:"id"`
	ProjectID          int64    `json:"project_id"`
	DeveloperID        int64    `json:"developer_id"`
	CoverLetter        string   `json:"cover_letter"`
	ProposedHourlyRate float64  `json:"proposed_hourly_rate"`
	EstimatedHours     *float64 `json:"estimated_hours,omitempty"`
	Status             string   `json:"status"`
}

// Task represents accepted work.
type Task struct {
	ID          int64   `json:"id"`
	ProjectID   int64   `json:"project_id"`
	DeveloperID int64   `json:"developer_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	HourlyRate  float64 `json:"hourly_rate"`
	Status      string  `json:"status"`
	TimeSpent   float64 `json:"time_spent"`
	HasSolution bool    `json:"has_solution"`
}

// Payment represents a settlement; Amount is an exact decimal string.
type Payment struct {
	ID      int64  `json:"id"`
	TaskID  int64  `json:"task_id"`
	BuyerID int64  `json:"buyer_id"`
	Amount  string `json:"amount"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, email, password, role, fullName string) (User, error) {
	body := map[string]any{
		"email":     email,
		"password":  password,
		"role":      role,
		"full_name": fullName,
	}
	var resp User
	err := c.do(ctx, http.MethodPost, "auth/register", body, &resp)
	return resp, err
}

// Login exchanges credentials for a bearer token and stores it on the client.
func (c *Client) Login(ctx context.Context, email, password string) error {
	body := map[string]any{"email": email, "password": password}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/login", body, &resp); err != nil {
		return err
	}
	c.BearerToken = resp.AccessToken
	return nil
}

// CreateProject posts a new project.
func (c *Client) CreateProject(ctx context.Context, title, description string, rate, duration float64, tags []string) (Project, error) {
	body := map[string]any{
		"title":                   title,
		"description":             description,
		"expected_hourly_rate":    rate,
		"expected_duration_hours": duration,
		"tags":                    tags,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

// ListProjects returns the caller's role-scoped project listing.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "projects", nil, &resp)
	return resp, err
}

// GetProject fetches a project by id.
func (c *Client) GetProject(ctx context.Context, id int64) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("projects/%d", id), nil, &resp)
	return resp, err
}

// SubmitProposal bids on an open project.
func (c *Client) SubmitProposal(ctx context.Context, projectID int64, coverLetter string, rate float64, estimatedHours *float64) (Proposal, error) {
	body := map[string]any{
		"project_id":           projectID,
		"cover_letter":         coverLetter,
		"proposed_hourly_rate": rate,
	}
	if estimatedHours != nil {
		body["estimated_hours"] = *estimatedHours
	}
	var resp Proposal
	err := c.do(ctx, http.MethodPost, "proposals", body, &resp)
	return resp, err
}

// MyProposals lists the caller's bids.
func (c *Client) MyProposals(ctx context.Context) ([]Proposal, error) {
	var resp []Proposal
	err := c.do(ctx, http.MethodGet, "proposals/my-proposals", nil, &resp)
	return resp, err
}

// AcceptProposalAndCreateTask accepts a bid and returns the materialized task.
func (c *Client) AcceptProposalAndCreateTask(ctx context.Context, proposalID int64) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("tasks/proposal/%d/accept-and-create-task", proposalID)
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id int64) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%d", id), nil, &resp)
	return resp, err
}

// MyTasks lists the caller's tasks.
func (c *Client) MyTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "tasks", nil, &resp)
	return resp, err
}

// SubmitWork uploads the solution artifact with the hours spent.
func (c *Client) SubmitWork(ctx context.Context, taskID int64, timeSpent float64, filename string, file io.Reader) (Task, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("time_spent", strconv.FormatFloat(timeSpent, 'f', -1, 64)); err != nil {
		return Task{}, err
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Task{}, err
	}
	if _, err := io.Copy(fw, file); err != nil {
		return Task{}, err
	}
	if err := mw.Close(); err != nil {
		return Task{}, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("tasks/%d/submit", taskID), &buf)
	if err != nil {
		return Task{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var resp Task
	err = c.send(req, &resp)
	return resp, err
}

// PayTask settles a submitted task.
func (c *Client) PayTask(ctx context.Context, taskID int64) (Payment, error) {
	body := map[string]any{"task_id": taskID}
	var resp Payment
	err := c.do(ctx, http.MethodPost, "payments", body, &resp)
	return resp, err
}

// MyPayments lists payments made by the caller.
func (c *Client) MyPayments(ctx context.Context) ([]Payment, error) {
	var resp []Payment
	err := c.do(ctx, http.MethodGet, "payments/my-payments", nil, &resp)
	return resp, err
}

// DownloadSolution streams the paid artifact. The caller closes the reader.
func (c *Client) DownloadSolution(ctx context.Context, taskID int64) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("tasks/%d/download", taskID), nil)
	if err != nil {
		return nil, err
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := c.newRequest(ctx, method, endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
