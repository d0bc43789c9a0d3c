package server

import (
	"gigline/internal/domain"
	"gigline/internal/repo"
)

// Request payloads

type RegisterRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password" minLength:"8"`
	Role     string `json:"role" enum:"buyer,developer"`
	FullName string `json:"full_name,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type" example:"bearer"`
}

type CreateProjectRequest struct {
	Title                 string   `json:"title"`
	Description           string   `json:"description,omitempty"`
	ExpectedHourlyRate    float64  `json:"expected_hourly_rate"`
	ExpectedDurationHours float64  `json:"expected_duration_hours"`
	Tags                  []string `json:"tags,omitempty"`
}

type UpdateProjectRequest struct {
	Title                 *string  `json:"title,omitempty"`
	Description           *string  `json:"description,omitempty"`
	ExpectedHourlyRate    *float64 `json:"expected_hourly_rate,omitempty"`
	ExpectedDurationHours *float64 `json:"expected_duration_hours,omitempty"`
	Tags                  []string `json:"tags,omitempty"`
}

type CreateProposalRequest struct {
	ProjectID          int64    `json:"project_id"`
	CoverLetter        string   `json:"cover_letter,omitempty"`
	ProposedHourlyRate float64  `json:"proposed_hourly_rate"`
	EstimatedHours     *float64 `json:"estimated_hours,omitempty"`
}

type CreateTaskRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	ProjectID   int64   `json:"project_id"`
	DeveloperID int64   `json:"developer_id"`
	HourlyRate  float64 `json:"hourly_rate"`
}

type UpdateTaskRequest struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	TimeSpent   *float64 `json:"time_spent,omitempty"`
	Status      *string  `json:"status,omitempty" enum:"todo,in_progress"`
}

type CreatePaymentRequest struct {
	TaskID int64 `json:"task_id"`
}

// Response payloads

type UserResponse struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role" enum:"buyer,developer,admin"`
	FullName  string `json:"full_name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ProjectResponse struct {
	ID                    int64    `json:"id"`
	Title                 string   `json:"title"`
	Description           string   `json:"description"`
	BuyerID               int64    `json:"buyer_id"`
	ExpectedHourlyRate    float64  `json:"expected_hourly_rate"`
	ExpectedDurationHours float64  `json:"expected_duration_hours"`
	Tags                  []string `json:"tags"`
	IsOpen                bool     `json:"is_open"`
	CreatedAt             string   `json:"created_at" format:"date-time"`
	UpdatedAt             string   `json:"updated_at" format:"date-time"`
}

type ProposalResponse struct {
	ID                 int64    `json:"id"`
	ProjectID          int64    `json:"project_id"`
	DeveloperID        int64    `json:"developer_id"`
	CoverLetter        string   `json:"cover_letter"`
	ProposedHourlyRate float64  `json:"proposed_hourly_rate"`
	EstimatedHours     *float64 `json:"estimated_hours,omitempty"`
	Status             string   `json:"status" enum:"pending,accepted,rejected"`
	CreatedAt          string   `json:"created_at" format:"date-time"`
	UpdatedAt          string   `json:"updated_at" format:"date-time"`
	AcceptedAt         *string  `json:"accepted_at,omitempty" format:"date-time"`
}

type ProposalWithDeveloperResponse struct {
	ProposalResponse
	DeveloperName  string `json:"developer_name"`
	DeveloperEmail string `json:"developer_email"`
}

type TaskResponse struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	ProjectID   int64   `json:"project_id"`
	DeveloperID int64   `json:"developer_id"`
	HourlyRate  float64 `json:"hourly_rate"`
	Status      string  `json:"status" enum:"todo,in_progress,submitted,paid"`
	TimeSpent   float64 `json:"time_spent"`
	HasSolution bool    `json:"has_solution"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	SubmittedAt *string `json:"submitted_at,omitempty" format:"date-time"`
}

type PaymentResponse struct {
	ID        int64  `json:"id"`
	TaskID    int64  `json:"task_id"`
	BuyerID   int64  `json:"buyer_id"`
	Amount    string `json:"amount"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Conversion helpers

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Role:      string(u.Role),
		FullName:  u.FullName,
		CreatedAt: u.CreatedAt,
	}
}

func projectResponse(p domain.Project) ProjectResponse {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return ProjectResponse{
		ID:                    p.ID,
		Title:                 p.Title,
		Description:           p.Description,
		BuyerID:               p.BuyerID,
		ExpectedHourlyRate:    p.ExpectedHourlyRate,
		ExpectedDurationHours: p.ExpectedDurationHours,
		Tags:                  tags,
		IsOpen:                p.IsOpen,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}

func mapProjects(in []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(in))
	for _, p := range in {
		res = append(res, projectResponse(p))
	}
	return res
}

func proposalResponse(p domain.Proposal) ProposalResponse {
	return ProposalResponse{
		ID:                 p.ID,
		ProjectID:          p.ProjectID,
		DeveloperID:        p.DeveloperID,
		CoverLetter:        p.CoverLetter,
		ProposedHourlyRate: p.ProposedHourlyRate,
		EstimatedHours:     p.EstimatedHours,
		Status:             string(p.Status),
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
		AcceptedAt:         p.AcceptedAt,
	}
}

func mapProposals(in []domain.Proposal) []ProposalResponse {
	res := make([]ProposalResponse, 0, len(in))
	for _, p := range in {
		res = append(res, proposalResponse(p))
	}
	return res
}

func mapProposalsWithDeveloper(in []repo.ProposalWithDeveloper) []ProposalWithDeveloperResponse {
	res := make([]ProposalWithDeveloperResponse, 0, len(in))
	for _, p := range in {
		res = append(res, ProposalWithDeveloperResponse{
			ProposalResponse: proposalResponse(p.Proposal),
			DeveloperName:    p.DeveloperName,
			DeveloperEmail:   p.DeveloperEmail,
		})
	}
	return res
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		ProjectID:   t.ProjectID,
		DeveloperID: t.DeveloperID,
		HourlyRate:  t.HourlyRate,
		Status:      string(t.Status),
		TimeSpent:   t.TimeSpent,
		HasSolution: t.SolutionPath != nil,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		SubmittedAt: t.SubmittedAt,
	}
}

func mapTasks(in []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(in))
	for _, t := range in {
		res = append(res, taskResponse(t))
	}
	return res
}

func paymentResponse(p domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:        p.ID,
		TaskID:    p.TaskID,
		BuyerID:   p.BuyerID,
		Amount:    p.Amount.String(),
		CreatedAt: p.CreatedAt,
	}
}

func mapPayments(in []domain.Payment) []PaymentResponse {
	res := make([]PaymentResponse, 0, len(in))
	for _, p := range in {
		res = append(res, paymentResponse(p))
	}
	return res
}
