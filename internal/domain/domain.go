package domain

import "github.com/shopspring/decimal"

type Role string

const (
	RoleBuyer     Role = "buyer"
	RoleDeveloper Role = "developer"
	RoleAdmin     Role = "admin"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleBuyer, RoleDeveloper, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
)

type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskSubmitted  TaskStatus = "submitted"
	TaskPaid       TaskStatus = "paid"
)

func ParseTaskStatus(s string) (TaskStatus, bool) {
	switch TaskStatus(s) {
	case TaskTodo, TaskInProgress, TaskSubmitted, TaskPaid:
		return TaskStatus(s), true
	}
	return "", false
}

type User struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role" enum:"buyer,developer,admin"`
	FullName     string `json:"full_name,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Project struct {
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

type Proposal struct {
	ID                 int64          `json:"id"`
	ProjectID          int64          `json:"project_id"`
	DeveloperID        int64          `json:"developer_id"`
	CoverLetter        string         `json:"cover_letter"`
	ProposedHourlyRate float64        `json:"proposed_hourly_rate"`
	EstimatedHours     *float64       `json:"estimated_hours,omitempty"`
	Status             ProposalStatus `json:"status" enum:"pending,accepted,rejected"`
	CreatedAt          string         `json:"created_at" format:"date-time"`
	UpdatedAt          string         `json:"updated_at" format:"date-time"`
	AcceptedAt         *string        `json:"accepted_at,omitempty" format:"date-time"`
}

// Task carries its own hourly_rate copied from the accepted proposal; later
// proposal or project edits never change what a settled task costs.
type Task struct {
	ID           int64      `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	ProjectID    int64      `json:"project_id"`
	DeveloperID  int64      `json:"developer_id"`
	HourlyRate   float64    `json:"hourly_rate"`
	Status       TaskStatus `json:"status" enum:"todo,in_progress,submitted,paid"`
	TimeSpent    float64    `json:"time_spent"`
	SolutionPath *string    `json:"solution_path,omitempty"`
	CreatedAt    string     `json:"created_at" format:"date-time"`
	UpdatedAt    string     `json:"updated_at" format:"date-time"`
	SubmittedAt  *string    `json:"submitted_at,omitempty" format:"date-time"`
}

// Payment rows are immutable once written; amount is stored as an exact
// decimal string, never recomputed from the task.
type Payment struct {
	ID        int64           `json:"id"`
	TaskID    int64           `json:"task_id"`
	BuyerID   int64           `json:"buyer_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt string          `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   int64  `json:"entity_id"`
	ActorID    int64  `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
