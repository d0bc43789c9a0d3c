package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"gigline/internal/config"
	"gigline/internal/domain"
	"gigline/internal/engine/auth"
	"gigline/internal/events"
	"gigline/internal/repo"
	"gigline/internal/storage"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Store  storage.Store
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, store storage.Store) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Store:  store,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// ConflictError marks a state-precondition violation; mapped to 409.
type ConflictError struct {
	Msg string
}

func (e ConflictError) Error() string { return e.Msg }

func conflictf(format string, args ...any) ConflictError {
	return ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// isConstraintErr reports whether err is an sqlite constraint violation, as
// opposed to some other database failure that must not be masked as a 409.
func isConstraintErr(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// --- users ---

type RegisterOptions struct {
	Email    string
	Password string
	Role     domain.Role
	FullName string
}

// Register creates a buyer or developer account. Admin accounts are created
// only through the CLI.
func (e Engine) Register(ctx context.Context, opts RegisterOptions) (domain.User, error) {
	if opts.Role == domain.RoleAdmin {
		return domain.User{}, auth.ForbiddenError{Action: "user.register_admin"}
	}
	if _, ok := domain.ParseRole(string(opts.Role)); !ok {
		return domain.User{}, fmt.Errorf("invalid role %q", opts.Role)
	}
	return e.createUser(ctx, opts)
}

// CreateAdmin is the CLI-only path for admin accounts.
func (e Engine) CreateAdmin(ctx context.Context, email, password, fullName string) (domain.User, error) {
	return e.createUser(ctx, RegisterOptions{
		Email:    email,
		Password: password,
		Role:     domain.RoleAdmin,
		FullName: fullName,
	})
}

func (e Engine) createUser(ctx context.Context, opts RegisterOptions) (domain.User, error) {
	if opts.Email == "" {
		return domain.User{}, errors.New("email is required")
	}
	if opts.Password == "" {
		return domain.User{}, errors.New("password is required")
	}
	taken, err := e.Repo.EmailTaken(ctx, opts.Email)
	if err != nil {
		return domain.User{}, err
	}
	if taken {
		return domain.User{}, ErrEmailTaken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := domain.User{
		Email:        opts.Email,
		PasswordHash: string(hash),
		Role:         opts.Role,
		FullName:     opts.FullName,
		CreatedAt:    e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	u.ID, err = e.Repo.InsertUserTx(ctx, tx, u)
	if err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "user.registered", "user", u.ID, u.ID, events.EventPayload{"role": u.Role}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// Authenticate checks credentials and returns the matching user.
func (e Engine) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	u, err := e.Repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// --- projects ---

type ProjectCreateOptions struct {
	Title                 string
	Description           string
	ExpectedHourlyRate    float64
	ExpectedDurationHours float64
	Tags                  []string
	Actor                 auth.Actor
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if err := auth.Allow(opts.Actor, auth.ActionProjectCreate, auth.Resource{}); err != nil {
		return domain.Project{}, err
	}
	if opts.Title == "" {
		return domain.Project{}, errors.New("title is required")
	}
	if opts.ExpectedHourlyRate <= 0 {
		return domain.Project{}, errors.New("expected_hourly_rate must be positive")
	}
	now := e.nowString()
	p := domain.Project{
		Title:                 opts.Title,
		Description:           opts.Description,
		BuyerID:               opts.Actor.UserID,
		ExpectedHourlyRate:    opts.ExpectedHourlyRate,
		ExpectedDurationHours: opts.ExpectedDurationHours,
		Tags:                  opts.Tags,
		IsOpen:                true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p.ID, err = e.Repo.InsertProjectTx(ctx, tx, p)
	if err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.created", "project", p.ID, opts.Actor.UserID, events.EventPayload{"title": p.Title}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// GetProject applies read policy: buyers see their own, developers see open
// projects, admins see all. Once a project closes its task carries the
// snapshot a developer needs, so closed projects are owner/admin only.
func (e Engine) GetProject(ctx context.Context, id int64, actor auth.Actor) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return p, err
	}
	if actor.Role == domain.RoleDeveloper && p.IsOpen {
		return p, nil
	}
	if err := auth.Allow(actor, auth.ActionProjectRead, auth.Resource{BuyerID: p.BuyerID}); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

type ProjectUpdateOptions struct {
	ID                    int64
	Title                 *string
	Description           *string
	ExpectedHourlyRate    *float64
	ExpectedDurationHours *float64
	Tags                  []string
	TagsSet               bool
	Actor                 auth.Actor
}

func (e Engine) UpdateProject(ctx context.Context, opts ProjectUpdateOptions) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, opts.ID)
	if err != nil {
		return p, err
	}
	if err := auth.Allow(opts.Actor, auth.ActionProjectUpdate, auth.Resource{BuyerID: p.BuyerID}); err != nil {
		return domain.Project{}, err
	}
	if opts.Title != nil {
		p.Title = *opts.Title
	}
	if opts.Description != nil {
		p.Description = *opts.Description
	}
	if opts.ExpectedHourlyRate != nil {
		p.ExpectedHourlyRate = *opts.ExpectedHourlyRate
	}
	if opts.ExpectedDurationHours != nil {
		p.ExpectedDurationHours = *opts.ExpectedDurationHours
	}
	if opts.TagsSet {
		p.Tags = opts.Tags
		if p.Tags == nil {
			p.Tags = []string{}
		}
	}
	// is_open is not updatable: a project closes exactly once, when a
	// proposal is accepted, and never reopens.
	p.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateProject(ctx, p); err != nil {
		return p, err
	}
	return p, nil
}

func (e Engine) DeleteProject(ctx context.Context, id int64, actor auth.Actor) error {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return err
	}
	if err := auth.Allow(actor, auth.ActionProjectDelete, auth.Resource{BuyerID: p.BuyerID}); err != nil {
		return err
	}
	return e.Repo.DeleteProject(ctx, id)
}

// ListProjects applies role-dependent scoping: buyers get their own projects,
// admins everything, developers open projects narrowed by the filters.
func (e Engine) ListProjects(ctx context.Context, actor auth.Actor, f repo.ProjectFilters) ([]domain.Project, error) {
	switch actor.Role {
	case domain.RoleBuyer:
		f = repo.ProjectFilters{BuyerID: actor.UserID, Skip: f.Skip, Limit: f.Limit}
	case domain.RoleAdmin:
		f = repo.ProjectFilters{Skip: f.Skip, Limit: f.Limit}
	case domain.RoleDeveloper:
		f.BuyerID = 0
		f.OpenOnly = true
	default:
		return nil, auth.ForbiddenError{Action: auth.ActionProjectRead}
	}
	return e.Repo.ListProjects(ctx, f)
}

// --- proposals ---

type ProposalSubmitOptions struct {
	ProjectID          int64
	CoverLetter        string
	ProposedHourlyRate float64
	EstimatedHours     *float64
	Actor              auth.Actor
}

func (e Engine) SubmitProposal(ctx context.Context, opts ProposalSubmitOptions) (domain.Proposal, error) {
	if err := auth.Allow(opts.Actor, auth.ActionProposalSubmit, auth.Resource{}); err != nil {
		return domain.Proposal{}, err
	}
	if opts.ProposedHourlyRate <= 0 {
		return domain.Proposal{}, errors.New("proposed_hourly_rate must be positive")
	}
	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if !p.IsOpen {
		return domain.Proposal{}, conflictf("project %d is closed", p.ID)
	}
	exists, err := e.Repo.HasProposal(ctx, opts.ProjectID, opts.Actor.UserID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if exists {
		return domain.Proposal{}, conflictf("proposal for project %d already submitted", p.ID)
	}
	now := e.nowString()
	prop := domain.Proposal{
		ProjectID:          opts.ProjectID,
		DeveloperID:        opts.Actor.UserID,
		CoverLetter:        opts.CoverLetter,
		ProposedHourlyRate: opts.ProposedHourlyRate,
		EstimatedHours:     opts.EstimatedHours,
		Status:             domain.ProposalPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()

	prop.ID, err = e.Repo.InsertProposalTx(ctx, tx, prop)
	if err != nil {
		// unique(project_id, developer_id) backs the precheck under races
		if isConstraintErr(err) {
			return domain.Proposal{}, conflictf("proposal for project %d already submitted", p.ID)
		}
		return domain.Proposal{}, err
	}
	if err := e.Events.Append(ctx, tx, "proposal.submitted", "proposal", prop.ID, opts.Actor.UserID, events.EventPayload{"project_id": prop.ProjectID}); err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	return prop, nil
}

func (e Engine) ListProposalsByProject(ctx context.Context, projectID int64, actor auth.Actor) ([]repo.ProposalWithDeveloper, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := auth.Allow(actor, auth.ActionProposalList, auth.Resource{BuyerID: p.BuyerID}); err != nil {
		return nil, err
	}
	return e.Repo.ListProposalsByProject(ctx, projectID)
}

// AcceptProposal accepts the target proposal, rejects its pending siblings,
// and closes the project, all in one transaction.
func (e Engine) AcceptProposal(ctx context.Context, proposalID int64, actor auth.Actor) (domain.Proposal, error) {
	prop, _, err := e.acceptProposal(ctx, proposalID, actor, false)
	return prop, err
}

// AcceptProposalAndCreateTask is the canonical accept path: full accept
// semantics plus materializing the task in the same transaction. It is not
// idempotent; a second invocation finds the proposal decided and conflicts.
func (e Engine) AcceptProposalAndCreateTask(ctx context.Context, proposalID int64, actor auth.Actor) (domain.Task, error) {
	_, task, err := e.acceptProposal(ctx, proposalID, actor, true)
	return task, err
}

func (e Engine) acceptProposal(ctx context.Context, proposalID int64, actor auth.Actor, createTask bool) (domain.Proposal, domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, domain.Task{}, err
	}
	defer tx.Rollback()

	prop, err := e.Repo.GetProposalTx(ctx, tx, proposalID)
	if err != nil {
		return prop, domain.Task{}, err
	}
	project, err := e.Repo.GetProjectTx(ctx, tx, prop.ProjectID)
	if err != nil {
		return prop, domain.Task{}, err
	}
	if err := auth.Allow(actor, auth.ActionProposalDecide, auth.Resource{BuyerID: project.BuyerID}); err != nil {
		return prop, domain.Task{}, err
	}
	if prop.Status != domain.ProposalPending {
		return prop, domain.Task{}, conflictf("proposal %d is %s", prop.ID, prop.Status)
	}
	now := e.nowString()
	ok, err := e.Repo.AcceptProposalTx(ctx, tx, prop.ID, now)
	if err != nil {
		return prop, domain.Task{}, err
	}
	if !ok {
		// a concurrent accept won
		return prop, domain.Task{}, conflictf("proposal %d already decided", prop.ID)
	}
	if err := e.Repo.RejectPendingSiblingsTx(ctx, tx, prop.ProjectID, prop.ID, now); err != nil {
		return prop, domain.Task{}, err
	}
	if err := e.Repo.CloseProjectTx(ctx, tx, prop.ProjectID, now); err != nil {
		return prop, domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "proposal.accepted", "proposal", prop.ID, actor.UserID, events.EventPayload{"project_id": prop.ProjectID}); err != nil {
		return prop, domain.Task{}, err
	}
	var task domain.Task
	if createTask {
		task = domain.Task{
			Title:       project.Title,
			Description: project.Description,
			ProjectID:   project.ID,
			DeveloperID: prop.DeveloperID,
			HourlyRate:  prop.ProposedHourlyRate,
			Status:      domain.TaskTodo,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		task.ID, err = e.Repo.InsertTaskTx(ctx, tx, task)
		if err != nil {
			return prop, domain.Task{}, fmt.Errorf("insert task: %w", err)
		}
		if err := e.Events.Append(ctx, tx, "task.created", "task", task.ID, actor.UserID, events.EventPayload{
			"project_id":  task.ProjectID,
			"proposal_id": prop.ID,
		}); err != nil {
			return prop, domain.Task{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return prop, domain.Task{}, err
	}
	prop.Status = domain.ProposalAccepted
	prop.AcceptedAt = &now
	prop.UpdatedAt = now
	return prop, task, nil
}

func (e Engine) RejectProposal(ctx context.Context, proposalID int64, actor auth.Actor) (domain.Proposal, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()

	prop, err := e.Repo.GetProposalTx(ctx, tx, proposalID)
	if err != nil {
		return prop, err
	}
	project, err := e.Repo.GetProjectTx(ctx, tx, prop.ProjectID)
	if err != nil {
		return prop, err
	}
	if err := auth.Allow(actor, auth.ActionProposalDecide, auth.Resource{BuyerID: project.BuyerID}); err != nil {
		return prop, err
	}
	if prop.Status != domain.ProposalPending {
		return prop, conflictf("proposal %d is %s", prop.ID, prop.Status)
	}
	now := e.nowString()
	ok, err := e.Repo.RejectProposalTx(ctx, tx, prop.ID, now)
	if err != nil {
		return prop, err
	}
	if !ok {
		return prop, conflictf("proposal %d already decided", prop.ID)
	}
	if err := e.Events.Append(ctx, tx, "proposal.rejected", "proposal", prop.ID, actor.UserID, events.EventPayload{"project_id": prop.ProjectID}); err != nil {
		return prop, err
	}
	if err := tx.Commit(); err != nil {
		return prop, err
	}
	prop.Status = domain.ProposalRejected
	prop.UpdatedAt = now
	return prop, nil
}

// --- tasks ---

type TaskCreateOptions struct {
	Title       string
	Description string
	ProjectID   int64
	DeveloperID int64
	HourlyRate  float64
	Actor       auth.Actor
}

// CreateTask is the direct assignment path: the project's buyer hands a task
// to a developer at an agreed rate.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.HourlyRate <= 0 {
		return domain.Task{}, errors.New("hourly_rate must be positive")
	}
	project, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := auth.Allow(opts.Actor, auth.ActionTaskCreate, auth.Resource{BuyerID: project.BuyerID}); err != nil {
		return domain.Task{}, err
	}
	dev, err := e.Repo.GetUser(ctx, opts.DeveloperID)
	if err != nil {
		return domain.Task{}, err
	}
	if dev.Role != domain.RoleDeveloper {
		return domain.Task{}, fmt.Errorf("user %d is not a developer", dev.ID)
	}
	now := e.nowString()
	t := domain.Task{
		Title:       opts.Title,
		Description: opts.Description,
		ProjectID:   opts.ProjectID,
		DeveloperID: opts.DeveloperID,
		HourlyRate:  opts.HourlyRate,
		Status:      domain.TaskTodo,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t.ID, err = e.Repo.InsertTaskTx(ctx, tx, t)
	if err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "task.created", "task", t.ID, opts.Actor.UserID, events.EventPayload{"project_id": t.ProjectID}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// taskResource loads the ownership facts for a task's policy decisions.
func (e Engine) taskResource(ctx context.Context, t domain.Task) (auth.Resource, error) {
	project, err := e.Repo.GetProject(ctx, t.ProjectID)
	if err != nil {
		return auth.Resource{}, err
	}
	return auth.Resource{BuyerID: project.BuyerID, DeveloperID: t.DeveloperID}, nil
}

func (e Engine) GetTask(ctx context.Context, id int64, actor auth.Actor) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return t, err
	}
	res, err := e.taskResource(ctx, t)
	if err != nil {
		return t, err
	}
	if err := auth.Allow(actor, auth.ActionTaskRead, res); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) ListProjectTasks(ctx context.Context, projectID int64, actor auth.Actor) ([]domain.Task, error) {
	project, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleDeveloper {
		if err := auth.Allow(actor, auth.ActionTaskRead, auth.Resource{BuyerID: project.BuyerID}); err != nil {
			return nil, err
		}
		return e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID})
	}
	// a developer sees only their own tasks on the project
	return e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID, DeveloperID: actor.UserID})
}

type TaskUpdateOptions struct {
	ID          int64
	Title       *string
	Description *string
	TimeSpent   *float64
	Status      *domain.TaskStatus
	Actor       auth.Actor
}

// UpdateTask handles generic edits. Status may only move between todo and
// in_progress here, and only by the assigned developer; submitted and paid
// are reachable only through SubmitTask and PayTask.
func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	res, err := e.taskResource(ctx, t)
	if err != nil {
		return t, err
	}
	if err := auth.Allow(opts.Actor, auth.ActionTaskUpdate, res); err != nil {
		return domain.Task{}, err
	}
	if opts.Title != nil {
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.TimeSpent != nil {
		if *opts.TimeSpent < 0 {
			return t, errors.New("time_spent must not be negative")
		}
		if t.Status == domain.TaskPaid {
			return t, conflictf("task %d is paid", t.ID)
		}
		t.TimeSpent = *opts.TimeSpent
	}
	if opts.Status != nil && *opts.Status != t.Status {
		if opts.Actor.UserID != t.DeveloperID || opts.Actor.Role != domain.RoleDeveloper {
			return t, auth.ForbiddenError{Action: auth.ActionTaskUpdate}
		}
		if err := ensureTaskTransition(t.Status, *opts.Status); err != nil {
			return t, err
		}
		t.Status = *opts.Status
	}
	t.UpdatedAt = e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.updated", "task", t.ID, opts.Actor.UserID, events.EventPayload{"status": t.Status}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

func ensureTaskTransition(oldStatus, newStatus domain.TaskStatus) error {
	switch {
	case oldStatus == domain.TaskTodo && newStatus == domain.TaskInProgress:
		return nil
	case oldStatus == domain.TaskInProgress && newStatus == domain.TaskTodo:
		return nil
	}
	return conflictf("invalid task status transition %s -> %s", oldStatus, newStatus)
}

type TaskSubmitOptions struct {
	ID        int64
	TimeSpent float64
	Filename  string
	File      io.Reader
	Actor     auth.Actor
}

// SubmitTask stores the artifact and flips the task to submitted. Requires
// prior status todo or in_progress.
func (e Engine) SubmitTask(ctx context.Context, opts TaskSubmitOptions) (domain.Task, error) {
	if opts.TimeSpent <= 0 {
		return domain.Task{}, errors.New("time_spent must be positive")
	}
	if opts.File == nil {
		return domain.Task{}, errors.New("file is required")
	}
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	res, err := e.taskResource(ctx, t)
	if err != nil {
		return t, err
	}
	if err := auth.Allow(opts.Actor, auth.ActionTaskSubmit, res); err != nil {
		return domain.Task{}, err
	}
	if t.Status != domain.TaskTodo && t.Status != domain.TaskInProgress {
		return t, conflictf("task %d is %s", t.ID, t.Status)
	}
	stored, err := e.Store.Save(t.ID, opts.Filename, opts.File)
	if err != nil {
		return t, err
	}
	now := e.nowString()
	t.TimeSpent = opts.TimeSpent
	t.SolutionPath = &stored
	t.Status = domain.TaskSubmitted
	t.SubmittedAt = &now
	t.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.Store.Remove(stored)
		return t, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		e.Store.Remove(stored)
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.submitted", "task", t.ID, opts.Actor.UserID, events.EventPayload{"time_spent": t.TimeSpent}); err != nil {
		e.Store.Remove(stored)
		return t, err
	}
	if err := tx.Commit(); err != nil {
		e.Store.Remove(stored)
		return t, err
	}
	return t, nil
}

// OpenSolution authorizes and opens the paid task's artifact for download.
func (e Engine) OpenSolution(ctx context.Context, taskID int64, actor auth.Actor) (domain.Task, *os.File, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, nil, err
	}
	res, err := e.taskResource(ctx, t)
	if err != nil {
		return t, nil, err
	}
	if err := auth.Allow(actor, auth.ActionTaskDownload, res); err != nil {
		return t, nil, err
	}
	if t.Status != domain.TaskPaid {
		return t, nil, auth.ForbiddenError{Action: auth.ActionTaskDownload}
	}
	if t.SolutionPath == nil {
		return t, nil, repo.ErrNotFound
	}
	f, err := e.Store.Open(*t.SolutionPath)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil, repo.ErrNotFound
		}
		return t, nil, err
	}
	return t, f, nil
}

// --- payments ---

// PayTask settles a submitted task: amount = rate x time_spent computed in
// exact decimal, payment row inserted and task flipped to paid in one
// transaction. Double pay conflicts, backed by the unique index on task_id.
func (e Engine) PayTask(ctx context.Context, taskID int64, actor auth.Actor) (domain.Payment, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Payment{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Payment{}, err
	}
	project, err := e.Repo.GetProjectTx(ctx, tx, t.ProjectID)
	if err != nil {
		return domain.Payment{}, err
	}
	if err := auth.Allow(actor, auth.ActionTaskPay, auth.Resource{BuyerID: project.BuyerID, DeveloperID: t.DeveloperID}); err != nil {
		return domain.Payment{}, err
	}
	if t.Status != domain.TaskSubmitted {
		return domain.Payment{}, conflictf("task %d is %s, not submitted", t.ID, t.Status)
	}
	paid, err := e.Repo.HasPaymentTx(ctx, tx, t.ID)
	if err != nil {
		return domain.Payment{}, err
	}
	if paid {
		return domain.Payment{}, conflictf("task %d already paid", t.ID)
	}
	amount := decimal.NewFromFloat(t.HourlyRate).Mul(decimal.NewFromFloat(t.TimeSpent))
	now := e.nowString()
	payment := domain.Payment{
		TaskID:    t.ID,
		BuyerID:   project.BuyerID,
		Amount:    amount,
		CreatedAt: now,
	}
	payment.ID, err = e.Repo.InsertPaymentTx(ctx, tx, payment)
	if err != nil {
		// unique(task_id) backs the precheck under races
		if isConstraintErr(err) {
			return domain.Payment{}, conflictf("task %d already paid", t.ID)
		}
		return domain.Payment{}, err
	}
	ok, err := e.Repo.MarkTaskPaidTx(ctx, tx, t.ID, now)
	if err != nil {
		return domain.Payment{}, err
	}
	if !ok {
		return domain.Payment{}, conflictf("task %d already paid", t.ID)
	}
	if err := e.Events.Append(ctx, tx, "payment.created", "payment", payment.ID, actor.UserID, events.EventPayload{
		"task_id": t.ID,
		"amount":  amount.String(),
	}); err != nil {
		return domain.Payment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Payment{}, err
	}
	return payment, nil
}

func (e Engine) GetPayment(ctx context.Context, id int64, actor auth.Actor) (domain.Payment, error) {
	p, err := e.Repo.GetPayment(ctx, id)
	if err != nil {
		return p, err
	}
	t, err := e.Repo.GetTask(ctx, p.TaskID)
	if err != nil {
		return p, err
	}
	if err := auth.Allow(actor, auth.ActionPaymentRead, auth.Resource{BuyerID: p.BuyerID, DeveloperID: t.DeveloperID}); err != nil {
		return domain.Payment{}, err
	}
	return p, nil
}

// --- admin ---

type DashboardStats struct {
	TotalUsers      int                       `json:"total_users"`
	TotalBuyers     int                       `json:"total_buyers"`
	TotalDevelopers int                       `json:"total_developers"`
	TotalProjects   int                       `json:"total_projects"`
	OpenProjects    int                       `json:"open_projects"`
	TotalProposals  int                       `json:"total_proposals"`
	TotalTasks      int                       `json:"total_tasks"`
	TasksByStatus   map[domain.TaskStatus]int `json:"tasks_by_status"`
	PendingPayments int                       `json:"pending_payments"`
	TotalPayments   int                       `json:"total_payments"`
	TotalHours      float64                   `json:"total_hours"`
	TotalRevenue    string                    `json:"total_revenue"`
}

func (e Engine) Dashboard(ctx context.Context, actor auth.Actor) (DashboardStats, error) {
	if err := auth.Allow(actor, auth.ActionDashboardRead, auth.Resource{}); err != nil {
		return DashboardStats{}, err
	}
	var stats DashboardStats
	roleCounts, err := e.Repo.CountUsersByRole(ctx)
	if err != nil {
		return stats, err
	}
	for _, n := range roleCounts {
		stats.TotalUsers += n
	}
	stats.TotalBuyers = roleCounts[domain.RoleBuyer]
	stats.TotalDevelopers = roleCounts[domain.RoleDeveloper]
	stats.TotalProjects, stats.OpenProjects, err = e.Repo.CountProjects(ctx)
	if err != nil {
		return stats, err
	}
	stats.TotalProposals, err = e.Repo.CountProposals(ctx)
	if err != nil {
		return stats, err
	}
	stats.TasksByStatus, err = e.Repo.CountTasksByStatus(ctx)
	if err != nil {
		return stats, err
	}
	for _, n := range stats.TasksByStatus {
		stats.TotalTasks += n
	}
	stats.PendingPayments = stats.TasksByStatus[domain.TaskSubmitted]
	stats.TotalPayments, err = e.Repo.CountPayments(ctx)
	if err != nil {
		return stats, err
	}
	stats.TotalHours, err = e.Repo.SumTimeSpent(ctx)
	if err != nil {
		return stats, err
	}
	revenue, err := e.Repo.SumPayments(ctx)
	if err != nil {
		return stats, err
	}
	stats.TotalRevenue = revenue.String()
	return stats, nil
}
