package fleet

import (
	"context"
	"strings"
	"time"

	"windscope.org/internal/audit"
	"windscope.org/internal/ids"
	"windscope.org/internal/obs"
)

// Actor identifies who performs an operation. Admin actors bypass
// project membership checks. IP and UserAgent carry request metadata
// into the audit trail.
type Actor struct {
	ID        string
	Admin     bool
	IP        string
	UserAgent string
}

// Service implements the fleet operations with membership enforcement
// and audit recording. An audit write failure never fails the
// operation: the mutation has already committed, so the failure is
// logged and counted instead. That policy lives in record.
type Service struct {
	store    Store
	recorder *audit.Recorder
	now      func() time.Time
}

// ServiceOption configures optional dependencies of Service.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service. The recorder may be nil, in which
// case mutations are not audited.
func NewService(store Store, recorder *audit.Recorder, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		recorder: recorder,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProjectInput carries caller-editable project fields.
type ProjectInput struct {
	Name        string
	Description string
}

// WindfarmInput carries caller-editable windfarm fields.
type WindfarmInput struct {
	Name      string
	Region    string
	Latitude  *float64
	Longitude *float64
}

// TurbineInput carries caller-editable turbine fields.
type TurbineInput struct {
	Name      string
	Model     string
	Status    string
	Latitude  *float64
	Longitude *float64
}

// InspectionInput carries caller-editable inspection fields.
type InspectionInput struct {
	Code       string
	Operator   string
	Equipment  string
	CapturedAt *time.Time
}

// AssessmentInput carries caller-editable damage assessment fields.
type AssessmentInput struct {
	Blade       string
	Surface     string
	Grade       int
	Description string
}

// CreateProject creates a project and makes the actor its owner.
func (s *Service) CreateProject(ctx context.Context, actor Actor, in ProjectInput) (*Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrInvalidInput
	}
	now := s.now().UTC()
	p := &Project{
		ID:          ids.New(),
		Name:        name,
		Description: in.Description,
		CreatedBy:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	owner := &Member{
		ProjectID: p.ID,
		UserID:    actor.ID,
		Role:      RoleOwner,
		AddedBy:   actor.ID,
		CreatedAt: now,
	}
	if err := s.store.Projects(ctx).Create(ctx, p, owner); err != nil {
		return nil, err
	}
	s.record(ctx, actor, audit.Entry{
		Action:     audit.ActionCreate,
		EntityType: audit.EntityProject,
		EntityID:   p.ID,
		EntityName: p.Name,
		ProjectID:  p.ID,
		After:      p.snapshot(),
	})
	return p, nil
}

// GetProject returns a project the actor can view.
func (s *Service) GetProject(ctx context.Context, actor Actor, id string) (*Project, error) {
	if err := s.canView(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.store.Projects(ctx).Find(ctx, id)
}

// ListProjects returns the actor's projects, or every project for an
// admin actor.
func (s *Service) ListProjects(ctx context.Context, actor Actor) ([]*Project, error) {
	if actor.Admin {
		return s.store.Projects(ctx).ListAll(ctx)
	}
	return s.store.Projects(ctx).ListForUser(ctx, actor.ID)
}

// UpdateProject updates name and description.
func (s *Service) UpdateProject(ctx context.Context, actor Actor, id string, in ProjectInput) (*Project, error) {
	if err := s.canEdit(ctx, actor, id); err != nil {
		return nil, err
	}
	p, err := s.store.Projects(ctx).Find(ctx, id)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrInvalidInput
	}
	before := p.snapshot()
	p.Name = name
	p.Description = in.Description
	p.UpdatedAt = s.now().UTC()
	if err := s.store.Projects(ctx).Update(ctx, p); err != nil {
		return nil, err
	}
	s.record(ctx, actor, audit.Entry{
		Action:     audit.ActionUpdate,
		EntityType: audit.EntityProject,
		EntityID:   p.ID,
		EntityName: p.Name,
		ProjectID:  p.ID,
		Before:     before,
		After:      p.snapshot(),
	})
	return p, nil
}

// DeleteProject removes a project and everything beneath it. Owner only.
func (s *Service) DeleteProject(ctx context.Context, actor Actor, id string) error {
	if err := s.canOwn(ctx, actor, id); err != nil {
		return err
	}
	p, err := s.store.Projects(ctx).Find(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Projects(ctx).Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, audit.Entry{
		Action:     audit.ActionDelete,
		EntityType: audit.EntityProject,
		EntityID:   p.ID,
		EntityName: p.Name,
		ProjectID:  p.ID,
		Before:     p.snapshot(),
	})
	return nil
}

// AddMember grants a user a role on a project. Owner only.
func (s *Service) AddMember(ctx context.Context, actor Actor, projectID, userID, role string) (*Member, error) {
	if !validMemberRole(role) {
		return nil, ErrInvalidInput
	}
	if err := s.canOwn(ctx, actor, projectID); err != nil {
		return nil, err
	}
	p, err := s.store.Projects(ctx).Find(ctx, projectID)
	if err != nil {
		return nil, err
	}
	m := &Member{
		ProjectID: projectID,
		UserID:    userID,
		Role:      role,
		AddedBy:   actor.ID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Projects(ctx).AddMember(ctx, m); err != nil {
		return nil, err
	}
	s.record(ctx, actor, audit.Entry{
		Action:     audit.ActionMemberAdded,
		EntityType: audit.EntityProjectMember,
		EntityID:   userID,
		EntityName: p.Name,
		ProjectID:  projectID,
		Metadata:   map[string]any{"user_id": userID, "role": role},
	})
	return m, nil
}

// RemoveMember revokes a user's project membership. Owner only. The
// last owner cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, actor Actor, projectID, userID string) error {
	if err := s.canOwn(ctx, actor, projectID); err != nil {
		return err
	}
	p, err := s.store.Projects(ctx).Find(ctx, projectID)
	if err != nil {
		return err
	}
	role, err := s.store.Projects(ctx).MemberRole(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if role == RoleOwner && s.ownerCount(ctx, projectID) <= 1 {
		return ErrInvalidInput
	}
	if err := s.store.Projects(ctx).RemoveMember(ctx, projectID, userID); err != nil {
		return err
	}
	s.record(ctx, actor, audit.Entry{
		Action:     audit.ActionMemberRemoved,
		EntityType: audit.EntityProjectMember,
		EntityID:   userID,
		EntityName: p.Name,
		ProjectID:  projectID,
		Metadata:   map[string]any{"user_id": userID, "role": role},
	})
	return nil
}

// Members lists a project's membership.
func (s *Service) Members(ctx context.Context, actor Actor, projectID string) ([]*Member, error) {
	if err := s.canView(ctx, actor, projectID); err != nil {
		return nil, err
	}
	return s.store.Projects(ctx).Members(ctx, projectID)
}

// CreateWindfarm adds a windfarm to a project.
func (s *Service) CreateWindfarm(ctx context.Context, actor Actor, projectID string, in WindfarmInput) (*Windfarm, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrInvalidInput
	}
	if err := s.canEdit(ctx, actor, projectID); err != nil {
		return nil, err
	}
	if _, err := s.store.Projects(ctx).Find(ctx, projectID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	w := &Windfarm{
		ID:        ids.New(),
		ProjectID: projectID,
		Name:      name,
		Region:    in.Region,
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Windfarms(ctx).Create(ctx, w); err != nil {
		return nil, err
	}
	s.record(ctx, actor, audit.Entry{
		Action:     audit.ActionCreate,
		EntityType: audit.EntityWindfarm,
		EntityID:   w.ID,
		EntityName: w.Name,
		ProjectID:  projectID,
		After:      w.snapshot(),
	})
	return w, nil
}

// GetWindfarm returns one windfarm.
func (s *Service) GetWindfarm(ctx context.Context, actor Actor, id string) (*Windfarm, error) {
	w, err := s.store.Windfarms(ctx).Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, actor, w.ProjectID); err != nil {
		return nil, err
	}
	return w, nil
}

// ListWindfarms lists a project's windfarms.
func (s *Service) ListWindfarms(ctx context.Context, actor Actor, projectID string) ([]*Windfarm, error) {
	if err := s.canView(ctx, actor, projectID); err != nil {
		return nil, err
	}
	return s.store.Windfarms(ctx).ListByProject(ctx, projectID)
}

// UpdateWindfarm updates a windfarm's editable fields.
func (s *Service) UpdateWindfarm(ctx context.Context, actor Actor, id string, in WindfarmInput) (*Windfarm, error) {
	w, err := s.store.Windfarms(ctx).Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canEdit(ctx, actor, w.ProjectID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrInvalidInput
	}
	before := w.snapshot()
	w.Name = name
	w.Region = in.Region
	w.Latitude = in.Latitude
	w.Longitude = in.Longitude
	w.UpdatedAt = s.now().UTC()
	if err := s.store.Windfarms(ctx).Update(ctx, w); err != nil {
		return nil, err
	}
	s.record(ctx, actor, audit.Entry{
		Action:     audit.ActionUpdate,
		EntityType: audit.EntityWindfarm,
		EntityID:   w.ID,
		EntityName: w.Name,
		ProjectID:  w.ProjectID,
		Before:     before,
		After:      w.snapshot(),
	})
	return w, nil
}

// DeleteWindfarm removes a windfarm and its turbines.
func (s *Service) DeleteWindfarm(ctx context.Context, actor Actor, id string) error {
	w, err := s.store.Windfarms(ctx).Find(ctx, id)
	if err != nil {
		return err
	}
	if err := s.canEdit(ctx, actor, w.ProjectID); err != nil {
		return err
	}
	if err := s.store.Windfarms(ctx).Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, audit.Entry{
		Action:     audit.ActionDelete,
		EntityType: audit.EntityWindfarm,
		EntityID:   w.ID,
		EntityName: w.Name,
		ProjectID:  w.ProjectID,
		Before:     w.snapshot(),
	})
	return nil
}

// CreateTurbine adds a turbine to a windfarm. Status defaults to
// planned.
func (s *Service) CreateTurbine(ctx context.Context, actor Actor, windfarmID string, in TurbineInput) (*Turbine, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrInvalidInput
	}
	w, err := s.store.Windfarms(ctx).Find(ctx, windfarmID)
	if err != nil {
		return nil, err
	}
	if err := s.canEdit(ctx, actor, w.ProjectID); err != nil {
		return nil, err
	}
	status := in.Status
	if status == "" {
		status = TurbinePlanned
	}
	if !validTurbineStatus(status) {
		return nil, ErrInvalidStatus
	}
	now := s.now().UTC()
	t := &Turbine{
		ID:         ids.New(),
		WindfarmID: windfarmID,
		Name:       name,
		Model:      in.Model,
		Status:     status,
		Latitude:   in.Latitude,
		Longitude:  in.Longitude,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Turbines(ctx).Create(ctx, t); err != nil {
		return nil, err
	}
	s.record(ctx, actor, audit.Entry{
		Action:     audit.ActionCreate,
		EntityType: audit.EntityTurbine,
		EntityID:   t.ID,
		EntityName: t.Name,
		ProjectID:  w.ProjectID,
		After:      t.snapshot(),
	})
	return t, nil
}

// GetTurbine returns one turbine.
func (s *Service) GetTurbine(ctx context.Context, actor Actor, id string) (*Turbine, error) {
	t, projectID, err := s.findTurbine(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, actor, projectID); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTurbines lists a windfarm's turbines.
func (s *Service) ListTurbines(ctx context.Context, actor Actor, windfarmID string) ([]*Turbine, error) {
	w, err := s.store.Windfarms(ctx).Find(ctx, windfarmID)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, actor, w.ProjectID); err != nil {
		return nil, err
	}
	return s.store.Turbines(ctx).ListByWindfarm(ctx, windfarmID)
}

// UpdateTurbine updates a turbine's editable fields other than status.
func (s *Service) UpdateTurbine(ctx context.Context, actor Actor, id string, in TurbineInput) (*Turbine, error) {
	t, projectID, err := s.findTurbine(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canEdit(ctx, actor, projectID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrInvalidInput
	}
	before := t.snapshot()
	t.Name = name
	t.Model = in.Model
	t.Latitude = in.Latitude
	t.Longitude = in.Longitude
	t.UpdatedAt = s.now().UTC()
	if err := s.store.Turbines(ctx).Update(ctx, t); err != nil {
		return nil, err
	}
	s.record(ctx, actor, audit.Entry{
		Action:     audit.ActionUpdate,
		EntityType: audit.EntityTurbine,
		EntityID:   t.ID,
		EntityName: t.Name,
		ProjectID:  projectID,
		Before:     before,
		After:      t.snapshot(),
	})
	return t, nil
}

// SetTurbineStatus moves a turbine through its lifecycle and records a
// STATUS_CHANGE entry.
func (s *Service) SetTurbineStatus(ctx context.Context, actor Actor, id, status string) (*Turbine, error) {
	if !validTurbineStatus(status) {
		return nil, ErrInvalidStatus
	}
	t, projectID, err := s.findTurbine(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canEdit(ctx, actor, projectID); err != nil {
		return nil, err
	}
	if t.Status == status {
		return t, nil
	}
	before := t.snapshot()
	t.Status = status
	t.UpdatedAt = s.now().UTC()
	if err := s.store.Turbines(ctx).Update(ctx, t); err != nil {
		return nil, err
	}
	s.record(ctx, actor, audit.Entry{
		Action:     audit.ActionStatusChange,
		EntityType: audit.EntityTurbine,
		EntityID:   t.ID,
		EntityName: t.Name,
		ProjectID:  projectID,
		Before:     before,
		After:      t.snapshot(),
	})
	return t, nil
}

// DeleteTurbine removes a turbine and its inspections.
func (s *Service) DeleteTurbine(ctx context.Context, actor Actor, id string) error {
	t, projectID, err := s.findTurbine(ctx, id)
	if err != nil {
		return err
	}
	if err := s.canEdit(ctx, actor, projectID); err != nil {
		return err
	}
	if err := s.store.Turbines(ctx).Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, audit.Entry{
		Action:     audit.ActionDelete,
		EntityType: audit.EntityTurbine,
		EntityID:   t.ID,
		EntityName: t.Name,
		ProjectID:  projectID,
		Before:     t.snapshot(),
	})
	return nil
}

// CreateInspection registers a new drone survey of a turbine. Status
// starts at uploaded.
func (s *Service) CreateInspection(ctx context.Context, actor Actor, turbineID string, in InspectionInput) (*Inspection, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return nil, ErrInvalidInput
	}
	t, projectID, err := s.findTurbine(ctx, turbineID)
	if err != nil {
		return nil, err
	}
	if err := s.canEdit(ctx, actor, projectID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	i := &Inspection{
		ID:         ids.New(),
		TurbineID:  t.ID,
		Code:       code,
		Status:     InspectionUploaded,
		Operator:   in.Operator,
		Equipment:  in.Equipment,
		CapturedAt: in.CapturedAt,
		CreatedBy:  actor.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Inspections(ctx).Create(ctx, i); err != nil {
		return nil, err
	}
	s.record(ctx, actor, audit.Entry{
		Action:     audit.ActionCreate,
		EntityType: audit.EntityInspection,
		EntityID:   i.ID,
		EntityName: i.Code,
		ProjectID:  projectID,
		After:      i.snapshot(),
	})
	return i, nil
}

// GetInspection returns one inspection with its assessments loaded.
func (s *Service) GetInspection(ctx context.Context, actor Actor, id string) (*Inspection, []*DamageAssessment, error) {
	i, projectID, err := s.findInspection(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := s.canView(ctx, actor, projectID); err != nil {
		return nil, nil, err
	}
	assessments, err := s.store.Inspections(ctx).Assessments(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return i, assessments, nil
}

// ListInspections lists a turbine's inspections.
func (s *Service) ListInspections(ctx context.Context, actor Actor, turbineID string) ([]*Inspection, error) {
	_, projectID, err := s.findTurbine(ctx, turbineID)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, actor, projectID); err != nil {
		return nil, err
	}
	return s.store.Inspections(ctx).ListByTurbine(ctx, turbineID)
}

// SetInspectionStatus moves an inspection through its pipeline.
func (s *Service) SetInspectionStatus(ctx context.Context, actor Actor, id, status string) (*Inspection, error) {
	if !validInspectionStatus(status) {
		return nil, ErrInvalidStatus
	}
	i, projectID, err := s.findInspection(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canEdit(ctx, actor, projectID); err != nil {
		return nil, err
	}
	if i.Status == status {
		return i, nil
	}
	before := i.snapshot()
	if err := s.store.Inspections(ctx).UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}
	i.Status = status
	i.UpdatedAt = s.now().UTC()
	s.record(ctx, actor, audit.Entry{
		Action:     audit.ActionStatusChange,
		EntityType: audit.EntityInspection,
		EntityID:   i.ID,
		EntityName: i.Code,
		ProjectID:  projectID,
		Before:     before,
		After:      i.snapshot(),
	})
	return i, nil
}

// DeleteInspection removes an inspection and its assessments.
func (s *Service) DeleteInspection(ctx context.Context, actor Actor, id string) error {
	i, projectID, err := s.findInspection(ctx, id)
	if err != nil {
		return err
	}
	if err := s.canEdit(ctx, actor, projectID); err != nil {
		return err
	}
	if err := s.store.Inspections(ctx).Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, audit.Entry{
		Action:     audit.ActionDelete,
		EntityType: audit.EntityInspection,
		EntityID:   i.ID,
		EntityName: i.Code,
		ProjectID:  projectID,
		Before:     i.snapshot(),
	})
	return nil
}

// RecordAssessment attaches a graded damage finding to an inspection.
func (s *Service) RecordAssessment(ctx context.Context, actor Actor, inspectionID string, in AssessmentInput) (*DamageAssessment, error) {
	if in.Grade < 1 || in.Grade > 5 {
		return nil, ErrInvalidGrade
	}
	if !validSurface(in.Surface) {
		return nil, ErrInvalidInput
	}
	i, projectID, err := s.findInspection(ctx, inspectionID)
	if err != nil {
		return nil, err
	}
	if err := s.canEdit(ctx, actor, projectID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	a := &DamageAssessment{
		ID:           ids.New(),
		InspectionID: i.ID,
		Blade:        in.Blade,
		Surface:      in.Surface,
		Grade:        in.Grade,
		Description:  in.Description,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Inspections(ctx).AddAssessment(ctx, a); err != nil {
		return nil, err
	}
	s.record(ctx, actor, audit.Entry{
		Action:     audit.ActionCreate,
		EntityType: audit.EntityDamageAssessment,
		EntityID:   a.ID,
		EntityName: i.Code,
		ProjectID:  projectID,
		After:      a.snapshot(),
	})
	return a, nil
}

func (s *Service) findTurbine(ctx context.Context, id string) (*Turbine, string, error) {
	t, err := s.store.Turbines(ctx).Find(ctx, id)
	if err != nil {
		return nil, "", err
	}
	w, err := s.store.Windfarms(ctx).Find(ctx, t.WindfarmID)
	if err != nil {
		return nil, "", err
	}
	return t, w.ProjectID, nil
}

func (s *Service) findInspection(ctx context.Context, id string) (*Inspection, string, error) {
	i, err := s.store.Inspections(ctx).Find(ctx, id)
	if err != nil {
		return nil, "", err
	}
	_, projectID, err := s.findTurbine(ctx, i.TurbineID)
	if err != nil {
		return nil, "", err
	}
	return i, projectID, nil
}

func (s *Service) roleOn(ctx context.Context, actor Actor, projectID string) (string, error) {
	if actor.Admin {
		return RoleOwner, nil
	}
	return s.store.Projects(ctx).MemberRole(ctx, projectID, actor.ID)
}

func (s *Service) canView(ctx context.Context, actor Actor, projectID string) error {
	if _, err := s.roleOn(ctx, actor, projectID); err != nil {
		return ErrForbidden
	}
	return nil
}

func (s *Service) canEdit(ctx context.Context, actor Actor, projectID string) error {
	role, err := s.roleOn(ctx, actor, projectID)
	if err != nil || role == RoleViewer {
		return ErrForbidden
	}
	return nil
}

func (s *Service) canOwn(ctx context.Context, actor Actor, projectID string) error {
	role, err := s.roleOn(ctx, actor, projectID)
	if err != nil || role != RoleOwner {
		return ErrForbidden
	}
	return nil
}

func (s *Service) ownerCount(ctx context.Context, projectID string) int {
	members, err := s.store.Projects(ctx).Members(ctx, projectID)
	if err != nil {
		return 0
	}
	n := 0
	for _, m := range members {
		if m.Role == RoleOwner {
			n++
		}
	}
	return n
}

// record appends an audit entry for a committed mutation. Failures are
// counted and logged but never surfaced: the mutation already happened.
func (s *Service) record(ctx context.Context, actor Actor, e audit.Entry) {
	if s.recorder == nil {
		return
	}
	e.ActorID = actor.ID
	e.IPAddress = actor.IP
	e.UserAgent = actor.UserAgent
	if _, err := s.recorder.Record(ctx, e); err != nil {
		obs.AuditWriteFailed()
		obs.Log(map[string]any{
			"level":  "warn",
			"msg":    "audit write failed",
			"action": string(e.Action),
			"entity": string(e.EntityType),
			"err":    err.Error(),
		})
	}
}
