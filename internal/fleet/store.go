package fleet

import "context"

// Store describes persistence operations for the inspection hierarchy.
// Deletes cascade downward (project → windfarm → turbine → inspection →
// assessment) through foreign keys.
type Store interface {
	Projects(ctx context.Context) ProjectStore
	Windfarms(ctx context.Context) WindfarmStore
	Turbines(ctx context.Context) TurbineStore
	Inspections(ctx context.Context) InspectionStore
}

// ProjectStore manages projects and their membership.
type ProjectStore interface {
	Create(ctx context.Context, p *Project, owner *Member) error
	Find(ctx context.Context, id string) (*Project, error)
	ListForUser(ctx context.Context, userID string) ([]*Project, error)
	ListAll(ctx context.Context) ([]*Project, error)
	Update(ctx context.Context, p *Project) error
	Delete(ctx context.Context, id string) error

	AddMember(ctx context.Context, m *Member) error
	RemoveMember(ctx context.Context, projectID, userID string) error
	Members(ctx context.Context, projectID string) ([]*Member, error)
	// MemberRole returns ErrNotFound for non-members.
	MemberRole(ctx context.Context, projectID, userID string) (string, error)
}

// WindfarmStore manages windfarms.
type WindfarmStore interface {
	Create(ctx context.Context, w *Windfarm) error
	Find(ctx context.Context, id string) (*Windfarm, error)
	ListByProject(ctx context.Context, projectID string) ([]*Windfarm, error)
	Update(ctx context.Context, w *Windfarm) error
	Delete(ctx context.Context, id string) error
}

// TurbineStore manages turbines.
type TurbineStore interface {
	Create(ctx context.Context, t *Turbine) error
	Find(ctx context.Context, id string) (*Turbine, error)
	ListByWindfarm(ctx context.Context, windfarmID string) ([]*Turbine, error)
	Update(ctx context.Context, t *Turbine) error
	Delete(ctx context.Context, id string) error
}

// InspectionStore manages inspections and their damage assessments.
type InspectionStore interface {
	Create(ctx context.Context, i *Inspection) error
	Find(ctx context.Context, id string) (*Inspection, error)
	ListByTurbine(ctx context.Context, turbineID string) ([]*Inspection, error)
	UpdateStatus(ctx context.Context, id, status string) error
	Delete(ctx context.Context, id string) error

	AddAssessment(ctx context.Context, a *DamageAssessment) error
	Assessments(ctx context.Context, inspectionID string) ([]*DamageAssessment, error)
}
