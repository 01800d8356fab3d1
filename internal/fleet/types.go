// Package fleet models the inspection hierarchy: projects own windfarms,
// windfarms own turbines, turbines own inspections with damage
// assessments. Every mutation is written to the audit log.
package fleet

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("fleet: not found")
	ErrForbidden     = errors.New("fleet: forbidden")
	ErrInvalidInput  = errors.New("fleet: invalid input")
	ErrInvalidStatus = errors.New("fleet: invalid status")
	ErrInvalidGrade  = errors.New("fleet: damage grade out of range")
)

// Project member roles.
const (
	RoleOwner  = "owner"  // full control, can delete the project
	RoleEditor = "editor" // can edit the project and everything under it
	RoleViewer = "viewer" // read-only
)

// Turbine lifecycle.
const (
	TurbinePlanned           = "planned"
	TurbineUnderConstruction = "under_construction"
	TurbineOperational       = "operational"
	TurbineMaintenance       = "maintenance"
	TurbineDecommissioned    = "decommissioned"
	TurbineCancelled         = "cancelled"
)

// Inspection lifecycle.
const (
	InspectionUploaded   = "uploaded"
	InspectionProcessing = "processing"
	InspectionCompleted  = "completed"
	InspectionFailed     = "failed"
)

// Blade surfaces inspected per turbine blade.
const (
	SurfacePressureSide = "PS"
	SurfaceLeadingEdge  = "LE"
	SurfaceTrailingEdge = "TE"
	SurfaceSuctionSide  = "SS"
)

func validTurbineStatus(s string) bool {
	switch s {
	case TurbinePlanned, TurbineUnderConstruction, TurbineOperational,
		TurbineMaintenance, TurbineDecommissioned, TurbineCancelled:
		return true
	}
	return false
}

func validInspectionStatus(s string) bool {
	switch s {
	case InspectionUploaded, InspectionProcessing, InspectionCompleted, InspectionFailed:
		return true
	}
	return false
}

func validMemberRole(r string) bool {
	return r == RoleOwner || r == RoleEditor || r == RoleViewer
}

func validSurface(s string) bool {
	switch s {
	case SurfacePressureSide, SurfaceLeadingEdge, SurfaceTrailingEdge, SurfaceSuctionSide:
		return true
	}
	return false
}

// Project groups windfarms and carries its own membership list.
type Project struct {
	ID          string
	Name        string
	Description string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Member binds a user to a project with a role.
type Member struct {
	ProjectID string
	UserID    string
	Role      string
	AddedBy   string
	CreatedAt time.Time
}

// Windfarm is a site within a project.
type Windfarm struct {
	ID        string
	ProjectID string
	Name      string
	Region    string
	Latitude  *float64
	Longitude *float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Turbine is a single machine within a windfarm.
type Turbine struct {
	ID         string
	WindfarmID string
	Name       string
	Model      string
	Status     string
	Latitude   *float64
	Longitude  *float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Inspection is one drone survey of a turbine.
type Inspection struct {
	ID         string
	TurbineID  string
	Code       string
	Status     string
	Operator   string
	Equipment  string
	CapturedAt *time.Time
	CreatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DamageAssessment grades a finding on an inspected blade surface.
// Grades run 1 (cosmetic) through 5 (laminate penetration).
type DamageAssessment struct {
	ID           string
	InspectionID string
	Blade        string
	Surface      string
	Grade        int
	Description  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (p *Project) snapshot() map[string]any {
	return map[string]any{
		"name":        p.Name,
		"description": p.Description,
	}
}

func (w *Windfarm) snapshot() map[string]any {
	m := map[string]any{
		"name":   w.Name,
		"region": w.Region,
	}
	if w.Latitude != nil {
		m["latitude"] = *w.Latitude
	}
	if w.Longitude != nil {
		m["longitude"] = *w.Longitude
	}
	return m
}

func (t *Turbine) snapshot() map[string]any {
	m := map[string]any{
		"name":   t.Name,
		"model":  t.Model,
		"status": t.Status,
	}
	if t.Latitude != nil {
		m["latitude"] = *t.Latitude
	}
	if t.Longitude != nil {
		m["longitude"] = *t.Longitude
	}
	return m
}

func (i *Inspection) snapshot() map[string]any {
	return map[string]any{
		"code":      i.Code,
		"status":    i.Status,
		"operator":  i.Operator,
		"equipment": i.Equipment,
	}
}

func (d *DamageAssessment) snapshot() map[string]any {
	return map[string]any{
		"blade":       d.Blade,
		"surface":     d.Surface,
		"grade":       d.Grade,
		"description": d.Description,
	}
}
