package fleet

import (
	"context"
	"database/sql"
	"errors"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL via database/sql.
type PGStore struct {
	db *sql.DB

	projects    *projectStore
	windfarms   *windfarmStore
	turbines    *turbineStore
	inspections *inspectionStore
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{
		db:          db,
		projects:    &projectStore{db: db},
		windfarms:   &windfarmStore{db: db},
		turbines:    &turbineStore{db: db},
		inspections: &inspectionStore{db: db},
	}
}

func (s *PGStore) Projects(context.Context) ProjectStore       { return s.projects }
func (s *PGStore) Windfarms(context.Context) WindfarmStore     { return s.windfarms }
func (s *PGStore) Turbines(context.Context) TurbineStore       { return s.turbines }
func (s *PGStore) Inspections(context.Context) InspectionStore { return s.inspections }

type projectStore struct {
	db *sql.DB
}

func (s *projectStore) Create(ctx context.Context, p *Project, owner *Member) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`insert into projects(id, name, description, created_by, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6)`,
		p.ID, p.Name, p.Description, p.CreatedBy, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into project_members(project_id, user_id, role, added_by, created_at)
		 values($1,$2,$3,$4,$5)`,
		owner.ProjectID, owner.UserID, owner.Role, owner.AddedBy, owner.CreatedAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *projectStore) Find(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, description, created_by, created_at, updated_at
		 from projects where id=$1`, id)
	return scanProject(row)
}

func (s *projectStore) ListForUser(ctx context.Context, userID string) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`select p.id, p.name, p.description, p.created_by, p.created_at, p.updated_at
		 from projects p
		 join project_members m on m.project_id = p.id
		 where m.user_id=$1
		 order by p.created_at desc`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProjects(rows)
}

func (s *projectStore) ListAll(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, description, created_by, created_at, updated_at
		 from projects order by created_at desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProjects(rows)
}

func (s *projectStore) Update(ctx context.Context, p *Project) error {
	res, err := s.db.ExecContext(ctx,
		`update projects set name=$2, description=$3, updated_at=$4 where id=$1`,
		p.ID, p.Name, p.Description, p.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *projectStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from projects where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *projectStore) AddMember(ctx context.Context, m *Member) error {
	// Upsert: re-adding a member updates their role.
	_, err := s.db.ExecContext(ctx,
		`insert into project_members(project_id, user_id, role, added_by, created_at)
		 values($1,$2,$3,$4,$5)
		 on conflict (project_id, user_id) do update set role=excluded.role, added_by=excluded.added_by`,
		m.ProjectID, m.UserID, m.Role, m.AddedBy, m.CreatedAt)
	return err
}

func (s *projectStore) RemoveMember(ctx context.Context, projectID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from project_members where project_id=$1 and user_id=$2`, projectID, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *projectStore) Members(ctx context.Context, projectID string) ([]*Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`select project_id, user_id, role, added_by, created_at
		 from project_members where project_id=$1 order by created_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.AddedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *projectStore) MemberRole(ctx context.Context, projectID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`select role from project_members where project_id=$1 and user_id=$2`,
		projectID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return role, err
}

type windfarmStore struct {
	db *sql.DB
}

func (s *windfarmStore) Create(ctx context.Context, w *Windfarm) error {
	_, err := s.db.ExecContext(ctx,
		`insert into windfarms(id, project_id, name, region, latitude, longitude, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		w.ID, w.ProjectID, w.Name, w.Region, w.Latitude, w.Longitude, w.CreatedAt, w.UpdatedAt)
	return err
}

func (s *windfarmStore) Find(ctx context.Context, id string) (*Windfarm, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, project_id, name, region, latitude, longitude, created_at, updated_at
		 from windfarms where id=$1`, id)

	var (
		w        Windfarm
		lat, lon sql.NullFloat64
	)
	err := row.Scan(&w.ID, &w.ProjectID, &w.Name, &w.Region, &lat, &lon, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	w.Latitude, w.Longitude = floatPtr(lat), floatPtr(lon)
	return &w, nil
}

func (s *windfarmStore) ListByProject(ctx context.Context, projectID string) ([]*Windfarm, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, project_id, name, region, latitude, longitude, created_at, updated_at
		 from windfarms where project_id=$1 order by created_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Windfarm
	for rows.Next() {
		var (
			w        Windfarm
			lat, lon sql.NullFloat64
		)
		if err := rows.Scan(&w.ID, &w.ProjectID, &w.Name, &w.Region, &lat, &lon, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		w.Latitude, w.Longitude = floatPtr(lat), floatPtr(lon)
		out = append(out, &w)
	}
	return out, rows.Err()
}

func (s *windfarmStore) Update(ctx context.Context, w *Windfarm) error {
	res, err := s.db.ExecContext(ctx,
		`update windfarms set name=$2, region=$3, latitude=$4, longitude=$5, updated_at=$6 where id=$1`,
		w.ID, w.Name, w.Region, w.Latitude, w.Longitude, w.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *windfarmStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from windfarms where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type turbineStore struct {
	db *sql.DB
}

func (s *turbineStore) Create(ctx context.Context, t *Turbine) error {
	_, err := s.db.ExecContext(ctx,
		`insert into turbines(id, windfarm_id, name, model, status, latitude, longitude, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		t.ID, t.WindfarmID, t.Name, t.Model, t.Status, t.Latitude, t.Longitude, t.CreatedAt, t.UpdatedAt)
	return err
}

func (s *turbineStore) Find(ctx context.Context, id string) (*Turbine, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, windfarm_id, name, model, status, latitude, longitude, created_at, updated_at
		 from turbines where id=$1`, id)
	return scanTurbine(row)
}

func (s *turbineStore) ListByWindfarm(ctx context.Context, windfarmID string) ([]*Turbine, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, windfarm_id, name, model, status, latitude, longitude, created_at, updated_at
		 from turbines where windfarm_id=$1 order by name`, windfarmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Turbine
	for rows.Next() {
		t, err := scanTurbine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *turbineStore) Update(ctx context.Context, t *Turbine) error {
	res, err := s.db.ExecContext(ctx,
		`update turbines set name=$2, model=$3, status=$4, latitude=$5, longitude=$6, updated_at=$7 where id=$1`,
		t.ID, t.Name, t.Model, t.Status, t.Latitude, t.Longitude, t.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *turbineStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from turbines where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type inspectionStore struct {
	db *sql.DB
}

func (s *inspectionStore) Create(ctx context.Context, i *Inspection) error {
	_, err := s.db.ExecContext(ctx,
		`insert into inspections(id, turbine_id, code, status, operator, equipment, captured_at, created_by, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		i.ID, i.TurbineID, i.Code, i.Status, i.Operator, i.Equipment, i.CapturedAt, i.CreatedBy, i.CreatedAt, i.UpdatedAt)
	return err
}

func (s *inspectionStore) Find(ctx context.Context, id string) (*Inspection, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, turbine_id, code, status, operator, equipment, captured_at, created_by, created_at, updated_at
		 from inspections where id=$1`, id)
	return scanInspection(row)
}

func (s *inspectionStore) ListByTurbine(ctx context.Context, turbineID string) ([]*Inspection, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, turbine_id, code, status, operator, equipment, captured_at, created_by, created_at, updated_at
		 from inspections where turbine_id=$1 order by created_at desc`, turbineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Inspection
	for rows.Next() {
		i, err := scanInspection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *inspectionStore) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`update inspections set status=$2, updated_at=now() where id=$1`, id, status)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *inspectionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from inspections where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *inspectionStore) AddAssessment(ctx context.Context, a *DamageAssessment) error {
	_, err := s.db.ExecContext(ctx,
		`insert into damage_assessments(id, inspection_id, blade, surface, grade, description, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		a.ID, a.InspectionID, a.Blade, a.Surface, a.Grade, a.Description, a.CreatedAt, a.UpdatedAt)
	return err
}

func (s *inspectionStore) Assessments(ctx context.Context, inspectionID string) ([]*DamageAssessment, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, inspection_id, blade, surface, grade, description, created_at, updated_at
		 from damage_assessments where inspection_id=$1 order by created_at`, inspectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DamageAssessment
	for rows.Next() {
		var a DamageAssessment
		if err := rows.Scan(&a.ID, &a.InspectionID, &a.Blade, &a.Surface, &a.Grade,
			&a.Description, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanProject(row scannable) (*Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectProjects(rows *sql.Rows) ([]*Project, error) {
	var out []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanTurbine(row scannable) (*Turbine, error) {
	var (
		t        Turbine
		lat, lon sql.NullFloat64
	)
	err := row.Scan(&t.ID, &t.WindfarmID, &t.Name, &t.Model, &t.Status, &lat, &lon, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Latitude, t.Longitude = floatPtr(lat), floatPtr(lon)
	return &t, nil
}

func scanInspection(row scannable) (*Inspection, error) {
	var (
		i        Inspection
		captured sql.NullTime
	)
	err := row.Scan(&i.ID, &i.TurbineID, &i.Code, &i.Status, &i.Operator, &i.Equipment,
		&captured, &i.CreatedBy, &i.CreatedAt, &i.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if captured.Valid {
		t := captured.Time
		i.CapturedAt = &t
	}
	return &i, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
