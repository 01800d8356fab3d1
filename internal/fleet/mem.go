package fleet

import (
	"context"
	"sort"
	"sync"
)

// InMemory is an in-memory Store for service tests.
type InMemory struct {
	mu          sync.Mutex
	projects    map[string]*Project
	members     map[string]map[string]*Member // project id -> user id
	windfarms   map[string]*Windfarm
	turbines    map[string]*Turbine
	inspections map[string]*Inspection
	assessments map[string][]*DamageAssessment // inspection id
}

func NewInMemory() *InMemory {
	return &InMemory{
		projects:    make(map[string]*Project),
		members:     make(map[string]map[string]*Member),
		windfarms:   make(map[string]*Windfarm),
		turbines:    make(map[string]*Turbine),
		inspections: make(map[string]*Inspection),
		assessments: make(map[string][]*DamageAssessment),
	}
}

func (m *InMemory) Projects(context.Context) ProjectStore       { return (*memProjects)(m) }
func (m *InMemory) Windfarms(context.Context) WindfarmStore     { return (*memWindfarms)(m) }
func (m *InMemory) Turbines(context.Context) TurbineStore       { return (*memTurbines)(m) }
func (m *InMemory) Inspections(context.Context) InspectionStore { return (*memInspections)(m) }

type memProjects InMemory

func (m *memProjects) Create(_ context.Context, p *Project, owner *Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.projects[p.ID] = &cp
	oc := *owner
	m.members[p.ID] = map[string]*Member{owner.UserID: &oc}
	return nil
}

func (m *memProjects) Find(_ context.Context, id string) (*Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProjects) ListForUser(_ context.Context, userID string) ([]*Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Project
	for pid, members := range m.members {
		if _, ok := members[userID]; ok {
			cp := *m.projects[pid]
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memProjects) ListAll(_ context.Context) ([]*Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Project, 0, len(m.projects))
	for _, p := range m.projects {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memProjects) Update(_ context.Context, p *Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *memProjects) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return ErrNotFound
	}
	delete(m.projects, id)
	delete(m.members, id)
	for wid, w := range m.windfarms {
		if w.ProjectID == id {
			delete(m.windfarms, wid)
		}
	}
	return nil
}

func (m *memProjects) AddMember(_ context.Context, mem *Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[mem.ProjectID] == nil {
		m.members[mem.ProjectID] = make(map[string]*Member)
	}
	cp := *mem
	m.members[mem.ProjectID][mem.UserID] = &cp
	return nil
}

func (m *memProjects) RemoveMember(_ context.Context, projectID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[projectID][userID]; !ok {
		return ErrNotFound
	}
	delete(m.members[projectID], userID)
	return nil
}

func (m *memProjects) Members(_ context.Context, projectID string) ([]*Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Member
	for _, mem := range m.members[projectID] {
		cp := *mem
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memProjects) MemberRole(_ context.Context, projectID, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[projectID][userID]
	if !ok {
		return "", ErrNotFound
	}
	return mem.Role, nil
}

type memWindfarms InMemory

func (m *memWindfarms) Create(_ context.Context, w *Windfarm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.windfarms[w.ID] = &cp
	return nil
}

func (m *memWindfarms) Find(_ context.Context, id string) (*Windfarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windfarms[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *memWindfarms) ListByProject(_ context.Context, projectID string) ([]*Windfarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Windfarm
	for _, w := range m.windfarms {
		if w.ProjectID == projectID {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memWindfarms) Update(_ context.Context, w *Windfarm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.windfarms[w.ID]; !ok {
		return ErrNotFound
	}
	cp := *w
	m.windfarms[w.ID] = &cp
	return nil
}

func (m *memWindfarms) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.windfarms[id]; !ok {
		return ErrNotFound
	}
	delete(m.windfarms, id)
	for tid, t := range m.turbines {
		if t.WindfarmID == id {
			delete(m.turbines, tid)
		}
	}
	return nil
}

type memTurbines InMemory

func (m *memTurbines) Create(_ context.Context, t *Turbine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.turbines[t.ID] = &cp
	return nil
}

func (m *memTurbines) Find(_ context.Context, id string) (*Turbine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.turbines[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTurbines) ListByWindfarm(_ context.Context, windfarmID string) ([]*Turbine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Turbine
	for _, t := range m.turbines {
		if t.WindfarmID == windfarmID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memTurbines) Update(_ context.Context, t *Turbine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.turbines[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	m.turbines[t.ID] = &cp
	return nil
}

func (m *memTurbines) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.turbines[id]; !ok {
		return ErrNotFound
	}
	delete(m.turbines, id)
	return nil
}

type memInspections InMemory

func (m *memInspections) Create(_ context.Context, i *Inspection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *i
	m.inspections[i.ID] = &cp
	return nil
}

func (m *memInspections) Find(_ context.Context, id string) (*Inspection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.inspections[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *i
	return &cp, nil
}

func (m *memInspections) ListByTurbine(_ context.Context, turbineID string) ([]*Inspection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Inspection
	for _, i := range m.inspections {
		if i.TurbineID == turbineID {
			cp := *i
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memInspections) UpdateStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.inspections[id]
	if !ok {
		return ErrNotFound
	}
	i.Status = status
	return nil
}

func (m *memInspections) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inspections[id]; !ok {
		return ErrNotFound
	}
	delete(m.inspections, id)
	delete(m.assessments, id)
	return nil
}

func (m *memInspections) AddAssessment(_ context.Context, a *DamageAssessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.assessments[a.InspectionID] = append(m.assessments[a.InspectionID], &cp)
	return nil
}

func (m *memInspections) Assessments(_ context.Context, inspectionID string) ([]*DamageAssessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*DamageAssessment, 0, len(m.assessments[inspectionID]))
	for _, a := range m.assessments[inspectionID] {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}
