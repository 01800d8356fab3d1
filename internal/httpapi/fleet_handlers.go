package httpapi

import (
	"net/http"
	"strings"
	"time"

	"windscope.org/internal/auth"
	"windscope.org/internal/fleet"
)

type projectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type memberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type windfarmRequest struct {
	Name      string   `json:"name"`
	Region    string   `json:"region"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type turbineRequest struct {
	Name      string   `json:"name"`
	Model     string   `json:"model"`
	Status    string   `json:"status"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type inspectionRequest struct {
	Code       string     `json:"code"`
	Operator   string     `json:"operator"`
	Equipment  string     `json:"equipment"`
	CapturedAt *time.Time `json:"captured_at"`
}

type assessmentRequest struct {
	Blade       string `json:"blade"`
	Surface     string `json:"surface"`
	Grade       int    `json:"grade"`
	Description string `json:"description"`
}

type projectResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type memberResponse struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	AddedBy   string    `json:"added_by"`
	CreatedAt time.Time `json:"created_at"`
}

type windfarmResponse struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Region    string    `json:"region"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type turbineResponse struct {
	ID         string    `json:"id"`
	WindfarmID string    `json:"windfarm_id"`
	Name       string    `json:"name"`
	Model      string    `json:"model"`
	Status     string    `json:"status"`
	Latitude   *float64  `json:"latitude,omitempty"`
	Longitude  *float64  `json:"longitude,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type inspectionResponse struct {
	ID         string     `json:"id"`
	TurbineID  string     `json:"turbine_id"`
	Code       string     `json:"code"`
	Status     string     `json:"status"`
	Operator   string     `json:"operator"`
	Equipment  string     `json:"equipment"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
	CreatedBy  string     `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type assessmentResponse struct {
	ID           string    `json:"id"`
	InspectionID string    `json:"inspection_id"`
	Blade        string    `json:"blade"`
	Surface      string    `json:"surface"`
	Grade        int       `json:"grade"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}

func fleetActor(r *http.Request, user *auth.User) fleet.Actor {
	return fleet.Actor{
		ID:        user.ID,
		Admin:     user.Role == auth.RoleAdmin,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func projectView(p *fleet.Project) projectResponse {
	return projectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		CreatedBy:   p.CreatedBy,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func windfarmView(w *fleet.Windfarm) windfarmResponse {
	return windfarmResponse{
		ID:        w.ID,
		ProjectID: w.ProjectID,
		Name:      w.Name,
		Region:    w.Region,
		Latitude:  w.Latitude,
		Longitude: w.Longitude,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

func turbineView(t *fleet.Turbine) turbineResponse {
	return turbineResponse{
		ID:         t.ID,
		WindfarmID: t.WindfarmID,
		Name:       t.Name,
		Model:      t.Model,
		Status:     t.Status,
		Latitude:   t.Latitude,
		Longitude:  t.Longitude,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

func inspectionView(i *fleet.Inspection) inspectionResponse {
	return inspectionResponse{
		ID:         i.ID,
		TurbineID:  i.TurbineID,
		Code:       i.Code,
		Status:     i.Status,
		Operator:   i.Operator,
		Equipment:  i.Equipment,
		CapturedAt: i.CapturedAt,
		CreatedBy:  i.CreatedBy,
		CreatedAt:  i.CreatedAt,
		UpdatedAt:  i.UpdatedAt,
	}
}

func assessmentView(a *fleet.DamageAssessment) assessmentResponse {
	return assessmentResponse{
		ID:           a.ID,
		InspectionID: a.InspectionID,
		Blade:        a.Blade,
		Surface:      a.Surface,
		Grade:        a.Grade,
		Description:  a.Description,
		CreatedAt:    a.CreatedAt,
	}
}

func (a *API) handleProjectsCollection(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	actor := fleetActor(r, user)
	switch r.Method {
	case http.MethodGet:
		projects, err := a.fleet.ListProjects(r.Context(), actor)
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		out := make([]projectResponse, 0, len(projects))
		for _, p := range projects {
			out = append(out, projectView(p))
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": out})
	case http.MethodPost:
		var req projectRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		p, err := a.fleet.CreateProject(r.Context(), actor, fleet.ProjectInput{
			Name:        req.Name,
			Description: req.Description,
		})
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, projectView(p))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleProjectResource routes /v1/projects/{id} and its members and
// windfarms subresources.
func (a *API) handleProjectResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/projects/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	actor := fleetActor(r, user)

	id, rest, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch {
	case rest == "":
		a.projectByID(w, r, actor, id)
	case rest == "members":
		a.projectMembers(w, r, actor, id)
	case strings.HasPrefix(rest, "members/"):
		userID := strings.TrimPrefix(rest, "members/")
		if userID == "" || strings.Contains(userID, "/") {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		if err := a.fleet.RemoveMember(r.Context(), actor, id, userID); err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "member removed"})
	case rest == "windfarms":
		a.projectWindfarms(w, r, actor, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) projectByID(w http.ResponseWriter, r *http.Request, actor fleet.Actor, id string) {
	switch r.Method {
	case http.MethodGet:
		p, err := a.fleet.GetProject(r.Context(), actor, id)
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, projectView(p))
	case http.MethodPut:
		var req projectRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		p, err := a.fleet.UpdateProject(r.Context(), actor, id, fleet.ProjectInput{
			Name:        req.Name,
			Description: req.Description,
		})
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, projectView(p))
	case http.MethodDelete:
		if err := a.fleet.DeleteProject(r.Context(), actor, id); err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "project deleted"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) projectMembers(w http.ResponseWriter, r *http.Request, actor fleet.Actor, projectID string) {
	switch r.Method {
	case http.MethodGet:
		members, err := a.fleet.Members(r.Context(), actor, projectID)
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		out := make([]memberResponse, 0, len(members))
		for _, m := range members {
			out = append(out, memberResponse{
				UserID:    m.UserID,
				Role:      m.Role,
				AddedBy:   m.AddedBy,
				CreatedAt: m.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"members": out})
	case http.MethodPost:
		var req memberRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.UserID) == "" {
			writeError(w, r, http.StatusBadRequest, "user_id is required")
			return
		}
		m, err := a.fleet.AddMember(r.Context(), actor, projectID, req.UserID, req.Role)
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, memberResponse{
			UserID:    m.UserID,
			Role:      m.Role,
			AddedBy:   m.AddedBy,
			CreatedAt: m.CreatedAt,
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) projectWindfarms(w http.ResponseWriter, r *http.Request, actor fleet.Actor, projectID string) {
	switch r.Method {
	case http.MethodGet:
		farms, err := a.fleet.ListWindfarms(r.Context(), actor, projectID)
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		out := make([]windfarmResponse, 0, len(farms))
		for _, f := range farms {
			out = append(out, windfarmView(f))
		}
		writeJSON(w, http.StatusOK, map[string]any{"windfarms": out})
	case http.MethodPost:
		var req windfarmRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		f, err := a.fleet.CreateWindfarm(r.Context(), actor, projectID, fleet.WindfarmInput{
			Name:      req.Name,
			Region:    req.Region,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
		})
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, windfarmView(f))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleWindfarmResource routes /v1/windfarms/{id} and its turbines
// subresource.
func (a *API) handleWindfarmResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/windfarms/")
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	actor := fleetActor(r, user)

	id, rest, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch rest {
	case "":
		a.windfarmByID(w, r, actor, id)
	case "turbines":
		a.windfarmTurbines(w, r, actor, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) windfarmByID(w http.ResponseWriter, r *http.Request, actor fleet.Actor, id string) {
	switch r.Method {
	case http.MethodGet:
		f, err := a.fleet.GetWindfarm(r.Context(), actor, id)
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, windfarmView(f))
	case http.MethodPut:
		var req windfarmRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		f, err := a.fleet.UpdateWindfarm(r.Context(), actor, id, fleet.WindfarmInput{
			Name:      req.Name,
			Region:    req.Region,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
		})
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, windfarmView(f))
	case http.MethodDelete:
		if err := a.fleet.DeleteWindfarm(r.Context(), actor, id); err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "windfarm deleted"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) windfarmTurbines(w http.ResponseWriter, r *http.Request, actor fleet.Actor, windfarmID string) {
	switch r.Method {
	case http.MethodGet:
		turbines, err := a.fleet.ListTurbines(r.Context(), actor, windfarmID)
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		out := make([]turbineResponse, 0, len(turbines))
		for _, t := range turbines {
			out = append(out, turbineView(t))
		}
		writeJSON(w, http.StatusOK, map[string]any{"turbines": out})
	case http.MethodPost:
		var req turbineRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		t, err := a.fleet.CreateTurbine(r.Context(), actor, windfarmID, fleet.TurbineInput{
			Name:      req.Name,
			Model:     req.Model,
			Status:    req.Status,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
		})
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, turbineView(t))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleTurbineResource routes /v1/turbines/{id}, its status endpoint
// and its inspections subresource.
func (a *API) handleTurbineResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/turbines/")
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	actor := fleetActor(r, user)

	id, rest, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch rest {
	case "":
		a.turbineByID(w, r, actor, id)
	case "status":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req statusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		t, err := a.fleet.SetTurbineStatus(r.Context(), actor, id, req.Status)
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, turbineView(t))
	case "inspections":
		a.turbineInspections(w, r, actor, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) turbineByID(w http.ResponseWriter, r *http.Request, actor fleet.Actor, id string) {
	switch r.Method {
	case http.MethodGet:
		t, err := a.fleet.GetTurbine(r.Context(), actor, id)
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, turbineView(t))
	case http.MethodPut:
		var req turbineRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		t, err := a.fleet.UpdateTurbine(r.Context(), actor, id, fleet.TurbineInput{
			Name:      req.Name,
			Model:     req.Model,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
		})
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, turbineView(t))
	case http.MethodDelete:
		if err := a.fleet.DeleteTurbine(r.Context(), actor, id); err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "turbine deleted"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) turbineInspections(w http.ResponseWriter, r *http.Request, actor fleet.Actor, turbineID string) {
	switch r.Method {
	case http.MethodGet:
		inspections, err := a.fleet.ListInspections(r.Context(), actor, turbineID)
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		out := make([]inspectionResponse, 0, len(inspections))
		for _, i := range inspections {
			out = append(out, inspectionView(i))
		}
		writeJSON(w, http.StatusOK, map[string]any{"inspections": out})
	case http.MethodPost:
		var req inspectionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		i, err := a.fleet.CreateInspection(r.Context(), actor, turbineID, fleet.InspectionInput{
			Code:       req.Code,
			Operator:   req.Operator,
			Equipment:  req.Equipment,
			CapturedAt: req.CapturedAt,
		})
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, inspectionView(i))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleInspectionResource routes /v1/inspections/{id}, its status
// endpoint and its assessments subresource.
func (a *API) handleInspectionResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/inspections/")
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	actor := fleetActor(r, user)

	id, rest, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch rest {
	case "":
		a.inspectionByID(w, r, actor, id)
	case "status":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req statusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		i, err := a.fleet.SetInspectionStatus(r.Context(), actor, id, req.Status)
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, inspectionView(i))
	case "assessments":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req assessmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		da, err := a.fleet.RecordAssessment(r.Context(), actor, id, fleet.AssessmentInput{
			Blade:       req.Blade,
			Surface:     req.Surface,
			Grade:       req.Grade,
			Description: req.Description,
		})
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, assessmentView(da))
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) inspectionByID(w http.ResponseWriter, r *http.Request, actor fleet.Actor, id string) {
	switch r.Method {
	case http.MethodGet:
		i, assessments, err := a.fleet.GetInspection(r.Context(), actor, id)
		if err != nil {
			handleFleetError(w, r, err)
			return
		}
		out := make([]assessmentResponse, 0, len(assessments))
		for _, da := range assessments {
			out = append(out, assessmentView(da))
		}
		resp := map[string]any{
			"inspection":  inspectionView(i),
			"assessments": out,
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodDelete:
		if err := a.fleet.DeleteInspection(r.Context(), actor, id); err != nil {
			handleFleetError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "inspection deleted"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}
