package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewPGStore(db)

	now := time.Now().UTC()
	rec := &Record{
		ID:         "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		ActorID:    "u-1",
		Action:     ActionUpdate,
		EntityType: EntityTurbine,
		EntityID:   "t-1",
		EntityName: "WTG-07",
		ProjectID:  "p-1",
		Before:     map[string]any{"status": "planned"},
		After:      map[string]any{"status": "operational"},
		Changes:    map[string]map[string]any{"status": {"old": "planned", "new": "operational"}},
		CreatedAt:  now,
		ExpiresAt:  now.Add(30 * 24 * time.Hour),
	}

	mock.ExpectExec("insert into audit_logs").
		WithArgs(rec.ID, rec.ActorID, string(rec.Action), string(rec.EntityType), rec.EntityID,
			rec.EntityName, rec.Description, rec.ProjectID, sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), rec.IPAddress, rec.UserAgent, sqlmock.AnyArg(), rec.CreatedAt, rec.ExpiresAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.Append(context.Background(), rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGListFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewPGStore(db)

	cols := []string{"id", "actor_id", "action", "entity_type", "entity_id", "entity_name",
		"description", "project_id", "before_data", "after_data", "changes",
		"ip_address", "user_agent", "metadata", "timestamp", "expires_at"}
	now := time.Now().UTC()

	mock.ExpectQuery("select (.+) from audit_logs where actor_id=\\$1 and entity_type=\\$2 order by timestamp desc limit 50 offset 0").
		WithArgs("u-1", string(EntityProject)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("id-1", "u-1", string(ActionCreate), string(EntityProject), "p-1", "North Sea",
				"Created PROJECT \"North Sea\"", "p-1", []byte(`null`), []byte(`{"name":"North Sea"}`),
				[]byte(`null`), "", "", []byte(`null`), now, now.Add(time.Hour)))

	recs, err := store.List(context.Background(), Filter{
		ActorID:    "u-1",
		EntityType: EntityProject,
		Limit:      50,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 || recs[0].After["name"] != "North Sea" {
		t.Fatalf("unexpected records: %+v", recs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGListRejectsCorruptSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewPGStore(db)

	cols := []string{"id", "actor_id", "action", "entity_type", "entity_id", "entity_name",
		"description", "project_id", "before_data", "after_data", "changes",
		"ip_address", "user_agent", "metadata", "timestamp", "expires_at"}
	now := time.Now().UTC()

	mock.ExpectQuery("select (.+) from audit_logs").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("id-9", "u-1", string(ActionUpdate), string(EntityTurbine), "t-1", "WTG-07",
				"", "p-1", []byte(`null`), []byte(`{"status"`), []byte(`null`),
				"", "", []byte(`null`), now, now.Add(time.Hour)))

	_, err = store.List(context.Background(), Filter{})
	if err == nil {
		t.Fatal("corrupt after_data must not be returned as an empty snapshot")
	}
	if !strings.Contains(err.Error(), "after_data") || !strings.Contains(err.Error(), "id-9") {
		t.Fatalf("error must name the column and record, got %v", err)
	}
}

func TestPGDeleteExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := NewPGStore(db)

	cutoff := time.Now().UTC()
	mock.ExpectExec("delete from audit_logs where expires_at <").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := store.DeleteExpired(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 7 {
		t.Fatalf("want 7 deleted, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
