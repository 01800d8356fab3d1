package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Table names follow the
// deployed schema: users, temp_registrations, temp_sessions,
// password_resets, auth_sessions.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PGStore) Users(context.Context) UserStore                 { return &userStore{db: s.db} }
func (s *PGStore) Registrations(context.Context) RegistrationStore { return &regStore{db: s.db} }
func (s *PGStore) LoginChallenges(context.Context) LoginChallengeStore {
	return &challengeStore{db: s.db}
}
func (s *PGStore) PasswordResets(context.Context) PasswordResetStore { return &resetStore{db: s.db} }
func (s *PGStore) Sessions(context.Context) SessionStore             { return &sessionStore{db: s.db} }

// User store ---------------------------------------------------------------

type userStore struct{ db *sql.DB }

const userColumns = `id, name, email, phone, password_hash, role, is_active, is_approved, approved_at, approved_by, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.Role,
		&u.IsActive, &u.IsApproved, &u.ApprovedAt, &u.ApprovedBy, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
}

func (s *userStore) FindByIdentifier(ctx context.Context, identifier string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1 or phone=$1`, identifier))
}

func (s *userStore) ExistsByEmailOrPhone(ctx context.Context, email, phone string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from users where email=$1 or phone=$2)`, email, phone,
	).Scan(&exists)
	return exists, err
}

func (s *userStore) List(ctx context.Context) ([]*User, error) {
	return s.list(ctx, `select `+userColumns+` from users order by created_at desc`)
}

func (s *userStore) ListPending(ctx context.Context) ([]*User, error) {
	return s.list(ctx, `select `+userColumns+` from users where not is_approved order by created_at desc`)
}

func (s *userStore) list(ctx context.Context, query string) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *userStore) Approve(ctx context.Context, userID, adminID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update users set is_approved=true, approved_at=$2, approved_by=$3, updated_at=$2
		 where id=$1 and not is_approved`,
		userID, at, adminID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`, userID, passwordHash)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *userStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from users where id=$1`, id)
	return err
}

// Pending registration store -----------------------------------------------

type regStore struct{ db *sql.DB }

func (s *regStore) Replace(ctx context.Context, reg *PendingRegistration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`delete from temp_registrations where email=$1 or phone=$2`, reg.Email, reg.Phone); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into temp_registrations(id, name, email, phone, password_hash, otp_code, otp_expires_at, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		reg.ID, reg.Name, reg.Email, reg.Phone, reg.PasswordHash, reg.OTPCode, reg.OTPExpiresAt, reg.CreatedAt,
	); err != nil {
		// Two concurrent registrations for one identity can both see an
		// empty delete; the unique index on email picks the winner.
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return tx.Commit()
}

func (s *regStore) FindNewestByEmail(ctx context.Context, email string) (*PendingRegistration, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, email, phone, password_hash, otp_code, otp_expires_at, created_at
		 from temp_registrations where email=$1 order by created_at desc limit 1`, email)
	var r PendingRegistration
	err := row.Scan(&r.ID, &r.Name, &r.Email, &r.Phone, &r.PasswordHash, &r.OTPCode, &r.OTPExpiresAt, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *regStore) UpdateOTP(ctx context.Context, id, code string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update temp_registrations set otp_code=$2, otp_expires_at=$3 where id=$1`, id, code, expiresAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Promote deletes the pending row and creates the user in one
// transaction. The guarded delete makes concurrent verifies race-free:
// only the caller that removes the row inserts the user.
func (s *regStore) Promote(ctx context.Context, regID string, u *User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `delete from temp_registrations where id=$1`, regID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`insert into users(id, name, email, phone, password_hash, role, is_active, is_approved, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)`,
		u.ID, u.Name, u.Email, u.Phone, u.PasswordHash, u.Role, u.IsActive, u.IsApproved, u.CreatedAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *regStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from temp_registrations where otp_expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Login challenge store ----------------------------------------------------

type challengeStore struct{ db *sql.DB }

func (s *challengeStore) Replace(ctx context.Context, ch *LoginChallenge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from temp_sessions where user_id=$1`, ch.UserID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into temp_sessions(id, user_id, otp_code, otp_expires_at, created_at) values($1,$2,$3,$4,$5)`,
		ch.ID, ch.UserID, ch.OTPCode, ch.OTPExpiresAt, ch.CreatedAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *challengeStore) FindByUserID(ctx context.Context, userID string) (*LoginChallenge, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, otp_code, otp_expires_at, created_at from temp_sessions where user_id=$1`, userID)
	var ch LoginChallenge
	err := row.Scan(&ch.ID, &ch.UserID, &ch.OTPCode, &ch.OTPExpiresAt, &ch.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (s *challengeStore) UpdateOTP(ctx context.Context, id, code string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update temp_sessions set otp_code=$2, otp_expires_at=$3 where id=$1`, id, code, expiresAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *challengeStore) Promote(ctx context.Context, challengeID string, sess *Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `delete from temp_sessions where id=$1`, challengeID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}

	// Single live session per user.
	if _, err := tx.ExecContext(ctx, `delete from auth_sessions where user_id=$1`, sess.UserID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into auth_sessions(id, user_id, session_token, expires_at, created_at) values($1,$2,$3,$4,$5)`,
		sess.ID, sess.UserID, sess.Token, sess.ExpiresAt, sess.CreatedAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *challengeStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from temp_sessions where otp_expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Password reset store -----------------------------------------------------

type resetStore struct{ db *sql.DB }

func (s *resetStore) Replace(ctx context.Context, ch *PasswordResetChallenge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from password_resets where email=$1`, ch.Email); err != nil {
		return err
	}
	var userID any
	if ch.UserID != "" {
		userID = ch.UserID
	}
	if _, err := tx.ExecContext(ctx,
		`insert into password_resets(id, user_id, email, otp_code, otp_expires_at, is_verified, used, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		ch.ID, userID, ch.Email, ch.OTPCode, ch.OTPExpiresAt, ch.IsVerified, ch.Used, ch.CreatedAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *resetStore) FindByEmail(ctx context.Context, email string) (*PasswordResetChallenge, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, email, otp_code, otp_expires_at, is_verified, used, created_at
		 from password_resets where email=$1`, email)
	var (
		ch     PasswordResetChallenge
		userID sql.NullString
	)
	err := row.Scan(&ch.ID, &userID, &ch.Email, &ch.OTPCode, &ch.OTPExpiresAt, &ch.IsVerified, &ch.Used, &ch.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ch.UserID = userID.String
	return &ch, nil
}

func (s *resetStore) MarkVerified(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `update password_resets set is_verified=true where id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *resetStore) UpdateOTP(ctx context.Context, id, code string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update password_resets set otp_code=$2, otp_expires_at=$3, is_verified=false where id=$1`,
		id, code, expiresAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Consume marks the challenge used and updates the password in one
// transaction; the guarded update ensures a challenge is spent once.
// All sessions of the user are revoked so a stolen token dies with the
// old password.
func (s *resetStore) Consume(ctx context.Context, id, userID, passwordHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`update password_resets set used=true where id=$1 and not used`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`, userID, passwordHash); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from auth_sessions where user_id=$1`, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *resetStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from password_resets where otp_expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Session store ------------------------------------------------------------

type sessionStore struct{ db *sql.DB }

func (s *sessionStore) FindByToken(ctx context.Context, token string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, session_token, expires_at, created_at from auth_sessions where session_token=$1`, token)
	var sess Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Token, &sess.ExpiresAt, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *sessionStore) DeleteByToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `delete from auth_sessions where session_token=$1`, token)
	return err
}

func (s *sessionStore) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from auth_sessions where user_id=$1`, userID)
	return err
}

func (s *sessionStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from auth_sessions where expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
