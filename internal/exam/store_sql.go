package exam

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLStore implements Store on database/sql. Queries use $N placeholders and
// portable types so the same statements run on Postgres (pgx) and SQLite.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const examColumns = `id, subject_id, title, description, duration_minutes, total_marks, passing_percentage,
	randomize_order, is_active, allow_retakes, start_at, end_at, created_by_id, created_at`

const attemptColumns = `id, exam_id, user_id, status, started_at, submitted_at, score, percentage, time_taken_seconds, version`

const certificateColumns = `id, user_id, exam_attempt_id, verification_id, issued_at`

func (s *SQLStore) CreateExam(ctx context.Context, e *Exam) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exams (`+examColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, e.ID, e.SubjectID, e.Title, e.Description, e.DurationMinutes, e.TotalMarks, e.PassingPercentage,
		boolInt(e.RandomizeOrder), boolInt(e.IsActive), boolInt(e.AllowRetakes),
		millisPtr(e.StartAt), millisPtr(e.EndAt), e.CreatedByID, millis(e.CreatedAt))
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return ErrConflict
		}
		return wrapErr("insert exam", err)
	}
	return nil
}

func (s *SQLStore) GetExam(ctx context.Context, examID string) (*Exam, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+examColumns+` FROM exams WHERE id = $1`, examID)
	e, err := scanExam(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, wrapErr("load exam", err)
	}
	return e, nil
}

func (s *SQLStore) ListExams(ctx context.Context, activeOnly bool) ([]Exam, error) {
	q := `SELECT ` + examColumns + ` FROM exams`
	if activeOnly {
		q += ` WHERE is_active = 1`
	}
	q += ` ORDER BY created_at DESC, id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, wrapErr("query exams", err)
	}
	defer rows.Close()

	out := make([]Exam, 0)
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, wrapErr("scan exam", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate exams", err)
	}
	return out, nil
}

func (s *SQLStore) AddExamQuestion(ctx context.Context, q *Question, link ExamQuestion) error {
	options, err := json.Marshal(q.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin question tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Updating the exam row first holds its lock until commit, which
	// serializes this check against lockExamRow in CreateAttempt.
	res, err := tx.ExecContext(ctx, `UPDATE exams SET total_marks = total_marks + $2 WHERE id = $1`, link.ExamID, link.Points)
	if err != nil {
		return wrapErr("update total marks", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrExamNotFound
	}

	var locked int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM attempts WHERE exam_id = $1 LIMIT 1`, link.ExamID).Scan(&locked); err == nil {
		return ErrExamLocked
	} else if !errors.Is(err, sql.ErrNoRows) {
		return wrapErr("check exam attempts", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO questions (id, subject_id, prompt, options_json, correct_answer, type, difficulty, points, explanation, created_by_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, q.ID, q.SubjectID, q.Prompt, string(options), q.CorrectAnswer, string(q.Type), string(q.Difficulty), q.Points, q.Explanation, q.CreatedByID); err != nil {
		if _, ok := uniqueViolation(err); ok {
			return ErrConflict
		}
		return wrapErr("insert question", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO exam_questions (exam_id, question_id, seq_no, points)
		VALUES ($1,$2,$3,$4)
	`, link.ExamID, q.ID, link.Order, link.Points); err != nil {
		if _, ok := uniqueViolation(err); ok {
			return ErrDuplicateQuestion
		}
		return wrapErr("insert exam question", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("commit question", err)
	}
	return nil
}

func (s *SQLStore) ListAnswerKey(ctx context.Context, examID string) ([]KeyEntry, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM exams WHERE id = $1`, examID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, wrapErr("check exam", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.prompt, q.type, q.options_json, q.correct_answer, eq.points, eq.seq_no
		FROM exam_questions eq
		JOIN questions q ON q.id = eq.question_id
		WHERE eq.exam_id = $1
		ORDER BY eq.seq_no
	`, examID)
	if err != nil {
		return nil, wrapErr("query answer key", err)
	}
	defer rows.Close()

	out := make([]KeyEntry, 0)
	for rows.Next() {
		var k KeyEntry
		var qType, options string
		if err := rows.Scan(&k.QuestionID, &k.Prompt, &qType, &options, &k.CorrectAnswer, &k.Points, &k.Order); err != nil {
			return nil, wrapErr("scan answer key", err)
		}
		k.Type = QuestionType(qType)
		if err := json.Unmarshal([]byte(options), &k.Options); err != nil {
			return nil, fmt.Errorf("decode options question=%s: %w", k.QuestionID, err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate answer key", err)
	}
	return out, nil
}

func (s *SQLStore) CreateAttempt(ctx context.Context, a *Attempt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin attempt tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockExamRow(ctx, tx, a.ExamID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attempts (id, exam_id, user_id, status, started_at, version)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, a.ID, a.ExamID, a.UserID, string(a.Status), millis(a.StartedAt), a.Version); err != nil {
		if detail, ok := uniqueViolation(err); ok {
			if strings.Contains(detail, "attempts_pkey") || strings.Contains(detail, "attempts.id") {
				return ErrConflict
			}
			return ErrAttemptInProgress
		}
		return wrapErr("insert attempt", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("commit attempt", err)
	}
	return nil
}

// lockExamRow takes the exam row lock with a no-op update so that attempt
// creation and question authoring on the same exam never interleave.
func lockExamRow(ctx context.Context, tx *sql.Tx, examID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE exams SET total_marks = total_marks WHERE id = $1`, examID)
	if err != nil {
		return wrapErr("lock exam", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrExamNotFound
	}
	return nil
}

func (s *SQLStore) GetAttempt(ctx context.Context, attemptID string) (*Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, attemptID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, wrapErr("load attempt", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT question_id, selected_answer, time_spent_seconds, recorded_at
		FROM attempt_responses
		WHERE attempt_id = $1
		ORDER BY recorded_at, question_id
	`, attemptID)
	if err != nil {
		return nil, wrapErr("query responses", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r Response
		var recordedAt int64
		if err := rows.Scan(&r.QuestionID, &r.SelectedAnswer, &r.TimeSpentSeconds, &recordedAt); err != nil {
			return nil, wrapErr("scan response", err)
		}
		r.RecordedAt = fromMillis(recordedAt)
		a.Responses = append(a.Responses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate responses", err)
	}
	return a, nil
}

func (s *SQLStore) ListAttemptsByUserExam(ctx context.Context, userID, examID string) ([]Attempt, error) {
	return s.listAttempts(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE user_id = $1 AND exam_id = $2 ORDER BY started_at, id`, userID, examID)
}

func (s *SQLStore) ListAttemptsByUser(ctx context.Context, userID string) ([]Attempt, error) {
	return s.listAttempts(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE user_id = $1 ORDER BY started_at, id`, userID)
}

func (s *SQLStore) ListAttemptsByExam(ctx context.Context, examID string) ([]Attempt, error) {
	return s.listAttempts(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE exam_id = $1 ORDER BY started_at, id`, examID)
}

func (s *SQLStore) ListOverdueAttempts(ctx context.Context, now time.Time, limit int) ([]Attempt, error) {
	return s.listAttempts(ctx, `
		SELECT `+attemptColumns+` FROM attempts
		WHERE status = 'IN_PROGRESS'
		  AND started_at + (SELECT CAST(duration_minutes AS BIGINT) * 60000 FROM exams WHERE exams.id = attempts.exam_id) <= $1
		ORDER BY started_at, id
		LIMIT $2
	`, millis(now), limitOrAll(limit))
}

func (s *SQLStore) UpsertResponse(ctx context.Context, attemptID string, r Response) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin response tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE attempts SET version = version + 1
		WHERE id = $1 AND status = 'IN_PROGRESS'
	`, attemptID)
	if err != nil {
		return wrapErr("bump attempt version", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOr(ctx, tx, attemptID, ErrAttemptNotEditable)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attempt_responses (attempt_id, question_id, selected_answer, time_spent_seconds, recorded_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (attempt_id, question_id)
		DO UPDATE SET
			selected_answer = excluded.selected_answer,
			time_spent_seconds = excluded.time_spent_seconds,
			recorded_at = excluded.recorded_at
	`, attemptID, r.QuestionID, r.SelectedAnswer, r.TimeSpentSeconds, millis(r.RecordedAt)); err != nil {
		return wrapErr("upsert response", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("commit response", err)
	}
	return nil
}

func (s *SQLStore) CompleteAttempt(ctx context.Context, attemptID string, expectedVersion int64, out AttemptOutcome) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE attempts
		SET status = $3,
			submitted_at = $4,
			score = $5,
			percentage = $6,
			time_taken_seconds = $7,
			version = version + 1
		WHERE id = $1 AND status = 'IN_PROGRESS' AND version = $2
	`, attemptID, expectedVersion, string(out.Status), millisPtr(out.SubmittedAt), nullableInt(out.Score), nullableInt(out.Percentage), out.TimeTakenSeconds)
	if err != nil {
		return wrapErr("complete attempt", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOr(ctx, s.db, attemptID, ErrStaleAttempt)
	}
	return nil
}

func (s *SQLStore) CreateCertificate(ctx context.Context, c *Certificate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO certificates (`+certificateColumns+`)
		VALUES ($1,$2,$3,$4,$5)
	`, c.ID, c.UserID, c.ExamAttemptID, c.VerificationID, millis(c.IssuedAt))
	if err != nil {
		if detail, ok := uniqueViolation(err); ok {
			if strings.Contains(detail, "verification_id") {
				return ErrVerificationTaken
			}
			return ErrCertificateExists
		}
		return wrapErr("insert certificate", err)
	}
	return nil
}

func (s *SQLStore) GetCertificateByAttempt(ctx context.Context, attemptID string) (*Certificate, error) {
	return s.getCertificate(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE exam_attempt_id = $1`, attemptID)
}

func (s *SQLStore) GetCertificateByVerificationID(ctx context.Context, verificationID string) (*Certificate, error) {
	return s.getCertificate(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE verification_id = $1`, verificationID)
}

func (s *SQLStore) ListCertificatesByUser(ctx context.Context, userID string) ([]Certificate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE user_id = $1 ORDER BY issued_at DESC`, userID)
	if err != nil {
		return nil, wrapErr("query certificates", err)
	}
	defer rows.Close()

	out := make([]Certificate, 0)
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, wrapErr("scan certificate", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate certificates", err)
	}
	return out, nil
}

func (s *SQLStore) CountCertificatesByExam(ctx context.Context, examID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM certificates c
		JOIN attempts a ON a.id = c.exam_attempt_id
		WHERE a.exam_id = $1
	`, examID).Scan(&n); err != nil {
		return 0, wrapErr("count certificates", err)
	}
	return n, nil
}

func (s *SQLStore) ListUncertifiedPasses(ctx context.Context, limit int) ([]Attempt, error) {
	return s.listAttempts(ctx, `
		SELECT a.id, a.exam_id, a.user_id, a.status, a.started_at, a.submitted_at, a.score, a.percentage, a.time_taken_seconds, a.version
		FROM attempts a
		JOIN exams e ON e.id = a.exam_id
		LEFT JOIN certificates c ON c.exam_attempt_id = a.id
		WHERE a.status = 'SUBMITTED'
			AND a.percentage IS NOT NULL
			AND a.percentage >= e.passing_percentage
			AND c.id IS NULL
		ORDER BY a.started_at, a.id
		LIMIT $1
	`, limitOrAll(limit))
}

func (s *SQLStore) SaveCertificateArtwork(ctx context.Context, art CertificateArtwork) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO certificate_artwork (certificate_id, status, artifact_ref, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (certificate_id)
		DO UPDATE SET
			status = excluded.status,
			artifact_ref = excluded.artifact_ref,
			updated_at = excluded.updated_at
	`, art.CertificateID, string(art.Status), art.ArtifactRef, millis(art.UpdatedAt))
	if err != nil {
		return wrapErr("upsert certificate artwork", err)
	}
	return nil
}

func (s *SQLStore) GetCertificateArtwork(ctx context.Context, certificateID string) (*CertificateArtwork, error) {
	var art CertificateArtwork
	var status string
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT certificate_id, status, artifact_ref, updated_at
		FROM certificate_artwork
		WHERE certificate_id = $1
	`, certificateID).Scan(&art.CertificateID, &status, &art.ArtifactRef, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrArtworkNotFound
		}
		return nil, wrapErr("load certificate artwork", err)
	}
	art.Status = ArtworkStatus(status)
	art.UpdatedAt = fromMillis(updatedAt)
	return &art, nil
}

func (s *SQLStore) getCertificate(ctx context.Context, query string, arg string) (*Certificate, error) {
	c, err := scanCertificate(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCertificateNotFound
		}
		return nil, wrapErr("load certificate", err)
	}
	return c, nil
}

func (s *SQLStore) listAttempts(ctx context.Context, query string, args ...any) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("query attempts", err)
	}
	defer rows.Close()

	out := make([]Attempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, wrapErr("scan attempt", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate attempts", err)
	}
	return out, nil
}

// missingOr distinguishes a missing attempt from a failed precondition after
// a conditional UPDATE touched no rows.
func (s *SQLStore) missingOr(ctx context.Context, q queryable, attemptID string, precondition error) error {
	var status string
	if err := q.QueryRowContext(ctx, `SELECT status FROM attempts WHERE id = $1`, attemptID).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAttemptNotFound
		}
		return wrapErr("check attempt", err)
	}
	return precondition
}

func scanExam(row rowScanner) (*Exam, error) {
	var e Exam
	var randomize, active, retakes int
	var startAt, endAt sql.NullInt64
	var createdAt int64
	if err := row.Scan(&e.ID, &e.SubjectID, &e.Title, &e.Description, &e.DurationMinutes, &e.TotalMarks, &e.PassingPercentage,
		&randomize, &active, &retakes, &startAt, &endAt, &e.CreatedByID, &createdAt); err != nil {
		return nil, err
	}
	e.RandomizeOrder = randomize != 0
	e.IsActive = active != 0
	e.AllowRetakes = retakes != 0
	e.StartAt = fromNullMillis(startAt)
	e.EndAt = fromNullMillis(endAt)
	e.CreatedAt = fromMillis(createdAt)
	return &e, nil
}

func scanAttempt(row rowScanner) (*Attempt, error) {
	var a Attempt
	var status string
	var startedAt int64
	var submittedAt, timeTaken sql.NullInt64
	var score, percentage sql.NullInt64
	if err := row.Scan(&a.ID, &a.ExamID, &a.UserID, &status, &startedAt, &submittedAt, &score, &percentage, &timeTaken, &a.Version); err != nil {
		return nil, err
	}
	a.Status = AttemptStatus(status)
	a.StartedAt = fromMillis(startedAt)
	a.SubmittedAt = fromNullMillis(submittedAt)
	if score.Valid {
		a.Score = intPtr(int(score.Int64))
	}
	if percentage.Valid {
		a.Percentage = intPtr(int(percentage.Int64))
	}
	if timeTaken.Valid {
		a.TimeTakenSeconds = int64Ptr(timeTaken.Int64)
	}
	return &a, nil
}

func scanCertificate(row rowScanner) (*Certificate, error) {
	var c Certificate
	var issuedAt int64
	if err := row.Scan(&c.ID, &c.UserID, &c.ExamAttemptID, &c.VerificationID, &issuedAt); err != nil {
		return nil, err
	}
	c.IssuedAt = fromMillis(issuedAt)
	return &c, nil
}

// uniqueViolation reports whether err is a unique-constraint failure and
// returns text that names the violated constraint or columns.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName + " " + pgErr.Detail, pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return liteErr.Error(), code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return "", false
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected, too_many_connections
		switch pgErr.Code {
		case "40001", "40P01", "53300":
			return true
		}
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

func wrapErr(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	if isTransient(err) {
		return Transient(wrapped)
	}
	return wrapped
}

func limitOrAll(limit int) int {
	if limit <= 0 {
		return 1 << 30
	}
	return limit
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func millisPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
