package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachhub/backend/internal/domain/enums"
	"github.com/coachhub/backend/internal/domain/model"
)

const studentColumns = `
	id::text,
	professional_id::text,
	name,
	email,
	phone,
	cpf,
	birth_date,
	gender,
	weight_kg,
	height_cm,
	health_conditions,
	injuries,
	medications,
	goal,
	activity_preferences,
	frequency_preference,
	notes,
	photo_keys,
	status,
	points,
	streak_days,
	custom_data,
	sales_origin_id::text,
	created_at,
	updated_at`

type StudentRepo struct {
	pool *pgxpool.Pool
}

func NewStudentRepo(pool *pgxpool.Pool) *StudentRepo {
	return &StudentRepo{pool: pool}
}

// Upsert inserts the student or overwrites the profile of the existing row with the
// same (professional_id, phone). Counters and custom data of an existing row survive.
func (r *StudentRepo) Upsert(ctx context.Context, tx pgx.Tx, student model.Student) (model.Student, bool, error) {
	q, err := conn(r.pool, tx)
	if err != nil {
		return model.Student{}, false, err
	}
	if student.ID == "" || student.ProfessionalID == "" || strings.TrimSpace(student.Phone) == "" {
		return model.Student{}, false, ErrInvalidPayload
	}

	customData, err := marshalPayload(student.CustomData)
	if err != nil {
		return model.Student{}, false, err
	}

	var created bool
	row := q.QueryRow(ctx, `
INSERT INTO students (
	id,
	professional_id,
	name,
	email,
	phone,
	cpf,
	birth_date,
	gender,
	weight_kg,
	height_cm,
	health_conditions,
	injuries,
	medications,
	goal,
	activity_preferences,
	frequency_preference,
	notes,
	photo_keys,
	status,
	custom_data,
	sales_origin_id,
	created_at,
	updated_at
) VALUES (
	$1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20::jsonb, $21::uuid, NOW(), NOW()
)
ON CONFLICT (professional_id, phone) DO UPDATE SET
	name = EXCLUDED.name,
	email = EXCLUDED.email,
	cpf = EXCLUDED.cpf,
	birth_date = EXCLUDED.birth_date,
	gender = EXCLUDED.gender,
	weight_kg = EXCLUDED.weight_kg,
	height_cm = EXCLUDED.height_cm,
	health_conditions = EXCLUDED.health_conditions,
	injuries = EXCLUDED.injuries,
	medications = EXCLUDED.medications,
	goal = EXCLUDED.goal,
	activity_preferences = EXCLUDED.activity_preferences,
	frequency_preference = EXCLUDED.frequency_preference,
	notes = EXCLUDED.notes,
	photo_keys = EXCLUDED.photo_keys,
	status = EXCLUDED.status,
	sales_origin_id = EXCLUDED.sales_origin_id,
	updated_at = NOW()
RETURNING`+studentColumns+`, (xmax = 0) AS inserted
`,
		student.ID,
		student.ProfessionalID,
		student.Name,
		student.Email,
		student.Phone,
		student.CPF,
		student.BirthDate,
		student.Gender,
		student.WeightKg,
		student.HeightCm,
		nonNilStrings(student.HealthConditions),
		student.Injuries,
		student.Medications,
		student.Goal,
		nonNilStrings(student.ActivityPreferences),
		student.FrequencyPreference,
		student.Notes,
		nonNilStrings(student.PhotoKeys),
		string(student.Status),
		customData,
		student.SalesOriginID,
	)

	upserted, err := scanStudent(row, &created)
	if err != nil {
		return model.Student{}, false, fmt.Errorf("upsert student: %w", err)
	}
	return upserted, created, nil
}

func (r *StudentRepo) GetByID(ctx context.Context, studentID string) (model.Student, error) {
	if r.pool == nil {
		return model.Student{}, errNilPool
	}

	student, err := scanStudent(r.pool.QueryRow(ctx, `
SELECT`+studentColumns+`
FROM students
WHERE id = $1::uuid
`, studentID), nil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return model.Student{}, ErrStudentNotFound
		}
		return model.Student{}, fmt.Errorf("get student: %w", err)
	}
	return student, nil
}

// scanStudent reads studentColumns and, when inserted is non-nil, one trailing bool.
func scanStudent(row pgx.Row, inserted *bool) (model.Student, error) {
	var (
		student       model.Student
		status        string
		rawCustomData []byte
	)
	dest := []any{
		&student.ID,
		&student.ProfessionalID,
		&student.Name,
		&student.Email,
		&student.Phone,
		&student.CPF,
		&student.BirthDate,
		&student.Gender,
		&student.WeightKg,
		&student.HeightCm,
		&student.HealthConditions,
		&student.Injuries,
		&student.Medications,
		&student.Goal,
		&student.ActivityPreferences,
		&student.FrequencyPreference,
		&student.Notes,
		&student.PhotoKeys,
		&status,
		&student.Points,
		&student.StreakDays,
		&rawCustomData,
		&student.SalesOriginID,
		&student.CreatedAt,
		&student.UpdatedAt,
	}
	if inserted != nil {
		dest = append(dest, inserted)
	}
	if err := row.Scan(dest...); err != nil {
		return model.Student{}, err
	}
	student.Status = enums.StudentStatus(status)
	student.CustomData = decodePayload(rawCustomData)
	return student, nil
}
