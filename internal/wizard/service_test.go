package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-admin/internal/hospital"
	"github.com/wolfman30/clinic-admin/internal/storage/storagetest"
	"github.com/wolfman30/clinic-admin/internal/validation"
	"github.com/wolfman30/clinic-admin/pkg/logging"
)

const hospitalID = "0c6f3a2e-8d61-4f4b-a1f5-2b7d9c3e4a10"

var hospitalCols = []string{"id", "name", "description", "phone", "email", "website_url", "address",
	"address_detail", "city", "district", "zip_code", "latitude", "longitude", "directions", "timezone",
	"status", "wizard_step", "created_at", "updated_at"}

func hospitalRow(status hospital.Status, step int) *pgxmock.Rows {
	now := time.Now().UTC()
	lat, lng := 37.5665, 126.978
	return pgxmock.NewRows(hospitalCols).AddRow(hospitalID, "Myeongdong Derm", "", "02-555-0199", "", "",
		"Namdaemun-ro 1", "", "Seoul", "Jung-gu", "04533", &lat, &lng, "", "Asia/Seoul",
		string(status), step, now, now)
}

func expectHospital(mock pgxmock.PgxPoolIface, status hospital.Status, step int) {
	mock.ExpectQuery("SELECT id, name, description").WithArgs(hospitalID).WillReturnRows(hospitalRow(status, step))
}

// anyArgs returns head followed by n wildcard arguments.
func anyArgs(n int, head ...any) []any {
	args := append([]any(nil), head...)
	for i := 0; i < n; i++ {
		args = append(args, pgxmock.AnyArg())
	}
	return args
}

// expectTxEnd queues the commit and the deferred rollback pgx.BeginFunc
// issues after it.
func expectTxEnd(mock pgxmock.PgxPoolIface) {
	mock.ExpectCommit()
	mock.ExpectRollback()
}

// expectTxAbort queues the rollback pgx.BeginFunc issues when the callback
// fails, plus its deferred one.
func expectTxAbort(mock pgxmock.PgxPoolIface) {
	mock.ExpectRollback()
	mock.ExpectRollback()
}

type fixture struct {
	svc    *Service
	mock   pgxmock.PgxPoolIface
	s3     *storagetest.FakeS3
	redis  *miniredis.Miniredis
	drafts *DraftStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mr := miniredis.RunT(t)
	drafts := NewDraftStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)

	store, fake := storagetest.NewStore()
	svc := NewServiceWithDB(mock, store, drafts, nil, nil, logging.Discard())
	return &fixture{svc: svc, mock: mock, s3: fake, redis: mr, drafts: drafts}
}

func form(t *testing.T, parts ...storagetest.Part) *multipart.Form {
	t.Helper()
	req := storagetest.MultipartRequest(t, http.MethodPost, "/", parts...)
	require.NoError(t, req.ParseMultipartForm(1<<20))
	return req.MultipartForm
}

func TestProgressOf(t *testing.T) {
	p := ProgressOf(&hospital.Hospital{ID: hospitalID, Status: hospital.StatusDraft, WizardStep: 3})
	assert.Equal(t, 3, p.Current)
	assert.Equal(t, 4, p.NextStep)
	assert.Equal(t, 50, p.Percent)
	require.Len(t, p.Steps, StepCount)
	assert.True(t, p.Steps[2].Completed)
	assert.False(t, p.Steps[3].Completed)
	assert.Equal(t, "treatments", p.Steps[3].Name)

	done := ProgressOf(&hospital.Hospital{WizardStep: StepCount})
	assert.Equal(t, 100, done.Percent)
	assert.Zero(t, done.NextStep)
}

func TestSubmitUnknownStep(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SubmitStep(context.Background(), hospitalID, 7, nil)
	assert.ErrorIs(t, err, ErrUnknownStep)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSubmitStepRequiresPreviousSteps(t *testing.T) {
	f := newFixture(t)
	expectHospital(f.mock, hospital.StatusDraft, 1)

	_, err := f.svc.SubmitStep(context.Background(), hospitalID, StepHours, form(t))
	assert.ErrorIs(t, err, ErrStepLocked)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestHoursStepPersistsAndClearsDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.drafts.Save(ctx, hospitalID, StepHours, json.RawMessage(`{"hours":[]}`)))

	expectHospital(f.mock, hospital.StatusDraft, 2)
	f.mock.ExpectBegin()
	f.mock.ExpectExec("DELETE FROM hospital_opening_hours").WithArgs(hospitalID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	for day := 0; day < 7; day++ {
		f.mock.ExpectExec("INSERT INTO hospital_opening_hours").WithArgs(anyArgs(6, hospitalID)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	f.mock.ExpectExec("UPDATE hospitals SET wizard_step").WithArgs(hospitalID, StepHours).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectTxEnd(f.mock)
	expectHospital(f.mock, hospital.StatusDraft, 3)

	progress, err := f.svc.SubmitStep(ctx, hospitalID, StepHours, form(t,
		storagetest.Part{Field: "hours", Value: `[{"weekday":1,"open":"09:00","close":"18:00"}]`}))
	require.NoError(t, err)
	assert.Equal(t, 3, progress.Current)
	assert.NoError(t, f.mock.ExpectationsWereMet())

	_, err = f.drafts.Load(ctx, hospitalID, StepHours)
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestHoursStepValidation(t *testing.T) {
	f := newFixture(t)
	expectHospital(f.mock, hospital.StatusDraft, 2)

	_, err := f.svc.SubmitStep(context.Background(), hospitalID, StepHours, form(t,
		storagetest.Part{Field: "hours", Value: `not json`}))
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "hours", verr.Fields[0].Field)
}

func TestLocationStepRequiresAddress(t *testing.T) {
	f := newFixture(t)
	expectHospital(f.mock, hospital.StatusDraft, 1)

	_, err := f.svc.SubmitStep(context.Background(), hospitalID, StepLocation, form(t,
		storagetest.Part{Field: "latitude", Value: "37.5"}))
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	fields := map[string]bool{}
	for _, fe := range verr.Fields {
		fields[fe.Field] = true
	}
	assert.True(t, fields["address"])
	assert.True(t, fields["city"])
	assert.True(t, fields["latitude"])
}

func TestBasicInfoFailureRemovesUploads(t *testing.T) {
	f := newFixture(t)
	expectHospital(f.mock, hospital.StatusDraft, 0)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("UPDATE hospitals SET").WithArgs(hospitalID, "Myeongdong Derm").
		WillReturnError(errors.New("deadlock detected"))
	expectTxAbort(f.mock)

	_, err := f.svc.SubmitStep(context.Background(), hospitalID, StepBasicInfo, form(t,
		storagetest.Part{Field: "name", Value: "Myeongdong Derm"},
		storagetest.Part{Field: "images", Filename: "a.png", Data: storagetest.PNG},
		storagetest.Part{Field: "images", Filename: "b.png", Data: storagetest.PNG},
	))
	require.Error(t, err)
	assert.Len(t, f.s3.Deleted, 2)
	assert.Empty(t, f.s3.Keys())
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestBasicInfoUnsupportedUploadStopsEarly(t *testing.T) {
	f := newFixture(t)
	expectHospital(f.mock, hospital.StatusDraft, 0)

	_, err := f.svc.SubmitStep(context.Background(), hospitalID, StepBasicInfo, form(t,
		storagetest.Part{Field: "name", Value: "Myeongdong Derm"},
		storagetest.Part{Field: "images", Filename: "a.png", Data: storagetest.PNG},
		storagetest.Part{Field: "images", Filename: "notes.txt", Data: []byte("plain text body")},
	))
	require.Error(t, err)
	assert.Empty(t, f.s3.Keys())
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestFacilitiesStepSubmitsListing(t *testing.T) {
	f := newFixture(t)
	expectHospital(f.mock, hospital.StatusDraft, 5)
	f.mock.ExpectBegin()
	f.mock.ExpectExec("DELETE FROM hospital_facilities").WithArgs(hospitalID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	f.mock.ExpectExec("INSERT INTO hospital_facilities").WithArgs(hospitalID, []string{"parking", "wifi"}).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	f.mock.ExpectExec("UPDATE hospitals SET status").WithArgs(hospitalID, "submitted").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.mock.ExpectExec("UPDATE hospitals SET wizard_step").WithArgs(hospitalID, StepFacilities).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectTxEnd(f.mock)
	expectHospital(f.mock, hospital.StatusSubmitted, 6)

	progress, err := f.svc.SubmitStep(context.Background(), hospitalID, StepFacilities, form(t,
		storagetest.Part{Field: "facilities", Value: `["parking","wifi","parking"]`}))
	require.NoError(t, err)
	assert.Equal(t, hospital.StatusSubmitted, progress.Status)
	assert.Equal(t, 100, progress.Percent)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestFacilitiesStepLockedUntilDoctorsDone(t *testing.T) {
	f := newFixture(t)
	expectHospital(f.mock, hospital.StatusDraft, 4)

	_, err := f.svc.SubmitStep(context.Background(), hospitalID, StepFacilities, form(t,
		storagetest.Part{Field: "facilities", Value: "parking"}))
	assert.ErrorIs(t, err, ErrStepLocked)
	assert.Empty(t, f.s3.Keys())
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestFacilitiesStepRejectsUnknownCode(t *testing.T) {
	f := newFixture(t)
	expectHospital(f.mock, hospital.StatusDraft, 5)

	_, err := f.svc.SubmitStep(context.Background(), hospitalID, StepFacilities, form(t,
		storagetest.Part{Field: "facilities", Value: "parking"},
		storagetest.Part{Field: "facilities", Value: "helipad"},
	))
	assert.ErrorIs(t, err, hospital.ErrUnknownFacility)
}

func TestTreatmentsStepRejectsUnknownCatalogID(t *testing.T) {
	f := newFixture(t)
	expectHospital(f.mock, hospital.StatusDraft, 3)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("SELECT id FROM treatments").WithArgs([]string{"botox", "unicorn"}).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("botox"))
	expectTxAbort(f.mock)

	_, err := f.svc.SubmitStep(context.Background(), hospitalID, StepTreatments, form(t,
		storagetest.Part{Field: "treatments", Value: `[{"treatment_id":"botox","price_min":100,"price_max":200},{"treatment_id":"unicorn","price_text":"ask"}]`}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unicorn")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

var (
	treatmentCols = []string{"id", "hospital_id", "treatment_id", "name", "category_id",
		"price_min", "price_max", "price_text", "description", "featured"}
	doctorCols = []string{"id", "hospital_id", "name", "position", "specialties", "career", "education",
		"image_url", "image_key", "sort_order", "created_at", "updated_at"}
)

func treatmentRow(id, treatmentID string) *pgxmock.Rows {
	lo, hi := 100, 200
	return pgxmock.NewRows(treatmentCols).AddRow(id, hospitalID, treatmentID, treatmentID, "skin",
		&lo, &hi, "", "", false)
}

func doctorRows(doctors ...[3]string) *pgxmock.Rows {
	now := time.Now().UTC()
	rows := pgxmock.NewRows(doctorCols)
	for i, d := range doctors {
		url := ""
		if d[2] != "" {
			url = "https://cdn.test/" + d[2]
		}
		rows.AddRow(d[0], hospitalID, d[1], "", []string{}, []string{}, []string{}, url, d[2], i, now, now)
	}
	return rows
}

func TestTreatmentsStepPersists(t *testing.T) {
	f := newFixture(t)
	expectHospital(f.mock, hospital.StatusDraft, 3)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("SELECT id FROM treatments").WithArgs([]string{"botox", "filler"}).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("botox").AddRow("filler"))
	f.mock.ExpectExec("DELETE FROM hospital_treatments").WithArgs(hospitalID).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	f.mock.ExpectQuery("INSERT INTO hospital_treatments").WithArgs(anyArgs(5, hospitalID, "botox")...).
		WillReturnRows(treatmentRow("ht-1", "botox"))
	f.mock.ExpectQuery("INSERT INTO hospital_treatments").WithArgs(anyArgs(5, hospitalID, "filler")...).
		WillReturnRows(treatmentRow("ht-2", "filler"))
	f.mock.ExpectExec("UPDATE hospitals SET wizard_step").WithArgs(hospitalID, StepTreatments).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectTxEnd(f.mock)
	expectHospital(f.mock, hospital.StatusDraft, 4)

	progress, err := f.svc.SubmitStep(context.Background(), hospitalID, StepTreatments, form(t,
		storagetest.Part{Field: "treatments", Value: `[{"treatment_id":"botox","price_min":100,"price_max":200},{"treatment_id":"filler","price_text":"ask"}]`}))
	require.NoError(t, err)
	assert.Equal(t, 4, progress.Current)
	assert.Equal(t, StepDoctors, progress.NextStep)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDoctorsStepReplacesRosterAndDeletesStaleImages(t *testing.T) {
	f := newFixture(t)
	const (
		keptID    = "3b7e1c2a-5d4f-4e6a-9b8c-7d6e5f4a3b21"
		removedID = "3b7e1c2a-5d4f-4e6a-9b8c-7d6e5f4a3b22"
		newID     = "3b7e1c2a-5d4f-4e6a-9b8c-7d6e5f4a3b23"
	)
	keptKey := "hospitals/" + hospitalID + "/doctors/kept.png"
	removedKey := "hospitals/" + hospitalID + "/doctors/removed.png"
	f.s3.Objects[keptKey] = storagetest.PNG
	f.s3.Objects[removedKey] = storagetest.PNG

	expectHospital(f.mock, hospital.StatusDraft, 4)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("FROM doctors WHERE hospital_id").WithArgs(hospitalID).
		WillReturnRows(doctorRows([3]string{keptID, "Dr. Kim", keptKey}, [3]string{removedID, "Dr. Park", removedKey}))
	f.mock.ExpectQuery("UPDATE doctors").WithArgs(anyArgs(8, hospitalID, keptID)...).
		WillReturnRows(doctorRows([3]string{keptID, "Dr. Kim", "new.png"}))
	f.mock.ExpectQuery("INSERT INTO doctors").WithArgs(anyArgs(8, hospitalID)...).
		WillReturnRows(doctorRows([3]string{newID, "Dr. Lee", ""}))
	f.mock.ExpectQuery("DELETE FROM doctors").WithArgs(hospitalID, removedID).
		WillReturnRows(doctorRows([3]string{removedID, "Dr. Park", removedKey}))
	f.mock.ExpectExec("UPDATE hospitals SET wizard_step").WithArgs(hospitalID, StepDoctors).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectTxEnd(f.mock)
	expectHospital(f.mock, hospital.StatusDraft, 5)

	progress, err := f.svc.SubmitStep(context.Background(), hospitalID, StepDoctors, form(t,
		storagetest.Part{Field: "doctors", Value: `[{"id":"` + keptID + `","name":"Dr. Kim"},{"name":"Dr. Lee"}]`},
		storagetest.Part{Field: "doctor_image_0", Filename: "kim.png", Data: storagetest.PNG},
	))
	require.NoError(t, err)
	assert.Equal(t, 5, progress.Current)
	assert.ElementsMatch(t, []string{keptKey, removedKey}, f.s3.Deleted)

	keys := f.s3.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "hospitals/"+hospitalID+"/doctors/"))
	assert.NotEqual(t, keptKey, keys[0])
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDoctorsStepFailureRemovesUploads(t *testing.T) {
	f := newFixture(t)
	expectHospital(f.mock, hospital.StatusDraft, 4)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("FROM doctors WHERE hospital_id").WithArgs(hospitalID).WillReturnRows(doctorRows())
	f.mock.ExpectQuery("INSERT INTO doctors").WithArgs(anyArgs(8, hospitalID)...).
		WillReturnError(errors.New("connection reset"))
	expectTxAbort(f.mock)

	_, err := f.svc.SubmitStep(context.Background(), hospitalID, StepDoctors, form(t,
		storagetest.Part{Field: "doctors", Value: `[{"name":"Dr. Lee"},{"name":"Dr. Choi"}]`},
		storagetest.Part{Field: "doctor_image_0", Filename: "lee.png", Data: storagetest.PNG},
		storagetest.Part{Field: "doctor_image_1", Filename: "choi.png", Data: storagetest.PNG},
	))
	require.Error(t, err)
	assert.Len(t, f.s3.Deleted, 2)
	assert.Empty(t, f.s3.Keys())
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestResubmittingEarlierStepKeepsProgress(t *testing.T) {
	f := newFixture(t)
	expectHospital(f.mock, hospital.StatusDraft, 5)
	f.mock.ExpectBegin()
	f.mock.ExpectExec("DELETE FROM hospital_opening_hours").WithArgs(hospitalID).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))
	for day := 0; day < 7; day++ {
		f.mock.ExpectExec("INSERT INTO hospital_opening_hours").WithArgs(anyArgs(6, hospitalID)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	f.mock.ExpectExec(`UPDATE hospitals SET wizard_step = GREATEST\(wizard_step, \$2\)`).WithArgs(hospitalID, StepHours).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectTxEnd(f.mock)
	expectHospital(f.mock, hospital.StatusDraft, 5)

	progress, err := f.svc.SubmitStep(context.Background(), hospitalID, StepHours, form(t,
		storagetest.Part{Field: "hours", Value: `[{"weekday":2,"open":"10:00","close":"19:00"}]`}))
	require.NoError(t, err)
	assert.Equal(t, 5, progress.Current)
	assert.Equal(t, StepFacilities, progress.NextStep)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDraftsDisabledWithoutRedis(t *testing.T) {
	store, _ := storagetest.NewStore()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	svc := NewServiceWithDB(mock, store, nil, nil, nil, logging.Discard())

	_, err = svc.Draft(context.Background(), hospitalID, 1)
	assert.ErrorIs(t, err, ErrDraftsDisabled)
}
