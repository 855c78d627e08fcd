package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var peopleImporter = Importer{
	Name:    "People",
	Slug:    "people",
	Headers: []string{"name", "email"},
}

func upload(t *testing.T, h *harness, slug, body string) (uuid.UUID, error) {
	t.Helper()
	return h.service.Upload(context.Background(), UploadRequest{
		Slug:      slug,
		Initiator: "alice",
		Filename:  "/tmp/people.csv",
		Body:      strings.NewReader(body),
	})
}

func TestService_Upload(t *testing.T) {
	h := newHarness(t, []Importer{peopleImporter})
	h.service.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	id, err := upload(t, h, "people", "name,email\nAnn,ann@example.com\nBo,bo@example.com\n")
	require.NoError(t, err)

	rec := h.load(t, id)
	assert.Equal(t, "people.csv - 1700000000", rec.Title)
	assert.Equal(t, "alice", rec.Author)
	assert.Len(t, rec.Rows, 2)
	assert.False(t, rec.Progress.Running, "uploads wait for the operator")
	assert.Zero(t, h.sched.PendingCount())

	assert.Equal(t, []EventType{EventUploaded}, h.events.types())
	assert.Equal(t, 2, h.events.last().Total)
}

func TestService_UploadRejectedStoresNothing(t *testing.T) {
	h := newHarness(t, []Importer{peopleImporter})

	_, err := upload(t, h, "people", "name,email\nAnn,ann@example.com,extra\n")
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "Row 2 has 3 columns, expecting 2 or fewer columns", err.Error())

	all, err := h.store.ListRecords(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, h.events.types())
}

func TestService_UploadBeforeSave(t *testing.T) {
	imp := peopleImporter
	imp.BeforeSave = BeforeSaveFunc(func(_ context.Context, header []string, rows [][]string) ([]string, [][]string, error) {
		kept := [][]string{}
		for _, row := range rows {
			if row[0] != "skip" {
				kept = append(kept, []string{strings.ToUpper(row[0]), row[1]})
			}
		}
		return append(header, "source"), kept, nil
	})
	h := newHarness(t, []Importer{imp})

	id, err := upload(t, h, "people", "name,email\nann,ann@example.com\nskip,x@example.com\n")
	require.NoError(t, err)

	rec := h.load(t, id)
	assert.Equal(t, []string{"name", "email", "source"}, rec.Header)
	assert.Equal(t, [][]string{{"ANN", "ann@example.com"}}, rec.Rows)
	assert.Equal(t, 1, h.events.last().Total)
}

func TestService_UploadBeforeSaveRejects(t *testing.T) {
	imp := peopleImporter
	imp.BeforeSave = BeforeSaveFunc(func(context.Context, []string, [][]string) ([]string, [][]string, error) {
		return nil, nil, &ValidationError{Message: "duplicate emails in file"}
	})
	h := newHarness(t, []Importer{imp})

	_, err := upload(t, h, "people", "name,email\nAnn,ann@example.com\n")
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "duplicate emails in file", MapError(err).Message)

	all, err := h.store.ListRecords(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, h.events.types())
}

func TestService_UploadErrors(t *testing.T) {
	h := newHarness(t, []Importer{peopleImporter})

	_, err := upload(t, h, "orders", "a\n1\n")
	assert.ErrorIs(t, err, ErrImporterNotFound)

	_, err = h.service.Upload(context.Background(), UploadRequest{Slug: "people", Initiator: "alice"})
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "no file provided", MapError(err).Message)
}

func TestService_UploadDenied(t *testing.T) {
	authz, err := NewAuthorizer(AuthzOptions{Logger: discardLogger()})
	require.NoError(t, err)
	h := newHarness(t, []Importer{peopleImporter}, withAccess(authz))

	_, err = upload(t, h, "people", "name,email\nAnn,ann@example.com\n")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestService_UploadBusy(t *testing.T) {
	h := newHarness(t, []Importer{peopleImporter})
	h.service.limiter = NewUploadLimiter(1, 20*time.Millisecond)
	require.True(t, h.service.limiter.TryAcquire())
	defer h.service.limiter.Release()

	_, err := upload(t, h, "people", "name,email\nAnn,ann@example.com\n")
	assert.ErrorIs(t, err, ErrTooManyUploads)
}

func TestService_PreviewAndStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, []Importer{peopleImporter})
	id, err := upload(t, h, "people", "name,mail\nAnn,ann@example.com\n")
	require.NoError(t, err)

	p, err := h.service.Preview(ctx, id, "alice")
	require.NoError(t, err)
	assert.Equal(t, id, p.RecordID)
	assert.Equal(t, "people", p.Importer)
	assert.Equal(t, []HeaderMismatch{{Column: 1, Expected: "email", Found: "mail"}}, p.Mismatches)

	st, err := h.service.Status(ctx, id, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, st.RowCount)
	assert.Equal(t, 0, st.CurrentRow)
	assert.False(t, st.Running)

	_, err = h.service.Preview(ctx, uuid.New(), "alice")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestService_FullCycle(t *testing.T) {
	ctx := context.Background()
	log := &batchLog{}
	imp := peopleImporter
	imp.Import = log
	h := newHarness(t, []Importer{imp})

	id, err := upload(t, h, "people", "name,email\nAnn,ann@example.com\n")
	require.NoError(t, err)
	require.NoError(t, h.service.Start(ctx, id, "alice"))
	require.NoError(t, h.service.Tick(ctx, id, "alice"))

	assert.Equal(t, [][][]string{{{"Ann", "ann@example.com"}}}, log.received())
	_, err = h.service.Status(ctx, id, "alice")
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.Equal(t, []EventType{EventUploaded, EventStarted, EventBatch, EventComplete}, h.events.types())
}

func TestService_ImportersAndRecordsFollowAccess(t *testing.T) {
	ctx := context.Background()
	authz, err := NewAuthorizer(AuthzOptions{
		Roles:  map[string]string{"alice": "administrator", "ed": "editor"},
		Logger: discardLogger(),
	})
	require.NoError(t, err)

	raw := Importer{Name: "Raw", Slug: "raw", Capability: "import_raw_rows"}
	h := newHarness(t, []Importer{peopleImporter, raw}, withAccess(authz))
	h.seed(t, "people", []string{"name"}, []string{"Ann"})
	h.seed(t, "raw", []string{"x"}, []string{"1"})

	assert.Len(t, h.service.Importers(ctx, "alice"), 2)
	edImporters := h.service.Importers(ctx, "ed")
	require.Len(t, edImporters, 1)
	assert.Equal(t, "people", edImporters[0].Slug)

	recs, err := h.service.Records(ctx, "ed", ListFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "people", recs[0].ImporterSlug)

	_, err = h.service.Importer(ctx, "raw", "ed")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestService_Title(t *testing.T) {
	h := newHarness(t, nil)
	h.service.now = func() time.Time { return time.Unix(42, 0) }

	assert.Equal(t, "report.csv - 42", h.service.title("C:/uploads/report.csv"))
	assert.Equal(t, "upload.csv - 42", h.service.title(""))
	assert.Equal(t, strings.Repeat("x", 200)+" - 42", h.service.title(strings.Repeat("x", 300)))
}

func TestService_PurgeStale(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, []Importer{{Name: "Pairs", Slug: "pairs", Import: &batchLog{}}})
	idle := h.seed(t, "pairs", []string{"a"}, []string{"1"})
	started := h.seed(t, "pairs", []string{"a"}, []string{"1"}, []string{"2"})
	require.NoError(t, h.runner.Start(ctx, started, "alice"))

	assert.Zero(t, h.service.PurgeStale(ctx, time.Hour), "fresh uploads are kept")

	h.service.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	assert.Equal(t, int64(1), h.service.PurgeStale(ctx, 24*time.Hour))

	_, err := h.store.GetRecord(ctx, idle)
	assert.ErrorIs(t, err, ErrRecordNotFound)
	_, err = h.store.GetRecord(ctx, started)
	assert.NoError(t, err)
}

func TestService_StartJanitorStops(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.service.StartJanitor(ctx, JanitorConfig{CheckInterval: 10 * time.Millisecond})
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
