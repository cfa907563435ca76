package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"takeoff-backend/internal/ingest"
	"takeoff-backend/internal/model"
	"takeoff-backend/internal/notify"
	"takeoff-backend/internal/processing"
	"takeoff-backend/internal/queue"
	"takeoff-backend/internal/repository"
	"takeoff-backend/internal/storage"
)

type capturedEvent struct {
	kind   string
	fileID uuid.UUID
}

type capturingNotifier struct {
	events []capturedEvent
	err    error
}

func (n *capturingNotifier) NotifyQueued(ctx context.Context, fileID uuid.UUID, _ *storage.UploadResult) error {
	n.events = append(n.events, capturedEvent{notify.EventQueued, fileID})
	return n.err
}

func (n *capturingNotifier) NotifyProcessing(ctx context.Context, fileID uuid.UUID, _ string) error {
	n.events = append(n.events, capturedEvent{notify.EventProcessing, fileID})
	return n.err
}

func (n *capturingNotifier) NotifyComplete(ctx context.Context, fileID uuid.UUID, _ *processing.Result) error {
	n.events = append(n.events, capturedEvent{notify.EventComplete, fileID})
	return n.err
}

func (n *capturingNotifier) NotifyError(ctx context.Context, fileID uuid.UUID, _ string, _ map[string]string) error {
	n.events = append(n.events, capturedEvent{notify.EventError, fileID})
	return n.err
}

func (n *capturingNotifier) kinds() []string {
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.kind
	}
	return out
}

func seedFile(t *testing.T, repo *repository.MemoryStore, key string) *model.ModelFile {
	t.Helper()
	file := &model.ModelFile{
		ID:               uuid.New(),
		OriginalFilename: "warehouse.ifc",
		ObjectKey:        &key,
		ProjectID:        uuid.New(),
	}
	require.NoError(t, repo.Create(context.Background(), file))
	return file
}

func processTask(t *testing.T, fileID uuid.UUID) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(queue.ProcessPayload{IFCFileID: fileID.String()})
	require.NoError(t, err)
	return asynq.NewTask(queue.ProcessIFCTask, data)
}

func TestHandleProcessSuccess(t *testing.T) {
	repo := repository.NewMemoryStore()
	file := seedFile(t, repo, "ifc-files/model.ifc")
	notifier := &capturingNotifier{}
	p := NewProcessor(repo, processing.NewMock(3, "", 0), notifier, nil)

	err := p.HandleProcess(context.Background(), processTask(t, file.ID))
	require.NoError(t, err)

	got, err := repo.Get(context.Background(), file.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, got.Status)

	materials, err := repo.ListByFile(context.Background(), file.ID)
	require.NoError(t, err)
	require.Len(t, materials, 3)
	require.Equal(t, file.ID, materials[0].ModelFileID)

	require.Equal(t, []string{notify.EventProcessing, notify.EventComplete}, notifier.kinds())
}

func TestHandleProcessRedeliveryIsIdempotent(t *testing.T) {
	repo := repository.NewMemoryStore()
	file := seedFile(t, repo, "ifc-files/model.ifc")
	p := NewProcessor(repo, processing.NewMock(3, "", 0), &capturingNotifier{}, nil)

	task := processTask(t, file.ID)
	require.NoError(t, p.HandleProcess(context.Background(), task))
	require.NoError(t, p.HandleProcess(context.Background(), task))

	materials, err := repo.ListByFile(context.Background(), file.ID)
	require.NoError(t, err)
	require.Len(t, materials, 3, "redelivery must not duplicate materials")
}

func TestHandleProcessDomainFailure(t *testing.T) {
	repo := repository.NewMemoryStore()
	file := seedFile(t, repo, "ifc-files/model.ifc")
	notifier := &capturingNotifier{}
	p := NewProcessor(repo, processing.NewMock(0, "unsupported schema IFC99", 0), notifier, nil)

	// The failure is committed first, then propagated for the queue's retry
	// policy to see.
	task := processTask(t, file.ID)
	err := p.HandleProcess(context.Background(), task)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)

	got, err := repo.Get(context.Background(), file.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusError, got.Status)
	require.NotNil(t, got.ErrorMessage)
	require.Equal(t, "unsupported schema IFC99", *got.ErrorMessage)

	materials, err := repo.ListByFile(context.Background(), file.ID)
	require.NoError(t, err)
	require.Empty(t, materials)

	require.Equal(t, []string{notify.EventProcessing, notify.EventError}, notifier.kinds())

	// The redelivery finds the row terminal and drops without side effects.
	require.NoError(t, p.HandleProcess(context.Background(), task))
	require.Equal(t, []string{notify.EventProcessing, notify.EventError}, notifier.kinds())
}

type faultyBackend struct {
	err error
}

func (f faultyBackend) Validate(context.Context, string) (bool, error) { return true, nil }

func (f faultyBackend) Process(context.Context, string, map[string]string) (*processing.Result, error) {
	return nil, f.err
}

func TestHandleProcessBackendErrorCommitsErrorStatus(t *testing.T) {
	repo := repository.NewMemoryStore()
	file := seedFile(t, repo, "ifc-files/model.ifc")
	notifier := &capturingNotifier{}
	p := NewProcessor(repo, faultyBackend{err: errors.New("storage unreachable")}, notifier, nil)

	task := processTask(t, file.ID)
	err := p.HandleProcess(context.Background(), task)
	require.Error(t, err)

	// The fault is observable in the record before the error propagates.
	got, err := repo.Get(context.Background(), file.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusError, got.Status)
	require.NotNil(t, got.ErrorMessage)
	require.Contains(t, *got.ErrorMessage, "storage unreachable")
	require.Equal(t, []string{notify.EventProcessing, notify.EventError}, notifier.kinds())

	// The redelivery triggered by the returned error finds the terminal row
	// and acks without reprocessing.
	require.NoError(t, p.HandleProcess(context.Background(), task))
	require.Equal(t, []string{notify.EventProcessing, notify.EventError}, notifier.kinds())
}

func TestHandleProcessMalformedPayload(t *testing.T) {
	p := NewProcessor(repository.NewMemoryStore(), processing.NewMock(1, "", 0), nil, nil)

	err := p.HandleProcess(context.Background(), asynq.NewTask(queue.ProcessIFCTask, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = p.HandleProcess(context.Background(), asynq.NewTask(queue.ProcessIFCTask, []byte(`{"ifc_file_id":"not-a-uuid"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleProcessMissingRow(t *testing.T) {
	p := NewProcessor(repository.NewMemoryStore(), processing.NewMock(1, "", 0), nil, nil)

	// Orphaned task (the upload was compensated away): ack and drop.
	err := p.HandleProcess(context.Background(), processTask(t, uuid.New()))
	require.NoError(t, err)
}

func TestHandleProcessNotifierFailureDoesNotBlock(t *testing.T) {
	repo := repository.NewMemoryStore()
	file := seedFile(t, repo, "ifc-files/model.ifc")
	notifier := &capturingNotifier{err: notify.ErrDelivery}
	p := NewProcessor(repo, processing.NewMock(2, "", 0), notifier, nil)

	err := p.HandleProcess(context.Background(), processTask(t, file.ID))
	require.NoError(t, err)

	got, err := repo.Get(context.Background(), file.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, got.Status)
}

func TestSweeperRequeuesStaleFiles(t *testing.T) {
	repo := repository.NewMemoryStore()
	file := seedFile(t, repo, "ifc-files/model.ifc")
	ctx := context.Background()

	won, err := repo.ClaimProcessing(ctx, file.ID)
	require.NoError(t, err)
	require.True(t, won)

	enq := &recordingEnqueuer{}
	s := NewSweeper(repo, enq, time.Minute, 0, nil)
	s.Sweep(ctx)

	require.Equal(t, []uuid.UUID{file.ID}, enq.enqueued)
	got, err := repo.Get(ctx, file.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, got.Status)
}

type recordingEnqueuer struct {
	enqueued []uuid.UUID
}

func (r *recordingEnqueuer) EnqueueProcess(ctx context.Context, fileID uuid.UUID) error {
	r.enqueued = append(r.enqueued, fileID)
	return nil
}

// TestPipelineEndToEnd drives the whole chain: upload through the
// orchestrator, hand the enqueued id to the handler, observe the terminal
// state and the persisted materials.
func TestPipelineEndToEnd(t *testing.T) {
	store, err := storage.NewLocal(t.TempDir(), "http://localhost:8080/files")
	require.NoError(t, err)
	repo := repository.NewMemoryStore()
	enq := &recordingEnqueuer{}
	orch := ingest.New(store, repo, repo, enq, nil, nil)

	file, err := orch.Upload(context.Background(), uuid.New(), "warehouse.ifc", []byte("ISO-10303-21;"))
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, file.Status)
	require.Equal(t, []uuid.UUID{file.ID}, enq.enqueued)

	p := NewProcessor(repo, processing.NewMock(3, "", 0), nil, nil)
	require.NoError(t, p.HandleProcess(context.Background(), processTask(t, enq.enqueued[0])))

	got, err := repo.Get(context.Background(), file.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, got.Status)

	materials, err := repo.ListByFile(context.Background(), file.ID)
	require.NoError(t, err)
	require.Len(t, materials, 3)
	for _, m := range materials {
		require.Equal(t, file.ID, m.ModelFileID)
	}
}

const warehouseModel = `ISO-10303-21;
HEADER;
FILE_DESCRIPTION(('ViewDefinition [CoordinationView]'),'2;1');
FILE_NAME('warehouse.ifc','2024-03-01T10:00:00',('author'),('org'),'','','');
FILE_SCHEMA(('IFC4'));
ENDSEC;
DATA;
#1=IFCPROJECT('2O2Fr$t4X7Zf8NOew3FLOH',$,'Warehouse',$,$,$,$,$,$);
#10=IFCBEAM('0Beam000000000000000A1',$,'B-101',$,$,$,$,$);
#13=IFCWALL('0Wall000000000000000C1',$,'W-301',$,$,$,$,$);
#20=IFCQUANTITYVOLUME('GrossVolume',$,$,2.5);
#24=IFCELEMENTQUANTITY('0Q000000000000000000Q2',$,'BaseQuantities',$,$,(#20));
#25=IFCRELDEFINESBYPROPERTIES('0R000000000000000000R2',$,$,$,(#13),#24);
ENDSEC;
END-ISO-10303-21;
`

func TestHandleProcessEndToEnd(t *testing.T) {
	store, err := storage.NewLocal(t.TempDir(), "http://localhost:8080/files")
	require.NoError(t, err)
	_, err = store.Store(context.Background(), "ifc-files/warehouse.ifc", []byte(warehouseModel), nil)
	require.NoError(t, err)

	repo := repository.NewMemoryStore()
	file := seedFile(t, repo, "ifc-files/warehouse.ifc")
	proc := processing.NewIFCProcessor(store, processing.IFCProcessorConfig{})
	p := NewProcessor(repo, proc, nil, nil)

	require.NoError(t, p.HandleProcess(context.Background(), processTask(t, file.ID)))

	got, err := repo.Get(context.Background(), file.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, got.Status)

	materials, err := repo.ListByFile(context.Background(), file.ID)
	require.NoError(t, err)
	require.Len(t, materials, 2)
	descriptions := []string{materials[0].Description, materials[1].Description}
	require.Contains(t, descriptions, "B-101 - Steel Beam")
	require.Contains(t, descriptions, "W-301 - Precast Concrete Panel")
}
