package notify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"takeoff-backend/internal/processing"
)

func TestCompleteEnvelopeKeepsSmallLists(t *testing.T) {
	mock := processing.NewMock(3, "", 0)
	result, err := mock.Process(context.Background(), "x", nil)
	require.NoError(t, err)

	env := completeEnvelope(uuid.New(), result, 100)
	extracted, ok := env["extracted_data"].(map[string]any)
	require.True(t, ok)
	require.NotContains(t, extracted, "materials_truncated")
	materials, ok := extracted["materials"].([]processing.ExtractedMaterial)
	require.True(t, ok)
	require.Len(t, materials, 3)
}

func TestCompleteEnvelopeOmitsDataOnFailure(t *testing.T) {
	result := &processing.Result{
		Status:       processing.StatusFailed,
		ErrorMessage: "unsupported schema",
		Elapsed:      250 * time.Millisecond,
	}
	env := completeEnvelope(uuid.New(), result, 100)
	require.NotContains(t, env, "extracted_data")

	inner, ok := env["result"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "FAILED", inner["status"])
	require.Equal(t, "unsupported schema", inner["error_message"])
}

func TestErrorEnvelopeDefaultsContext(t *testing.T) {
	fileID := uuid.New()
	env := errorEnvelope(fileID, "boom", nil)
	require.Equal(t, EventError, env["event_type"])
	require.Equal(t, fileID.String(), env["ifc_file_id"])
	require.Equal(t, map[string]string{}, env["error_context"])
	require.NotEmpty(t, env["timestamp"])
}

func TestDiscardSwallowsEverything(t *testing.T) {
	d := Discard{}
	require.NoError(t, d.NotifyQueued(context.Background(), uuid.New(), nil))
	require.NoError(t, d.NotifyComplete(context.Background(), uuid.New(), &processing.Result{}))
	require.NoError(t, d.NotifyError(context.Background(), uuid.New(), "x", nil))
}
