package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveStageCountsErrors(t *testing.T) {
	before := testutil.ToFloat64(StageErrors.WithLabelValues(StageDiagnose))

	ObserveStage(StageDiagnose, time.Now(), nil)
	assert.Equal(t, before, testutil.ToFloat64(StageErrors.WithLabelValues(StageDiagnose)))

	ObserveStage(StageDiagnose, time.Now(), errors.New("upstream down"))
	assert.Equal(t, before+1, testutil.ToFloat64(StageErrors.WithLabelValues(StageDiagnose)))
}

func TestHandlerExposesCollectors(t *testing.T) {
	GenerationsTotal.WithLabelValues("success").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "scenegen_generations_total"))
}
