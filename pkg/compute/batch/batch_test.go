package batch

import (
	"errors"
	"net/http"
	"testing"

	batchtypes "github.com/aws/aws-sdk-go-v2/service/batch/types"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/require"

	"github.com/NicoZweifel/aquila/pkg/compute"
	"github.com/NicoZweifel/aquila/pkg/computeerr"
)

func responseError(status int) error {
	return &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
	}
}

func TestBatchPhase(t *testing.T) {
	require.Equal(t, compute.PhaseSucceeded, batchPhase(batchtypes.JobStatusSucceeded))
	require.Equal(t, compute.PhaseFailed, batchPhase(batchtypes.JobStatusFailed))
	require.Equal(t, compute.PhaseRunning, batchPhase(batchtypes.JobStatusRunning))
	require.Equal(t, compute.PhasePending, batchPhase(batchtypes.JobStatusSubmitted))
	require.Equal(t, compute.PhasePending, batchPhase(batchtypes.JobStatusRunnable))
}

func TestClassifyServiceErrorFeedsIsTransient(t *testing.T) {
	require.True(t, computeerr.IsTransient(classifyServiceError("describe job", responseError(http.StatusRequestTimeout))))
	require.True(t, computeerr.IsTransient(classifyServiceError("describe job", responseError(http.StatusServiceUnavailable))))
	require.False(t, computeerr.IsTransient(classifyServiceError("describe job", responseError(http.StatusBadRequest))))
	require.True(t, computeerr.IsTransient(classifyServiceError("describe job", errors.New("boom"))))
}

func TestClassifyFetchErrorTypedExceptions(t *testing.T) {
	require.Equal(t, fetchTransient, classifyFetchError(&cwltypes.ResourceNotFoundException{}))
	require.Equal(t, fetchFatal, classifyFetchError(&cwltypes.InvalidParameterException{}))
	require.Equal(t, fetchTransient, classifyFetchError(&cwltypes.ServiceUnavailableException{}))
	require.Equal(t, fetchTransient, classifyFetchError(responseError(http.StatusInternalServerError)))
	require.Equal(t, fetchUnclassified, classifyFetchError(errors.New("boom")))
}

func TestClassifySubmitError(t *testing.T) {
	invalid := classifySubmitError(responseError(http.StatusBadRequest))
	require.Contains(t, invalid.Error(), "submit job")

	sys := classifySubmitError(responseError(http.StatusInternalServerError))
	require.Contains(t, sys.Error(), "submit job")
}
