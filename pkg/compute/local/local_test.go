package local

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NicoZweifel/aquila/pkg/compute"
)

func TestQueuedJobRoundTrip(t *testing.T) {
	job := queuedJob{
		ID: "job-1",
		Request: compute.JobRequest{
			Cmd: []string{"echo", "hi"},
			Env: []compute.EnvVar{{Key: "FOO", Value: "bar"}},
		},
	}

	payload, err := json.Marshal(job)
	require.NoError(t, err)

	var decoded queuedJob
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, job.ID, decoded.ID)
	require.Equal(t, job.Request.Cmd, decoded.Request.Cmd)
	require.Equal(t, job.Request.Env, decoded.Request.Env)
}
