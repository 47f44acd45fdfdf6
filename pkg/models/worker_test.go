package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerInfo_JSONRoundTrip(t *testing.T) {
	in := []WorkerInfo{
		{ID: "w-1", Status: WorkerAvailable, Load: 1, Capacity: 2, LastHeartbeat: time.Unix(100, 0).UTC()},
		{ID: "w-2", Status: WorkerDraining},
		{ID: "w-3", Status: WorkerUnresponsive},
	}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"status":"unresponsive"`)

	var out []WorkerInfo
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}

func TestWorkerStatus_UnmarshalUnknown(t *testing.T) {
	var s WorkerStatus
	assert.Error(t, s.UnmarshalText([]byte("sleeping")))
}
