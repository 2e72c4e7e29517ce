package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		wantErr bool
	}{
		{name: "create_to_queue", from: JobStatusCreate, to: JobStatusQueue},
		{name: "resubmit_after_done", from: JobStatusDone, to: JobStatusQueue},
		{name: "kill_running", from: JobStatusRun, to: JobStatusKill},
		{name: "delete_uploading", from: JobStatusUploading, to: JobStatusDelete},
		{name: "controller_never_sets_run", from: JobStatusQueue, to: JobStatusRun, wantErr: true},
		{name: "nothing_leaves_delete", from: JobStatusDelete, to: JobStatusQueue, wantErr: true},
		{name: "delete_retried", from: JobStatusDelete, to: JobStatusDelete},
		{name: "no_kill_after_delete", from: JobStatusDelete, to: JobStatusKill, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.from.ValidateTransition(tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestJobStatusNeedsRefresh(t *testing.T) {
	assert.True(t, JobStatusRun.NeedsRefresh())
	assert.True(t, JobStatusUploading.NeedsRefresh())
	assert.False(t, JobStatusQueue.NeedsRefresh())
	assert.False(t, JobStatusDone.NeedsRefresh())
}

func TestParseJobStatus(t *testing.T) {
	assert.Equal(t, JobStatusUploading, ParseJobStatus("UPLOADING"))
	assert.Equal(t, JobStatus(""), ParseJobStatus("uploading"))
}
