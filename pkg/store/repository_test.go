package store

import (
	"path/filepath"
	"testing"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestImageState_DefaultsToUnknown(t *testing.T) {
	repo := testRepo(t)

	state, jobID, version, err := repo.ImageState()
	if err != nil {
		t.Fatalf("ImageState: %v", err)
	}
	if state != "unknown" || jobID != "" || version != "" {
		t.Errorf("fresh state = (%q, %q, %q)", state, jobID, version)
	}
}

func TestImageState_RoundTrip(t *testing.T) {
	repo := testRepo(t)

	if err := repo.SetImageState("testing", "job-7", "2.0.1"); err != nil {
		t.Fatalf("SetImageState: %v", err)
	}

	state, jobID, version, err := repo.ImageState()
	if err != nil {
		t.Fatal(err)
	}
	if state != "testing" || jobID != "job-7" || version != "2.0.1" {
		t.Errorf("state = (%q, %q, %q)", state, jobID, version)
	}
}

func TestUpsertJob_InsertThenResume(t *testing.T) {
	repo := testRepo(t)

	job := &Job{JobID: "job-1", FilePath: "firmware.bin", FileSize: 1000, Status: JobStatusReceived}
	if err := repo.UpsertJob(job); err != nil {
		t.Fatalf("UpsertJob: %v", err)
	}

	// Second upsert for the same job refreshes, not duplicates.
	job.Status = JobStatusDownloading
	if err := repo.UpsertJob(job); err != nil {
		t.Fatalf("second UpsertJob: %v", err)
	}

	jobs, err := repo.ListJobs()
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].Status != JobStatusDownloading {
		t.Errorf("status = %s", jobs[0].Status)
	}
}

func TestUpdateJobStatus(t *testing.T) {
	repo := testRepo(t)

	repo.UpsertJob(&Job{JobID: "job-1", FilePath: "fw.bin", FileSize: 10, Status: JobStatusReceived})

	if err := repo.UpdateJobStatus("job-1", JobStatusFailed, "signature check failed"); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}

	job, err := repo.GetJob("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != JobStatusFailed || job.ErrorMessage != "signature check failed" {
		t.Errorf("job = %+v", job)
	}

	if err := repo.UpdateJobStatus("missing", JobStatusFailed, ""); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestGetJob_Missing(t *testing.T) {
	repo := testRepo(t)

	job, err := repo.GetJob("nope")
	if err != nil {
		t.Fatal(err)
	}
	if job != nil {
		t.Errorf("expected nil for missing job, got %+v", job)
	}
}
