package database

import "testing"

func TestEnqueueAndClaimJob(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	id, err := db.EnqueueJob("drive-1", "drive-1/root", "updated", "trace-1")
	if err != nil {
		t.Fatalf("Failed to enqueue job: %v", err)
	}
	if id == 0 {
		t.Fatal("Expected non-zero job id")
	}

	job, err := db.ClaimJob()
	if err != nil {
		t.Fatalf("Failed to claim job: %v", err)
	}
	if job == nil {
		t.Fatal("Expected a claimed job")
	}
	if job.DriveID != "drive-1" || job.TraceID != "trace-1" {
		t.Errorf("Unexpected job fields: %+v", job)
	}
	if job.ProcessingStartedAt == nil {
		t.Error("Expected processing_started_at to be set")
	}

	// The job is now claimed, so a second claim should find nothing ready.
	second, err := db.ClaimJob()
	if err != nil {
		t.Fatalf("Failed to attempt second claim: %v", err)
	}
	if second != nil {
		t.Error("Expected no job ready for a second concurrent claim")
	}

	if err := db.DeleteJob(job.ID); err != nil {
		t.Fatalf("Failed to delete job: %v", err)
	}

	depth, err := db.QueueDepth()
	if err != nil {
		t.Fatalf("Failed to get queue depth: %v", err)
	}
	if depth != 0 {
		t.Errorf("Expected empty queue, got depth %d", depth)
	}
}

func TestReleaseJobRetriesThenDrops(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	id, err := db.EnqueueJob("drive-1", "drive-1/root", "updated", "trace-2")
	if err != nil {
		t.Fatalf("Failed to enqueue job: %v", err)
	}

	retryCount := 0
	for i := 0; i < MaxRetries; i++ {
		if _, err := db.conn.Exec(`UPDATE reconcile_jobs SET next_retry_at = NULL, processing_started_at = NULL WHERE id = ?`, id); err != nil {
			t.Fatalf("Failed to reset retry time: %v", err)
		}

		job, err := db.ClaimJob()
		if err != nil {
			t.Fatalf("Failed to claim job on attempt %d: %v", i+1, err)
		}
		if job == nil {
			t.Fatalf("Expected job to be claimable on attempt %d", i+1)
		}

		released, err := db.ReleaseJob(job.ID, job.RetryCount, "transient failure")
		if err != nil {
			t.Fatalf("Failed to release job: %v", err)
		}
		if !released {
			t.Errorf("Expected job to be released on attempt %d", i+1)
		}
		retryCount = job.RetryCount + 1
	}

	if retryCount != MaxRetries {
		t.Fatalf("Expected retry count %d, got %d", MaxRetries, retryCount)
	}

	if _, err := db.conn.Exec(`UPDATE reconcile_jobs SET next_retry_at = NULL, processing_started_at = NULL WHERE id = ?`, id); err != nil {
		t.Fatalf("Failed to reset retry time: %v", err)
	}

	job, err := db.ClaimJob()
	if err != nil {
		t.Fatalf("Failed to claim job for final attempt: %v", err)
	}
	if job == nil {
		t.Fatal("Expected job to be claimable for final attempt")
	}

	released, err := db.ReleaseJob(job.ID, job.RetryCount, "persistent failure")
	if err != nil {
		t.Fatalf("Failed to release job on final attempt: %v", err)
	}
	if released {
		t.Error("Expected job to be dropped after exceeding max retries")
	}

	depth, err := db.QueueDepth()
	if err != nil {
		t.Fatalf("Failed to get queue depth: %v", err)
	}
	if depth != 0 {
		t.Errorf("Expected queue to be empty after drop, got depth %d", depth)
	}
}

func TestClaimJobWhenEmpty(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	job, err := db.ClaimJob()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if job != nil {
		t.Error("Expected nil job when queue is empty")
	}
}
