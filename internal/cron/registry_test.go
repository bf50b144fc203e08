package cron

import (
	"context"
	"testing"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryStoresJobs(t *testing.T) {
	registry := NewRegistry(nil)
	jobA := &stubJob{name: "a"}
	jobB := &stubJob{name: "b"}
	registry.Register(jobA)
	registry.Register(jobB)
	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0] != jobA || jobs[1] != jobB {
		t.Fatalf("jobs returned out of order")
	}
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("internal slice leaked")
	}
}

func TestRegistryReplacesJobsByName(t *testing.T) {
	first := &stubJob{name: "purge"}
	second := &stubJob{name: "purge"}
	registry := NewRegistry(first, &stubJob{name: "evict"}, second)

	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0] != second {
		t.Fatalf("expected replacement to keep the original slot")
	}
}

func TestJobFunc(t *testing.T) {
	ran := false
	job := JobFunc{JobName: "fn", Fn: func(context.Context) error { ran = true; return nil }}
	if job.Name() != "fn" {
		t.Fatalf("unexpected name %q", job.Name())
	}
	if err := job.Run(context.Background()); err != nil || !ran {
		t.Fatalf("expected job to run, err=%v", err)
	}
}
