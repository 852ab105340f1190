package system

import (
	"testing"
)

func newTestSystem() *System {
	s := New("test", "localhost")
	s.SetDefaultMaxActiveJobs(0)
	return s
}

func TestCreateJobAdmission(t *testing.T) {
	s := newTestSystem()
	p, err := s.CreatePrinter("Office", "", "file:///dev/null")
	if err != nil {
		t.Fatalf("create printer: %v", err)
	}

	j, err := p.CreateJob("doc", "alice")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if j.ID() != 1 {
		t.Fatalf("first job id = %d, want 1", j.ID())
	}
	if j.State() != JobStatePending {
		t.Fatalf("new job state = %v", j.State())
	}

	p.SetAccepting(false)
	if _, err := p.CreateJob("doc2", "alice"); err != ErrNotAccepting {
		t.Fatalf("rejection error = %v, want ErrNotAccepting", err)
	}
	// Rejection must not burn a job id.
	p.SetAccepting(true)
	j2, err := p.CreateJob("doc3", "alice")
	if err != nil {
		t.Fatalf("create job after re-accept: %v", err)
	}
	if j2.ID() != 2 {
		t.Fatalf("job id = %d, want 2", j2.ID())
	}
}

func TestMaxActiveJobsBound(t *testing.T) {
	s := New("test", "localhost")
	s.SetDefaultMaxActiveJobs(1)
	p, _ := s.CreatePrinter("Single", "", "file:///dev/null")

	if _, err := p.CreateJob("one", "alice"); err != nil {
		t.Fatalf("first job: %v", err)
	}
	if _, err := p.CreateJob("two", "alice"); err != ErrTooManyJobs {
		t.Fatalf("second job error = %v, want ErrTooManyJobs", err)
	}
}

func TestJobCollectionsOrderAndInvariant(t *testing.T) {
	s := newTestSystem()
	p, _ := s.CreatePrinter("Office", "", "file:///dev/null")

	var jobs []*Job
	for i := 0; i < 5; i++ {
		j, err := p.CreateJob("doc", "alice")
		if err != nil {
			t.Fatalf("create job %d: %v", i, err)
		}
		jobs = append(jobs, j)
	}

	assertDescending := func(name string, list []*Job) {
		t.Helper()
		for i := 1; i < len(list); i++ {
			if list[i-1].ID() <= list[i].ID() {
				t.Fatalf("%s not in descending id order: %d before %d", name, list[i-1].ID(), list[i].ID())
			}
		}
	}
	assertDescending("active", p.ActiveJobs())
	assertDescending("all", p.Jobs())

	// Cancel the middle job and re-check membership.
	p.CancelJob(jobs[2])
	if jobs[2].State() != JobStateCanceled {
		t.Fatalf("canceled job state = %v", jobs[2].State())
	}
	checkExactlyOne := func(j *Job) {
		t.Helper()
		inActive := containsJob(p.ActiveJobs(), j)
		inCompleted := containsJob(p.CompletedJobs(), j)
		if inActive == inCompleted {
			t.Fatalf("job %d: active=%v completed=%v, want exactly one", j.ID(), inActive, inCompleted)
		}
		if !containsJob(p.Jobs(), j) {
			t.Fatalf("job %d missing from all-jobs", j.ID())
		}
	}
	for _, j := range jobs {
		checkExactlyOne(j)
	}
	assertDescending("completed", p.CompletedJobs())
	assertDescending("active after cancel", p.ActiveJobs())
}

func containsJob(list []*Job, j *Job) bool {
	for _, x := range list {
		if x == j {
			return true
		}
	}
	return false
}

func TestMaxJobsBoundsHistory(t *testing.T) {
	s := newTestSystem()
	s.SetDefaultMaxJobs(3)
	p, _ := s.CreatePrinter("Bounded", "", "file:///dev/null")

	var jobs []*Job
	for i := 0; i < 5; i++ {
		j, err := p.CreateJob("doc", "alice")
		if err != nil {
			t.Fatalf("create job %d: %v", i+1, err)
		}
		jobs = append(jobs, j)
	}
	for _, j := range jobs[:3] {
		p.CancelJob(j)
	}

	// Oldest completed jobs are dropped; active jobs are never evicted.
	if n := len(p.Jobs()); n != 3 {
		t.Fatalf("len(all) = %d, want 3", n)
	}
	if n := len(p.ActiveJobs()); n != 2 {
		t.Fatalf("len(active) = %d, want 2", n)
	}
	if got := p.CompletedJobs(); len(got) != 1 || got[0].ID() != 3 {
		t.Fatalf("completed = %v, want only job 3", got)
	}
	if p.FindJob(1) != nil || p.FindJob(2) != nil {
		t.Fatal("evicted jobs still findable")
	}
	if p.FindJob(5) == nil {
		t.Fatal("newest job lost")
	}
}

func TestCancelAllJobs(t *testing.T) {
	s := newTestSystem()
	p, _ := s.CreatePrinter("Office", "", "file:///dev/null")

	pending, _ := p.CreateJob("pending", "alice")
	held, _ := p.CreateJob("held", "alice")
	if err := p.HoldJob(held); err != nil {
		t.Fatalf("hold: %v", err)
	}
	heldWithData, _ := p.CreateJob("held-data", "alice")
	if err := p.HoldJob(heldWithData); err != nil {
		t.Fatalf("hold: %v", err)
	}
	heldWithData.SetDocument("application/pdf", []byte("doc"))

	p.CancelAllJobs()

	if pending.State() != JobStateCanceled {
		t.Fatalf("pending job state = %v, want canceled", pending.State())
	}
	if held.State() != JobStateCanceled {
		t.Fatalf("held job state = %v, want canceled", held.State())
	}
	// Held with an open document cancels cooperatively.
	if !heldWithData.Canceled() {
		t.Fatal("held job with data should carry the cancel flag")
	}
	if heldWithData.State().Terminal() {
		t.Fatalf("held job with data should finish asynchronously, state = %v", heldWithData.State())
	}
}

func TestPurgeJobs(t *testing.T) {
	s := newTestSystem()
	p, _ := s.CreatePrinter("Office", "", "file:///dev/null")
	j1, _ := p.CreateJob("a", "alice")
	j2, _ := p.CreateJob("b", "alice")
	p.CancelJob(j1)

	if n := p.PurgeJobs(); n != 1 {
		t.Fatalf("purged = %d, want 1", n)
	}
	if containsJob(p.Jobs(), j1) {
		t.Fatal("purged job still in all-jobs")
	}
	if !containsJob(p.Jobs(), j2) {
		t.Fatal("active job vanished on purge")
	}
}

func TestReasonSetOps(t *testing.T) {
	var r ReasonSet
	r.Add(JobReasonPrinting | JobReasonQueued)
	if !r.Contains(JobReasonPrinting) || !r.Contains(JobReasonQueued) {
		t.Fatalf("missing bits after Add: %b", r)
	}
	r.Remove(JobReasonQueued)
	if r.Contains(JobReasonQueued) {
		t.Fatal("Remove left the bit set")
	}
	if !r.Any(JobReasonPrinting | JobReasonErrorsDetected) {
		t.Fatal("Any should match a single present bit")
	}
	kw := JobReasonKeywords(r)
	if len(kw) != 1 || kw[0] != "job-printing" {
		t.Fatalf("keywords = %v", kw)
	}
	if kw := PrinterReasonKeywords(0); len(kw) != 1 || kw[0] != "none" {
		t.Fatalf("empty set keywords = %v", kw)
	}
}

func TestFindPrinterByPathTrailingSlash(t *testing.T) {
	s := newTestSystem()
	p, _ := s.CreatePrinter("Office", "/ipp/print/Office", "file:///dev/null")

	if got := s.FindPrinterByPath("/ipp/print/Office/"); got != p {
		t.Fatal("trailing slash lookup failed")
	}
	if got := s.FindPrinterByPath("/ipp/print/Office"); got != p {
		t.Fatal("exact lookup failed")
	}
	if got := s.FindPrinterByPath("/ipp/print/Nope"); got != nil {
		t.Fatal("unknown path should not resolve")
	}
}

func TestDuplicatePrinterRejected(t *testing.T) {
	s := newTestSystem()
	if _, err := s.CreatePrinter("Office", "", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreatePrinter("Office", "", ""); err == nil {
		t.Fatal("duplicate name should be rejected")
	}
}
