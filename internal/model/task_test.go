package model

import (
	"errors"
	"testing"
)

func TestStage_Order(t *testing.T) {
	order := []Stage{StageNone, StageDiscover, StageMirror, StageBundle, StageVerify, StagePackage, StageCleanup}

	for i := 1; i < len(order); i++ {
		if order[i-1] >= order[i] {
			t.Errorf("%s should sort before %s", order[i-1], order[i])
		}
	}
}

func TestStage_String(t *testing.T) {
	tests := []struct {
		stage    Stage
		expected string
	}{
		{StageNone, "pending"},
		{StageDiscover, "discover"},
		{StageMirror, "mirror"},
		{StageBundle, "bundle"},
		{StageVerify, "verify"},
		{StagePackage, "package"},
		{StageCleanup, "cleanup"},
		{Stage(42), "stage(42)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.stage.String(); got != tt.expected {
				t.Errorf("Stage(%d).String() = %q, want %q", tt.stage, got, tt.expected)
			}
		})
	}
}

func TestStatus_RoundTrip(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusRunning, StatusSucceeded, StatusSkipped, StatusFailed} {
		if got := ParseStatus(s.String()); got != s {
			t.Errorf("ParseStatus(%q) = %v, want %v", s.String(), got, s)
		}
	}
}

func TestArchivalTask_EnterIsMonotonic(t *testing.T) {
	task := NewTask(RepositoryDescriptor{Name: "repoA"})

	if err := task.Enter(StageMirror); err != nil {
		t.Fatalf("Enter(mirror) error = %v", err)
	}

	if task.Status != StatusRunning {
		t.Errorf("Status = %v, want RUNNING", task.Status)
	}

	if err := task.Enter(StageBundle); err != nil {
		t.Fatalf("Enter(bundle) error = %v", err)
	}

	err := task.Enter(StageMirror)
	if !errors.Is(err, ErrStageRegression) {
		t.Fatalf("Enter(mirror) after bundle error = %v, want ErrStageRegression", err)
	}

	if task.StageReached != StageBundle {
		t.Errorf("StageReached = %s, want bundle", task.StageReached)
	}
}

func TestArchivalTask_FinalizeOnce(t *testing.T) {
	task := NewTask(RepositoryDescriptor{Name: "repoA"})
	_ = task.Enter(StageMirror)

	if err := task.Fail(StageMirror, errors.New("network error"), "network error"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	if err := task.Succeed("x.bundle"); !errors.Is(err, ErrTaskFinalized) {
		t.Errorf("Succeed() after Fail error = %v, want ErrTaskFinalized", err)
	}

	if err := task.Enter(StageBundle); !errors.Is(err, ErrTaskFinalized) {
		t.Errorf("Enter() after Fail error = %v, want ErrTaskFinalized", err)
	}

	if task.FailedStage != StageMirror || task.StageReached != StageMirror {
		t.Errorf("FailedStage = %s, StageReached = %s, want mirror/mirror", task.FailedStage, task.StageReached)
	}

	if got := task.Message(); got != "mirror failed: network error" {
		t.Errorf("Message() = %q", got)
	}
}

func TestArchivalTask_Skip(t *testing.T) {
	task := NewTask(RepositoryDescriptor{Name: "repoA"})

	if err := task.Skip(SkipReasonArtifactExists, "bundles/repoA.zip"); err != nil {
		t.Fatalf("Skip() error = %v", err)
	}

	if task.StageReached != StageDiscover {
		t.Errorf("StageReached = %s, want discover", task.StageReached)
	}

	if !task.Status.Terminal() {
		t.Error("skipped task should be terminal")
	}

	rec := task.Record("run-1", "https://tfs/repoA")
	if rec.Status != "SKIPPED" || rec.SkipReason != "artifact exists" || rec.FailedStage != "" {
		t.Errorf("Record() = %+v", rec)
	}
}

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"repoA", "repoA"},
		{"My Repo", "My_Repo"},
		{"web/api", "web_api"},
		{"  spaced  ", "spaced"},
		{"release-1.0_x", "release-1.0_x"},
		{"Проект", "Проект"},
		{"***", "repo"},
		{"", "repo"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SafeFilename(tt.in); got != tt.want {
				t.Errorf("SafeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRepositoryDescriptor_BranchHint(t *testing.T) {
	if got := (RepositoryDescriptor{DefaultBranch: "refs/heads/develop"}).BranchHint(); got != "develop" {
		t.Errorf("BranchHint() = %q, want develop", got)
	}

	if got := (RepositoryDescriptor{}).BranchHint(); got != "master" {
		t.Errorf("BranchHint() = %q, want master", got)
	}
}
