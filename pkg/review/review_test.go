package review

import (
	"errors"
	"testing"

	"loanflow/pkg/domain"
)

func TestUploadAlwaysResetsToPending(t *testing.T) {
	for _, current := range []domain.DocumentStatus{domain.StatusPending, domain.StatusApproved, domain.StatusRejected} {
		next, err := Next(current, ActionUpload)
		if err != nil {
			t.Fatalf("upload from %s: %v", current, err)
		}
		if next != domain.StatusPending {
			t.Fatalf("upload from %s: expected pending, got %s", current, next)
		}
	}
}

func TestReviewerTransitionsAreAlwaysLegal(t *testing.T) {
	cases := []struct {
		current domain.DocumentStatus
		action  Action
		want    domain.DocumentStatus
	}{
		{domain.StatusPending, ActionApprove, domain.StatusApproved},
		{domain.StatusRejected, ActionApprove, domain.StatusApproved},
		{domain.StatusApproved, ActionApprove, domain.StatusApproved},
		{domain.StatusPending, ActionReject, domain.StatusRejected},
		{domain.StatusApproved, ActionReject, domain.StatusRejected},
		{domain.StatusRejected, ActionReject, domain.StatusRejected},
	}
	for _, tc := range cases {
		next, err := Next(tc.current, tc.action)
		if err != nil {
			t.Fatalf("%s from %s: %v", tc.action, tc.current, err)
		}
		if next != tc.want {
			t.Fatalf("%s from %s: expected %s, got %s", tc.action, tc.current, tc.want, next)
		}
	}
}

func TestCommentNeverChangesStatus(t *testing.T) {
	for _, current := range []domain.DocumentStatus{domain.StatusPending, domain.StatusApproved, domain.StatusRejected} {
		next, err := Next(current, ActionComment)
		if err != nil {
			t.Fatalf("comment from %s: %v", current, err)
		}
		if next != current {
			t.Fatalf("comment from %s changed status to %s", current, next)
		}
	}
}

func TestUnknownActionIsInvalid(t *testing.T) {
	if _, err := Next(domain.StatusPending, Action("archive")); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got: %v", err)
	}
}

func TestActionForStatus(t *testing.T) {
	action, err := ActionForStatus(domain.StatusApproved)
	if err != nil || action != ActionApprove {
		t.Fatalf("expected approve action, got %s (%v)", action, err)
	}
	action, err = ActionForStatus(domain.StatusRejected)
	if err != nil || action != ActionReject {
		t.Fatalf("expected reject action, got %s (%v)", action, err)
	}
	if _, err := ActionForStatus(domain.StatusPending); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for pending target, got: %v", err)
	}
}
