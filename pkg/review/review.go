// Package review governs legal transitions of a document's review status.
package review

import (
	"errors"
	"fmt"

	"loanflow/pkg/domain"
)

// ErrInvalidTransition reports an action or target status the state
// machine does not accept.
var ErrInvalidTransition = errors.New("invalid transition")

// Action is a reviewer or uploader operation on a document.
type Action string

const (
	ActionUpload  Action = "upload_new_version"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionComment Action = "comment"
)

// Initial is the status of a document on first upload.
const Initial = domain.StatusPending

// Next returns the status a document moves to when an action is applied.
// A new upload always resets to pending: the file has not been seen by a
// reviewer, so presenting it as still-approved would be unsafe. Comments
// never change status.
func Next(current domain.DocumentStatus, action Action) (domain.DocumentStatus, error) {
	switch action {
	case ActionUpload:
		return domain.StatusPending, nil
	case ActionApprove:
		return domain.StatusApproved, nil
	case ActionReject:
		return domain.StatusRejected, nil
	case ActionComment:
		return current, nil
	}
	return current, fmt.Errorf("%w: unknown action %q from %q", ErrInvalidTransition, action, current)
}

// ActionForStatus maps a requested target status to the reviewer action
// that produces it.
func ActionForStatus(status domain.DocumentStatus) (Action, error) {
	switch status {
	case domain.StatusApproved:
		return ActionApprove, nil
	case domain.StatusRejected:
		return ActionReject, nil
	}
	return "", fmt.Errorf("%w: no reviewer action sets status %q", ErrInvalidTransition, status)
}
