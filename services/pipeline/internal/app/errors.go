package app

import "errors"

var (
	// ErrCategoryMismatch indicates an upload targeting an existing document
	// under a different loan or category. Categories are immutable after
	// creation; re-categorizing means creating a new document.
	ErrCategoryMismatch = errors.New("document does not belong to this loan and category")
	// ErrNoVersions indicates a document with an empty version history,
	// which the store contracts make impossible through the normal flow.
	ErrNoVersions = errors.New("document has no versions")
)
