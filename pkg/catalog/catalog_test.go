package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"loanflow/pkg/domain"
)

func TestDefaultCoversAllStages(t *testing.T) {
	c := Default()
	for _, stage := range domain.Stages {
		cats, err := c.CategoriesFor(stage)
		if err != nil {
			t.Fatalf("categories for %s: %v", stage, err)
		}
		if len(cats) == 0 {
			t.Fatalf("stage %s has no categories", stage)
		}
		required := 0
		for _, cat := range cats {
			if cat.Stage != stage {
				t.Fatalf("category %s listed under wrong stage %s", cat.ID, stage)
			}
			if cat.Required {
				required++
			}
		}
		if required == 0 {
			t.Fatalf("stage %s has no required categories", stage)
		}
	}
}

func TestIsRequired(t *testing.T) {
	c := Default()
	required, err := c.IsRequired(domain.StageBorrower, "photo-id")
	if err != nil {
		t.Fatalf("is required: %v", err)
	}
	if !required {
		t.Fatalf("photo-id should be required")
	}
	required, err = c.IsRequired(domain.StageBorrower, "purchase-agreement")
	if err != nil {
		t.Fatalf("is required: %v", err)
	}
	if required {
		t.Fatalf("purchase-agreement should be optional")
	}
}

func TestIsRequiredUnknownCategory(t *testing.T) {
	c := Default()
	if _, err := c.IsRequired(domain.StageBorrower, "no-such-category"); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got: %v", err)
	}
	// A category defined for another stage is unknown here.
	if _, err := c.IsRequired(domain.StageEscrow, "photo-id"); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory for cross-stage lookup, got: %v", err)
	}
}

func TestNewRejectsDuplicatesAndBadStages(t *testing.T) {
	_, err := New([]domain.Category{
		{ID: "a", Stage: domain.StageBorrower},
		{ID: "a", Stage: domain.StageEscrow},
	})
	if err == nil {
		t.Fatalf("expected duplicate id error")
	}
	_, err = New([]domain.Category{{ID: "a", Stage: "prefunding"}})
	if err == nil {
		t.Fatalf("expected invalid stage error")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	raw := `categories:
  - id: w2-forms
    displayName: W-2 Forms
    required: true
    stage: borrower
  - id: survey
    stage: title
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	required, err := c.IsRequired(domain.StageBorrower, "w2-forms")
	if err != nil {
		t.Fatalf("is required: %v", err)
	}
	if !required {
		t.Fatalf("w2-forms should be required")
	}
	cat, err := c.Lookup(domain.StageTitle, "survey")
	if err != nil {
		t.Fatalf("lookup survey: %v", err)
	}
	if cat.Required {
		t.Fatalf("survey should default to optional")
	}
	if cat.DisplayName != "survey" {
		t.Fatalf("display name should default to id, got %q", cat.DisplayName)
	}
}
