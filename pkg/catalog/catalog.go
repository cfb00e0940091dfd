package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
	"loanflow/pkg/domain"
)

var (
	// ErrUnknownStage indicates a stage with no configured categories.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrUnknownCategory indicates a category id not defined for the stage.
	ErrUnknownCategory = errors.New("unknown category")
)

// Catalog is the per-stage category configuration. It is defined once at
// boot and never changes per loan.
type Catalog struct {
	byStage map[domain.Stage][]domain.Category
}

// New builds a catalog from a flat category list. Order within a stage is
// preserved for display.
func New(categories []domain.Category) (*Catalog, error) {
	byStage := make(map[domain.Stage][]domain.Category)
	seen := make(map[string]domain.Stage)
	for _, cat := range categories {
		if strings.TrimSpace(cat.ID) == "" {
			return nil, fmt.Errorf("catalog: category with empty id (stage %q)", cat.Stage)
		}
		if _, ok := domain.ParseStage(string(cat.Stage)); !ok {
			return nil, fmt.Errorf("catalog: category %q: invalid stage %q", cat.ID, cat.Stage)
		}
		if prev, dup := seen[cat.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate category id %q (stages %q and %q)", cat.ID, prev, cat.Stage)
		}
		seen[cat.ID] = cat.Stage
		if cat.DisplayName == "" {
			cat.DisplayName = cat.ID
		}
		byStage[cat.Stage] = append(byStage[cat.Stage], cat)
	}
	return &Catalog{byStage: byStage}, nil
}

type catalogFile struct {
	Categories []domain.Category `yaml:"categories"`
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(file.Categories) == 0 {
		return nil, errors.New("catalog: no categories defined")
	}
	return New(file.Categories)
}

// CategoriesFor returns the configured categories of a stage in display
// order. Unknown stages fail so a typo cannot read as an empty stage.
func (c *Catalog) CategoriesFor(stage domain.Stage) ([]domain.Category, error) {
	cats, ok := c.byStage[stage]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}
	out := make([]domain.Category, len(cats))
	copy(out, cats)
	return out, nil
}

// Lookup returns one category of a stage by id.
func (c *Catalog) Lookup(stage domain.Stage, categoryID string) (domain.Category, error) {
	cats, ok := c.byStage[stage]
	if !ok {
		return domain.Category{}, fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}
	for _, cat := range cats {
		if cat.ID == categoryID {
			return cat, nil
		}
	}
	return domain.Category{}, fmt.Errorf("%w: %s (stage %s)", ErrUnknownCategory, categoryID, stage)
}

// IsRequired reports whether a category counts toward stage completion.
func (c *Catalog) IsRequired(stage domain.Stage, categoryID string) (bool, error) {
	cat, err := c.Lookup(stage, categoryID)
	if err != nil {
		return false, err
	}
	return cat.Required, nil
}

// Default returns the built-in lending catalog covering all five stages.
func Default() *Catalog {
	cats := []domain.Category{
		{ID: "photo-id", DisplayName: "Photo ID", Required: true, Stage: domain.StageBorrower},
		{ID: "income-verification", DisplayName: "Income Verification", Required: true, Stage: domain.StageBorrower},
		{ID: "bank-statements", DisplayName: "Bank Statements", Required: true, Stage: domain.StageBorrower},
		{ID: "tax-returns", DisplayName: "Tax Returns", Required: true, Stage: domain.StageBorrower},
		{ID: "purchase-agreement", DisplayName: "Purchase Agreement", Required: false, Stage: domain.StageBorrower},

		{ID: "escrow-instructions", DisplayName: "Escrow Instructions", Required: true, Stage: domain.StageEscrow},
		{ID: "deposit-receipt", DisplayName: "Deposit Receipt", Required: true, Stage: domain.StageEscrow},
		{ID: "estimated-settlement", DisplayName: "Estimated Settlement Statement", Required: false, Stage: domain.StageEscrow},

		{ID: "prelim-title-report", DisplayName: "Preliminary Title Report", Required: true, Stage: domain.StageTitle},
		{ID: "title-insurance", DisplayName: "Title Insurance Commitment", Required: true, Stage: domain.StageTitle},
		{ID: "plat-map", DisplayName: "Plat Map", Required: false, Stage: domain.StageTitle},

		{ID: "loan-application", DisplayName: "Loan Application", Required: true, Stage: domain.StageUnderwriting},
		{ID: "appraisal-report", DisplayName: "Appraisal Report", Required: true, Stage: domain.StageUnderwriting},
		{ID: "credit-report", DisplayName: "Credit Report", Required: true, Stage: domain.StageUnderwriting},
		{ID: "hazard-insurance", DisplayName: "Hazard Insurance", Required: false, Stage: domain.StageUnderwriting},

		{ID: "final-closing-disclosure", DisplayName: "Final Closing Disclosure", Required: true, Stage: domain.StagePostFunding},
		{ID: "recorded-deed", DisplayName: "Recorded Deed of Trust", Required: true, Stage: domain.StagePostFunding},
		{ID: "funding-confirmation", DisplayName: "Funding Confirmation", Required: false, Stage: domain.StagePostFunding},
	}
	c, err := New(cats)
	if err != nil {
		panic(err)
	}
	return c
}
