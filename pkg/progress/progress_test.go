package progress

import (
	"context"
	"testing"
	"time"

	"loanflow/pkg/catalog"
	"loanflow/pkg/domain"
	"loanflow/pkg/store"
)

func testCategories() []domain.Category {
	return []domain.Category{
		{ID: "a", DisplayName: "A", Required: true, Stage: domain.StageBorrower},
		{ID: "b", DisplayName: "B", Required: true, Stage: domain.StageBorrower},
		{ID: "c", DisplayName: "C", Required: false, Stage: domain.StageBorrower},
	}
}

func doc(id, category string, status domain.DocumentStatus) domain.Document {
	return domain.Document{
		ID:       id,
		LoanID:   "loan-1",
		Stage:    domain.StageBorrower,
		Category: category,
		Status:   status,
		Versions: []domain.Version{{ID: id + "-v1", FileName: id + ".pdf", UploadedAt: time.Now().UTC()}},
	}
}

func TestComputeScenario(t *testing.T) {
	cats := testCategories()

	// One file in A, approved.
	sp := Compute(domain.StageBorrower, cats, []domain.Document{doc("d1", "a", domain.StatusApproved)})
	if sp.RequiredTotal != 2 || sp.RequiredSatisfied != 1 || sp.Percentage != 50 {
		t.Fatalf("after approving A: %+v", sp)
	}

	// New version uploaded to A's document: status resets to pending.
	sp = Compute(domain.StageBorrower, cats, []domain.Document{doc("d1", "a", domain.StatusPending)})
	if sp.RequiredSatisfied != 0 || sp.Percentage != 0 {
		t.Fatalf("after re-upload to A: %+v", sp)
	}

	// Approve again, then approve a file in B.
	sp = Compute(domain.StageBorrower, cats, []domain.Document{
		doc("d1", "a", domain.StatusApproved),
		doc("d2", "b", domain.StatusApproved),
	})
	if sp.RequiredSatisfied != 2 || sp.Percentage != 100 {
		t.Fatalf("after approving A and B: %+v", sp)
	}

	// Uploads to optional C never change the percentage.
	sp = Compute(domain.StageBorrower, cats, []domain.Document{
		doc("d1", "a", domain.StatusApproved),
		doc("d2", "b", domain.StatusApproved),
		doc("d3", "c", domain.StatusPending),
	})
	if sp.Percentage != 100 {
		t.Fatalf("optional category affected percentage: %+v", sp)
	}
}

func TestComputeZeroRequiredIsDivisionSafe(t *testing.T) {
	cats := []domain.Category{{ID: "c", Required: false, Stage: domain.StageEscrow}}
	sp := Compute(domain.StageEscrow, cats, nil)
	if sp.RequiredTotal != 0 || sp.Percentage != 0 {
		t.Fatalf("zero required categories: %+v", sp)
	}
	sp = Compute(domain.StageEscrow, nil, nil)
	if sp.Percentage != 0 {
		t.Fatalf("empty catalog stage: %+v", sp)
	}
}

func TestComputeRejectedNeverSatisfies(t *testing.T) {
	cats := testCategories()
	sp := Compute(domain.StageBorrower, cats, []domain.Document{doc("d1", "a", domain.StatusRejected)})
	if sp.RequiredSatisfied != 0 {
		t.Fatalf("rejected document satisfied a category: %+v", sp)
	}
	state := sp.Categories[0]
	if !state.HasDocument || !state.IsRejected || state.IsPending || state.IsApproved {
		t.Fatalf("rejected-only category state: %+v", state)
	}
}

func TestComputeCategoryStates(t *testing.T) {
	cats := testCategories()
	sp := Compute(domain.StageBorrower, cats, []domain.Document{
		doc("d1", "a", domain.StatusApproved),
		doc("d2", "a", domain.StatusRejected), // second document in A, rejected
		doc("d3", "b", domain.StatusPending),
	})

	a := sp.Categories[0]
	if !a.IsApproved || a.IsRejected || a.IsPending {
		t.Fatalf("category A should read approved: %+v", a)
	}
	b := sp.Categories[1]
	if !b.HasDocument || !b.IsPending || b.IsApproved || b.IsRejected {
		t.Fatalf("category B should read pending: %+v", b)
	}
	c := sp.Categories[2]
	if c.HasDocument || c.IsPending || c.IsApproved || c.IsRejected {
		t.Fatalf("category C should read empty: %+v", c)
	}

	// Approved elsewhere in the category still satisfies it.
	if sp.RequiredSatisfied != 1 {
		t.Fatalf("expected A satisfied: %+v", sp)
	}
}

func TestComputeRounding(t *testing.T) {
	cats := []domain.Category{
		{ID: "a", Required: true, Stage: domain.StageTitle},
		{ID: "b", Required: true, Stage: domain.StageTitle},
		{ID: "c", Required: true, Stage: domain.StageTitle},
	}
	sp := Compute(domain.StageTitle, cats, []domain.Document{doc("d1", "a", domain.StatusApproved)})
	if sp.Percentage != 33 {
		t.Fatalf("1/3 should round to 33, got %d", sp.Percentage)
	}
	sp = Compute(domain.StageTitle, cats, []domain.Document{
		doc("d1", "a", domain.StatusApproved),
		doc("d2", "b", domain.StatusApproved),
	})
	if sp.Percentage != 67 {
		t.Fatalf("2/3 should round to 67, got %d", sp.Percentage)
	}
}

func TestAggregatorMemoInvalidation(t *testing.T) {
	mem := store.NewMemoryStore()
	cat, err := catalog.New(testCategories())
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	agg := NewAggregator(mem, cat)

	d := doc("d1", "a", domain.StatusPending)
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt
	if err := mem.CreateDocument(d); err != nil {
		t.Fatalf("create document: %v", err)
	}

	sp, err := agg.StageProgress("loan-1", domain.StageBorrower)
	if err != nil {
		t.Fatalf("stage progress: %v", err)
	}
	if sp.RequiredSatisfied != 0 {
		t.Fatalf("pending upload satisfied a category: %+v", sp)
	}

	if _, err := mem.SetStatus("d1", domain.StatusApproved); err != nil {
		t.Fatalf("set status: %v", err)
	}
	sp, err = agg.StageProgress("loan-1", domain.StageBorrower)
	if err != nil {
		t.Fatalf("stage progress after approve: %v", err)
	}
	if sp.RequiredSatisfied != 1 || sp.Percentage != 50 {
		t.Fatalf("memo not invalidated after write: %+v", sp)
	}
}

func TestLoanProgressAndOverall(t *testing.T) {
	mem := store.NewMemoryStore()
	agg := NewAggregator(mem, catalog.Default())

	ctx := context.Background()
	lp, err := agg.LoanProgress(ctx, "loan-9")
	if err != nil {
		t.Fatalf("loan progress: %v", err)
	}
	if len(lp.Stages) != len(domain.Stages) {
		t.Fatalf("expected %d stages, got %d", len(domain.Stages), len(lp.Stages))
	}
	if lp.Overall(nil) != 0 {
		t.Fatalf("empty loan should be 0%%, got %d", lp.Overall(nil))
	}

	// Funded loans drop pre-funding stages via zero weights.
	weights := map[domain.Stage]float64{domain.StagePostFunding: 1}
	if got := lp.Overall(weights); got != 0 {
		t.Fatalf("weighted overall on empty loan: %d", got)
	}
}
