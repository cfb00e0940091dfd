package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"loanflow/pkg/catalog"
	"loanflow/pkg/domain"
	"loanflow/pkg/events"
	"loanflow/pkg/review"
	"loanflow/pkg/store"
	"loanflow/services/pipeline/internal/config"
)

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (f *fakeObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeObjectStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[key]; !ok {
		return "", errors.New("object not found")
	}
	return "https://storage.test/" + key, nil
}

func (f *fakeObjectStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeObjectStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func newTestApp(t *testing.T) (*App, *fakeObjectStore, *recordingPublisher) {
	t.Helper()
	objects := newFakeObjectStore()
	publisher := &recordingPublisher{}
	a, err := New(Config{
		File:    config.FileConfig{},
		Store:   store.NewMemoryStore(),
		Objects: objects,
		Events:  publisher,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, objects, publisher
}

func upload(t *testing.T, ctrl *StageController, in UploadInput) domain.Document {
	t.Helper()
	if in.Body == nil {
		in.Body = strings.NewReader("file contents")
		in.SizeBytes = int64(len("file contents"))
	}
	doc, err := ctrl.UploadDocument(context.Background(), in)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return doc
}

func TestUploadReviewProgressFlow(t *testing.T) {
	a, objects, publisher := newTestApp(t)
	ctx := context.Background()
	ctrl, err := a.Stage(domain.StageEscrow, "loan-100")
	if err != nil {
		t.Fatalf("stage controller: %v", err)
	}

	doc := upload(t, ctrl, UploadInput{
		Category:   "escrow-instructions",
		FileName:   "instructions.pdf",
		UploadedBy: "processor-1",
	})
	if doc.Status != review.Initial {
		t.Fatalf("new document should be pending, got %s", doc.Status)
	}
	if objects.count() != 1 {
		t.Fatalf("expected one stored object, got %d", objects.count())
	}

	prog, err := ctrl.Progress()
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if prog.RequiredSatisfied != 0 {
		t.Fatalf("pending document should not satisfy its category")
	}

	approved, err := ctrl.SetStatus(ctx, doc.ID, domain.StatusApproved, "escrow-officer")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != domain.StatusApproved {
		t.Fatalf("expected approved, got %s", approved.Status)
	}

	prog, err = ctrl.Progress()
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if prog.RequiredSatisfied != 1 {
		t.Fatalf("approved document should satisfy its category, got %d", prog.RequiredSatisfied)
	}

	// A new version supersedes the approval.
	reuploaded := upload(t, ctrl, UploadInput{
		DocumentID: doc.ID,
		Category:   "escrow-instructions",
		FileName:   "instructions-v2.pdf",
		UploadedBy: "processor-1",
	})
	if reuploaded.Status != domain.StatusPending {
		t.Fatalf("new version should reset to pending, got %s", reuploaded.Status)
	}
	if len(reuploaded.Versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(reuploaded.Versions))
	}
	prog, err = ctrl.Progress()
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if prog.RequiredSatisfied != 0 {
		t.Fatalf("superseded approval should no longer satisfy")
	}

	got := publisher.types()
	want := []string{
		events.TypeDocumentUploaded,
		events.TypeDocumentApproved,
		events.TypeDocumentUploaded,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestUploadRejectsWrongCategory(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctrl, err := a.Stage(domain.StageBorrower, "loan-100")
	if err != nil {
		t.Fatalf("stage controller: %v", err)
	}

	_, err = ctrl.UploadDocument(context.Background(), UploadInput{
		Category: "prelim-title-report",
		FileName: "report.pdf",
		Body:     strings.NewReader("x"),
	})
	if !errors.Is(err, catalog.ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory for title category on borrower stage, got %v", err)
	}

	doc := upload(t, ctrl, UploadInput{Category: "photo-id", FileName: "id.png"})
	_, err = ctrl.UploadDocument(context.Background(), UploadInput{
		DocumentID: doc.ID,
		Category:   "bank-statements",
		FileName:   "statement.pdf",
		Body:       strings.NewReader("x"),
	})
	if !errors.Is(err, ErrCategoryMismatch) {
		t.Fatalf("expected ErrCategoryMismatch, got %v", err)
	}
}

func TestUploadUnknownDocumentID(t *testing.T) {
	a, objects, _ := newTestApp(t)
	ctrl, err := a.Stage(domain.StageBorrower, "loan-100")
	if err != nil {
		t.Fatalf("stage controller: %v", err)
	}
	_, err = ctrl.UploadDocument(context.Background(), UploadInput{
		DocumentID: "missing-doc",
		Category:   "photo-id",
		FileName:   "id.png",
		Body:       strings.NewReader("x"),
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown document id, got %v", err)
	}
	if objects.count() != 0 {
		t.Fatalf("no object should be stored for a rejected upload")
	}
}

func TestSetStatusInvalidTransition(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()
	ctrl, err := a.Stage(domain.StageUnderwriting, "loan-100")
	if err != nil {
		t.Fatalf("stage controller: %v", err)
	}
	doc := upload(t, ctrl, UploadInput{Category: "appraisal-report", FileName: "appraisal.pdf"})
	if _, err := ctrl.SetStatus(ctx, doc.ID, domain.StatusPending, "underwriter"); err == nil {
		t.Fatalf("expected pending to be rejected as a reviewer decision")
	}
	if _, err := ctrl.SetStatus(ctx, "absent", domain.StatusApproved, "underwriter"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing document, got %v", err)
	}
}

func TestCommentsDoNotAffectStatusOrProgress(t *testing.T) {
	a, _, publisher := newTestApp(t)
	ctx := context.Background()
	ctrl, err := a.Stage(domain.StageTitle, "loan-100")
	if err != nil {
		t.Fatalf("stage controller: %v", err)
	}
	doc := upload(t, ctrl, UploadInput{Category: "prelim-title-report", FileName: "prelim.pdf"})
	rejected, err := ctrl.SetStatus(ctx, doc.ID, domain.StatusRejected, "title-officer")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	commented, err := ctrl.AddComment(ctx, rejected.ID, "title-officer", "legal description does not match the plat map")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if commented.Status != domain.StatusRejected {
		t.Fatalf("comment should not change status, got %s", commented.Status)
	}
	if len(commented.Comments) != 1 {
		t.Fatalf("expected one comment, got %d", len(commented.Comments))
	}
	if _, err := ctrl.AddComment(ctx, doc.ID, "title-officer", "   "); err == nil {
		t.Fatalf("expected empty comment body to be rejected")
	}
	types := publisher.types()
	if types[len(types)-1] != events.TypeDocumentCommented {
		t.Fatalf("expected commented event last, got %v", types)
	}
}

func TestDeleteDocumentRemovesStoredObjects(t *testing.T) {
	a, objects, publisher := newTestApp(t)
	ctx := context.Background()
	ctrl, err := a.Stage(domain.StagePostFunding, "loan-100")
	if err != nil {
		t.Fatalf("stage controller: %v", err)
	}
	doc := upload(t, ctrl, UploadInput{Category: "recorded-deed", FileName: "deed.pdf"})
	upload(t, ctrl, UploadInput{DocumentID: doc.ID, Category: "recorded-deed", FileName: "deed-corrected.pdf"})
	if objects.count() != 2 {
		t.Fatalf("expected 2 stored objects, got %d", objects.count())
	}

	if err := ctrl.DeleteDocument(ctx, doc.ID, "post-closer"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if objects.count() != 0 {
		t.Fatalf("delete should remove all version objects, %d remain", objects.count())
	}
	if _, ok, _ := a.GetDocument(doc.ID); ok {
		t.Fatalf("document should be gone")
	}
	if err := ctrl.DeleteDocument(ctx, doc.ID, "post-closer"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	types := publisher.types()
	if types[len(types)-1] != events.TypeDocumentDeleted {
		t.Fatalf("expected deleted event last, got %v", types)
	}
}

func TestControllerScopesDocumentsToStageAndLoan(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()
	borrower, _ := a.Stage(domain.StageBorrower, "loan-100")
	doc := upload(t, borrower, UploadInput{Category: "photo-id", FileName: "id.png"})

	otherLoan, _ := a.Stage(domain.StageBorrower, "loan-200")
	if _, err := otherLoan.SetStatus(ctx, doc.ID, domain.StatusApproved, "reviewer"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("other loan's controller must not see the document, got %v", err)
	}
	otherStage, _ := a.Stage(domain.StageEscrow, "loan-100")
	if err := otherStage.DeleteDocument(ctx, doc.ID, "reviewer"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("other stage's controller must not see the document, got %v", err)
	}
}

func TestControllerByDocumentID(t *testing.T) {
	a, _, _ := newTestApp(t)
	borrower, _ := a.Stage(domain.StageBorrower, "loan-100")
	doc := upload(t, borrower, UploadInput{Category: "tax-returns", FileName: "returns-2025.pdf"})

	ctrl, found, err := a.Controller(doc.ID)
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	if found.ID != doc.ID || ctrl.stage != domain.StageBorrower || ctrl.loanID != "loan-100" {
		t.Fatalf("controller bound to wrong stage or loan: %s %s", ctrl.stage, ctrl.loanID)
	}
	if _, _, err := a.Controller("absent"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDownloadURL(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()
	ctrl, _ := a.Stage(domain.StageBorrower, "loan-100")
	doc := upload(t, ctrl, UploadInput{Category: "bank-statements", FileName: "jan.pdf"})
	doc = upload(t, ctrl, UploadInput{DocumentID: doc.ID, Category: "bank-statements", FileName: "feb.pdf"})

	url, fileName, err := a.DownloadURL(ctx, doc.ID, "")
	if err != nil {
		t.Fatalf("download current: %v", err)
	}
	if fileName != "feb.pdf" || !strings.Contains(url, "https://storage.test/") {
		t.Fatalf("expected current version url, got %q %q", url, fileName)
	}

	first := doc.Versions[0]
	_, fileName, err = a.DownloadURL(ctx, doc.ID, first.ID)
	if err != nil {
		t.Fatalf("download version: %v", err)
	}
	if fileName != "jan.pdf" {
		t.Fatalf("expected first version file, got %q", fileName)
	}

	if _, _, err := a.DownloadURL(ctx, doc.ID, "absent-version"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown version, got %v", err)
	}
	if _, _, err := a.DownloadURL(ctx, "absent-doc", ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown document, got %v", err)
	}
}

func TestLoanProgressCoversAllStages(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()
	ctrl, _ := a.Stage(domain.StageBorrower, "loan-100")
	doc := upload(t, ctrl, UploadInput{Category: "photo-id", FileName: "id.png"})
	if _, err := ctrl.SetStatus(ctx, doc.ID, domain.StatusApproved, "reviewer"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	lp, err := a.LoanProgress(ctx, "loan-100")
	if err != nil {
		t.Fatalf("loan progress: %v", err)
	}
	if len(lp.Stages) != len(domain.Stages) {
		t.Fatalf("expected %d stages, got %d", len(domain.Stages), len(lp.Stages))
	}
	var borrower domain.StageProgress
	for _, sp := range lp.Stages {
		if sp.Stage == domain.StageBorrower {
			borrower = sp
		}
	}
	if borrower.RequiredSatisfied != 1 {
		t.Fatalf("unexpected borrower stage progress: %+v", borrower)
	}
}

func TestStageValidation(t *testing.T) {
	a, _, _ := newTestApp(t)
	if _, err := a.Stage(domain.Stage("servicing"), "loan-100"); err == nil {
		t.Fatalf("expected unknown stage to fail")
	}
	if _, err := a.Stage(domain.StageBorrower, "  "); err == nil {
		t.Fatalf("expected blank loan id to fail")
	}
}
