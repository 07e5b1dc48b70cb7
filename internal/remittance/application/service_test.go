package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	duesdomain "github.com/wyfcoding/unionfinance/internal/dues/domain"
	"github.com/wyfcoding/unionfinance/internal/dues/infrastructure/persistence/memory"
	"github.com/wyfcoding/unionfinance/internal/remittance/domain"
	"github.com/wyfcoding/unionfinance/internal/remittance/infrastructure"
	"github.com/wyfcoding/unionfinance/pkg/db"
	"github.com/wyfcoding/unionfinance/pkg/lock"
	"github.com/wyfcoding/unionfinance/pkg/mq"
	"github.com/wyfcoding/unionfinance/pkg/utils"
)

const reconciledTopic = "remittance.reconciled"

var (
	marchStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	marchEnd   = time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	paidOn     = time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	transactions *memory.TransactionRepository
	publisher    *mq.MemoryPublisher
	svc          *ReconciliationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	transactions := memory.NewTransactionRepository()
	return newFixtureWith(t, transactions, transactions)
}

func newFixtureWith(t *testing.T, transactions *memory.TransactionRepository, repo duesdomain.TransactionRepository) *fixture {
	t.Helper()
	f := &fixture{
		transactions: transactions,
		publisher:    mq.NewMemoryPublisher(),
	}
	f.svc = NewReconciliationService(
		infrastructure.NewMemoryRemittanceRepository(),
		repo,
		db.NopTransactor{},
		lock.NewLocalLocker(),
		f.publisher,
		infrastructure.NewSheetParser(),
		utils.MustIDGenerator(1),
		Config{Tolerance: domain.DefaultTolerance, SubmittedTopic: "remittance.submitted", ReconciledTopic: reconciledTopic},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		nil,
	)
	return f
}

func (f *fixture) seed(t *testing.T, txns ...*duesdomain.DuesTransaction) {
	t.Helper()
	if err := f.transactions.SaveBatch(context.Background(), txns); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}
}

func pending(id, member, amount string) *duesdomain.DuesTransaction {
	return &duesdomain.DuesTransaction{
		TransactionID:  id,
		MemberID:       member,
		OrganizationID: "org-1",
		EmployerID:     "emp-1",
		PeriodStart:    marchStart,
		PeriodEnd:      marchEnd,
		Amount:         dec(amount),
		Status:         duesdomain.TransactionPending,
	}
}

func submit(declared string, lines ...domain.RecordLine) SubmitRequest {
	return SubmitRequest{
		EmployerID:     "emp-1",
		OrganizationID: "org-1",
		TotalAmount:    dec(declared),
		MemberCount:    len(lines),
		PeriodStart:    marchStart,
		PeriodEnd:      marchEnd,
		RemittanceDate: paidOn,
		Records:        lines,
	}
}

func line(member, amount string) domain.RecordLine {
	return domain.RecordLine{MemberID: member, Amount: dec(amount)}
}

func TestReconcileMarksTransactionsPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, pending("T1", "m-1", "600"), pending("T2", "m-2", "350"))

	rem, err := f.svc.SubmitRemittance(ctx, submit("1000", line("m-1", "600"), line("m-2", "400")))
	if err != nil {
		t.Fatalf("SubmitRemittance failed: %v", err)
	}
	report, err := f.svc.Reconcile(ctx, rem.RemittanceID)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if report.Status != domain.StatusVarianceDetected || !report.TotalVariance.Equal(dec("50")) {
		t.Errorf("status %s variance %s, want variance_detected 50", report.Status, report.TotalVariance)
	}

	for _, id := range []string{"T1", "T2"} {
		txn, err := f.transactions.GetByTransactionID(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if txn.Status != duesdomain.TransactionPaid || txn.RemittanceID != rem.RemittanceID || !txn.PaidDate.Equal(paidOn) {
			t.Errorf("%s not persisted as paid: %+v", id, txn)
		}
	}

	view, err := f.svc.GetRemittance(ctx, rem.RemittanceID)
	if err != nil {
		t.Fatalf("GetRemittance failed: %v", err)
	}
	if view.ReconciliationStatus != domain.StatusVarianceDetected || len(view.PaidTransactionIDs) != 2 {
		t.Errorf("unexpected view %+v", view)
	}

	msgs := f.publisher.Messages(reconciledTopic)
	if len(msgs) != 1 {
		t.Fatalf("published %d reconciled events, want 1", len(msgs))
	}
	var ev domain.ReconciledEvent
	if err := msgs[0].UnmarshalPayload(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.RemittanceID != rem.RemittanceID || ev.MatchedCount != 2 || !ev.TotalVariance.Equal(dec("50")) {
		t.Errorf("unexpected event %+v", ev)
	}
	if len(f.publisher.Messages("remittance.submitted")) != 1 {
		t.Error("expected one submitted event")
	}
}

func TestReconcileRerunAndReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, pending("T1", "m-1", "600"), pending("T2", "m-2", "350"))

	rem, err := f.svc.SubmitRemittance(ctx, submit("1000", line("m-1", "600"), line("m-2", "400")))
	if err != nil {
		t.Fatal(err)
	}
	first, err := f.svc.Reconcile(ctx, rem.RemittanceID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.Reconcile(ctx, rem.RemittanceID)
	if err != nil {
		t.Fatalf("rerun of variance_detected remittance failed: %v", err)
	}
	if !first.TotalVariance.Equal(second.TotalVariance) || len(second.Applied) != 0 {
		t.Errorf("rerun changed result: first %s second %s applied %v", first.TotalVariance, second.TotalVariance, second.Applied)
	}

	exact, err := f.svc.SubmitRemittance(ctx, submit("0"))
	if err == nil {
		t.Fatalf("expected invalid remittance without records, got %+v", exact)
	}
	if !errors.Is(err, domain.ErrInvalidRemittance) {
		t.Errorf("expected ErrInvalidRemittance, got %v", err)
	}

	f.seed(t, pending("T3", "m-3", "200"))
	ok, err := f.svc.SubmitRemittance(ctx, submit("200", line("m-3", "200")))
	if err != nil {
		t.Fatal(err)
	}
	if report, err := f.svc.Reconcile(ctx, ok.RemittanceID); err != nil || report.Status != domain.StatusReconciled {
		t.Fatalf("want reconciled, got %v %v", report, err)
	}
	_, err = f.svc.Reconcile(ctx, ok.RemittanceID)
	var already *domain.AlreadyReconciledError
	if !errors.As(err, &already) {
		t.Fatalf("expected AlreadyReconciledError, got %v", err)
	}

	if _, err := f.svc.Reconcile(ctx, "REM-missing"); !errors.Is(err, domain.ErrRemittanceNotFound) {
		t.Errorf("expected ErrRemittanceNotFound, got %v", err)
	}
}

func TestConcurrentReconcileNeverDoublePays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, pending("T1", "m-1", "100"), pending("T2", "m-2", "100"))

	const n = 8
	ids := make([]string, n)
	for i := range ids {
		rem, err := f.svc.SubmitRemittance(ctx, submit("200", line("m-1", "100"), line("m-2", "100")))
		if err != nil {
			t.Fatal(err)
		}
		ids[i] = rem.RemittanceID
	}

	reports := make([]*domain.Report, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i], errs[i] = f.svc.Reconcile(ctx, ids[i])
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, r := range reports {
		if errs[i] != nil {
			t.Fatalf("Reconcile(%s) failed: %v", ids[i], errs[i])
		}
		switch r.Status {
		case domain.StatusReconciled:
			winners++
			if len(r.Applied) != 2 {
				t.Errorf("winner applied %v", r.Applied)
			}
		case domain.StatusNeedsReview:
			for _, u := range r.UnmatchedRecords {
				if u.Reason != domain.ReasonDuplicatePayment {
					t.Errorf("loser reason %s, want duplicate_payment", u.Reason)
				}
			}
		default:
			t.Errorf("unexpected status %s", r.Status)
		}
	}
	if winners != 1 {
		t.Fatalf("%d remittances paid the same transactions, want 1", winners)
	}

	var paidBy string
	for _, id := range []string{"T1", "T2"} {
		txn, err := f.transactions.GetByTransactionID(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if paidBy == "" {
			paidBy = txn.RemittanceID
		}
		if txn.Status != duesdomain.TransactionPaid || txn.RemittanceID != paidBy {
			t.Errorf("%s paid by %s, want %s", id, txn.RemittanceID, paidBy)
		}
	}
}

// lateBilling 在首次列出雇主账单后插入一笔新账单，模拟对账加锁前并发出账
type lateBilling struct {
	*memory.TransactionRepository
	late *duesdomain.DuesTransaction
}

func (r *lateBilling) ListForEmployer(ctx context.Context, employerID string, start, end time.Time) ([]*duesdomain.DuesTransaction, error) {
	txns, err := r.TransactionRepository.ListForEmployer(ctx, employerID, start, end)
	if err != nil || r.late == nil {
		return txns, err
	}
	late := r.late
	r.late = nil
	if err := r.TransactionRepository.SaveBatch(ctx, []*duesdomain.DuesTransaction{late}); err != nil {
		return nil, err
	}
	return txns, nil
}

func TestReconcileIncludesTransactionBilledBeforeLock(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewTransactionRepository()
	repo := &lateBilling{TransactionRepository: inner}
	f := newFixtureWith(t, inner, repo)
	f.seed(t, pending("T1", "m-1", "600"))

	rem, err := f.svc.SubmitRemittance(ctx, submit("1000", line("m-1", "600"), line("m-9", "400")))
	if err != nil {
		t.Fatalf("SubmitRemittance failed: %v", err)
	}
	repo.late = pending("T9", "m-9", "400")

	report, err := f.svc.Reconcile(ctx, rem.RemittanceID)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(report.Matches) != 2 || len(report.UnmatchedRecords) != 0 {
		t.Errorf("matched %d, unmatched %d, want 2 and 0", len(report.Matches), len(report.UnmatchedRecords))
	}
	txn, err := f.transactions.GetByTransactionID(ctx, "T9")
	if err != nil {
		t.Fatal(err)
	}
	if txn.Status != duesdomain.TransactionPaid || txn.RemittanceID != rem.RemittanceID {
		t.Errorf("T9 not paid by %s: %+v", rem.RemittanceID, txn)
	}
}

func TestMissingCandidates(t *testing.T) {
	tests := []struct {
		name            string
		locked, current []string
		want            int
	}{
		{"unchanged", []string{"a", "b"}, []string{"b", "a"}, 0},
		{"shrunk", []string{"a", "b"}, []string{"a"}, 0},
		{"grown", []string{"a"}, []string{"a", "b", "c"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := missing(tt.locked, tt.current); len(got) != tt.want {
				t.Errorf("missing = %v, want %d ids", got, tt.want)
			}
		})
	}
}

func TestUnreconcileAndComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, pending("T1", "m-1", "600"))

	rem, err := f.svc.SubmitRemittance(ctx, submit("600", line("m-1", "600")))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Complete(ctx, rem.RemittanceID); !errors.Is(err, domain.ErrNotReconciled) {
		t.Errorf("Complete on pending: want ErrNotReconciled, got %v", err)
	}
	if _, err := f.svc.Reconcile(ctx, rem.RemittanceID); err != nil {
		t.Fatal(err)
	}

	back, err := f.svc.Unreconcile(ctx, rem.RemittanceID)
	if err != nil {
		t.Fatalf("Unreconcile failed: %v", err)
	}
	if back.ReconciliationStatus != domain.StatusPending {
		t.Errorf("status after unreconcile = %s", back.ReconciliationStatus)
	}
	txn, _ := f.transactions.GetByTransactionID(ctx, "T1")
	if txn.Status != duesdomain.TransactionPending || txn.RemittanceID != "" || txn.PaidDate != nil {
		t.Errorf("T1 not reverted: %+v", txn)
	}

	if _, err := f.svc.Reconcile(ctx, rem.RemittanceID); err != nil {
		t.Fatal(err)
	}
	done, err := f.svc.Complete(ctx, rem.RemittanceID)
	if err != nil || done.ReconciliationStatus != domain.StatusCompleted {
		t.Fatalf("Complete: %v %v", done, err)
	}
	if _, err := f.svc.Unreconcile(ctx, rem.RemittanceID); !errors.Is(err, domain.ErrRemittanceClosed) {
		t.Errorf("Unreconcile on completed: want ErrRemittanceClosed, got %v", err)
	}
}

func TestImportRemittance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, pending("T1", "m-1", "125.50"), pending("T2", "m-2", "74.50"))

	csv := "member_id,amount\nm-1,125.50\nm-2,74.50\n"
	req := submit("0")
	req.MemberCount = 0
	rem, err := f.svc.ImportRemittance(ctx, req, "march.csv", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ImportRemittance failed: %v", err)
	}
	if !rem.TotalAmount.Equal(dec("200")) || rem.MemberCount != 2 || len(rem.Records) != 2 {
		t.Errorf("unexpected imported remittance %+v", rem)
	}
	report, err := f.svc.Reconcile(ctx, rem.RemittanceID)
	if err != nil || report.Status != domain.StatusReconciled {
		t.Fatalf("want reconciled, got %v %v", report, err)
	}

	if _, err := f.svc.ImportRemittance(ctx, submit("0"), "march.csv", strings.NewReader("member_id\nm-1\n")); !errors.Is(err, domain.ErrInvalidRemittance) {
		t.Errorf("expected ErrInvalidRemittance for bad sheet, got %v", err)
	}
}
