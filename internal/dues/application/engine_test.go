package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/unionfinance/internal/dues/domain"
	"github.com/wyfcoding/unionfinance/internal/dues/infrastructure"
	"github.com/wyfcoding/unionfinance/internal/dues/infrastructure/persistence/memory"
	"github.com/wyfcoding/unionfinance/pkg/db"
	"github.com/wyfcoding/unionfinance/pkg/utils"
)

var (
	jan1  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan31 = time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

type fixture struct {
	rules        *memory.RuleRepository
	assignments  *memory.AssignmentRepository
	transactions *memory.TransactionRepository
	book         *infrastructure.RuleBook
	ruleService  *RuleService
	engine       *Engine
}

func newFixture(t *testing.T, workers int) *fixture {
	t.Helper()
	f := &fixture{
		rules:        memory.NewRuleRepository(),
		assignments:  memory.NewAssignmentRepository(),
		transactions: memory.NewTransactionRepository(),
	}
	f.book = infrastructure.NewRuleBook(f.rules, f.assignments, time.Minute)
	f.ruleService = NewRuleService(f.rules, f.assignments, db.NopTransactor{}, utils.MustIDGenerator(1), f.book, discardLogger())
	f.engine = NewEngine(f.book, workers, discardLogger(), nil)
	return f
}

func (f *fixture) percentageRule(t *testing.T, code, rate string) *domain.DuesRule {
	t.Helper()
	rule, err := f.ruleService.CreateRule(context.Background(), RuleRequest{
		RuleCode:         code,
		OrganizationID:   "org-1",
		CalculationType:  domain.CalculationPercentage,
		PercentageRate:   nd(rate),
		BaseField:        "gross_wages",
		BillingFrequency: domain.BillingMonthly,
		EffectiveFrom:    jan1,
	})
	if err != nil {
		t.Fatalf("CreateRule(%s) failed: %v", code, err)
	}
	return rule
}

func (f *fixture) assign(t *testing.T, memberID, code string) {
	t.Helper()
	if _, err := f.ruleService.AssignRule(context.Background(), AssignRequest{
		MemberID:       memberID,
		OrganizationID: "org-1",
		EmployerID:     "emp-1",
		RuleCode:       code,
	}); err != nil {
		t.Fatalf("AssignRule(%s) failed: %v", memberID, err)
	}
}

func wagesInput(memberID, wages string) domain.CalculationInput {
	in := domain.CalculationInput{MemberID: memberID, OrganizationID: "org-1", BillingPeriodStart: jan1, BillingPeriodEnd: jan31}
	if wages != "" {
		in.Facts.GrossWages = nd(wages)
	}
	return in
}

func TestCalculateMemberDues(t *testing.T) {
	f := newFixture(t, 2)
	f.percentageRule(t, "STD", "0.02")
	f.assign(t, "m-1", "STD")

	res, err := f.engine.CalculateMemberDues(context.Background(), wagesInput("m-1", "5000"))
	if err != nil {
		t.Fatalf("CalculateMemberDues failed: %v", err)
	}
	if !res.TotalAmount.Equal(decimal.RequireFromString("100")) {
		t.Errorf("TotalAmount = %s, want 100.00", res.TotalAmount)
	}

	_, err = f.engine.CalculateMemberDues(context.Background(), wagesInput("m-unknown", "5000"))
	var noRule *domain.NoActiveRuleError
	if !errors.As(err, &noRule) {
		t.Fatalf("expected NoActiveRuleError, got %v", err)
	}
}

func TestCalculateMemberDuesPicksVersionByPeriodEnd(t *testing.T) {
	f := newFixture(t, 1)
	old := f.percentageRule(t, "STD", "0.02")
	cutover := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	// 旧版本在 1 月 15 日截止，新版本从当天生效
	old.EffectiveTo = &cutover
	if err := f.rules.Save(context.Background(), old); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ruleService.CreateRule(context.Background(), RuleRequest{
		RuleCode:         "STD",
		OrganizationID:   "org-1",
		CalculationType:  domain.CalculationPercentage,
		PercentageRate:   nd("0.03"),
		BaseField:        "gross_wages",
		BillingFrequency: domain.BillingMonthly,
		EffectiveFrom:    cutover,
	}); err != nil {
		t.Fatal(err)
	}
	f.assign(t, "m-1", "STD")

	tests := []struct {
		periodEnd time.Time
		want      string
	}{
		{time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), "100"},
		{jan31, "150"},
	}
	for _, tt := range tests {
		in := wagesInput("m-1", "5000")
		in.BillingPeriodEnd = tt.periodEnd
		res, err := f.engine.CalculateMemberDues(context.Background(), in)
		if err != nil {
			t.Fatalf("period end %s: %v", tt.periodEnd.Format(time.DateOnly), err)
		}
		if !res.TotalAmount.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("period end %s: TotalAmount = %s, want %s", tt.periodEnd.Format(time.DateOnly), res.TotalAmount, tt.want)
		}
	}
}

func TestBatchCalculateDuesSimple(t *testing.T) {
	f := newFixture(t, 4)
	f.percentageRule(t, "STD", "0.02")

	var inputs []domain.CalculationInput
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("m-%02d", i)
		switch i % 4 {
		case 0:
			// 未绑定规则
			inputs = append(inputs, wagesInput(id, "1000"))
		case 1:
			f.assign(t, id, "STD")
			inputs = append(inputs, wagesInput(id, ""))
		default:
			f.assign(t, id, "STD")
			inputs = append(inputs, wagesInput(id, fmt.Sprintf("%d", 1000+i)))
		}
	}

	res, err := f.engine.BatchCalculateDuesSimple(context.Background(), inputs)
	if err != nil {
		t.Fatalf("BatchCalculateDuesSimple failed: %v", err)
	}
	if res.TotalProcessed != len(inputs) {
		t.Fatalf("TotalProcessed = %d, want %d", res.TotalProcessed, len(inputs))
	}
	if got := len(res.Successful) + len(res.Failed); got != res.TotalProcessed {
		t.Fatalf("successful+failed = %d, want %d", got, res.TotalProcessed)
	}
	if len(res.Successful) != 20 || len(res.Failed) != 20 {
		t.Fatalf("got %d successful / %d failed, want 20/20", len(res.Successful), len(res.Failed))
	}

	codes := map[string]int{}
	for _, fc := range res.Failed {
		codes[fc.Errors[0].Code]++
	}
	if codes[domain.CodeNoActiveRule] != 10 || codes[domain.CodeMissingFact] != 10 {
		t.Errorf("failure codes = %v", codes)
	}

	revenue := decimal.Zero
	for i, s := range res.Successful {
		if i > 0 && s.MemberID <= res.Successful[i-1].MemberID {
			t.Errorf("successful results out of input order at %d: %s after %s", i, s.MemberID, res.Successful[i-1].MemberID)
		}
		revenue = revenue.Add(s.TotalAmount)
	}
	if !revenue.Equal(res.Summary.TotalRevenue) {
		t.Errorf("TotalRevenue = %s, want %s", res.Summary.TotalRevenue, revenue)
	}
}

func TestBatchIndependentOfWorkerCount(t *testing.T) {
	var want *domain.BatchResult
	for _, workers := range []int{1, 3, 16} {
		f := newFixture(t, workers)
		f.percentageRule(t, "STD", "0.0175")
		var inputs []domain.CalculationInput
		for i := 0; i < 25; i++ {
			id := fmt.Sprintf("m-%02d", i)
			f.assign(t, id, "STD")
			inputs = append(inputs, wagesInput(id, fmt.Sprintf("%d.37", 2000+i*13)))
		}
		got, err := f.engine.BatchCalculateDuesSimple(context.Background(), inputs)
		if err != nil {
			t.Fatalf("workers=%d: %v", workers, err)
		}
		if want == nil {
			want = got
			continue
		}
		if !got.Summary.TotalRevenue.Equal(want.Summary.TotalRevenue) {
			t.Errorf("workers=%d: revenue %s, want %s", workers, got.Summary.TotalRevenue, want.Summary.TotalRevenue)
		}
		for i := range got.Successful {
			if got.Successful[i].MemberID != want.Successful[i].MemberID ||
				!got.Successful[i].TotalAmount.Equal(want.Successful[i].TotalAmount) {
				t.Errorf("workers=%d: result %d differs", workers, i)
			}
		}
	}
}

type stubSource struct {
	err error
}

func (s stubSource) RulesForMember(context.Context, string) ([]*domain.CompiledRule, error) {
	return nil, s.err
}

func TestBatchAbortsOnConfigurationError(t *testing.T) {
	engine := NewEngine(stubSource{err: &domain.ConfigurationError{RuleID: "r-1", Field: "tier_structure", Reason: "gap"}}, 2, discardLogger(), nil)

	res, err := engine.BatchCalculateDuesSimple(context.Background(), []domain.CalculationInput{
		wagesInput("m-1", "100"),
		wagesInput("m-2", "100"),
	})
	if res != nil {
		t.Errorf("expected nil result, got %+v", res)
	}
	if !domain.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestBatchCancelled(t *testing.T) {
	f := newFixture(t, 2)
	f.percentageRule(t, "STD", "0.02")
	var inputs []domain.CalculationInput
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("m-%02d", i)
		f.assign(t, id, "STD")
		inputs = append(inputs, wagesInput(id, "1000"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.engine.BatchCalculateDuesSimple(ctx, inputs)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res == nil {
		t.Fatal("expected partial result")
	}
	if res.TotalProcessed > len(inputs) || len(res.Successful)+len(res.Failed) != res.TotalProcessed {
		t.Errorf("inconsistent partial result: %+v", res.Summary)
	}
}

func TestBatchEmpty(t *testing.T) {
	f := newFixture(t, 0)
	res, err := f.engine.BatchCalculateDuesSimple(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalProcessed != 0 || !res.Summary.TotalRevenue.IsZero() {
		t.Errorf("unexpected result for empty batch: %+v", res)
	}
}
