package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/wyfcoding/unionfinance/internal/remittance/domain"
	"github.com/wyfcoding/unionfinance/pkg/mq"
)

type stubReconciler struct {
	report *domain.Report
	err    error
	calls  []string
}

func (s *stubReconciler) Reconcile(_ context.Context, id string) (*domain.Report, error) {
	s.calls = append(s.calls, id)
	return s.report, s.err
}

func TestSubmittedHandler(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	valid := []byte(`{"remittance_id":"REM-1","employer_id":"emp-1"}`)

	tests := []struct {
		name    string
		value   []byte
		report  *domain.Report
		err     error
		wantErr bool
		calls   int
	}{
		{"reconciled", valid, &domain.Report{Outcome: domain.OutcomeMatched}, nil, false, 1},
		{"no match is acknowledged", valid, &domain.Report{Outcome: domain.OutcomeNoMatch}, nil, false, 1},
		{"already reconciled", valid, nil, &domain.AlreadyReconciledError{RemittanceID: "REM-1", Status: domain.StatusReconciled}, false, 1},
		{"not found", valid, nil, domain.ErrRemittanceNotFound, false, 1},
		{"infrastructure failure", valid, nil, errors.New("db down"), true, 1},
		{"bad payload", []byte("{"), nil, nil, true, 0},
		{"missing id", []byte(`{"employer_id":"emp-1"}`), nil, nil, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubReconciler{report: tt.report, err: tt.err}
			err := NewSubmittedHandler(stub, log).Handle(context.Background(), &mq.Message{Topic: "remittance.submitted", Value: tt.value})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(stub.calls) != tt.calls {
				t.Errorf("Reconcile called %d times, want %d", len(stub.calls), tt.calls)
			}
		})
	}
}
