package payment

import (
	"testing"

	"github.com/Gabriel171203/flowershop-project/internal/domain"
)

func TestMapStatus(t *testing.T) {
	tests := []struct {
		transaction string
		fraud       string
		want        domain.PaymentStatus
		known       bool
	}{
		{"capture", "accept", domain.PaymentStatusPaid, true},
		{"capture", "challenge", domain.PaymentStatusChallenge, true},
		{"capture", "deny", domain.PaymentStatusFailed, true},
		{"capture", "", "", false},
		{"settlement", "", domain.PaymentStatusPaid, true},
		{"settlement", "accept", domain.PaymentStatusPaid, true},
		{"deny", "", domain.PaymentStatusFailed, true},
		{"expire", "", domain.PaymentStatusFailed, true},
		{"cancel", "", domain.PaymentStatusFailed, true},
		{"failure", "", domain.PaymentStatusFailed, true},
		{"pending", "", domain.PaymentStatusPending, true},
		{"refund", "", "", false},
		{"partial_refund", "", "", false},
		{"chargeback", "", "", false},
		{"authorize", "", "", false},
		{"something_new", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.transaction+"/"+tt.fraud, func(t *testing.T) {
			got, known := MapStatus(tt.transaction, tt.fraud)
			if got != tt.want || known != tt.known {
				t.Errorf("MapStatus(%q, %q) = (%q, %v), want (%q, %v)",
					tt.transaction, tt.fraud, got, known, tt.want, tt.known)
			}
		})
	}
}
