package payment

import "github.com/Gabriel171203/flowershop-project/internal/domain"

// MapStatus translates a provider transaction status into the order payment
// status. The boolean is false for statuses the order workflow does not act
// on (refunds, chargebacks, authorizations, anything unrecognized).
func MapStatus(transactionStatus, fraudStatus string) (domain.PaymentStatus, bool) {
	switch transactionStatus {
	case "capture":
		switch fraudStatus {
		case "accept":
			return domain.PaymentStatusPaid, true
		case "challenge":
			return domain.PaymentStatusChallenge, true
		case "deny":
			return domain.PaymentStatusFailed, true
		}
		return "", false
	case "settlement":
		return domain.PaymentStatusPaid, true
	case "deny", "expire", "cancel", "failure":
		return domain.PaymentStatusFailed, true
	case "pending":
		return domain.PaymentStatusPending, true
	default:
		return "", false
	}
}
