package lease

import (
	"fmt"
	"time"

	"mall-system/internal/apperr"
	"mall-system/internal/database/models"
	"mall-system/internal/utils"
)

type Period string

const (
	Monthly   Period = "monthly"
	Quarterly Period = "quarterly"
	Yearly    Period = "yearly"
)

func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case Monthly, Quarterly, Yearly:
		return p, nil
	case "":
		return Monthly, nil
	default:
		return "", apperr.Validation("unknown period %q, expected monthly, quarterly or yearly", s)
	}
}

// End returns the date the lease paid at paidAt runs out.
func (p Period) End(paidAt time.Time) time.Time {
	switch p {
	case Quarterly:
		return paidAt.AddDate(0, 3, 0)
	case Yearly:
		return paidAt.AddDate(1, 0, 0)
	default:
		return paidAt.AddDate(0, 1, 0)
	}
}

type Status string

const (
	StatusCurrent      Status = "CURRENT"
	StatusExpiringSoon Status = "EXPIRING_SOON"
	StatusExpired      Status = "EXPIRED"
	StatusNoPayment    Status = "NO_PAYMENT"
)

// ExpiringWindow is how many days before the period end a lease counts as expiring.
const ExpiringWindow = 7

type Alert struct {
	Status        Status    `json:"status"`
	Message       string    `json:"message"`
	Color         string    `json:"color"`
	DaysUntilEnd  int       `json:"days_until_end"`
	DaysRemaining int       `json:"days_remaining"`
	DaysElapsed   int       `json:"days_elapsed"`
	OverdueDays   int       `json:"overdue_days"`
	PeriodEnd     time.Time `json:"period_end"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

func plural(n int) string {
	if n > 1 {
		return "s"
	}
	return ""
}

// Classify maps a period end to an alert as seen at now.
func Classify(paidAt, periodEnd, now time.Time) Alert {
	days := utils.DaysBetween(now, periodEnd)
	a := Alert{
		DaysUntilEnd: days,
		DaysElapsed:  utils.DaysBetween(paidAt, now),
		PeriodEnd:    periodEnd,
		EvaluatedAt:  now,
	}
	if days > 0 {
		a.DaysRemaining = days
	}

	switch {
	case days < 0:
		a.Status = StatusExpired
		a.OverdueDays = -days
		a.Color = "red"
		a.Message = fmt.Sprintf("Payment expired %d day%s ago", a.OverdueDays, plural(a.OverdueDays))
	case days <= ExpiringWindow:
		a.Status = StatusExpiringSoon
		a.Color = "orange"
		a.Message = fmt.Sprintf("Payment expires in %d day%s", days, plural(days))
	default:
		a.Status = StatusCurrent
		a.Color = "green"
		a.Message = fmt.Sprintf("Up to date, next payment due in %d days", days)
	}
	return a
}

// AlertFor classifies a recorded payment.
func AlertFor(p *models.LeasePayment, now time.Time) Alert {
	return Classify(p.PaidAt, p.PeriodEnd, now)
}

func NoPaymentAlert(now time.Time) Alert {
	return Alert{
		Status:      StatusNoPayment,
		Message:     "No payment recorded for this shop",
		Color:       "gray",
		EvaluatedAt: now,
	}
}

var actions = map[Status][]string{
	StatusExpired: {
		"Contact the shop immediately",
		"Send a payment reminder",
		"Suspend access if needed",
	},
	StatusExpiringSoon: {
		"Send an automatic reminder",
		"Prepare the follow-up",
		"Check payment details",
	},
	StatusCurrent: {
		"No action required",
		"Schedule the next reminder",
	},
	StatusNoPayment: {
		"Contact the shop",
		"Record the first payment",
		"Check the lease terms",
	},
}

// ActionsFor lists the follow-ups recommended for an alert status.
func ActionsFor(status Status) []string {
	if a, ok := actions[status]; ok {
		out := make([]string, len(a))
		copy(out, a)
		return out
	}
	return []string{"No recommended action"}
}
