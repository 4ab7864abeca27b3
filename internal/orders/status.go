package orders

import (
	"fmt"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
)

type Status string

const (
	StatusNouvelle      Status = "nouvelle"
	StatusConfirmee     Status = "confirmee"
	StatusEnPreparation Status = "en_preparation"
	StatusExpediee      Status = "expediee"
	StatusLivree        Status = "livree"
	StatusAnnulee       Status = "annulee"
	StatusRetournee     Status = "retournee"
)

// Statuses in lifecycle order.
var Statuses = []Status{
	StatusNouvelle, StatusConfirmee, StatusEnPreparation, StatusExpediee,
	StatusLivree, StatusAnnulee, StatusRetournee,
}

// allowedTransitions is the complete order graph. Terminal states map to
// an empty set.
var allowedTransitions = map[Status]map[Status]bool{
	StatusNouvelle:      {StatusConfirmee: true, StatusAnnulee: true},
	StatusConfirmee:     {StatusEnPreparation: true, StatusAnnulee: true},
	StatusEnPreparation: {StatusExpediee: true, StatusAnnulee: true},
	StatusExpediee:      {StatusLivree: true, StatusRetournee: true},
	StatusLivree:        {},
	StatusAnnulee:       {},
	StatusRetournee:     {},
}

func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

func (s Status) Terminal() bool {
	next, ok := allowedTransitions[s]
	return ok && len(next) == 0
}

// Shipped reports whether the order has reached the courier.
func (s Status) Shipped() bool {
	return s == StatusExpediee || s == StatusLivree || s == StatusRetournee
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if _, ok := allowedTransitions[s]; !ok {
		return "", errs.Invalid("status", fmt.Sprintf("unknown order status %q", raw))
	}
	return s, nil
}
