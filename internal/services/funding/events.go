package funding

import (
	"encoding/json"
	"fmt"
	"time"

	apperrors "kudi/internal/errors"
)

type EventKind string

const (
	EventChargeSuccess    EventKind = "charge.success"
	EventTransferSuccess  EventKind = "transfer.success"
	EventTransferFailed   EventKind = "transfer.failed"
	EventTransferReversed EventKind = "transfer.reversed"
)

// Event is a decoded webhook. Exactly one of Charge or Transfer is set for
// known kinds; both are nil for kinds the wallet does not handle.
type Event struct {
	Kind     EventKind
	Charge   *ChargeEvent
	Transfer *TransferEvent
}

type ChargeEvent struct {
	Reference         string
	Amount            int64
	Status            string
	ProviderReference string
	PaidAt            time.Time
}

type TransferEvent struct {
	Reference    string
	TransferCode string
	Status       string
	Reason       string
	Amount       int64
}

type rawEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type rawCharge struct {
	ID        json.Number `json:"id"`
	Reference string      `json:"reference"`
	Amount    int64       `json:"amount"`
	Status    string      `json:"status"`
	PaidAt    string      `json:"paid_at"`
	PaidAtAlt string      `json:"paidAt"`
}

type rawTransfer struct {
	Reference    string `json:"reference"`
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
	Reason       string `json:"reason"`
	Amount       int64  `json:"amount"`
}

// ParseEvent decodes and validates a provider webhook body.
func ParseEvent(body []byte) (*Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "malformed webhook payload", err)
	}
	if raw.Event == "" {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "webhook event kind missing")
	}

	ev := &Event{Kind: EventKind(raw.Event)}
	switch ev.Kind {
	case EventChargeSuccess:
		var c rawCharge
		if err := json.Unmarshal(raw.Data, &c); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "malformed charge data", err)
		}
		if c.Reference == "" || c.Amount <= 0 {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, "charge event requires reference and positive amount")
		}
		ev.Charge = &ChargeEvent{
			Reference:         c.Reference,
			Amount:            c.Amount,
			Status:            c.Status,
			ProviderReference: c.ID.String(),
			PaidAt:            parseTime(c.PaidAt, c.PaidAtAlt),
		}
	case EventTransferSuccess, EventTransferFailed, EventTransferReversed:
		var tr rawTransfer
		if err := json.Unmarshal(raw.Data, &tr); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "malformed transfer data", err)
		}
		if tr.Reference == "" {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, "transfer event requires reference")
		}
		ev.Transfer = &TransferEvent{
			Reference:    tr.Reference,
			TransferCode: tr.TransferCode,
			Status:       tr.Status,
			Reason:       tr.Reason,
			Amount:       tr.Amount,
		}
	}
	return ev, nil
}

func (e *Event) String() string {
	switch {
	case e.Charge != nil:
		return fmt.Sprintf("%s(%s)", e.Kind, e.Charge.Reference)
	case e.Transfer != nil:
		return fmt.Sprintf("%s(%s)", e.Kind, e.Transfer.Reference)
	}
	return string(e.Kind)
}

func parseTime(values ...string) time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
