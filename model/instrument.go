package model

import "time"

const (
	InstrumentActive = "ACTIVE"
	InstrumentFrozen = "FROZEN"
	InstrumentClosed = "CLOSED"
)

// Capability flags a destination or instrument may carry. Rail selection
// filters out rails that cannot serve a required capability.
const (
	CapabilityOnline        = "online"
	CapabilityInternational = "international"
	CapabilityContactless   = "contactless"
)

// SpendingLimits holds the per-transaction and per-period amount ceilings for
// an instrument, in minor currency units. A zero ceiling means unlimited.
type SpendingLimits struct {
	PerTransaction int64 `json:"per_transaction"`
	Daily          int64 `json:"daily"`
	Weekly         int64 `json:"weekly"`
	Monthly        int64 `json:"monthly"`
}

// Instrument is a spending account (card or wallet). Instruments are never
// physically deleted; closing is a status change.
type Instrument struct {
	ID           int64                  `json:"-"`
	InstrumentID string                 `json:"instrument_id"`
	CustomerID   string                 `json:"customer_id"`
	Status       string                 `json:"status"`
	Limits       SpendingLimits         `json:"limits"`
	Capabilities []string               `json:"capabilities"`
	CreatedAt    time.Time              `json:"created_at"`
	MetaData     map[string]interface{} `json:"meta_data,omitempty"`
}

func (i *Instrument) IsActive() bool {
	return i.Status == InstrumentActive
}

func (i *Instrument) HasCapability(capability string) bool {
	for _, c := range i.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
