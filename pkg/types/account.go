package types

import (
	"fmt"
	"time"
)

// Field names used by the MyGas API payloads.
const (
	FieldELSGroup      = "elsGroup"
	FieldLSPU          = "lspu"
	FieldLSPUGroup     = "lspuGroup"
	FieldLSPUInfoGroup = "lspuInfoGroup"
	FieldELS           = "els"
	FieldID            = "id"
	FieldJntAccountNum = "jntAccountNum"
	FieldAccount       = "account"
	FieldAccountID     = "accountId"
	FieldAlias         = "alias"
	FieldCounters      = "counters"
	FieldUUID          = "uuid"
	FieldServices      = "services"
	FieldBalance       = "balance"
)

// Shape is the structural variant of an accounts payload.
type Shape int

const (
	// ShapeEmpty means neither grouped nor flat accounts were found. This is a
	// valid state for newly provisioned accounts.
	ShapeEmpty Shape = iota
	// ShapeELS is the grouped account shape where sub-accounts are nested under
	// each group's lspuInfoGroup.
	ShapeELS
	// ShapeLSPU is the flat account shape where each detail is the list of
	// sub-accounts.
	ShapeLSPU
)

func (s Shape) String() string {
	switch s {
	case ShapeELS:
		return "els"
	case ShapeLSPU:
		return "lspu"
	default:
		return "empty"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Shape) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// AccountID identifies a top-level ELS group or LSPU account.
type AccountID int64

// Snapshot is the normalized result of a single poll. A snapshot is never
// modified after it has been published.
type Snapshot struct {
	LastUpdate time.Time `json:"lastUpdate"`

	// Accounts is the raw accounts payload. It is reused by later polls until a
	// forced refresh.
	Accounts any `json:"accounts,omitempty"`

	Shape Shape `json:"shape"`

	// AccountIDs keeps the upstream order of the detail maps.
	AccountIDs []AccountID `json:"accountIDs,omitempty"`

	// ELS holds the raw per-group details when Shape is ShapeELS.
	ELS map[AccountID]map[string]any `json:"els,omitempty"`
	// LSPU holds the per-account sub-account lists when Shape is ShapeLSPU.
	LSPU map[AccountID][]map[string]any `json:"lspu,omitempty"`

	// Balance is the absolute value of the extracted balance, if any.
	Balance *float64 `json:"balance,omitempty"`
}

// IsELS returns true when the snapshot was built from grouped accounts.
func (s *Snapshot) IsELS() bool {
	return s != nil && s.Shape == ShapeELS
}

// DevicePath addresses a single counter inside a snapshot.
type DevicePath struct {
	AccountID  AccountID `json:"accountID"`
	SubAccount int       `json:"subAccount"`
	Counter    int       `json:"counter"`
}

// CounterDevice describes a counter that is exposed as a device.
type CounterDevice struct {
	Path          DevicePath     `json:"path"`
	AccountNumber string         `json:"accountNumber"`
	Alias         string         `json:"alias,omitempty"`
	UUID          string         `json:"uuid"`
	Identifier    string         `json:"identifier"`
	Counter       map[string]any `json:"counter"`
}

// Name returns a human friendly name for the device.
func (d CounterDevice) Name() string {
	if d.Alias != "" {
		return fmt.Sprintf("MyGas %s (%s)", d.Alias, d.AccountNumber)
	}
	return "MyGas " + d.AccountNumber
}

// MakeDeviceIdentifier returns the stable identifier of a counter device. It
// only depends on the account number and the counter UUID so it survives
// reordering of accounts upstream.
func MakeDeviceIdentifier(accountNumber, counterUUID string) string {
	return accountNumber + "_" + counterUUID
}
