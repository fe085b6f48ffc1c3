package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AuditBreadcrumb records the raw ingestion inputs for forensic
// reconciliation, independent of the structured ticket fields. Writing it is
// best-effort: a failed audit write never fails the primary operation.
type AuditBreadcrumb struct {
	RawVehicle           string  `json:"raw_vehicle"`
	RawFirstWeight       float64 `json:"raw_first_weight"`
	EffectiveFirstWeight float64 `json:"effective_first_weight"`
	SecondWeight         float64 `json:"second_weight"`
	ExternalRef          string  `json:"external_ref,omitempty"`
}

func (b AuditBreadcrumb) Payload() (json.RawMessage, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// String renders the legacy pipe-separated remark line kept for operators who
// grep the audit trail.
func (b AuditBreadcrumb) String() string {
	bits := []string{
		fmt.Sprintf("veh:%s", b.RawVehicle),
		fmt.Sprintf("fw_raw:%g", b.RawFirstWeight),
		fmt.Sprintf("fw:%g", b.EffectiveFirstWeight),
		fmt.Sprintf("sw:%g", b.SecondWeight),
	}
	if b.ExternalRef != "" {
		bits = append(bits, fmt.Sprintf("ext:%s", b.ExternalRef))
	}
	return strings.Join(bits, " | ")
}
