package store

import (
	"math"

	"nevira/weighbridge-service/internal/models"
)

// CargoPolicy declares, per cargo type, which capture inputs are required,
// how net weight converts into quantities, and whether confirmation must emit
// an inventory movement.
type CargoPolicy struct {
	RequiresItem      bool
	RequiresCustomer  bool
	RequiresQuarry    bool
	RequiresLines     bool
	RequiresWorkOrder bool
	Packaged          bool
	PassThrough       bool
	NeedsMovement     bool
	MovementType      string
}

var cargoPolicies = map[string]CargoPolicy{
	models.CargoRawMaterial: {
		RequiresItem:   true,
		RequiresQuarry: true,
		NeedsMovement:  true,
		MovementType:   models.MovementReceipt,
	},
	models.CargoProductionMaterial: {
		RequiresItem:      true,
		RequiresWorkOrder: true,
		NeedsMovement:     true,
		MovementType:      models.MovementTransfer,
	},
	models.CargoFinishedGoods: {
		RequiresItem:     true,
		RequiresCustomer: true,
		Packaged:         true,
	},
	models.CargoInterCompany: {
		RequiresItem: true,
		Packaged:     true,
	},
	models.CargoPurchasedMaterial: {
		RequiresItem: true,
		PassThrough:  true,
	},
	models.CargoPartnerProduction: {
		RequiresLines: true,
	},
}

func PolicyFor(cargoType string) (CargoPolicy, bool) {
	policy, ok := cargoPolicies[cargoType]
	return policy, ok
}

// BulkQuantity converts net mass into stock units for bulk materials. With a
// known per-unit weight the quantity is unit-denominated, otherwise the net
// weight is read as tonnes.
func BulkQuantity(netWeight, weightPerUnit float64) float64 {
	if weightPerUnit > 0 {
		return netWeight / (weightPerUnit * 1000)
	}
	return netWeight / 1000
}

type PackagedResult struct {
	BagCount   int
	NetProduct float64
	Tonnage    float64
}

// PackagedBreakdown splits a gross packaged net weight into whole bags, the
// product mass net of bag tare, and tonnage.
func PackagedBreakdown(netWeight, packSize, tareWeight float64) PackagedResult {
	if packSize <= 0 {
		return PackagedResult{}
	}
	bags := int(math.Floor(netWeight / (packSize + tareWeight)))
	if bags < 0 {
		bags = 0
	}
	netProduct := netWeight - float64(bags)*tareWeight
	return PackagedResult{
		BagCount:   bags,
		NetProduct: netProduct,
		Tonnage:    netProduct / 1000,
	}
}

// DefaultPartnerQuantity backfills a partner line's quantity when the caller
// omitted it: net weight read as tonnes.
func DefaultPartnerQuantity(firstWeight, secondWeight float64) float64 {
	return NetWeight(firstWeight, secondWeight) / 1000
}

// ValidateCapture checks the type-specific required fields before any row is
// touched. Weight guards run separately against the persisted ticket.
func ValidateCapture(input CaptureInput) error {
	policy, ok := PolicyFor(input.CargoType)
	if !ok {
		return ErrValidation
	}
	if policy.RequiresItem && input.ItemCode == "" {
		return ErrValidation
	}
	if policy.RequiresCustomer && input.CustomerName == "" {
		return ErrValidation
	}
	if policy.RequiresQuarry && input.QuarryFrom == "" {
		return ErrValidation
	}
	if policy.RequiresLines && len(input.Lines) == 0 {
		return ErrValidation
	}
	return nil
}
