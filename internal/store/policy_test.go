package store

import (
	"math"
	"testing"

	"nevira/weighbridge-service/internal/models"
)

func TestPolicyForKnownTypes(t *testing.T) {
	policy, ok := PolicyFor(models.CargoRawMaterial)
	if !ok {
		t.Fatal("raw_material policy missing")
	}
	if !policy.NeedsMovement || policy.MovementType != models.MovementReceipt {
		t.Fatalf("raw_material should need a receipt movement: %+v", policy)
	}

	policy, ok = PolicyFor(models.CargoProductionMaterial)
	if !ok {
		t.Fatal("production_material policy missing")
	}
	if policy.MovementType != models.MovementTransfer || !policy.RequiresWorkOrder {
		t.Fatalf("production_material should need a work order and a transfer: %+v", policy)
	}

	if _, ok := PolicyFor("gravel_by_wheelbarrow"); ok {
		t.Fatal("unknown cargo type should have no policy")
	}
}

func TestBulkQuantity(t *testing.T) {
	// 15500 kg of an item weighing 0.5 t per unit is 31 units.
	if got := BulkQuantity(15500, 0.5); math.Abs(got-31) > 1e-9 {
		t.Fatalf("expected 31 units, got %g", got)
	}
	// Without a per-unit weight the net weight converts to tonnes.
	if got := BulkQuantity(15500, 0); math.Abs(got-15.5) > 1e-9 {
		t.Fatalf("expected 15.5 t, got %g", got)
	}
}

func TestPackagedBreakdown(t *testing.T) {
	// 1040 kg of 50 kg bags with 0.2 kg tare: floor(1040/50.2) = 20 bags,
	// 1040 - 20*0.2 = 1036 kg product, 1.036 t.
	result := PackagedBreakdown(1040, 50, 0.2)
	if result.BagCount != 20 {
		t.Fatalf("expected 20 bags, got %d", result.BagCount)
	}
	if math.Abs(result.NetProduct-1036) > 1e-9 {
		t.Fatalf("expected 1036 kg product, got %g", result.NetProduct)
	}
	if math.Abs(result.Tonnage-1.036) > 1e-9 {
		t.Fatalf("expected 1.036 t, got %g", result.Tonnage)
	}
}

func TestPackagedBreakdownDegenerate(t *testing.T) {
	if got := PackagedBreakdown(1000, 0, 0.2); got.BagCount != 0 || got.Tonnage != 0 {
		t.Fatalf("zero pack size must produce an empty breakdown: %+v", got)
	}
	if got := PackagedBreakdown(10, 50, 0.2); got.BagCount != 0 {
		t.Fatalf("less than one bag of material must round down to zero bags: %+v", got)
	}
}

func TestDefaultPartnerQuantity(t *testing.T) {
	if got := DefaultPartnerQuantity(12000, 13500); math.Abs(got-1.5) > 1e-9 {
		t.Fatalf("expected 1.5 t, got %g", got)
	}
	if got := DefaultPartnerQuantity(13500, 12000); got != 0 {
		t.Fatalf("decreasing line weights must default to 0, got %g", got)
	}
}

func TestValidateCapture(t *testing.T) {
	cases := []struct {
		name    string
		input   CaptureInput
		wantErr bool
	}{
		{
			"raw material complete",
			CaptureInput{CargoType: models.CargoRawMaterial, ItemCode: "SAND", QuarryFrom: "Q1"},
			false,
		},
		{
			"raw material missing quarry",
			CaptureInput{CargoType: models.CargoRawMaterial, ItemCode: "SAND"},
			true,
		},
		{
			"finished goods missing customer",
			CaptureInput{CargoType: models.CargoFinishedGoods, ItemCode: "CEMENT-50"},
			true,
		},
		{
			"partner production without lines",
			CaptureInput{CargoType: models.CargoPartnerProduction},
			true,
		},
		{
			"partner production with lines",
			CaptureInput{CargoType: models.CargoPartnerProduction, Lines: []PartnerLineInput{{PartnerDescription: "PT X"}}},
			false,
		},
		{
			"unknown cargo type",
			CaptureInput{CargoType: "mystery"},
			true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateCapture(tc.input)
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
