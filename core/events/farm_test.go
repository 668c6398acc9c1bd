package events

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestFarmDepositEvent(t *testing.T) {
	var who [20]byte
	who[19] = 1
	evt := FarmDeposit{PoolID: 2, Caller: who, Beneficiary: who, Amount: uint256.NewInt(500)}.Event()
	if evt.Type != TypeFarmDeposit {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["pool"] != "2" || evt.Attributes["amount"] != "500" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if _, ok := evt.Attributes["caller"]; ok {
		t.Fatalf("caller should be omitted when it equals the beneficiary")
	}

	var other [20]byte
	other[0] = 9
	evt = FarmDeposit{PoolID: 2, Caller: other, Beneficiary: who, Amount: uint256.NewInt(1)}.Event()
	if evt.Attributes["caller"] == "" || evt.Attributes["caller"] == evt.Attributes["beneficiary"] {
		t.Fatalf("expected distinct caller attribute: %+v", evt.Attributes)
	}
}

func TestFarmHarvestOmitsZeroRecipient(t *testing.T) {
	var who [20]byte
	who[5] = 7
	evt := FarmHarvest{PoolID: 0, Participant: who, Amount: nil}.Event()
	if evt.Attributes["amount"] != "0" {
		t.Fatalf("nil amount should render as 0, got %s", evt.Attributes["amount"])
	}
	if _, ok := evt.Attributes["recipient"]; ok {
		t.Fatalf("zero recipient should be omitted")
	}
}

func TestFarmMigratedNormalisesAssets(t *testing.T) {
	evt := FarmMigrated{PoolID: 1, From: " lp ", To: "lpv2", Balance: uint256.NewInt(10)}.Event()
	if evt.Attributes["from"] != "LP" || evt.Attributes["to"] != "LPV2" {
		t.Fatalf("unexpected assets: %+v", evt.Attributes)
	}
}

func TestFanoutAndCollector(t *testing.T) {
	a, b := new(Collector), new(Collector)
	fan := Fanout{a, nil, b}
	fan.Emit(FarmRateSet{PoolID: 3, Rate: uint256.NewInt(4)})
	fan.Emit(FarmWeightSet{PoolID: 3, Weight: 20, TotalWeight: 20})
	if len(a.Events()) != 2 || len(b.Events()) != 2 {
		t.Fatalf("expected both collectors to receive two events")
	}
	if got := a.OfType(TypeFarmRateSet); len(got) != 1 {
		t.Fatalf("expected one rate event, got %d", len(got))
	}
	rendered := Render(a.Events()[1])
	if rendered.Attributes["weight"] != "20" || rendered.Attributes["totalWeight"] != "20" {
		t.Fatalf("unexpected render: %+v", rendered.Attributes)
	}
}
