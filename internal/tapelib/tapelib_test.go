package tapelib

import "testing"

func TestLTOTypeFromDensity(t *testing.T) {
	cases := map[string]string{
		"0x58": "LTO-5",
		"0x46": "LTO-4",
		"0x5D": "LTO-7",
	}
	for density, want := range cases {
		got, ok := LTOTypeFromDensity(density)
		if !ok || got != want {
			t.Errorf("LTOTypeFromDensity(%q) = %q, %v; want %q, true", density, got, ok, want)
		}
	}

	if _, ok := LTOTypeFromDensity("0xff"); ok {
		t.Error("expected unknown density code to report not-found")
	}
}

func TestLTOTypeFromBarcode(t *testing.T) {
	got, ok := LTOTypeFromBarcode("TAPE001L4")
	if !ok || got != "LTO-4" {
		t.Errorf("expected LTO-4 true, got %q %v", got, ok)
	}

	got, ok = LTOTypeFromBarcode("TAPE002L5")
	if !ok || got != "LTO-5" {
		t.Errorf("expected LTO-5 true, got %q %v", got, ok)
	}

	if _, ok := LTOTypeFromBarcode("TAPE003"); ok {
		t.Error("expected barcode with no generation suffix to report not-found")
	}
}

func TestParseMtxStatusDriveAndStorage(t *testing.T) {
	output := `  Storage Changer /dev/sg2:1 Drives, 10 Slots ( 2 Import/Export )
Data Transfer Element 0:Full (Storage Element 3 Loaded):VolumeTag = TAPE001L5
      Storage Element 1:Empty
      Storage Element 2:Full :VolumeTag=TAPE002L5
      Storage Element 9 IMPORT/EXPORT:Empty
`
	slots := parseMtxStatus(output)

	var drive, storage1, storage2, ie *Slot
	for i := range slots {
		s := &slots[i]
		switch {
		case s.Type == SlotDrive:
			drive = s
		case s.Type == SlotStorage && s.Number == 1:
			storage1 = s
		case s.Type == SlotStorage && s.Number == 2:
			storage2 = s
		case s.Type == SlotImportExport:
			ie = s
		}
	}

	if drive == nil || drive.IsEmpty || drive.Barcode != "TAPE001L5" {
		t.Errorf("unexpected drive slot: %+v", drive)
	}
	if storage1 == nil || !storage1.IsEmpty {
		t.Errorf("expected storage slot 1 empty, got %+v", storage1)
	}
	if storage2 == nil || storage2.IsEmpty || storage2.Barcode != "TAPE002L5" {
		t.Errorf("unexpected storage slot 2: %+v", storage2)
	}
	if ie == nil || !ie.IsEmpty {
		t.Errorf("unexpected import/export slot: %+v", ie)
	}
}

func TestClassifySlotsBlacklist(t *testing.T) {
	slots := []Slot{
		{Number: 1, Type: SlotStorage, Barcode: "TAPE001L5"},
		{Number: 2, Type: SlotStorage, Barcode: "TAPE002L5"},
		{Number: 3, Type: SlotStorage, IsEmpty: true},
	}
	usable, full := classifySlots(slots, nil, []string{"TAPE002L5"}, map[string]bool{})
	if len(usable) != 1 || usable[0] != "TAPE001L5" {
		t.Errorf("expected only TAPE001L5 usable, got %v", usable)
	}
	if len(full) != 0 {
		t.Errorf("expected no full tapes, got %v", full)
	}
}

func TestClassifySlotsWhitelist(t *testing.T) {
	slots := []Slot{
		{Number: 1, Type: SlotStorage, Barcode: "TAPE001L5"},
		{Number: 2, Type: SlotStorage, Barcode: "TAPE002L5"},
	}
	usable, _ := classifySlots(slots, []string{"TAPE002L5"}, nil, map[string]bool{})
	if len(usable) != 1 || usable[0] != "TAPE002L5" {
		t.Errorf("expected only whitelisted TAPE002L5, got %v", usable)
	}
}

func TestClassifySlotsAlreadyFull(t *testing.T) {
	slots := []Slot{
		{Number: 1, Type: SlotStorage, Barcode: "TAPE001L5"},
		{Number: 2, Type: SlotStorage, Barcode: "TAPE002L5"},
	}
	usable, full := classifySlots(slots, nil, nil, map[string]bool{"TAPE002L5": true})
	if len(usable) != 1 || usable[0] != "TAPE001L5" {
		t.Errorf("expected TAPE001L5 usable, got %v", usable)
	}
	if len(full) != 1 || full[0] != "TAPE002L5" {
		t.Errorf("expected TAPE002L5 full, got %v", full)
	}
}

func TestLTOCapacitiesHasCommonGenerations(t *testing.T) {
	for _, gen := range []string{"LTO-4", "LTO-5", "LTO-6", "LTO-7", "LTO-8", "LTO-9"} {
		if _, ok := LTOCapacities[gen]; !ok {
			t.Errorf("expected LTOCapacities to contain %s", gen)
		}
	}
	if LTOCapacities["LTO-5"] <= LTOCapacities["LTO-4"] {
		t.Error("expected LTO-5 capacity to exceed LTO-4")
	}
}
