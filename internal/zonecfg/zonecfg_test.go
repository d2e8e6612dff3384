package zonecfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/friendsincode/bragi/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zones.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(f.Zones) != 0 {
		t.Fatalf("zones = %v", f.Zones)
	}
}

func TestLoadParsesZones(t *testing.T) {
	path := writeConfig(t, `{
	  "zones": [
	    {"id": 1, "name": "Kitchen", "outputs": [
	      {"id": "k1", "driver": "lineout"}
	    ], "enabled_inputs": ["airplay"]},
	    {"id": 2, "name": "Den", "outputs": []}
	  ]
	}`)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(f.Zones) != 2 || f.Zones[0].Name != "Kitchen" {
		t.Fatalf("zones = %+v", f.Zones)
	}
	if f.Zones[0].Outputs[0].Driver != "lineout" {
		t.Fatalf("outputs = %+v", f.Zones[0].Outputs)
	}
}

func TestLoadRejectsDuplicateZoneIDs(t *testing.T) {
	path := writeConfig(t, `{"zones":[{"id":1,"name":"A"},{"id":1,"name":"B"}]}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestLoadRejectsOutputWithoutDriver(t *testing.T) {
	path := writeConfig(t, `{"zones":[{"id":1,"name":"A","outputs":[{"id":"o1"}]}]}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected missing driver error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "zones.json")
	f := File{Zones: []models.ZoneDefinition{
		{ID: 3, Name: "Porch", Outputs: []models.OutputConfig{{ID: "p1", Driver: "snapcast", Options: map[string]string{"clients": "porch"}}}},
	}}
	if err := Save(path, f); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(got.Zones) != 1 || got.Zones[0].Outputs[0].Options["clients"] != "porch" {
		t.Fatalf("roundtrip = %+v", got.Zones)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.yaml")
	content := `zones:
  - id: 1
    name: Kitchen
    outputs:
      - id: k1
        driver: lineout
    enabled_inputs: [airplay]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(f.Zones) != 1 || f.Zones[0].Name != "Kitchen" || f.Zones[0].Outputs[0].Driver != "lineout" {
		t.Fatalf("zones = %+v", f.Zones)
	}
}

func TestSaveRoundTripYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.yml")
	f := File{Zones: []models.ZoneDefinition{
		{ID: 5, Name: "Attic", Outputs: []models.OutputConfig{{ID: "a1", Driver: "sendspin"}}},
	}}
	if err := Save(path, f); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(got.Zones) != 1 || got.Zones[0].Outputs[0].Driver != "sendspin" {
		t.Fatalf("roundtrip = %+v", got.Zones)
	}
}
