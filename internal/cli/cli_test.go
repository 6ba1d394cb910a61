package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fib-targets/internal/feed"
	"fib-targets/internal/models"
	"fib-targets/internal/store"
)

const testConfig = `
[engine]
swing_strength = 5
predictive_swing_strength = 2
min_swing_length = 10.0
require_swing_trend = false

[logging]
console = false
`

type env struct {
	dir string
	db  string
	csv string
}

func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(testConfig), 0644); err != nil {
		t.Fatal(err)
	}

	var bars []models.Bar
	t0 := time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)
	pivots := [][2]float64{{0, 100}, {10, 130}, {20, 105}, {30, 150}, {40, 95}, {55, 140}}
	for p := 0; p+1 < len(pivots); p++ {
		a, b := pivots[p], pivots[p+1]
		for i := int(a[0]); i < int(b[0]); i++ {
			mid := a[1] + (b[1]-a[1])*(float64(i)-a[0])/(b[0]-a[0])
			bars = append(bars, models.Bar{
				Symbol: "AAA", Timestamp: t0.Add(time.Duration(i) * time.Minute),
				Open: mid, High: mid + 1, Low: mid - 1, Close: mid, Volume: 10,
			})
		}
	}

	csvPath := filepath.Join(dir, "aaa.csv")
	f, err := os.Create(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := feed.WriteBars(f, bars); err != nil {
		t.Fatal(err)
	}
	f.Close()

	return env{dir: dir, db: filepath.Join(dir, "fib.db"), csv: csvPath}
}

func (e env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.dir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionAndConfigInit(t *testing.T) {
	dir := t.TempDir()
	e := env{dir: dir}

	out, err := e.run(t, "version", "--json")
	if err != nil || !strings.Contains(out, `"version": "`+Version+`"`) {
		t.Errorf("version: %v %s", err, out)
	}

	if _, err := e.run(t, "config", "init"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Fatal(err)
	}
	if _, err := e.run(t, "config", "init"); err == nil {
		t.Error("second init overwrote the file")
	}

	out, err = e.run(t, "config", "show")
	if err != nil || !strings.Contains(out, "Swing strength:       15") {
		t.Errorf("config show: %v\n%s", err, out)
	}
}

func TestScanPersistsAndQueries(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "scan", "--json", "--store", "--db", e.db, e.csv)
	if err != nil {
		t.Fatalf("scan: %v\n%s", err, out)
	}
	var report scanReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(report.Symbols) != 1 {
		t.Fatalf("report = %+v", report)
	}
	res := report.Symbols[0]
	if res.Symbol != "AAA" || res.Bars != 55 || res.Rejected != 0 || res.Zones == 0 || res.RunID == "" {
		t.Fatalf("result = %+v", res)
	}

	out, err = e.run(t, "zones", "--json", "--db", e.db, "--symbol", "aaa")
	if err != nil {
		t.Fatal(err)
	}
	var zones []store.StoredZone
	if err := json.Unmarshal([]byte(out), &zones); err != nil {
		t.Fatal(err)
	}
	if len(zones) == 0 {
		t.Fatal("no zones stored")
	}
	for _, z := range zones {
		if z.RunID != res.RunID || z.Symbol != "AAA" {
			t.Errorf("zone %+v not from run %s", z, res.RunID)
		}
		if z.Kind == models.Confirmed && !z.Live() {
			t.Errorf("confirmed zone %s removed", z.ID)
		}
	}

	out, err = e.run(t, "signals", "--json", "--db", e.db, "--limit", "0", "AAA")
	if err != nil {
		t.Fatal(err)
	}
	var signals []models.Signal
	if err := json.Unmarshal([]byte(out), &signals); err != nil {
		t.Fatal(err)
	}
	if len(signals) != res.Signals {
		t.Errorf("stored %d signals, scan reported %d", len(signals), res.Signals)
	}

	out, err = e.run(t, "zones", "--csv", "--db", e.db, "--symbol", "AAA", "--kind", "confirmed")
	if err != nil || !strings.HasPrefix(out, "id,symbol,polarity,kind") {
		t.Errorf("zones --csv: %v\n%s", err, out)
	}

	if _, err := e.run(t, "zones", "--db", e.db, "--polarity", "sideways"); err == nil {
		t.Error("bad polarity accepted")
	}
}

func TestScanPrintsZonesAndSummary(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "scan", "--precision", "1", e.csv)
	if err != nil {
		t.Fatalf("scan: %v\n%s", err, out)
	}
	plain := stripANSI(out)
	if !strings.Contains(plain, "-bear-fib") && !strings.Contains(plain, "-bull-fib") {
		t.Errorf("no confirmed zone printed:\n%s", plain)
	}
	if !strings.Contains(plain, "SYMBOL") || !strings.Contains(plain, "AAA") {
		t.Errorf("summary missing:\n%s", plain)
	}
}

func TestScanFromStore(t *testing.T) {
	e := newEnv(t)
	if out, err := e.run(t, "import", "--db", e.db, e.csv); err != nil {
		t.Fatalf("import: %v\n%s", err, out)
	}

	out, err := e.run(t, "scan", "--json", "--from-store", "--db", e.db, "aaa")
	if err != nil {
		t.Fatalf("scan: %v\n%s", err, out)
	}
	var report scanReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatal(err)
	}
	if len(report.Symbols) != 1 || report.Symbols[0].Bars != 55 || report.Symbols[0].RunID != "" {
		t.Errorf("report = %+v", report)
	}

	if _, err := e.run(t, "scan", "--from-store", "--db", e.db, "ZZZ"); err == nil {
		t.Error("scan of an unknown symbol succeeded")
	}
}

func TestMergeByTimeKeepsSymbolOrder(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	at := func(m int) time.Time { return t0.Add(time.Duration(m) * time.Minute) }
	groups := map[string][]models.Bar{
		"A": {{Symbol: "A", Timestamp: at(0)}, {Symbol: "A", Timestamp: at(2)}, {Symbol: "A", Timestamp: at(1)}},
		"B": {{Symbol: "B", Timestamp: at(1)}, {Symbol: "B", Timestamp: at(3)}},
	}
	merged := mergeByTime(groups, []string{"A", "B"})
	var got []string
	for _, b := range merged {
		got = append(got, b.Symbol+b.Timestamp.Format("4"))
	}
	want := "A0 B1 A2 A1 B3"
	if strings.Join(got, " ") != want {
		t.Errorf("merged = %v, want %s", got, want)
	}
}
