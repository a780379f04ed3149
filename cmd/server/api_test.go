package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/algernon-A/TransferController-sub001/internal/persistence/indexdb"
	"github.com/algernon-A/TransferController-sub001/internal/sim/controller"
	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
	"github.com/algernon-A/TransferController-sub001/internal/sim/matchlog"
	"github.com/algernon-A/TransferController-sub001/internal/sim/tuning"
)

type testServer struct {
	c     *controller.Controller
	mux   *http.ServeMux
	saves []string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	m := host.NewMemory()
	m.AddArea(host.District(1))
	m.AddArea(host.District(2))
	m.AddBuilding(host.Building{ID: 1, District: host.District(1), Prefab: host.Prefab{Service: "Industrial"}})
	m.AddBuilding(host.Building{ID: 2, District: host.District(2), Position: host.Position{X: 40}, Prefab: host.Prefab{Service: "Industrial"}})
	m.AddBuilding(host.Building{ID: 5, District: host.District(2), Prefab: host.Prefab{Kind: host.KindWarehouse, VehicleCapacity: 2, Service: "Industrial"}})
	m.AddVehiclePrefab(host.VehiclePrefab{ID: "truck", Service: "Industrial"})
	m.AddGenerator(host.Generator{Offer: host.Offer{Building: 1, Category: host.CategoryGoods, Priority: 3}})
	m.AddGenerator(host.Generator{Offer: host.Offer{Building: 2, Category: host.CategoryGoods, Priority: 5}, Incoming: true})

	tune := tuning.Defaults()
	tune.TickRateHz = 100
	ts := &testServer{mux: http.NewServeMux()}
	ts.c = controller.New(m, tune, nil, controller.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ts.c.Run(ctx, m, m)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	a := &api{
		c:       ts.c,
		saveDir: t.TempDir(),
		onSave:  func(path string, _ controller.SaveInfo) { ts.saves = append(ts.saves, path) },
	}
	a.register(ts.mux, true)
	return ts
}

func (ts *testServer) call(t *testing.T, method, target string, body any, remote string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if remote != "" {
		req.RemoteAddr = remote
	}
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestRestrictions_EditThenView(t *testing.T) {
	ts := newTestServer(t)
	enabled := true
	rec := ts.call(t, http.MethodPost, "/v1/restrictions", map[string]any{
		"building":      1,
		"category":      "goods",
		"direction":     "outgoing",
		"enabled":       enabled,
		"add_districts": []int{2, 7},
		"add_buildings": []int{5},
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("post status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = ts.call(t, http.MethodGet, "/v1/restrictions?building=1", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status=%d body=%s", rec.Code, rec.Body.String())
	}
	views := decode[[]restrictionView](t, rec)
	if len(views) != 1 {
		t.Fatalf("views=%+v", views)
	}
	v := views[0]
	if !v.Enabled || v.Direction != "outgoing" || v.Category != host.CategoryGoods || !v.OutsideAllowed {
		t.Fatalf("view=%+v", v)
	}
	// District 7 does not exist and is pruned on read.
	if len(v.Districts) != 1 || v.Districts[0] != host.District(2) {
		t.Fatalf("districts=%v", v.Districts)
	}
	if len(v.Buildings) != 1 || v.Buildings[0] != 5 {
		t.Fatalf("buildings=%v", v.Buildings)
	}

	rec = ts.call(t, http.MethodPost, "/v1/restrictions", map[string]any{
		"building": 1, "category": "goods", "direction": "outgoing", "clear": true,
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status=%d", rec.Code)
	}
	rec = ts.call(t, http.MethodGet, "/v1/restrictions?building=1", nil, "")
	if got := decode[[]restrictionView](t, rec); len(got) != 0 {
		t.Fatalf("after clear=%+v", got)
	}
}

func TestRestrictions_RejectsBadInput(t *testing.T) {
	ts := newTestServer(t)
	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"unknown building", map[string]any{"building": 99, "category": "goods", "direction": "incoming"}, http.StatusNotFound},
		{"bad direction", map[string]any{"building": 1, "category": "goods", "direction": "sideways"}, http.StatusBadRequest},
		{"no category", map[string]any{"building": 1, "direction": "incoming"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := ts.call(t, http.MethodPost, "/v1/restrictions", tc.body, "")
		if rec.Code != tc.want {
			t.Fatalf("%s: status=%d want %d body=%s", tc.name, rec.Code, tc.want, rec.Body.String())
		}
	}
	if rec := ts.call(t, http.MethodGet, "/v1/restrictions?building=x", nil, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad building query status=%d", rec.Code)
	}
}

func TestOutcomes_FilterByStatus(t *testing.T) {
	ts := newTestServer(t)
	deadline := time.Now().Add(3 * time.Second)
	for {
		rec := ts.call(t, http.MethodGet, "/v1/outcomes?building=2&status=Selected&limit=1", nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
		got := decode[[]matchlog.Entry](t, rec)
		if len(got) == 1 {
			if got[0].Status != matchlog.Selected || got[0].InBuilding != 2 || got[0].OutBuilding != 1 {
				t.Fatalf("entry=%+v", got[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no Selected outcome recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if rec := ts.call(t, http.MethodGet, "/v1/outcomes?status=Nope", nil, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown status accepted: %d", rec.Code)
	}
}

func TestWarehouses_SetReserveClampsCount(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.call(t, http.MethodPost, "/v1/warehouses", map[string]any{
		"building": 5, "reserve": "city", "reserved_vehicles": 9,
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	v := decode[warehouseView](t, rec)
	if v.Reserve != "city" || v.ReservedVehicles != 2 || v.Capacity != 2 {
		t.Fatalf("view=%+v", v)
	}

	rec = ts.call(t, http.MethodPost, "/v1/warehouses", map[string]any{"building": 1, "reserve": "city"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-warehouse status=%d", rec.Code)
	}
	rec = ts.call(t, http.MethodPost, "/v1/warehouses", map[string]any{"building": 5, "reserve": "everyone"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad mode status=%d", rec.Code)
	}
}

func TestVehicles_AllowListEdits(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.call(t, http.MethodPost, "/v1/vehicles", map[string]any{
		"building": 1, "category": "goods", "add": []string{"truck", "ghost"},
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	v := decode[vehicleView](t, rec)
	if len(v.Allowed) != 1 || v.Allowed[0] != "truck" {
		t.Fatalf("allowed=%v", v.Allowed)
	}

	rec = ts.call(t, http.MethodPost, "/v1/vehicles", map[string]any{
		"building": 1, "category": "goods", "remove": []string{"truck"},
	}, "")
	if v := decode[vehicleView](t, rec); len(v.Allowed) != 0 {
		t.Fatalf("allowed after remove=%v", v.Allowed)
	}
}

func TestSave_LoopbackOnly(t *testing.T) {
	ts := newTestServer(t)
	if rec := ts.call(t, http.MethodPost, "/admin/v1/save", nil, "192.0.2.1:1234"); rec.Code != http.StatusForbidden {
		t.Fatalf("remote save status=%d", rec.Code)
	}
	rec := ts.call(t, http.MethodPost, "/admin/v1/save", nil, "127.0.0.1:1234")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	resp := decode[map[string]any](t, rec)
	path, _ := resp["path"].(string)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("save file: %v", err)
	}
	if len(ts.saves) != 1 || ts.saves[0] != path {
		t.Fatalf("onSave=%v", ts.saves)
	}
}

func TestFailures_EmptyList(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.call(t, http.MethodGet, "/v1/failures?building=1", nil, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "[]\n" {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestCollector_ExportsControllerAndIndexStats(t *testing.T) {
	met := controller.Metrics{
		Session:  "s1",
		Enabled:  true,
		Tick:     42,
		Outcomes: map[string]uint64{"Selected": 3},
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(newCollector(
		func() controller.Metrics { return met },
		func() indexdb.QueueStats { return indexdb.QueueStats{QueueCapacity: 8, DropOutcomeTotal: 2} },
		nil,
	))
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				values[f.GetName()] += m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				values[f.GetName()] += m.GetCounter().GetValue()
			}
		}
	}
	if values["transfer_controller_tick"] != 42 || values["transfer_controller_enabled"] != 1 {
		t.Fatalf("values=%v", values)
	}
	if values["transfer_controller_outcomes_total"] != 3 || values["transfer_controller_index_dropped_total"] != 2 {
		t.Fatalf("values=%v", values)
	}
	if _, ok := values["transfer_controller_mirror_queue_depth"]; ok {
		t.Fatalf("mirror metrics exported without a mirror")
	}
}

func TestSinks_SavedIsIndexed(t *testing.T) {
	dir := t.TempDir()
	idx, err := openIndex(dir, false)
	if err != nil {
		t.Fatalf("openIndex: %v", err)
	}
	s := &sinks{idx: idx}
	s.saved(filepath.Join(dir, "saves", "000000000010.tcsave"), controller.SaveInfo{Session: "s1", Tick: 10, Version: 4, Restrictions: 2})
	s.pathFailure(controller.PathFailure{Session: "s1", Tick: 11, Vehicle: 3, Source: 1, Target: 2, Category: host.CategoryGoods})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err := indexdb.OpenReader(indexPath(dir))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	saves, err := r.ListSaves(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListSaves: %v", err)
	}
	if len(saves) != 1 || saves[0].Tick != 10 || saves[0].Restrictions != 2 {
		t.Fatalf("saves=%+v", saves)
	}
	failures, err := r.ListFailures(context.Background(), 2, 10)
	if err != nil {
		t.Fatalf("ListFailures: %v", err)
	}
	if len(failures) != 1 || failures[0].Vehicle != 3 {
		t.Fatalf("failures=%+v", failures)
	}
}

func TestOpenIndex_Disabled(t *testing.T) {
	t.Setenv("TC_INDEX_BACKEND", "off")
	idx, err := openIndex(t.TempDir(), false)
	if err != nil || idx != nil {
		t.Fatalf("idx=%v err=%v", idx, err)
	}
	t.Setenv("TC_INDEX_BACKEND", "postgres")
	if _, err := openIndex(t.TempDir(), false); err == nil {
		t.Fatalf("expected unsupported backend error")
	}
}
