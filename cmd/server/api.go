package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/algernon-A/TransferController-sub001/internal/persistence/container"
	"github.com/algernon-A/TransferController-sub001/internal/sim/controller"
	"github.com/algernon-A/TransferController-sub001/internal/sim/host"
	"github.com/algernon-A/TransferController-sub001/internal/sim/matchlog"
	"github.com/algernon-A/TransferController-sub001/internal/sim/pathfail"
	"github.com/algernon-A/TransferController-sub001/internal/sim/restrictions"
	"github.com/algernon-A/TransferController-sub001/internal/sim/vehicles"
	"github.com/algernon-A/TransferController-sub001/internal/sim/warehouse"
)

var errNoBuilding = errors.New("unknown building")

// api serves the diagnostics and edit endpoints. Every handler goes through
// Controller.Do so store access stays on the controller goroutine.
type api struct {
	c       *controller.Controller
	saveDir string
	onSave  func(path string, info controller.SaveInfo)
	log     *log.Logger
	timeout time.Duration
}

// register mounts the /v1 routes, and the loopback-only /admin/v1 routes
// when admin is set.
func (a *api) register(mux *http.ServeMux, admin bool) {
	mux.HandleFunc("/v1/outcomes", a.handleOutcomes)
	mux.HandleFunc("/v1/failures", a.handleFailures)
	mux.HandleFunc("/v1/restrictions", a.handleRestrictions)
	mux.HandleFunc("/v1/warehouses", a.handleWarehouses)
	mux.HandleFunc("/v1/vehicles", a.handleVehicles)
	if admin {
		mux.HandleFunc("/admin/v1/save", a.handleSave)
	}
}

func (a *api) do(r *http.Request, fn func(*controller.Controller) error) error {
	timeout := a.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	return a.c.Do(ctx, fn)
}

func (a *api) handleOutcomes(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	var f matchlog.Filter
	if v := q.Get("building"); v != "" {
		b, err := parseBuilding(v)
		if err != nil {
			writeError(rw, http.StatusBadRequest, err)
			return
		}
		f.Building = b
	}
	for _, part := range splitList(q.Get("status")) {
		s, err := matchlog.ParseStatus(part)
		if err != nil {
			writeError(rw, http.StatusBadRequest, err)
			return
		}
		f.Statuses = append(f.Statuses, s)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(rw, http.StatusBadRequest, fmt.Errorf("bad limit %q", v))
			return
		}
		f.Limit = n
	}

	var out []matchlog.Entry
	err := a.do(r, func(c *controller.Controller) error {
		out = c.Outcomes().Query(f)
		return nil
	})
	if err != nil {
		writeError(rw, http.StatusServiceUnavailable, err)
		return
	}
	if out == nil {
		out = []matchlog.Entry{}
	}
	writeJSON(rw, http.StatusOK, out)
}

func (a *api) handleFailures(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	b, err := parseBuilding(r.URL.Query().Get("building"))
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	var out []pathfail.Failure
	err = a.do(r, func(c *controller.Controller) error {
		out = c.Failures().FailuresFor(b)
		return nil
	})
	if err != nil {
		writeError(rw, http.StatusServiceUnavailable, err)
		return
	}
	if out == nil {
		out = []pathfail.Failure{}
	}
	writeJSON(rw, http.StatusOK, out)
}

type restrictionView struct {
	Building         host.BuildingID   `json:"building"`
	Record           uint16            `json:"record"`
	Category         host.Category     `json:"category"`
	Direction        string            `json:"direction"`
	Enabled          bool              `json:"enabled"`
	SameDistrictOnly bool              `json:"same_district_only"`
	OutsideAllowed   bool              `json:"outside_allowed"`
	Districts        []host.AreaID     `json:"districts"`
	Buildings        []host.BuildingID `json:"buildings"`
}

func viewRestriction(s *restrictions.Store, k restrictions.Key) restrictionView {
	cat, dir, _ := s.Category(k)
	districts, _ := s.DistrictsFor(k)
	buildings, _ := s.BuildingsFor(k)
	if districts == nil {
		districts = []host.AreaID{}
	}
	if buildings == nil {
		buildings = []host.BuildingID{}
	}
	return restrictionView{
		Building:         k.Building,
		Record:           k.Record,
		Category:         cat,
		Direction:        dir.String(),
		Enabled:          s.Enabled(k),
		SameDistrictOnly: s.SameDistrictOnly(k),
		OutsideAllowed:   s.OutsideConnectionAllowed(k),
		Districts:        districts,
		Buildings:        buildings,
	}
}

// restrictionEdit is applied in field order; nil fields are left alone.
type restrictionEdit struct {
	Building         host.BuildingID   `json:"building"`
	Category         host.Category     `json:"category"`
	Direction        string            `json:"direction"`
	Clear            bool              `json:"clear,omitempty"`
	Enabled          *bool             `json:"enabled,omitempty"`
	SameDistrictOnly *bool             `json:"same_district_only,omitempty"`
	OutsideAllowed   *bool             `json:"outside_allowed,omitempty"`
	AddDistricts     []host.AreaID     `json:"add_districts,omitempty"`
	RemoveDistricts  []host.AreaID     `json:"remove_districts,omitempty"`
	AddBuildings     []host.BuildingID `json:"add_buildings,omitempty"`
	RemoveBuildings  []host.BuildingID `json:"remove_buildings,omitempty"`
}

func parseDirection(s string) (restrictions.Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "incoming", "in":
		return restrictions.Incoming, nil
	case "outgoing", "out":
		return restrictions.Outgoing, nil
	default:
		return 0, fmt.Errorf("bad direction %q", s)
	}
}

func (a *api) handleRestrictions(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		b, err := parseBuilding(r.URL.Query().Get("building"))
		if err != nil {
			writeError(rw, http.StatusBadRequest, err)
			return
		}
		var out []restrictionView
		err = a.do(r, func(c *controller.Controller) error {
			for _, k := range c.Restrictions().Keys(b) {
				out = append(out, viewRestriction(c.Restrictions(), k))
			}
			return nil
		})
		if err != nil {
			writeError(rw, http.StatusServiceUnavailable, err)
			return
		}
		if out == nil {
			out = []restrictionView{}
		}
		writeJSON(rw, http.StatusOK, out)

	case http.MethodPost:
		var req restrictionEdit
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(rw, http.StatusBadRequest, err)
			return
		}
		dir, err := parseDirection(req.Direction)
		if err != nil {
			writeError(rw, http.StatusBadRequest, err)
			return
		}
		if !req.Category.Valid() {
			writeError(rw, http.StatusBadRequest, fmt.Errorf("bad category"))
			return
		}
		var view *restrictionView
		err = a.do(r, func(c *controller.Controller) error {
			if !c.Host().BuildingExists(req.Building) {
				return errNoBuilding
			}
			s := c.Restrictions()
			if req.Clear {
				if k, ok := s.Lookup(req.Building, req.Category, dir); ok {
					s.Clear(k)
				}
				return nil
			}
			k := s.Ensure(req.Building, req.Category, dir)
			if req.Enabled != nil {
				s.SetEnabled(k, *req.Enabled)
			}
			if req.SameDistrictOnly != nil {
				s.SetSameDistrictOnly(k, *req.SameDistrictOnly)
			}
			if req.OutsideAllowed != nil {
				s.SetOutsideConnectionAllowed(k, *req.OutsideAllowed)
			}
			for _, d := range req.AddDistricts {
				s.AddDistrict(k, d)
			}
			for _, d := range req.RemoveDistricts {
				s.RemoveDistrict(k, d)
			}
			for _, o := range req.AddBuildings {
				s.AddBuilding(k, o)
			}
			for _, o := range req.RemoveBuildings {
				s.RemoveBuilding(k, o)
			}
			v := viewRestriction(s, k)
			view = &v
			return nil
		})
		if err != nil {
			writeDoError(rw, err)
			return
		}
		if view == nil {
			writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "cleared": true})
			return
		}
		writeJSON(rw, http.StatusOK, view)

	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type warehouseEdit struct {
	Building         host.BuildingID `json:"building"`
	Reserve          string          `json:"reserve"`
	ReservedVehicles *int            `json:"reserved_vehicles,omitempty"`
}

type warehouseView struct {
	Building         host.BuildingID `json:"building"`
	Reserve          string          `json:"reserve"`
	ReservedVehicles int             `json:"reserved_vehicles"`
	Capacity         int             `json:"capacity"`
}

func (a *api) handleWarehouses(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req warehouseEdit
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	mode, err := warehouse.ParseReserveMode(req.Reserve)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	var view warehouseView
	err = a.do(r, func(c *controller.Controller) error {
		pf, ok := c.Host().PrefabOf(req.Building)
		if !ok {
			return errNoBuilding
		}
		if pf.Kind != host.KindWarehouse {
			return fmt.Errorf("building %d is not a warehouse", req.Building)
		}
		p := c.Warehouses()
		p.SetReserve(req.Building, mode)
		if req.ReservedVehicles != nil {
			p.SetReservedVehicleCount(req.Building, *req.ReservedVehicles)
		}
		view = warehouseView{
			Building:         req.Building,
			Reserve:          p.Reserve(req.Building).String(),
			ReservedVehicles: p.ReservedVehicleCount(req.Building),
			Capacity:         p.CapacityFor(req.Building),
		}
		return nil
	})
	if err != nil {
		writeDoError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, view)
}

type vehicleEdit struct {
	Building host.BuildingID        `json:"building"`
	Category host.Category          `json:"category"`
	Clear    bool                   `json:"clear,omitempty"`
	Add      []host.VehiclePrefabID `json:"add,omitempty"`
	Remove   []host.VehiclePrefabID `json:"remove,omitempty"`
}

type vehicleView struct {
	Building host.BuildingID        `json:"building"`
	Category host.Category          `json:"category"`
	Allowed  []host.VehiclePrefabID `json:"allowed"`
}

func (a *api) handleVehicles(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req vehicleEdit
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	if !req.Category.Valid() {
		writeError(rw, http.StatusBadRequest, fmt.Errorf("bad category"))
		return
	}
	view := vehicleView{Building: req.Building, Category: req.Category}
	err := a.do(r, func(c *controller.Controller) error {
		if !c.Host().BuildingExists(req.Building) {
			return errNoBuilding
		}
		p := c.Vehicles()
		if req.Clear {
			p.Clear(req.Building, req.Category)
		}
		for _, id := range req.Add {
			p.Add(req.Building, req.Category, id)
		}
		for _, id := range req.Remove {
			p.Remove(req.Building, req.Category, id)
		}
		view.Allowed = allowedOrEmpty(p, req.Building, req.Category)
		return nil
	})
	if err != nil {
		writeDoError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, view)
}

func allowedOrEmpty(p *vehicles.Policy, b host.BuildingID, c host.Category) []host.VehiclePrefabID {
	list, ok := p.Allowed(b, c)
	if !ok {
		return []host.VehiclePrefabID{}
	}
	return list
}

func (a *api) handleSave(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	if a.saveDir == "" {
		writeError(rw, http.StatusServiceUnavailable, fmt.Errorf("saves disabled"))
		return
	}
	var (
		path string
		info controller.SaveInfo
	)
	err := a.do(r, func(c *controller.Controller) error {
		path = container.PathFor(a.saveDir, c.Tick())
		var err error
		info, err = c.SaveFile(path)
		return err
	})
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	a.printf("manual save tick=%d path=%s", info.Tick, path)
	if a.onSave != nil {
		a.onSave(path, info)
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": info.Tick, "path": path})
}

func (a *api) printf(format string, args ...any) {
	if a.log != nil {
		a.log.Printf(format, args...)
	}
}

func parseBuilding(v string) (host.BuildingID, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("bad building %q", v)
	}
	return host.BuildingID(n), nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, err error) {
	writeJSON(rw, status, map[string]any{"ok": false, "error": err.Error()})
}

func writeDoError(rw http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errNoBuilding):
		writeError(rw, http.StatusNotFound, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(rw, http.StatusServiceUnavailable, err)
	default:
		writeError(rw, http.StatusBadRequest, err)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	addr := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		addr = h
	}
	addr = strings.TrimPrefix(addr, "[")
	addr = strings.TrimSuffix(addr, "]")
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}
