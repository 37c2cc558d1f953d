package bms

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dp-web4/modbatt-CAN/internal/protocol"
	"github.com/dp-web4/modbatt-CAN/internal/sequencer"
)

var ErrModuleRange = errors.New("bms: module id out of range")

// Snapshot is a consistent copy of the whole store.
type Snapshot struct {
	Pack    Pack     `json:"pack"`
	Modules []Module `json:"modules"`
}

// Store owns pack and module state. Only the receive path writes; readers
// get copies.
type Store struct {
	mu      sync.RWMutex
	pack    Pack
	modules [MaxModules]slot
	records map[string]protocol.Record
	faults  FaultMap
}

func NewStore(faults FaultMap) *Store {
	if faults == nil {
		faults = DefaultFaultMap()
	}
	return &Store{records: make(map[string]protocol.Record), faults: faults}
}

// Apply folds one decoded record into the store. Tables without a mapping
// are only kept as the latest record.
func (s *Store) Apply(rec protocol.Record, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch rec.Table {
	case "bms_state", "bms_data_1", "bms_data_2", "bms_data_3", "bms_data_5",
		"bms_data_8", "bms_data_9", "bms_data_10", "module_list":
		s.applyPack(rec, at)
	case "module_state", "module_power", "module_cell_voltage", "module_cell_temp",
		"module_limits", "module_status", "module_detail":
		id := rec.Raw("module_id")
		if id >= MaxModules {
			return fmt.Errorf("%w: %s module_id=%d", ErrModuleRange, rec.Table, id)
		}
		if rec.Table == "module_detail" {
			if err := s.applyCell(uint8(id), rec); err != nil {
				return err
			}
		}
		s.applyModule(uint8(id), rec, at)
	}
	s.records[rec.Table] = rec
	return nil
}

func (s *Store) applyPack(rec protocol.Record, at time.Time) {
	p := &s.pack
	switch rec.Table {
	case "bms_state":
		p.State = sequencer.State(rec.Raw("state"))
		p.Status = sequencer.PackStatus(rec.Raw("status"))
		p.SOH = rec.Physical("soh")
		p.CellBalanceStatus = uint8(rec.Raw("cell_balance_status"))
		p.CellBalanceActive = rec.Raw("cell_balance_active") != 0
		p.ModuleOff = uint8(rec.Raw("module_off"))
		p.TotalModules = int(rec.Raw("total_mod_cnt"))
		p.ActiveModules = int(rec.Raw("active_mod_cnt"))
	case "bms_data_1":
		p.Voltage = rec.Physical("pack_voltage")
		p.Current = rec.Physical("pack_current")
	case "bms_data_2":
		p.CellHiVolt = rec.Physical("high_cell_volt")
		p.CellLoVolt = rec.Physical("low_cell_volt")
		p.CellAvgVolt = rec.Physical("avg_cell_volt")
		p.SOC = rec.Physical("soc")
	case "bms_data_3":
		p.CellHiTemp = rec.Physical("high_cell_temp")
		p.CellLoTemp = rec.Physical("low_cell_temp")
		p.CellAvgTemp = rec.Physical("avg_cell_temp")
	case "bms_data_5":
		p.ChargeLimit = rec.Physical("charge_limit")
		p.DischargeLimit = rec.Physical("discharge_limit")
		p.ChargeEndVoltage = rec.Physical("charge_end_voltage")
	case "bms_data_8":
		p.MaxVoltModule = uint8(rec.Raw("max_volt_mod"))
		p.MinVoltModule = uint8(rec.Raw("min_volt_mod"))
		p.MaxVoltCell = uint8(rec.Raw("max_volt_cell"))
		p.MinVoltCell = uint8(rec.Raw("min_volt_cell"))
	case "bms_data_9":
		p.MaxTempModule = uint8(rec.Raw("max_temp_mod"))
		p.MinTempModule = uint8(rec.Raw("min_temp_mod"))
		p.MaxTempCell = uint8(rec.Raw("max_temp_cell"))
		p.MinTempCell = uint8(rec.Raw("min_temp_cell"))
	case "bms_data_10":
		p.Isolation = rec.Physical("hv_bus_actv_iso")
	case "module_list":
		p.ListedModules = int(rec.Raw("module_count"))
	}
	p.UpdatedAt = at
}

func (s *Store) applyModule(id uint8, rec protocol.Record, at time.Time) {
	sl := &s.modules[id]
	sl.present = true
	m := &sl.module
	m.ID = id
	switch rec.Table {
	case "module_state":
		m.State = sequencer.State(rec.Raw("module_state"))
		m.Status = uint8(rec.Raw("module_status"))
		m.SOC = rec.Physical("module_soc")
		m.SOH = rec.Physical("module_soh")
		m.CellCount = int(rec.Raw("module_cell_count"))
		m.FaultCode = uint8(rec.Raw("module_fault_code"))
		m.Faults = s.faults.Decode(m.FaultCode)
		m.CellBalanceStatus = uint8(rec.Raw("cell_balance_status"))
		m.CellBalanceActive = rec.Raw("cell_balance_active") != 0
	case "module_power":
		m.Voltage = rec.Physical("module_voltage")
		m.Current = rec.Physical("module_current")
	case "module_cell_voltage":
		m.CellHiVolt = rec.Physical("high_cell_volt")
		m.CellLoVolt = rec.Physical("low_cell_volt")
		m.CellAvgVolt = rec.Physical("avg_cell_volt")
	case "module_cell_temp":
		m.CellHiTemp = rec.Physical("high_cell_temp")
		m.CellLoTemp = rec.Physical("low_cell_temp")
		m.CellAvgTemp = rec.Physical("avg_cell_temp")
	case "module_limits":
		m.ChargeLimit = rec.Physical("charge_limit")
		m.DischargeLimit = rec.Physical("discharge_limit")
		m.ChargeEndVoltage = rec.Physical("charge_end_voltage")
	case "module_status":
		m.State = sequencer.State(rec.Raw("state"))
		m.SOC = rec.Physical("soc")
	case "module_detail":
		if n := int(rec.Raw("cell_count")); n > 0 {
			m.CellCount = min(n, MaxCells)
		}
	}
	m.UpdatedAt = at
}

func (s *Store) applyCell(id uint8, rec protocol.Record) error {
	cell := rec.Raw("cell_id")
	if cell >= MaxCells {
		return fmt.Errorf("%w: module %d cell_id=%d", ErrModuleRange, id, cell)
	}
	sl := &s.modules[id]
	sl.cells[cell] = Cell{
		ID:          int(cell),
		Voltage:     rec.Physical("cell_voltage"),
		Temperature: rec.Physical("cell_temp"),
		SOC:         rec.Physical("cell_soc"),
	}
	sl.seen[cell] = true
	return nil
}

func (s *Store) Pack() Pack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pack
}

func (s *Store) Module(id uint8) (Module, bool) {
	if id >= MaxModules {
		return Module{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl := &s.modules[id]
	if !sl.present {
		return Module{}, false
	}
	return sl.snapshot(), true
}

// Modules returns every module heard from, by id.
func (s *Store) Modules() []Module {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modulesLocked()
}

func (s *Store) modulesLocked() []Module {
	var out []Module
	for i := range s.modules {
		if s.modules[i].present {
			out = append(out, s.modules[i].snapshot())
		}
	}
	return out
}

// Record returns the latest decoded record of a table.
func (s *Store) Record(table string) (protocol.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[table]
	return rec, ok
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Pack: s.pack, Modules: s.modulesLocked()}
}
