package bms

import (
	"time"

	"github.com/dp-web4/modbatt-CAN/internal/sequencer"
)

const (
	MaxModules = 32
	MaxCells   = 256
)

// Cell is the latest module-bus detail for one cell.
type Cell struct {
	ID          int     `json:"id"`
	Voltage     float64 `json:"voltage"`
	Temperature float64 `json:"temperature"`
	SOC         float64 `json:"soc"`
}

// Module is the VCU's view of one battery module.
type Module struct {
	ID                uint8           `json:"id"`
	State             sequencer.State `json:"state"`
	Status            uint8           `json:"status"`
	SOC               float64         `json:"soc"`
	SOH               float64         `json:"soh"`
	CellCount         int             `json:"cell_count"`
	FaultCode         uint8           `json:"fault_code"`
	Faults            []string        `json:"faults,omitempty"`
	CellBalanceStatus uint8           `json:"cell_balance_status"`
	CellBalanceActive bool            `json:"cell_balance_active"`
	Voltage           float64         `json:"voltage"`
	Current           float64         `json:"current"`
	CellHiVolt        float64         `json:"cell_hi_volt"`
	CellLoVolt        float64         `json:"cell_lo_volt"`
	CellAvgVolt       float64         `json:"cell_avg_volt"`
	CellHiTemp        float64         `json:"cell_hi_temp"`
	CellLoTemp        float64         `json:"cell_lo_temp"`
	CellAvgTemp       float64         `json:"cell_avg_temp"`
	ChargeLimit       float64         `json:"charge_limit"`
	DischargeLimit    float64         `json:"discharge_limit"`
	ChargeEndVoltage  float64         `json:"charge_end_voltage"`
	UniqueID          uint32          `json:"unique_id,omitempty"`
	Cells             []Cell          `json:"cells,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Pack is the VCU's view of the pack controller.
type Pack struct {
	State             sequencer.State      `json:"state"`
	Status            sequencer.PackStatus `json:"status"`
	SOH               float64              `json:"soh"`
	SOC               float64              `json:"soc"`
	CellBalanceStatus uint8                `json:"cell_balance_status"`
	CellBalanceActive bool                 `json:"cell_balance_active"`
	ModuleOff         uint8                `json:"module_off"`
	TotalModules      int                  `json:"total_modules"`
	ActiveModules     int                  `json:"active_modules"`
	ListedModules     int                  `json:"listed_modules"`
	Voltage           float64              `json:"voltage"`
	Current           float64              `json:"current"`
	CellHiVolt        float64              `json:"cell_hi_volt"`
	CellLoVolt        float64              `json:"cell_lo_volt"`
	CellAvgVolt       float64              `json:"cell_avg_volt"`
	CellHiTemp        float64              `json:"cell_hi_temp"`
	CellLoTemp        float64              `json:"cell_lo_temp"`
	CellAvgTemp       float64              `json:"cell_avg_temp"`
	ChargeLimit       float64              `json:"charge_limit"`
	DischargeLimit    float64              `json:"discharge_limit"`
	ChargeEndVoltage  float64              `json:"charge_end_voltage"`
	MaxVoltModule     uint8                `json:"max_volt_module"`
	MinVoltModule     uint8                `json:"min_volt_module"`
	MaxVoltCell       uint8                `json:"max_volt_cell"`
	MinVoltCell       uint8                `json:"min_volt_cell"`
	MaxTempModule     uint8                `json:"max_temp_module"`
	MinTempModule     uint8                `json:"min_temp_module"`
	MaxTempCell       uint8                `json:"max_temp_cell"`
	MinTempCell       uint8                `json:"min_temp_cell"`
	Isolation         float64              `json:"isolation"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// slot is one fixed-capacity arena entry.
type slot struct {
	present bool
	module  Module
	cells   [MaxCells]Cell
	seen    [MaxCells]bool
}

func (s *slot) snapshot() Module {
	m := s.module
	m.Faults = append([]string(nil), s.module.Faults...)
	m.Cells = nil
	for i := range s.cells {
		if s.seen[i] {
			m.Cells = append(m.Cells, s.cells[i])
		}
	}
	return m
}
