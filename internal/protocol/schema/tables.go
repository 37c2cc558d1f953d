package schema

import "github.com/dp-web4/modbatt-CAN/internal/protocol"

func flag(name string, bit uint8) protocol.FieldSpec {
	return protocol.FieldSpec{Name: name, Start: bit, Width: 1, Factor: 1, Max: 1}
}

func raw(name string, start, width uint8) protocol.FieldSpec {
	return protocol.FieldSpec{Name: name, Start: start, Width: width, Factor: 1}
}

func volts(name string, start uint8) protocol.FieldSpec {
	return protocol.FieldSpec{Name: name, Start: start, Width: 16, Factor: VoltageFactor, Max: 983.025, Unit: "V"}
}

func amps(name string, start uint8) protocol.FieldSpec {
	return protocol.FieldSpec{Name: name, Start: start, Width: 16, Factor: CurrentFactor, Offset: CurrentOffset, Min: -655.36, Max: 655.34, Unit: "A"}
}

func cellVolts(name string, start uint8) protocol.FieldSpec {
	return protocol.FieldSpec{Name: name, Start: start, Width: 16, Factor: CellVoltageFactor, Max: 65.535, Unit: "V"}
}

func cellTemp(name string, start uint8) protocol.FieldSpec {
	return protocol.FieldSpec{Name: name, Start: start, Width: 16, Factor: 0.01, Offset: TemperatureOffset, Min: -40, Max: 215, Unit: "C"}
}

func percent(name string, start uint8) protocol.FieldSpec {
	return protocol.FieldSpec{Name: name, Start: start, Width: 8, Factor: PercentFactor, Max: 100, Unit: "%"}
}

func diagTemp(name string, start uint8) protocol.FieldSpec {
	return protocol.FieldSpec{Name: name, Start: start, Width: 8, Factor: 1, Offset: TemperatureOffset, Min: -40, Max: 215, Unit: "C"}
}

func diagCellVolts(name string, start uint8) protocol.FieldSpec {
	return protocol.FieldSpec{Name: name, Start: start, Width: 8, Factor: 0.01, Offset: 2, Min: 2, Max: 4.55, Unit: "V"}
}

var builtin = []Class{
	// VCU -> pack
	{Base: IDVCUCommand, Bus: BusPack, Direction: ToPack, Table: protocol.Table{Name: "vcu_command", Fields: []protocol.FieldSpec{
		raw("contactor_ctrl", 0, 2),
		raw("cell_balance_ctrl", 2, 2),
		raw("hv_bus_actv_iso_en", 4, 2),
		volts("hv_bus_voltage", 16),
	}}},
	{Base: IDVCUTime, Bus: BusPack, Direction: ToPack, Table: protocol.Table{Name: "vcu_time", Fields: []protocol.FieldSpec{
		{Name: "time", Start: 0, Width: 32, Factor: 1, Unit: "s"},
	}}},
	{Base: IDVCUReadEEPROM, Bus: BusPack, Direction: ToPack, Table: protocol.Table{Name: "vcu_read_eeprom", Fields: []protocol.FieldSpec{
		raw("address", 0, 16),
	}}},
	{Base: IDVCUWriteEEPROM, Bus: BusPack, Direction: ToPack, Table: protocol.Table{Name: "vcu_write_eeprom", Fields: []protocol.FieldSpec{
		raw("address", 0, 16),
		raw("data", 16, 32),
	}}},
	{Base: IDVCUModuleCommand, Bus: BusPack, Direction: ToPack, Table: protocol.Table{Name: "vcu_module_command", Fields: []protocol.FieldSpec{
		raw("contactor_ctrl", 0, 2),
		raw("cell_balance_ctrl", 2, 2),
		raw("hv_bus_actv_iso", 4, 2),
		volts("hv_bus_voltage", 16),
		raw("module_id", 32, 8),
	}}},
	{Base: IDVCUKeepAlive, Bus: BusPack, Direction: ToPack, Table: protocol.Table{Name: "vcu_keep_alive", Fields: []protocol.FieldSpec{
		raw("module_id", 0, 8),
	}}},
	{Base: IDVCURequestModuleList, Bus: BusPack, Direction: ToPack, Table: protocol.Table{Name: "vcu_request_module_list"}},

	// pack -> VCU
	{Base: IDBMSState, Bus: BusPack, Direction: FromPack, Table: protocol.Table{Name: "bms_state", Fields: []protocol.FieldSpec{
		{Name: "state", Start: 0, Width: 4, Factor: 1, Max: 3},
		{Name: "status", Start: 4, Width: 4, Factor: 1, Max: 3},
		percent("soh", 8),
		raw("cell_balance_status", 16, 4),
		flag("cell_balance_active", 20),
		raw("module_off", 24, 8),
		raw("total_mod_cnt", 32, 8),
		raw("active_mod_cnt", 40, 8),
	}}},
	{Base: IDModuleState, Bus: BusPack, Direction: FromPack, Table: protocol.Table{Name: "module_state", Fields: []protocol.FieldSpec{
		raw("module_id", 0, 8),
		{Name: "module_state", Start: 8, Width: 4, Factor: 1, Max: 3},
		raw("module_status", 12, 4),
		percent("module_soc", 16),
		percent("module_soh", 24),
		raw("module_cell_count", 32, 8),
		raw("module_fault_code", 40, 8),
		raw("cell_balance_status", 48, 4),
		flag("cell_balance_active", 52),
	}}},
	{Base: IDModulePower, Bus: BusPack, Direction: FromPack, Table: protocol.Table{Name: "module_power", Fields: []protocol.FieldSpec{
		raw("module_id", 0, 8),
		volts("module_voltage", 8),
		amps("module_current", 24),
	}}},
	{Base: IDModuleCellVoltage, Bus: BusPack, Direction: FromPack, Table: protocol.Table{Name: "module_cell_voltage", Fields: []protocol.FieldSpec{
		raw("module_id", 0, 8),
		cellVolts("high_cell_volt", 8),
		cellVolts("low_cell_volt", 24),
		cellVolts("avg_cell_volt", 40),
	}}},
	{Base: IDModuleCellTemp, Bus: BusPack, Direction: FromPack, Table: protocol.Table{Name: "module_cell_temp", Fields: []protocol.FieldSpec{
		raw("module_id", 0, 8),
		cellTemp("high_cell_temp", 8),
		cellTemp("low_cell_temp", 24),
		cellTemp("avg_cell_temp", 40),
	}}},
	{Base: IDModuleCellID, Bus: BusPack, Direction: FromPack, Table: protocol.Table{Name: "module_cell_id", Fields: []protocol.FieldSpec{
		raw("module_id", 0, 8),
		raw("cell_id", 8, 8),
	}}},
	{Base: IDModuleLimits, Bus: BusPack, Direction: FromPack, Table: protocol.Table{Name: "module_limits", Fields: []protocol.FieldSpec{
		raw("module_id", 0, 8),
		amps("discharge_limit", 8),
		amps("charge_limit", 24),
		volts("charge_end_voltage", 40),
	}}},
	{Base: IDModuleList, Bus: BusPack, Direction: FromPack, Table: protocol.Table{Name: "module_list", Fields: []protocol.FieldSpec{
		raw("module_count", 0, 8),
	}}},
	{Base: IDBMSData1, Bus: BusPack, Direction: FromPack, Table: protocol.Table{Name: "bms_data_1", Fields: []protocol.FieldSpec{
		volts("pack_voltage", 0),
		amps("pack_current", 16),
	}}},
	{Base: IDBMSData2, Bus: BusPack, Direction: FromPack, Table: protocol.Table{Name: "bms_data_2", Fields: []protocol.FieldSpec{
		cellVolts("high_cell_volt", 0),
		cellVolts("low_cell_volt", 16),
		cellVolts("avg_cell_volt", 32),
		percent("soc", 48),
	}}},
	{Base: IDBMSData3, Bus: BusPack, Direction: FromPack, Table: protocol.Table{Name: "bms_data_3", Fields: []protocol.FieldSpec{
		cellTemp("high_cell_temp", 0),
		cellTemp("low_cell_temp", 16),
		cellTemp("avg_cell_temp", 32),
	}}},
	{Base: IDBMSData4, Bus: BusPack, Direction: FromPack, Table: protocol.Table{Name: "bms_data_4"}},
	{Base: IDBMSData5, Bus: BusPack, Direction: FromPack, Table: protocol.Table{Name: "bms_data_5", Fields: []protocol.FieldSpec{
		amps("charge_limit", 0),
		amps("discharge_limit", 16),
		volts("charge_end_voltage", 32),
	}}},
	{Base: IDBMSData6, Bus: BusPack, Direction: FromPack, Table: protocol.Table{Name: "bms_data_6"}},
	{Base: IDBMSData7, Bus: BusPack, Direction: FromPack, Table: protocol.Table{Name: "bms_data_7"}},
	{Base: IDBMSData8, Bus: BusPack, Direction: FromPack, Table: protocol.Table{Name: "bms_data_8", Fields: []protocol.FieldSpec{
		raw("max_volt_mod", 0, 8),
		raw("min_volt_mod", 8, 8),
		raw("max_volt_cell", 16, 8),
		raw("min_volt_cell", 24, 8),
	}}},
	{Base: IDBMSData9, Bus: BusPack, Direction: FromPack, Table: protocol.Table{Name: "bms_data_9", Fields: []protocol.FieldSpec{
		raw("max_temp_mod", 0, 8),
		raw("min_temp_mod", 8, 8),
		raw("max_temp_cell", 16, 8),
		raw("min_temp_cell", 24, 8),
	}}},
	{Base: IDBMSData10, Bus: BusPack, Direction: FromPack, Table: protocol.Table{Name: "bms_data_10", Fields: []protocol.FieldSpec{
		{Name: "hv_bus_actv_iso", Start: 0, Width: 16, Factor: 1, Unit: "ohm/V"},
	}}},
	{Base: IDBMSTimeRequest, Bus: BusPack, Direction: FromPack, Table: protocol.Table{Name: "bms_time_request"}},
	{Base: IDBMSEEPROMData, Bus: BusPack, Direction: FromPack, Table: protocol.Table{Name: "bms_eeprom_data", Fields: []protocol.FieldSpec{
		raw("address", 0, 16),
		raw("data", 16, 32),
	}}},

	// module bus
	{Base: IDModuleAnnouncement, Bus: BusModule, Direction: FromModule, Table: protocol.Table{Name: "module_announcement", Fields: []protocol.FieldSpec{
		raw("fw_version", 0, 8),
		raw("hw_version", 8, 8),
		raw("mfg_id", 16, 8),
		raw("part_id", 24, 8),
		raw("unique_id", 32, 32),
	}}},
	{Base: IDModuleStatus, Bus: BusModule, Direction: FromModule, Table: protocol.Table{Name: "module_status", Fields: []protocol.FieldSpec{
		raw("module_id", 0, 8),
		{Name: "state", Start: 8, Width: 4, Factor: 1, Max: 3},
		raw("soc", 12, 8),
		raw("hi_temp", 20, 12),
		raw("lo_temp", 32, 12),
		raw("mmc", 44, 10),
		raw("mmv", 54, 10),
	}}},
	{Base: IDModuleDetail, Bus: BusModule, Direction: FromModule, Table: protocol.Table{Name: "module_detail", Fields: []protocol.FieldSpec{
		raw("module_id", 0, 8),
		raw("cell_count", 8, 10),
		raw("cell_id", 18, 10),
		raw("cell_temp", 32, 12),
		raw("cell_voltage", 44, 10),
		raw("cell_soc", 54, 8),
	}}},
	{Base: IDModuleRegistration, Bus: BusModule, Direction: ToModule, Table: protocol.Table{Name: "module_registration", Fields: []protocol.FieldSpec{
		raw("module_id", 0, 8),
		raw("controller_id", 8, 8),
		raw("mfg_id", 16, 8),
		raw("part_id", 24, 8),
		raw("unique_id", 32, 32),
	}}},
	{Base: IDModuleStatusRequest, Bus: BusModule, Direction: ToModule, Table: protocol.Table{Name: "module_status_request", Fields: []protocol.FieldSpec{
		raw("module_id", 0, 8),
	}}},
	{Base: IDModuleDetailRequest, Bus: BusModule, Direction: ToModule, Table: protocol.Table{Name: "module_detail_request", Fields: []protocol.FieldSpec{
		raw("module_id", 0, 8),
		raw("cell_id", 8, 10),
	}}},
	{Base: IDModuleStateChange, Bus: BusModule, Direction: ToModule, Table: protocol.Table{Name: "module_state_change", Fields: []protocol.FieldSpec{
		raw("module_id", 0, 8),
		{Name: "state", Start: 8, Width: 4, Factor: 1, Max: 3},
	}}},
	{Base: IDModuleDeregisterAll, Bus: BusModule, Direction: ToModule, Table: protocol.Table{Name: "module_deregister_all", Fields: []protocol.FieldSpec{
		raw("controller_id", 0, 8),
	}}},
	{Base: IDModuleIsolateAll, Bus: BusModule, Direction: ToModule, Table: protocol.Table{Name: "module_isolate_all", Fields: []protocol.FieldSpec{
		raw("controller_id", 0, 8),
	}}},

	// diagnostics
	{Base: IDDiagStatus, Bus: BusDiag, Direction: Diagnostic, Table: protocol.Table{Name: "diag_status", Fields: []protocol.FieldSpec{
		raw("battery_state", 4, 4),
		{Name: "pack_voltage", Start: 8, Width: 14, Factor: 0.1, Max: 1638.3, Unit: "V"},
		flag("balance_no_cmd", 24),
		flag("balance_cell_voltage_low", 25),
		flag("balance_cell_voltage_high", 26),
		flag("balance_temp_low", 27),
		flag("balance_temp_high", 28),
		flag("balance_wrong_state", 29),
		flag("balancing_status", 40),
		{Name: "display_soc", Start: 41, Width: 7, Factor: 1, Max: 100, Unit: "%"},
		{Name: "real_soc", Start: 49, Width: 7, Factor: 1, Max: 100, Unit: "%"},
		{Name: "soh", Start: 57, Width: 7, Factor: 1, Max: 100, Unit: "%"},
	}}},
	{Base: IDDiagFault, Bus: BusDiag, Direction: Diagnostic, Table: protocol.Table{Name: "diag_fault", Fields: []protocol.FieldSpec{
		flag("fault_cell_temp_high", 0),
		flag("fault_cell_temp_low", 1),
		flag("fault_cell_temp_high_chg", 2),
		flag("fault_cell_temp_low_chg", 3),
		flag("fault_cell_voltage_high", 4),
		flag("fault_cell_voltage_low", 5),
		flag("fault_current_chg", 6),
		flag("fault_module_comm", 7),
		flag("fault_current_dchg", 8),
		flag("fault_hvil", 9),
		flag("fault_precharge", 10),
		flag("fault_vcu_comm", 11),
		flag("warn_cell_temp_high", 24),
		flag("warn_cell_temp_low", 25),
		flag("warn_cell_temp_high_chg", 26),
		flag("warn_cell_temp_low_chg", 27),
		flag("warn_cell_voltage_high", 28),
		flag("warn_cell_voltage_low", 29),
		flag("warn_thermistor_fail", 30),
		flag("warn_current_chg", 31),
		flag("warn_current_dchg", 32),
		flag("warn_module_comm", 33),
		flag("warn_cell_delta", 34),
	}}},
	{Base: IDDiagCellData, Bus: BusDiag, Direction: Diagnostic, Table: protocol.Table{Name: "diag_cell_data", Fields: []protocol.FieldSpec{
		{Name: "min_cell_voltage", Start: 0, Width: 13, Factor: 0.001, Max: 8.191, Unit: "V"},
		{Name: "max_cell_voltage", Start: 13, Width: 13, Factor: 0.001, Max: 8.191, Unit: "V"},
		{Name: "avg_cell_voltage", Start: 26, Width: 13, Factor: 0.001, Max: 8.191, Unit: "V"},
		diagTemp("min_cell_temp", 40),
		diagTemp("max_cell_temp", 48),
		diagTemp("avg_cell_temp", 56),
	}}},
	{Base: IDDiagIO, Bus: BusDiag, Direction: Diagnostic, Table: protocol.Table{Name: "diag_io", Fields: []protocol.FieldSpec{
		flag("input_1", 0), flag("input_2", 1), flag("input_3", 2), flag("input_4", 3),
		flag("input_5", 4), flag("input_6", 5), flag("input_7", 6), flag("input_8", 7),
		flag("contactor_hs", 8),
		flag("contactor_ls", 9),
		flag("contactor_pc", 10),
		flag("hvil", 12),
		flag("output_1", 16), flag("output_2", 17), flag("output_3", 18), flag("output_4", 19),
	}}},
	{Base: IDDiagLimits, Bus: BusDiag, Direction: Diagnostic, Table: protocol.Table{Name: "diag_limits", Fields: []protocol.FieldSpec{
		{Name: "max_chg_current", Start: 0, Width: 11, Factor: 1, Max: 2047, Unit: "A"},
		{Name: "max_dchg_current", Start: 16, Width: 11, Factor: 1, Max: 2047, Unit: "A"},
	}}},
	{Base: IDDiagModData1, Bus: BusDiag, Direction: Diagnostic, Table: diagCellBlock("diag_mod_data_1", 1)},
	{Base: IDDiagModData2, Bus: BusDiag, Direction: Diagnostic, Table: diagCellBlock("diag_mod_data_2", 8)},
	{Base: IDDiagModData3, Bus: BusDiag, Direction: Diagnostic, Table: protocol.Table{Name: "diag_mod_data_3", Fields: []protocol.FieldSpec{
		raw("module_index", 0, 8),
		diagTemp("mod_temp_1", 8),
		diagTemp("mod_temp_2", 16),
		diagTemp("mod_temp_3", 24),
		diagTemp("mod_temp_4", 32),
		diagTemp("mod_temp_5", 40),
		diagTemp("mod_temp_6", 48),
	}}},
	{Base: IDDiagModData4, Bus: BusDiag, Direction: Diagnostic, Table: diagBalanceBlock()},
}

func diagCellBlock(name string, first int) protocol.Table {
	t := protocol.Table{Name: name, Fields: []protocol.FieldSpec{raw("module_index", 0, 8)}}
	for i := 0; i < 7; i++ {
		t.Fields = append(t.Fields, diagCellVolts(cellName("cell_voltage_", first+i), uint8(8+8*i)))
	}
	return t
}

func diagBalanceBlock() protocol.Table {
	t := protocol.Table{Name: "diag_mod_data_4", Fields: []protocol.FieldSpec{raw("module_index", 0, 8)}}
	for i := 0; i < 14; i++ {
		t.Fields = append(t.Fields, flag(cellName("cell_balancing_", i+1), uint8(8+i)))
	}
	return t
}
