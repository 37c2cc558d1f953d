package schema

// VCU to pack controller.
const (
	IDVCUCommand           uint32 = 0x400
	IDVCUTime              uint32 = 0x401
	IDVCUReadEEPROM        uint32 = 0x402
	IDVCUWriteEEPROM       uint32 = 0x403
	IDVCUModuleCommand     uint32 = 0x404
	IDVCUKeepAlive         uint32 = 0x405
	IDVCURequestModuleList uint32 = 0x406
)

// Chunked-transfer request bases (extended frames).
const (
	IDTransferPackKeyHalf   uint32 = 0x407
	IDTransferAppKeyHalf    uint32 = 0x408
	IDTransferPackComponent uint32 = 0x409
	IDTransferAppComponent  uint32 = 0x40A

	// TransferResponseOffset separates a response base from its request base.
	TransferResponseOffset uint32 = 0xA0
)

// Pack controller to VCU.
const (
	IDBMSState          uint32 = 0x410
	IDModuleState       uint32 = 0x411
	IDModulePower       uint32 = 0x412
	IDModuleCellVoltage uint32 = 0x413
	IDModuleCellTemp    uint32 = 0x414
	IDModuleCellID      uint32 = 0x415
	IDModuleLimits      uint32 = 0x416
	IDModuleList        uint32 = 0x417
	IDBMSData1          uint32 = 0x421
	IDBMSData2          uint32 = 0x422
	IDBMSData3          uint32 = 0x423
	IDBMSData4          uint32 = 0x424
	IDBMSData5          uint32 = 0x425
	IDBMSData6          uint32 = 0x426
	IDBMSData7          uint32 = 0x427
	IDBMSData8          uint32 = 0x428
	IDBMSData9          uint32 = 0x429
	IDBMSData10         uint32 = 0x430
	IDBMSTimeRequest    uint32 = 0x440
	IDBMSEEPROMData     uint32 = 0x441
)

// Module bus.
const (
	IDModuleAnnouncement  uint32 = 0x500
	IDModuleStatus        uint32 = 0x502
	IDModuleDetail        uint32 = 0x503
	IDModuleRegistration  uint32 = 0x510
	IDModuleStatusRequest uint32 = 0x512
	IDModuleDetailRequest uint32 = 0x513
	IDModuleStateChange   uint32 = 0x514
	IDModuleDeregisterAll uint32 = 0x51E
	IDModuleIsolateAll    uint32 = 0x51F
)

// Pack diagnostics.
const (
	IDDiagStatus   uint32 = 0x220
	IDDiagFault    uint32 = 0x221
	IDDiagCellData uint32 = 0x222
	IDDiagIO       uint32 = 0x223
	IDDiagLimits   uint32 = 0x224
	IDDiagModData1 uint32 = 0x225
	IDDiagModData2 uint32 = 0x226
	IDDiagModData3 uint32 = 0x227
	IDDiagModData4 uint32 = 0x228
)

// Scaling shared by the VCU interface.
const (
	VoltageFactor     = 0.015
	CurrentFactor     = 0.02
	CurrentOffset     = -655.36
	CellVoltageFactor = 0.001
	PercentFactor     = 0.5
	TemperatureOffset = -40
)
