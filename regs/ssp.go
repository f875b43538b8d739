package regs

// Register offsets of the SSP block.
const (
	OffCR0 Offset = 0x00
	OffCR1 Offset = 0x04
	OffSR  Offset = 0x08
	OffITR Offset = 0x0c
	OffDR  Offset = 0x10
	OffTO  Offset = 0x28
	OffPSP Offset = 0x2c
	OffCR2 Offset = 0x40
	OffFS  Offset = 0x44
)

// Register offsets of the auxiliary side channel used for clock bit-banging.
const (
	OffAuxCtrl Offset = 0x00
	OffAuxData Offset = 0x04
)

// CR0Flags are the bits of control register 0.
type CR0Flags uint32

const (
	CR0DSS      CR0Flags = 0x0000000f // data size select, size-1
	CR0FRF      CR0Flags = 0x00000030 // frame format
	CR0Motorola CR0Flags = 0 << 4     // SPI frame format
	CR0ECS      CR0Flags = 1 << 6     // external clock select
	CR0SSE      CR0Flags = 1 << 7     // port enable
	CR0SCR      CR0Flags = 0x000fff00 // serial clock rate (divider)
	CR0EDSS     CR0Flags = 1 << 20    // extended data size select (+16 bits)
)

// DataSize encodes a word width of 1..16 bits into the DSS field.
func DataSize(bits int) CR0Flags {
	return CR0Flags(bits-1) & CR0DSS
}

// ClockRate encodes a clock divider into the SCR field.
func ClockRate(div uint32) CR0Flags {
	return CR0Flags((div&0xfff)<<8) & CR0SCR
}

// CR1Flags are the bits of control register 1.
type CR1Flags uint32

const (
	CR1RIE     CR1Flags = 1 << 0     // receive FIFO interrupt enable
	CR1TIE     CR1Flags = 1 << 1     // transmit FIFO interrupt enable
	CR1LBM     CR1Flags = 1 << 2     // loopback mode
	CR1SPO     CR1Flags = 1 << 3     // clock polarity
	CR1SPH     CR1Flags = 1 << 4     // clock phase
	CR1MWDS    CR1Flags = 1 << 5     // microwire transmit data size
	CR1TFT     CR1Flags = 0x000003c0 // transmit FIFO threshold
	CR1RFT     CR1Flags = 0x00003c00 // receive FIFO threshold
	CR1TINTE   CR1Flags = 1 << 19    // receiver timeout interrupt enable
	CR1RSRE    CR1Flags = 1 << 20    // receive service request (DMA) enable
	CR1TSRE    CR1Flags = 1 << 21    // transmit service request (DMA) enable
	CR1TRAIL   CR1Flags = 1 << 22    // trailing bytes handled by the CPU
	CR1SFRMDIR CR1Flags = 1 << 24    // frame direction, slave
	CR1SCLKDIR CR1Flags = 1 << 25    // clock direction, slave
	CR1SCFR    CR1Flags = 1 << 28    // clock not free running
)

// TxThreshold encodes a transmit FIFO threshold of 1..16 words.
func TxThreshold(words int) CR1Flags {
	return CR1Flags((words-1)<<6) & CR1TFT
}

// RxThreshold encodes a receive FIFO threshold of 1..16 words.
func RxThreshold(words int) CR1Flags {
	return CR1Flags((words-1)<<10) & CR1RFT
}

// StatusFlags are the bits of the status register. ROR, TINT and TUR are
// cleared by writing ones.
type StatusFlags uint32

const (
	SRTNF  StatusFlags = 1 << 2     // transmit FIFO not full
	SRRNE  StatusFlags = 1 << 3     // receive FIFO not empty
	SRBSY  StatusFlags = 1 << 4     // port busy
	SRTFS  StatusFlags = 1 << 5     // transmit FIFO service request
	SRRFS  StatusFlags = 1 << 6     // receive FIFO service request
	SRROR  StatusFlags = 1 << 7     // receive FIFO overrun
	SRTFL  StatusFlags = 0x00000f00 // transmit FIFO level
	SRRFL  StatusFlags = 0x0000f000 // receive FIFO level
	SRTINT StatusFlags = 1 << 19    // receiver timeout
	SRTUR  StatusFlags = 1 << 21    // transmit FIFO underrun
	SRCSS  StatusFlags = 1 << 22    // clock synchronization in progress
)

// SRNotSync reports the port lost clock synchronization.
const SRNotSync = SRCSS

// TxLevel extracts the transmit FIFO level field. A level of zero is either
// empty or full, TNF tells which.
func (s StatusFlags) TxLevel() int {
	return int((s & SRTFL) >> 8)
}

// RxLevel extracts the receive FIFO level field.
func (s StatusFlags) RxLevel() int {
	return int((s & SRRFL) >> 12)
}

// CR2Flags are the bits of control register 2.
type CR2Flags uint32

const CR2ClkDelEn CR2Flags = 1 << 3 // delay the sampling clock for fast rates

// SSP is the register set of one SSP port.
type SSP struct {
	CR0 R32[CR0Flags]
	CR1 R32[CR1Flags]
	SR  R32[StatusFlags]
	ITR R32[uint32]
	DR  R32[uint32]
	TO  R32[uint32]
	PSP R32[uint32]
	CR2 R32[CR2Flags]
	FS  R32[uint32]
}

// NewSSP lays the SSP register set over bank.
func NewSSP(bank Bank) *SSP {
	return &SSP{
		CR0: NewR32[CR0Flags](bank, OffCR0),
		CR1: NewR32[CR1Flags](bank, OffCR1),
		SR:  NewR32[StatusFlags](bank, OffSR),
		ITR: NewR32[uint32](bank, OffITR),
		DR:  NewR32[uint32](bank, OffDR),
		TO:  NewR32[uint32](bank, OffTO),
		PSP: NewR32[uint32](bank, OffPSP),
		CR2: NewR32[CR2Flags](bank, OffCR2),
		FS:  NewR32[uint32](bank, OffFS),
	}
}

// TxFifoEmpty is true iff the transmit level is zero and the FIFO is not full.
func (r *SSP) TxFifoEmpty() bool {
	sr := r.SR.Load()
	return sr&SRTFL == 0 && sr&SRTNF != 0
}

// RxFifoEmpty is true iff the receive FIFO holds no word.
func (r *SSP) RxFifoEmpty() bool {
	return r.SR.Load()&SRRNE == 0
}

// TxFifoFull is true when the transmit level sits at the field maximum, the
// point where writers must stop pushing.
func (r *SSP) TxFifoFull() bool {
	return r.SR.Load()&SRTFL == SRTFL
}

// Aux is the side channel that can override the port's clock pin.
type Aux struct {
	Ctrl R32[uint32]
	Data R32[uint32]
}

// NewAux lays the side channel registers over bank.
func NewAux(bank Bank) *Aux {
	return &Aux{
		Ctrl: NewR32[uint32](bank, OffAuxCtrl),
		Data: NewR32[uint32](bank, OffAuxData),
	}
}
