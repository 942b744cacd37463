package sensorboard

import (
	"github.com/Station-Manager/types"
	gobug "go.bug.st/serial"
)

type BaudRate int

func (b BaudRate) Int() int {
	return int(b)
}

const (
	Baud1200   BaudRate = 1200
	Baud2400   BaudRate = 2400
	Baud4800   BaudRate = 4800
	Baud9600   BaudRate = 9600
	Baud19200  BaudRate = 19200
	Baud38400  BaudRate = 38400
	Baud57600  BaudRate = 57600
	Baud115200 BaudRate = 115200
	Baud230400 BaudRate = 230400
)

type DataBits int

func (d DataBits) Int() int {
	return int(d)
}

const (
	DataBits5 DataBits = 5
	DataBits6 DataBits = 6
	DataBits7 DataBits = 7
	DataBits8 DataBits = 8
)

type Parity gobug.Parity

func (pa Parity) Get() gobug.Parity {
	return gobug.Parity(pa)
}

const (
	// ParityNone represents no parity bit
	ParityNone = Parity(gobug.NoParity)
	// ParityOdd represents odd parity bit
	ParityOdd = Parity(gobug.OddParity)
	// ParityEven represents even parity bit
	ParityEven = Parity(gobug.EvenParity)
	// ParityMark represents mark parity bit (always 1)
	ParityMark = Parity(gobug.MarkParity)
	// ParitySpace represents space parity bit (always 0)
	ParitySpace = Parity(gobug.SpaceParity)
)

type StopBits gobug.StopBits

func (sb StopBits) Get() gobug.StopBits {
	return gobug.StopBits(sb)
}

const (
	// StopBits1 represents 1 stop bit
	StopBits1 = StopBits(gobug.OneStopBit)
	// StopBits1Half represents 1.5 stop bits
	StopBits1Half = StopBits(gobug.OnePointFiveStopBits)
	// StopBits2 represents 2 stop bits
	StopBits2 = StopBits(gobug.TwoStopBits)
)

// portMode builds the go.bug.st mode from a serial config. The boards run
// 8N1 at 9600 baud by default, but the full matrix stays configurable.
func portMode(cfg *types.SerialConfig) *gobug.Mode {
	return &gobug.Mode{
		BaudRate: BaudRate(cfg.BaudRate).Int(),
		DataBits: DataBits(cfg.DataBits).Int(),
		Parity:   Parity(cfg.Parity).Get(),
		StopBits: StopBits(cfg.StopBits).Get(),
	}
}
