package hardware

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mykyno/hydroponik/internal/state"
	"github.com/robinson/gos7"
)

// S7Layout gives the byte offsets inside the data block. Probe counts are
// INTs, temperature, distance and duties are REALs, power is a BOOL at bit 0.
type S7Layout struct {
	PHCounts    int
	ECCounts    int
	Temperature int
	Distance    int
	SensorPower int
	Duty        [state.NumChannels]int
}

func DefaultS7Layout() S7Layout {
	return S7Layout{
		PHCounts:    0,
		ECCounts:    2,
		Temperature: 4,
		Distance:    8,
		SensorPower: 12,
		Duty:        [state.NumChannels]int{16, 20, 24, 28},
	}
}

type S7Config struct {
	Host    string
	Rack    int
	Slot    int
	DB      int
	Timeout time.Duration
	Layout  S7Layout
}

// DataBlockIO is the part of gos7.Client used by the backend.
type DataBlockIO interface {
	AGReadDB(dbNumber int, start int, size int, buffer []byte) error
	AGWriteDB(dbNumber int, start int, size int, buffer []byte) error
}

// S7Backend exchanges I/O with a Siemens S7 PLC through one data block.
type S7Backend struct {
	cfg     S7Config
	handler *gos7.TCPClientHandler

	mu sync.Mutex
	db DataBlockIO
}

func NewS7Backend(cfg S7Config) (*S7Backend, error) {
	handler := gos7.NewTCPClientHandler(cfg.Host, cfg.Rack, cfg.Slot)
	handler.Timeout = cfg.Timeout
	handler.IdleTimeout = 70 * time.Second

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to PLC %s: %w", cfg.Host, err)
	}

	b := NewS7BackendWithIO(cfg, gos7.NewClient(handler))
	b.handler = handler
	return b, nil
}

func NewS7BackendWithIO(cfg S7Config, db DataBlockIO) *S7Backend {
	return &S7Backend{cfg: cfg, db: db}
}

func (b *S7Backend) readBytes(offset, size int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf := make([]byte, size)
	if err := b.db.AGReadDB(b.cfg.DB, offset, size, buf); err != nil {
		return nil, fmt.Errorf("failed to read DB%d.%d: %w", b.cfg.DB, offset, err)
	}
	return buf, nil
}

func (b *S7Backend) writeBytes(offset int, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.db.AGWriteDB(b.cfg.DB, offset, len(data), data); err != nil {
		return fmt.Errorf("failed to write DB%d.%d: %w", b.cfg.DB, offset, err)
	}
	return nil
}

func (b *S7Backend) readReal(offset int) (float32, error) {
	data, err := b.readBytes(offset, 4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(data)), nil
}

func (b *S7Backend) writeReal(offset int, v float32) error {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, math.Float32bits(v))
	return b.writeBytes(offset, data)
}

func (b *S7Backend) SetDuty(ch state.ChannelID, percent float32) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	return b.writeReal(b.cfg.Layout.Duty[ch], clampDuty(percent))
}

func (b *S7Backend) ReadRaw(id SensorID) (uint16, error) {
	var offset int
	switch id {
	case SensorPH:
		offset = b.cfg.Layout.PHCounts
	case SensorEC:
		offset = b.cfg.Layout.ECCounts
	default:
		return 0, fmt.Errorf("unknown sensor: %d", id)
	}

	data, err := b.readBytes(offset, 2)
	if err != nil {
		return 0, err
	}
	counts := int16(binary.BigEndian.Uint16(data))
	if counts < 0 {
		return 0, nil
	}
	return uint16(counts), nil
}

func (b *S7Backend) ReadCelsius() (float32, error) {
	return b.readReal(b.cfg.Layout.Temperature)
}

func (b *S7Backend) ReadCm() (float32, error) {
	return b.readReal(b.cfg.Layout.Distance)
}

func (b *S7Backend) SetSensorPower(on bool) error {
	var v byte
	if on {
		v = 1
	}
	return b.writeBytes(b.cfg.Layout.SensorPower, []byte{v})
}

// Close zeroes every duty before disconnecting.
func (b *S7Backend) Close() error {
	for _, id := range state.Channels() {
		b.SetDuty(id, 0)
	}
	if b.handler != nil {
		return b.handler.Close()
	}
	return nil
}
