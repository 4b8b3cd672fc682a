//go:build linux

package sensor

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultI2CAddr is the SHT3x default address (ADDR pin low).
const DefaultI2CAddr = 0x44

// i2cSlave is the Linux I2C_SLAVE ioctl request.
const i2cSlave = 0x0703

// maxConsecutiveFailures is how many failed transactions in a row mark
// the sensor absent. Available() reports false from then on until a
// transaction succeeds again.
const maxConsecutiveFailures = 3

// measurementDelay is the worst-case single-shot measurement time for
// high repeatability, per the SHT3x datasheet, plus margin.
const measurementDelay = 20 * time.Millisecond

// SHT3xTransport reads the SHT3x over the Linux I2C character device.
type SHT3xTransport struct {
	dev      *os.File
	addr     int
	failures int
}

// NewSHT3xTransport opens the given I2C bus device (e.g. "/dev/i2c-1")
// and binds it to the sensor address.
func NewSHT3xTransport(device string, addr int) (*SHT3xTransport, error) {
	if addr == 0 {
		addr = DefaultI2CAddr
	}

	dev, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open i2c device %s: %w", device, err)
	}

	if err := unix.IoctlSetInt(int(dev.Fd()), i2cSlave, addr); err != nil {
		dev.Close()
		return nil, fmt.Errorf("bind i2c address 0x%02X: %w", addr, err)
	}

	return &SHT3xTransport{dev: dev, addr: addr}, nil
}

// Read performs one single-shot high-repeatability measurement.
func (t *SHT3xTransport) Read() (RawSample, error) {
	sample, err := t.measure()
	if err != nil {
		t.failures++
		return RawSample{}, err
	}
	t.failures = 0
	return sample, nil
}

func (t *SHT3xTransport) measure() (RawSample, error) {
	// Single shot, high repeatability, clock stretching disabled.
	if _, err := t.dev.Write([]byte{0x2C, 0x06}); err != nil {
		return RawSample{}, fmt.Errorf("write measure command: %w", err)
	}

	time.Sleep(measurementDelay)

	// Frame: temp MSB, temp LSB, temp CRC, hum MSB, hum LSB, hum CRC.
	buf := make([]byte, 6)
	n, err := t.dev.Read(buf)
	if err != nil {
		return RawSample{}, fmt.Errorf("read measurement: %w", err)
	}
	if n != len(buf) {
		return RawSample{}, fmt.Errorf("short measurement read: %d bytes", n)
	}

	tempRaw := uint16(buf[0])<<8 | uint16(buf[1])
	humRaw := uint16(buf[3])<<8 | uint16(buf[4])

	return RawSample{
		Temperature: convertTemperature(tempRaw),
		Humidity:    convertHumidity(humRaw),
		TempRaw:     tempRaw,
		TempCRC:     buf[2],
		HumidityRaw: humRaw,
		HumidityCRC: buf[5],
		HasCRC:      true,
	}, nil
}

// Available reports whether the sensor is believed present.
func (t *SHT3xTransport) Available() bool {
	return t.failures < maxConsecutiveFailures
}

// Close releases the I2C device.
func (t *SHT3xTransport) Close() error {
	if t.dev == nil {
		return nil
	}
	return t.dev.Close()
}
