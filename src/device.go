package sis8300

/*------------------------------------------------------------------
 *
 * Purpose:   	Register access primitives for the SIS8300 block
 *		device node.
 *
 * Description:	All card state is reached through a pair of ioctls
 *		taking an {offset, data} record. Errors are logged at
 *		this boundary and wrapped so callers can classify them
 *		with errors.Is. Everything above (the SPI transaction
 *		machines, the setup sequences) is written against the
 *		small register_io interface so it can run against a
 *		simulated card in tests.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

type register_io interface {
	reg_read(off uint32) (uint32, error)
	reg_write(off uint32, val uint32) error
}

/* Sleep at least 'us' microseconds, yielding the CPU. */
func us_sleep(us uint) {
	time.Sleep(time.Duration(us) * time.Microsecond)
}

/*
 * Device is an open SIS8300 card.
 *
 * The register window and all three SPI sub-devices are exclusive to
 * one setup call at a time; callers must serialise externally. The
 * asynchronous read path may share the descriptor with register-only
 * operations, but not with setup.
 */
type Device struct {
	fd   int
	path string
}

func Open(path string) (*Device, error) {
	var fd, err = unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		log.Error("opening device failed", "path", path, "err", err)
		return nil, fmt.Errorf("%w: open %s: %v", ErrDeviceIO, path, err)
	}
	return &Device{fd: fd, path: path}, nil
}

func (dev *Device) Close() error {
	return unix.Close(dev.fd)
}

func (dev *Device) Fd() int {
	return dev.fd
}

func (dev *Device) ioctl(cmd uintptr, arg unsafe.Pointer) error {
	var _, _, errno = unix.Syscall(unix.SYS_IOCTL, uintptr(dev.fd), cmd, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (dev *Device) reg_read(off uint32) (uint32, error) {
	var r = sis8300_reg{offset: off}
	if err := dev.ioctl(SIS8300_REG_READ, unsafe.Pointer(&r)); err != nil {
		log.Error("ioctl(SIS8300_REG_READ) failed", "offset", fmt.Sprintf("%#x", off), "err", err)
		return 0, fmt.Errorf("%w: reg read %#x: %v", ErrDeviceIO, off, err)
	}
	return r.data, nil
}

func (dev *Device) reg_write(off uint32, val uint32) error {
	var r = sis8300_reg{offset: off, data: val}
	if err := dev.ioctl(SIS8300_REG_WRITE, unsafe.Pointer(&r)); err != nil {
		log.Error("ioctl(SIS8300_REG_WRITE) failed", "offset", fmt.Sprintf("%#x", off), "err", err)
		return fmt.Errorf("%w: reg write %#x: %v", ErrDeviceIO, off, err)
	}
	return nil
}

/*
 * Select the driver read mode (DMA chain arming) for the next data
 * read.
 */
func Sis8300DigiArm(dev *Device, kind int) error {
	var cmd int32

	switch kind {
	default:
		cmd = SIS8300_READ_MODE_DMACHAIN_OFF
	case SIS8300_KIND_BEAM:
		cmd = SIS8300_READ_MODE_DMACHAIN_ARM
	case SIS8300_KIND_CRED:
		cmd = SIS8300_READ_MODE_DMACHAIN_CAL_RED
	case SIS8300_KIND_CGRN:
		cmd = SIS8300_READ_MODE_DMACHAIN_CAL_GRN
	}

	if err := dev.ioctl(SIS8300_READ_MODE, unsafe.Pointer(&cmd)); err != nil {
		return fmt.Errorf("%w: read mode: %v", ErrDeviceIO, err)
	}
	return nil
}

/*
 * Program the four simulation amplitudes of the test firmware.
 */
func Sis8300DigiSetSim(dev *Device, a, b, c, d int32) error {
	var ampl = [4]int32{a, b, c, d}

	log.Info("setting simulation amplitudes", "a", a, "b", b, "c", c, "d", d)

	if err := dev.ioctl(SIS8300_SET_SIM, unsafe.Pointer(&ampl)); err != nil {
		return fmt.Errorf("%w: set sim: %v", ErrDeviceIO, err)
	}
	return nil
}

/*
 * Optionally write a QSPI message to the remote device and optionally
 * read the response. A non-negative data_out is sent; a non-nil
 * data_in receives the response.
 */
func Sis8300DigiQspiWriteRead(dev *Device, data_out int, data_in *uint16) error {
	if data_out >= 0 {
		if err := dev.reg_write(SIS8300_QSPI_REG, uint32(data_out)); err != nil {
			return err
		}
		/* Must wait after the write - there is no way to know when the
		 * transfer completes. 32 bits @ 30Mbit/s = 1.07us.
		 */
		us_sleep(2)
	}

	if data_in != nil {
		var v, err = dev.reg_read(SIS8300_QSPI_REG)
		if err != nil {
			return err
		}
		*data_in = uint16(v)
	}

	return nil
}
