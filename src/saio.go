package sis8300

/*------------------------------------------------------------------
 *
 * Purpose:   	Thin wrapper for the Linux native AIO syscalls
 *		(io_setup / io_submit / io_getevents / ...).
 *
 * Description:	Sample readout from the digitizer must not block
 *		forever when the card never triggers; the driver's read
 *		path is therefore driven through AIO so a timeout can be
 *		applied. saio_pread() is essentially a synchronous
 *		pread with a timeout, cancelling the request when it
 *		expires.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

type aio_context uint64

const iocb_cmd_pread = 0

/* struct iocb from <linux/aio_abi.h> (little-endian layout) */
type iocb struct {
	aio_data       uint64
	aio_key        uint32
	aio_rw_flags   uint32
	aio_lio_opcode uint16
	aio_reqprio    int16
	aio_fildes     uint32
	aio_buf        uint64
	aio_nbytes     uint64
	aio_offset     int64
	aio_reserved2  uint64
	aio_flags      uint32
	aio_resfd      uint32
}

/* struct io_event from <linux/aio_abi.h> */
type io_event struct {
	data uint64
	obj  uint64
	res  int64
	res2 int64
}

/* Basic primitives */

func saio_ctx_create(n_events uint) (aio_context, error) {
	var ctx aio_context
	var _, _, errno = unix.Syscall(unix.SYS_IO_SETUP, uintptr(n_events), uintptr(unsafe.Pointer(&ctx)), 0)
	if errno != 0 {
		return 0, fmt.Errorf("%w: io_setup: %v", ErrDeviceIO, errno)
	}
	return ctx, nil
}

func saio_ctx_destroy(ctx aio_context) error {
	var _, _, errno = unix.Syscall(unix.SYS_IO_DESTROY, uintptr(ctx), 0, 0)
	if errno != 0 {
		return fmt.Errorf("%w: io_destroy: %v", ErrDeviceIO, errno)
	}
	return nil
}

func saio_submit(ctx aio_context, iocbs []*iocb) (int, error) {
	var n, _, errno = unix.Syscall(unix.SYS_IO_SUBMIT, uintptr(ctx),
		uintptr(len(iocbs)), uintptr(unsafe.Pointer(&iocbs[0])))
	if errno != 0 {
		return int(n), fmt.Errorf("%w: io_submit: %v", ErrDeviceIO, errno)
	}
	return int(n), nil
}

func saio_cancel(ctx aio_context, b *iocb, result *io_event) error {
	var _, _, errno = unix.Syscall(unix.SYS_IO_CANCEL, uintptr(ctx),
		uintptr(unsafe.Pointer(b)), uintptr(unsafe.Pointer(result)))
	if errno != 0 {
		return fmt.Errorf("%w: io_cancel: %v", ErrDeviceIO, errno)
	}
	return nil
}

func saio_getevents(ctx aio_context, min_nr, nr int, events []io_event, timeout *unix.Timespec) (int, error) {
	var n, _, errno = unix.Syscall6(unix.SYS_IO_GETEVENTS, uintptr(ctx),
		uintptr(min_nr), uintptr(nr),
		uintptr(unsafe.Pointer(&events[0])), uintptr(unsafe.Pointer(timeout)), 0)
	if errno != 0 {
		return int(n), fmt.Errorf("%w: io_getevents: %v", ErrDeviceIO, errno)
	}
	return int(n), nil
}

/* Helpers */

/* Fill an iocb for reading data */
func saio_setup_for_read(b *iocb, fd int, buf []byte, off int64) {
	*b = iocb{
		aio_lio_opcode: iocb_cmd_pread,
		aio_fildes:     uint32(fd),
		aio_buf:        uint64(uintptr(unsafe.Pointer(&buf[0]))),
		aio_nbytes:     uint64(len(buf)),
		aio_offset:     off,
	}
}

/*
 * Essentially a synchronous pread but with a timeout; the request is
 * cancelled when the timeout expires.
 *
 * RETURNS: bytes read, or an error (ErrTimeout when nothing completed
 *          in time).
 */
func saio_pread(ctx aio_context, fd int, buf []byte, off int64, timeout time.Duration) (int, error) {
	var b iocb
	var ba = []*iocb{&b}
	var events [1]io_event

	saio_setup_for_read(&b, fd, buf, off)

	if _, err := saio_submit(ctx, ba); err != nil {
		return 0, err
	}

	var ts = unix.NsecToTimespec(timeout.Nanoseconds())
	var st, err = saio_getevents(ctx, 1, 1, events[:], &ts)
	if err != nil || st <= 0 {
		/* timed out (or failed); try to take the request back */
		if cerr := saio_cancel(ctx, &b, &events[0]); cerr != nil && err == nil {
			err = cerr
		}
		if err == nil {
			err = fmt.Errorf("%w: aio read", ErrTimeout)
		}
		return 0, err
	}

	if events[0].res < 0 {
		return 0, fmt.Errorf("%w: aio read: %v", ErrDeviceIO, unix.Errno(-events[0].res))
	}
	return int(events[0].res), nil
}

/*
 * SaioPread is the one-shot convenience form: it creates a context,
 * performs a single timed read and tears the context down again.
 */
func SaioPread(fd int, buf []byte, off int64, timeout time.Duration) (int, error) {
	var ctx, err = saio_ctx_create(1)
	if err != nil {
		return 0, err
	}
	defer saio_ctx_destroy(ctx)

	return saio_pread(ctx, fd, buf, off, timeout)
}
