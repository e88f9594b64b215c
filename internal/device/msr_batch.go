// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/sustainable-computing-io/msrio/internal/pioerr"
)

// batchOp mirrors struct msr_batch_op of the msr-safe driver
type batchOp struct {
	CPU     uint16
	IsRdmsr uint16
	Err     int32
	MSR     uint32
	_       uint32
	MSRData uint64
	WMask   uint64
}

// batchArray mirrors struct msr_batch_array
type batchArray struct {
	NumOps uint32
	_      uint32
	Ops    *batchOp
}

// Linux _IOC encoding
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

// msrBatchRequest is _IOWR('c', 0xA2, struct msr_batch_array)
var msrBatchRequest = ioc(iocRead|iocWrite, 'c', 0xA2, unsafe.Sizeof(batchArray{}))

// ioctl submits ops to the batch device in one call. The driver reports
// failures per op; the first failing op is returned.
func (m *msrIO) ioctl(ops []batchOp) error {
	const op = "msrIO.ioctl"
	for i := range ops {
		ops[i].Err = 0
	}
	arr := batchArray{NumOps: uint32(len(ops)), Ops: &ops[0]}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, m.batch.Fd(), msrBatchRequest, uintptr(unsafe.Pointer(&arr)))
	runtime.KeepAlive(ops)
	if errno != 0 {
		return pioerr.Wrap(pioerr.KindIO, op, fmt.Errorf("%s: %w", m.batchPath, errno))
	}

	for i := range ops {
		if ops[i].Err != 0 {
			// the driver stores negative errno values
			code := ops[i].Err
			if code < 0 {
				code = -code
			}
			return pioerr.Wrap(pioerr.KindIO, op, unix.Errno(code),
				pioerr.WithCPU(int(ops[i].CPU)), pioerr.WithOffset(uint64(ops[i].MSR)))
		}
	}
	return nil
}
