package lifecycle

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// schedParam mirrors the kernel's struct sched_param.
type schedParam struct {
	priority int32
}

// applyPriority best-effort applies the configured OS thread priority as
// SCHED_RR (real-time round-robin), per spec's "OS real-time round-robin
// scheduling." Failure (e.g. missing CAP_SYS_NICE) is logged at debug
// level and otherwise ignored, matching the original's "setting may fail
// silently on systems without the capability."
func (w *Worker) applyPriority() {
	w.mu.Lock()
	p := w.priority
	name := w.name
	w.mu.Unlock()

	if p == 0 {
		return
	}

	param := schedParam{priority: int32(p)}
	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER, 0, uintptr(unix.SCHED_RR), uintptr(unsafe.Pointer(&param)))
	if errno != 0 {
		w.logger.Debug("sched_setscheduler failed, continuing at default scheduling", "worker", name, "priority", p, "error", errno)
	}
}
