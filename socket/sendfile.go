package socket

import "os"

// SendfileJob describes a kernel-assisted file-to-socket transfer created
// by a Handler and consumed by the sendfile engine. It is
// released when Remaining <= 0 or on error.
type SendfileJob struct {
	Name      string
	File      *os.File
	Offset    int64
	Remaining int64
	KeepAlive bool
	Conn      *Connection
}

// Done reports whether the job has fully drained.
func (j *SendfileJob) Done() bool { return j.Remaining <= 0 }

// Reset clears a SendfileJob. The caller is responsible for closing File.
func (j *SendfileJob) Reset() {
	j.Name = ""
	j.File = nil
	j.Offset = 0
	j.Remaining = 0
	j.KeepAlive = false
	j.Conn = nil
}
