// Package process guards an output root against concurrent runs.
package process

import (
	"github.com/google/gops/goprocess"
)

// Process is a running Go process.
type Process struct {
	procList []Process

	PID  int
	Exec string
	Path string
}

func NewProcess() *Process {
	return &Process{}
}

func (p *Process) ListProcesses() error {
	p.procList = p.procList[:0]

	for _, proc := range goprocess.FindAll() {
		p.procList = append(p.procList, Process{
			PID:  proc.PID,
			Exec: proc.Exec,
			Path: proc.Path,
		})
	}

	return nil
}

func (p *Process) IsProcessRunning(pid int) bool {
	for _, proc := range p.procList {
		if proc.PID == pid {
			return true
		}
	}

	return false
}
