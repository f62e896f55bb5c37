package proc

import (
	"errors"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// Member is one live process of a group.
type Member struct {
	Pid     int32
	Name    string
	Status  string
	RSS     uint64
	CPU     float64
	Cmdline string
}

// GroupStats aggregates resource usage across the group.
type GroupStats struct {
	Processes int
	RSS       uint64
	CPU       float64
	Members   []Member
}

// GroupAlive reports whether any non-zombie member of the group remains.
func (p *Process) GroupAlive() bool {
	if err := unix.Kill(-p.pgid, 0); errors.Is(err, unix.ESRCH) {
		return false
	}
	pids, err := groupPids(p.pgid)
	if err != nil {
		// Signal 0 found the group; without a process table assume it lives.
		return true
	}
	return len(pids) > 0
}

// Members lists the live members of the group.
func (p *Process) Members() ([]Member, error) {
	pids, err := groupPids(p.pgid)
	if err != nil {
		return nil, err
	}

	members := make([]Member, 0, len(pids))
	for _, pid := range pids {
		proc, err := process.NewProcess(pid)
		if err != nil {
			continue
		}
		m := Member{Pid: pid}
		m.Name, _ = proc.Name()
		if status, err := proc.Status(); err == nil && len(status) > 0 {
			m.Status = status[0]
		}
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			m.RSS = mem.RSS
		}
		m.CPU, _ = proc.CPUPercent()
		m.Cmdline, _ = proc.Cmdline()
		members = append(members, m)
	}
	return members, nil
}

// Stats sums memory and CPU over the group.
func (p *Process) Stats() (GroupStats, error) {
	members, err := p.Members()
	if err != nil {
		return GroupStats{}, err
	}
	stats := GroupStats{Processes: len(members), Members: members}
	for _, m := range members {
		stats.RSS += m.RSS
		stats.CPU += m.CPU
	}
	return stats, nil
}

// groupPids returns the pids whose process group is pgid, skipping zombies.
func groupPids(pgid int) ([]int32, error) {
	all, err := process.Pids()
	if err != nil {
		return nil, err
	}

	var members []int32
	for _, pid := range all {
		got, err := unix.Getpgid(int(pid))
		if err != nil || got != pgid {
			continue
		}
		if zombie(pid) {
			continue
		}
		members = append(members, pid)
	}
	return members, nil
}

func zombie(pid int32) bool {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return true
	}
	status, err := proc.Status()
	if err != nil {
		return false
	}
	for _, s := range status {
		if s == process.Zombie {
			return true
		}
	}
	return false
}
