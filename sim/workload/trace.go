// Package workload loads job traces and the per-job side files they refer to
// (communication matrices, task coordinates) plus the dependency and
// constraint files the constraint allocator reads.
package workload

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hpc-schedsim/schedsim/sim"
)

// LoadTrace reads a job trace file. Side files named in it are resolved
// relative to the trace's directory.
func LoadTrace(ctx *sim.SimContext, path string) ([]*sim.Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening job trace")
	}
	defer func() { _ = f.Close() }()
	jobs, err := ParseTrace(ctx, f, filepath.Dir(path))
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return jobs, nil
}

// ParseTrace reads jobs in the line format
//
//	arrival procs runtime estimate [mesh x y z | comm file | coord commFile coordFile] [center task]
//
// An estimate of -1 means unknown. Blank lines and lines starting with #
// are skipped. Arrival times must not decrease.
func ParseTrace(ctx *sim.SimContext, r io.Reader, baseDir string) ([]*sim.Job, error) {
	var jobs []*sim.Job
	var last int64
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		job, err := parseJobLine(ctx, strings.Fields(line), baseDir)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo)
		}
		if job.ArrivalTime < last {
			return nil, errors.Errorf("line %d: arrival %d before previous arrival %d", lineNo, job.ArrivalTime, last)
		}
		last = job.ArrivalTime
		jobs = append(jobs, job)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "reading job trace")
	}
	logrus.Debugf("loaded %d jobs", len(jobs))
	return jobs, nil
}

func parseJobLine(ctx *sim.SimContext, f []string, baseDir string) (*sim.Job, error) {
	if len(f) < 4 {
		return nil, errors.Errorf("want at least 4 fields (arrival procs runtime estimate), got %d", len(f))
	}
	nums := make([]int64, 4)
	for i := range nums {
		v, err := strconv.ParseInt(f[i], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "field %d", i+1)
		}
		nums[i] = v
	}
	job, err := sim.NewJob(ctx, nums[0], int(nums[1]), nums[2], nums[3])
	if err != nil {
		return nil, err
	}

	rest := f[4:]
	for len(rest) > 0 {
		var used int
		switch rest[0] {
		case "mesh":
			used = 4
			if len(rest) < used {
				return nil, errors.New("mesh needs x y z")
			}
			var dims [3]int
			for i := range dims {
				if dims[i], err = strconv.Atoi(rest[1+i]); err != nil {
					return nil, errors.Wrap(err, "mesh dimension")
				}
			}
			job.CommInfo, err = sim.NewMeshComm(dims[0], dims[1], dims[2])
		case "comm":
			used = 2
			if len(rest) < used {
				return nil, errors.New("comm needs a matrix file")
			}
			var entries []sim.CommEntry
			if entries, err = LoadCommMatrix(resolve(baseDir, rest[1])); err == nil {
				job.CommInfo, err = sim.NewCustomComm(job.ProcsNeeded, entries)
			}
		case "coord":
			used = 3
			if len(rest) < used {
				return nil, errors.New("coord needs a matrix file and a coordinate file")
			}
			var entries []sim.CommEntry
			var coords [][]float64
			if entries, err = LoadCommMatrix(resolve(baseDir, rest[1])); err == nil {
				if coords, err = LoadCoordinates(resolve(baseDir, rest[2])); err == nil {
					job.CommInfo, err = sim.NewCoordinateComm(job.ProcsNeeded, entries, coords)
				}
			}
		case "center":
			used = 2
			if len(rest) < used {
				return nil, errors.New("center needs a task number")
			}
			if job.CenterTask, err = strconv.Atoi(rest[1]); err == nil &&
				(job.CenterTask < 0 || job.CenterTask >= job.ProcsNeeded) {
				err = errors.Errorf("center task %d outside [0,%d)", job.CenterTask, job.ProcsNeeded)
			}
		default:
			return nil, errors.Errorf("unknown job option %q", rest[0])
		}
		if err != nil {
			return nil, err
		}
		rest = rest[used:]
	}
	if job.CommInfo != nil && job.CommInfo.NumTasks != job.ProcsNeeded {
		return nil, errors.Errorf("communication pattern covers %d tasks but job has %d procs",
			job.CommInfo.NumTasks, job.ProcsNeeded)
	}
	return job, nil
}

func resolve(baseDir, name string) string {
	if filepath.IsAbs(name) || baseDir == "" {
		return name
	}
	return filepath.Join(baseDir, name)
}
