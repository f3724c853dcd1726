package workload

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hpc-schedsim/schedsim/sim"
	"github.com/hpc-schedsim/schedsim/sim/alloc"
)

// eachLine calls fn with the fields of every non-blank, non-comment line.
func eachLine(path string, fn func(lineNo int, fields []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening")
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := fn(lineNo, strings.Fields(line)); err != nil {
			return errors.Wrapf(err, "%s:%d", path, lineNo)
		}
	}
	return errors.Wrapf(sc.Err(), "reading %s", path)
}

// LoadCommMatrix reads "from to weight" triples.
func LoadCommMatrix(path string) ([]sim.CommEntry, error) {
	var out []sim.CommEntry
	err := eachLine(path, func(_ int, f []string) error {
		if len(f) != 3 {
			return errors.Errorf("want from to weight, got %d fields", len(f))
		}
		from, err := strconv.Atoi(f[0])
		if err != nil {
			return err
		}
		to, err := strconv.Atoi(f[1])
		if err != nil {
			return err
		}
		w, err := strconv.ParseFloat(f[2], 64)
		if err != nil {
			return err
		}
		out = append(out, sim.CommEntry{From: from, To: to, Weight: w})
		return nil
	})
	return out, err
}

// LoadCoordinates reads one line of whitespace-separated floats per task.
func LoadCoordinates(path string) ([][]float64, error) {
	var out [][]float64
	err := eachLine(path, func(_ int, f []string) error {
		c := make([]float64, len(f))
		for i, s := range f {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return err
			}
			c[i] = v
		}
		if len(out) > 0 && len(c) != len(out[0]) {
			return errors.Errorf("%d coordinates, previous tasks have %d", len(c), len(out[0]))
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

// LoadDependencies reads "node dep dep ..." lines: the named dependencies
// each node relies on (power feeds, switches, racks).
func LoadDependencies(path string) (map[int][]string, error) {
	out := make(map[int][]string)
	err := eachLine(path, func(_ int, f []string) error {
		node, err := strconv.Atoi(f[0])
		if err != nil {
			return errors.Wrap(err, "node")
		}
		if node < 0 {
			return errors.Errorf("negative node %d", node)
		}
		if _, dup := out[node]; dup {
			return errors.Errorf("node %d listed twice", node)
		}
		out[node] = append(make([]string, 0, len(f)-1), f[1:]...)
		return nil
	})
	return out, err
}

// LoadConstraint reads the single "u v" line of a constraint file.
func LoadConstraint(path string) (alloc.Constraint, error) {
	var c alloc.Constraint
	seen := false
	err := eachLine(path, func(_ int, f []string) error {
		if seen {
			return errors.New("more than one constraint")
		}
		if len(f) != 2 {
			return errors.Errorf("want two dependency names, got %d", len(f))
		}
		c, seen = alloc.Constraint{U: f[0], V: f[1]}, true
		return nil
	})
	if err == nil && !seen {
		err = errors.Errorf("%s: no constraint", path)
	}
	return c, err
}

// LoadYumYum reads a YumYum CSV trace.
func LoadYumYum(ctx *sim.SimContext, path string) ([]*sim.Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening YumYum trace")
	}
	defer func() { _ = f.Close() }()
	jobs, err := ParseYumYum(ctx, f)
	return jobs, errors.Wrapf(err, "%s", path)
}

// ParseYumYum reads "ID,duration,procs" rows. Every job arrives at 0 and its
// estimate is its duration. A leading header row is skipped.
func ParseYumYum(ctx *sim.SimContext, r io.Reader) ([]*sim.Job, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true
	var jobs []*sim.Job
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "reading YumYum row")
		}
		dur, derr := strconv.ParseInt(rec[1], 10, 64)
		procs, perr := strconv.Atoi(rec[2])
		if row == 0 && (derr != nil || perr != nil) {
			continue
		}
		if derr != nil || perr != nil {
			return nil, errors.Errorf("job %q: bad duration %q or procs %q", rec[0], rec[1], rec[2])
		}
		job, err := sim.NewJob(ctx, 0, procs, dur, dur)
		if err != nil {
			return nil, errors.Wrapf(err, "job %q", rec[0])
		}
		job.Name = rec[0]
		jobs = append(jobs, job)
	}
	return jobs, nil
}
