package cmd

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hpc-schedsim/schedsim/sim"
	"github.com/hpc-schedsim/schedsim/sim/alloc"
	"github.com/hpc-schedsim/schedsim/sim/machine"
	"github.com/hpc-schedsim/schedsim/sim/schedule"
	"github.com/hpc-schedsim/schedsim/sim/taskmap"
)

// Policies is the full set of plug-ins a run is driven by.
type Policies struct {
	Machine   sim.Machine
	Scheduler sim.Scheduler
	Allocator sim.Allocator
	Mapper    sim.TaskMapper
}

// splitSpec splits "name[arg]" or "name:arg" into its name and argument.
func splitSpec(spec string) (name, arg string, err error) {
	spec = strings.TrimSpace(spec)
	if i := strings.IndexByte(spec, '['); i >= 0 {
		if !strings.HasSuffix(spec, "]") {
			return "", "", errors.Errorf("unbalanced brackets in %q", spec)
		}
		return spec[:i], spec[i+1 : len(spec)-1], nil
	}
	if i := strings.IndexByte(spec, ':'); i >= 0 {
		return spec[:i], spec[i+1:], nil
	}
	return spec, "", nil
}

// BuildMachine parses simple:N, mesh:XxYxZ, torus:XxYxZ or dragonfly:a,p,h,g[,topology].
func BuildMachine(spec string, coresPerNode int) (sim.Machine, error) {
	if coresPerNode <= 0 {
		return nil, errors.Errorf("cores per node must be > 0, got %d", coresPerNode)
	}
	name, arg, err := splitSpec(spec)
	if err != nil {
		return nil, err
	}
	switch name {
	case "simple":
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return nil, errors.Errorf("simple machine needs a positive node count, got %q", arg)
		}
		return machine.NewSimpleMachine(n, coresPerNode), nil
	case "mesh", "torus":
		dims, err := parseInts(arg, "x")
		if err != nil {
			return nil, errors.Wrapf(err, "%s dimensions", name)
		}
		m, err := machine.NewStencilMachine(dims, name == "torus", coresPerNode)
		return m, errors.Wrapf(err, "machine %q", spec)
	case "dragonfly":
		parts := strings.Split(arg, ",")
		if len(parts) != 4 && len(parts) != 5 {
			return nil, errors.Errorf("dragonfly needs routers,nodes,global,groups[,topology], got %q", arg)
		}
		shape, err := parseInts(strings.Join(parts[:4], ","), ",")
		if err != nil {
			return nil, errors.Wrap(err, "dragonfly shape")
		}
		topo := machine.Circulant
		if len(parts) == 5 {
			if topo, err = machine.ParseGlobalTopology(parts[4]); err != nil {
				return nil, err
			}
		}
		m, err := machine.NewDragonflyMachine(machine.DragonflyConfig{
			RoutersPerGroup: shape[0],
			NodesPerRouter:  shape[1],
			GlobalPerRouter: shape[2],
			NumGroups:       shape[3],
			Global:          topo,
			CoresPerNode:    coresPerNode,
		})
		return m, errors.Wrapf(err, "machine %q", spec)
	default:
		return nil, errors.Errorf("unknown machine %q", spec)
	}
}

func parseInts(s, sep string) ([]int, error) {
	parts := strings.Split(s, sep)
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, errors.Wrapf(err, "element %d of %q", i, s)
		}
		out[i] = v
	}
	return out, nil
}

// BuildScheduler parses pq[cmp], easy[cmp] or stateful[mgr] / stateful[mgr,cmp].
func BuildScheduler(spec string, m sim.Machine) (sim.Scheduler, error) {
	name, arg, err := splitSpec(spec)
	if err != nil {
		return nil, err
	}
	cmpName := "fifo"
	if name != "stateful" && arg != "" {
		cmpName = arg
	}
	mgrName := "conservative"
	if name == "stateful" && arg != "" {
		mgrName = arg
		if i := strings.LastIndexByte(arg, ','); i >= 0 {
			mgrName, cmpName = arg[:i], arg[i+1:]
		}
	}
	if !schedule.IsValidComparator(cmpName) {
		return nil, errors.Errorf("unknown comparator %q (valid: %s)", cmpName,
			strings.Join(schedule.ValidComparatorNames(), ", "))
	}
	cmp := schedule.NewComparator(cmpName)
	switch name {
	case "pq":
		return schedule.NewPQScheduler(cmp), nil
	case "easy":
		return schedule.NewEASYScheduler(cmp), nil
	case "stateful":
		mgr, err := schedule.NewManager(mgrName)
		if err != nil {
			return nil, err
		}
		return schedule.NewStatefulScheduler(m.NumNodes(), m.CoresPerNode(), cmp, mgr), nil
	default:
		return nil, errors.Errorf("unknown scheduler %q", spec)
	}
}

// AllocatorInputs carries what some allocators need beyond the machine.
type AllocatorInputs struct {
	Ctx          *sim.SimContext
	Dependencies map[int][]string
	Constraint   *alloc.Constraint
}

func meshOf(m sim.Machine, name string) (sim.MeshMachine, error) {
	mm, ok := m.(sim.MeshMachine)
	if !ok {
		return nil, errors.Errorf("allocator %s needs a mesh or torus machine, got %s", name, m)
	}
	return mm, nil
}

// BuildAllocator parses an allocator name. Linear allocators take an optional
// curve, e.g. firstfit[hilbert]; nearest takes a preset or centers,collector,scorer.
func BuildAllocator(spec string, m sim.Machine, in AllocatorInputs) (sim.Allocator, error) {
	name, arg, err := splitSpec(spec)
	if err != nil {
		return nil, err
	}
	switch name {
	case "simple":
		return alloc.NewSimpleAllocator(m), nil
	case "random":
		if in.Ctx == nil {
			return nil, errors.New("random allocator needs a simulation context")
		}
		return alloc.NewRandomAllocator(m, in.Ctx.RNG(sim.SubsystemAllocator)), nil
	case "constraint":
		if in.Dependencies == nil || in.Constraint == nil {
			return nil, errors.New("constraint allocator needs a dependency file and a constraint file")
		}
		return alloc.NewConstraintAllocator(m, in.Dependencies, *in.Constraint), nil
	}

	mm, err := meshOf(m, name)
	if err != nil {
		return nil, err
	}
	switch name {
	case "nearest":
		return buildNearest(arg, mm)
	case "firstfit", "bestfit", "sortedfreelist":
		policy := map[string]alloc.LinearPolicy{
			"firstfit": alloc.FirstFit, "bestfit": alloc.BestFit, "sortedfreelist": alloc.SortedFreeList,
		}[name]
		curve, err := parseCurve(arg)
		if err != nil {
			return nil, err
		}
		return alloc.NewLinearAllocator(mm, policy, curve)
	case "mbs":
		return alloc.NewMBSAllocator(mm), nil
	case "granularmbs":
		return alloc.NewGranularMBSAllocator(mm), nil
	case "octetmbs":
		return alloc.NewOctetMBSAllocator(mm)
	case "roundupmbs":
		return alloc.NewRoundUpMBSAllocator(mm), nil
	default:
		return nil, errors.Errorf("unknown allocator %q", spec)
	}
}

func parseCurve(s string) (alloc.CurveKind, error) {
	switch s {
	case "", "snake":
		return alloc.CurveSnake, nil
	case "sortedsnake":
		return alloc.CurveSortedSnake, nil
	case "hilbert":
		return alloc.CurveHilbert, nil
	default:
		return 0, errors.Errorf("unknown curve %q", s)
	}
}

func buildNearest(arg string, m sim.MeshMachine) (sim.Allocator, error) {
	switch arg {
	case "", "MM":
		return alloc.NewMMAllocator(m), nil
	case "MC1x1":
		return alloc.NewMC1x1Allocator(m), nil
	case "OldMC1x1":
		return alloc.NewOldMC1x1Allocator(m), nil
	case "GenAlg":
		return alloc.NewGenAlgAllocator(m), nil
	}
	parts := strings.Split(arg, ",")
	if len(parts) != 3 {
		return nil, errors.Errorf("nearest wants a preset or centers,collector,scorer, got %q", arg)
	}
	var c alloc.CenterGenerator
	switch parts[0] {
	case "all":
		c = alloc.AllCenters{}
	case "free":
		c = alloc.FreeCenters{}
	case "intersect":
		c = alloc.IntersectionCenters{}
	default:
		return nil, errors.Errorf("unknown center generator %q", parts[0])
	}
	var p alloc.PointCollector
	switch parts[1] {
	case "l1":
		p = alloc.L1Collector{}
	case "linf":
		p = alloc.LInfCollector{}
	case "greedylinf":
		p = alloc.GreedyLInfCollector{}
	default:
		return nil, errors.Errorf("unknown point collector %q", parts[1])
	}
	var s alloc.Scorer
	switch parts[2] {
	case "pairwise":
		s = alloc.PairwiseL1Scorer{}
	case "l1":
		s = alloc.L1Scorer{}
	case "linf":
		s = alloc.LInfScorer{}
	default:
		return nil, errors.Errorf("unknown scorer %q", parts[2])
	}
	return alloc.NewNearestAllocator(arg, m, c, p, s), nil
}

// BuildMapper parses simple, random or allocmap. allocmap wraps the
// allocator so both are decided together; the returned allocator replaces a.
func BuildMapper(spec string, m sim.Machine, a sim.Allocator, ctx *sim.SimContext) (sim.TaskMapper, sim.Allocator, error) {
	switch spec {
	case "simple":
		return taskmap.NewSimpleTaskMapper(m), a, nil
	case "random":
		if ctx == nil {
			return nil, nil, errors.New("random mapper needs a simulation context")
		}
		return taskmap.NewRandomTaskMapper(m, ctx.RNG(sim.SubsystemTaskMapper)), a, nil
	case "allocmap":
		am := taskmap.NewAllocMapper(m, a)
		return am.AsMapper(), am.AsAllocator(), nil
	default:
		return nil, nil, errors.Errorf("unknown task mapper %q", spec)
	}
}

// BuildPolicies assembles every policy named in cfg.
func BuildPolicies(cfg *RunConfig, in AllocatorInputs) (*Policies, error) {
	m, err := BuildMachine(cfg.Machine, cfg.CoresPerNode)
	if err != nil {
		return nil, err
	}
	s, err := BuildScheduler(cfg.Scheduler, m)
	if err != nil {
		return nil, err
	}
	a, err := BuildAllocator(cfg.Allocator, m, in)
	if err != nil {
		return nil, err
	}
	tm, a, err := BuildMapper(cfg.Mapper, m, a, in.Ctx)
	if err != nil {
		return nil, err
	}
	return &Policies{Machine: m, Scheduler: s, Allocator: a, Mapper: tm}, nil
}
