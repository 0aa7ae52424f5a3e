package monitor

// Assemble links records into a forest using their parent pids and returns
// the roots. See AssembleWithCycles.
func Assemble(records []ProcessRecord) []*ProcessRecord {
	roots, _ := AssembleWithCycles(records)
	return roots
}

// AssembleWithCycles links records into a forest and returns the roots
// along with any parent cycles it had to break.
//
// Pass 1 indexes every record by pid with empty children. Pass 2 walks the
// records in input order and appends each to its parent's children, or holds
// it out as a root when its parent pid is absent, unknown, or its own pid.
// Roots keep input order and children keep append order.
//
// Records caught in a longer cycle (A->B->A) are unreachable from any root
// after pass 2. The first such record in input order is detached from its
// parent and promoted to root, so every record appears exactly once.
// The input slice is not modified.
func AssembleWithCycles(records []ProcessRecord) ([]*ProcessRecord, []*CycleError) {
	nodes := make([]ProcessRecord, len(records))
	index := make(map[int]*ProcessRecord, len(records))
	for i := range records {
		nodes[i] = records[i]
		nodes[i].Children = []*ProcessRecord{}
		if _, dup := index[nodes[i].PID]; !dup {
			index[nodes[i].PID] = &nodes[i]
		}
	}

	roots := make([]*ProcessRecord, 0)
	parentOf := make(map[*ProcessRecord]*ProcessRecord, len(nodes))
	for i := range nodes {
		rec := &nodes[i]
		if index[rec.PID] != rec {
			// duplicate pid, only the first occurrence is kept
			continue
		}
		if rec.ParentPID != nil && *rec.ParentPID != rec.PID {
			if parent, ok := index[*rec.ParentPID]; ok {
				parent.Children = append(parent.Children, rec)
				parentOf[rec] = parent
				continue
			}
		}
		roots = append(roots, rec)
	}

	visited := make(map[int]bool, len(index))
	mark := func(rec *ProcessRecord, _ int) { visited[rec.PID] = true }
	_ = Walk(roots, mark)
	if len(visited) == len(index) {
		return roots, nil
	}

	order := make(map[*ProcessRecord]int, len(nodes))
	for i := range nodes {
		order[&nodes[i]] = i
	}

	var cycles []*CycleError
	for i := range nodes {
		rec := &nodes[i]
		if index[rec.PID] != rec || visited[rec.PID] {
			continue
		}
		loop := loopAbove(rec, parentOf)
		head := loop[0]
		pids := make([]int, len(loop))
		for j, member := range loop {
			pids[j] = member.PID
			if order[member] < order[head] {
				head = member
			}
		}
		cycles = append(cycles, &CycleError{PIDs: pids})

		if parent := parentOf[head]; parent != nil {
			parent.Children = removeChild(parent.Children, head)
			delete(parentOf, head)
		}
		roots = append(roots, head)
		_ = Walk([]*ProcessRecord{head}, mark)
	}
	return roots, cycles
}

// loopAbove follows parent links up from rec until a record repeats and
// returns the members of that loop. rec itself may hang below the loop.
func loopAbove(rec *ProcessRecord, parentOf map[*ProcessRecord]*ProcessRecord) []*ProcessRecord {
	pos := make(map[*ProcessRecord]int)
	var chain []*ProcessRecord
	for cur := rec; cur != nil; cur = parentOf[cur] {
		if at, ok := pos[cur]; ok {
			return chain[at:]
		}
		pos[cur] = len(chain)
		chain = append(chain, cur)
	}
	return chain
}

func removeChild(children []*ProcessRecord, child *ProcessRecord) []*ProcessRecord {
	for i, c := range children {
		if c == child {
			return append(children[:i], children[i+1:]...)
		}
	}
	return children
}

// Walk visits every record reachable from roots in depth-first pre-order,
// calling fn with the record and its depth. A pid that was already visited
// is not descended into again; Walk finishes the traversal and returns a
// CycleError naming the first repeated pid.
func Walk(roots []*ProcessRecord, fn func(rec *ProcessRecord, depth int)) error {
	visited := make(map[int]bool)
	var repeated *CycleError

	var visit func(rec *ProcessRecord, depth int, path []int)
	visit = func(rec *ProcessRecord, depth int, path []int) {
		if visited[rec.PID] {
			if repeated == nil {
				repeated = &CycleError{PIDs: append(append([]int(nil), path...), rec.PID)}
			}
			return
		}
		visited[rec.PID] = true
		fn(rec, depth)
		path = append(path, rec.PID)
		for _, child := range rec.Children {
			visit(child, depth+1, path)
		}
	}

	for _, root := range roots {
		visit(root, 0, nil)
	}
	if repeated != nil {
		return repeated
	}
	return nil
}

// Flatten returns every record reachable from roots in pre-order, each at
// most once. The error is the one Walk reports.
func Flatten(roots []*ProcessRecord) ([]*ProcessRecord, error) {
	var out []*ProcessRecord
	err := Walk(roots, func(rec *ProcessRecord, _ int) {
		out = append(out, rec)
	})
	return out, err
}

// DetectCycles reports every loop in the parent links of records.
// Self-parents are not reported; they are treated as roots.
func DetectCycles(records []ProcessRecord) []*CycleError {
	parent := make(map[int]int, len(records))
	for _, r := range records {
		if r.ParentPID != nil && *r.ParentPID != r.PID {
			parent[r.PID] = *r.ParentPID
		}
	}

	const (
		unseen = iota
		active
		done
	)
	state := make(map[int]int, len(records))
	var cycles []*CycleError
	for _, r := range records {
		if state[r.PID] != unseen {
			continue
		}
		var chain []int
		pos := make(map[int]int)
		for cur, ok := r.PID, true; ok; cur, ok = parent[cur] {
			if state[cur] == active {
				cycles = append(cycles, &CycleError{PIDs: append([]int(nil), chain[pos[cur]:]...)})
				break
			}
			if state[cur] == done {
				break
			}
			state[cur] = active
			pos[cur] = len(chain)
			chain = append(chain, cur)
		}
		for _, pid := range chain {
			state[pid] = done
		}
	}
	return cycles
}
