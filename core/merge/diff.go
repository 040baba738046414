package merge

import (
	"strings"
)

type editKind int

const (
	editKeep editKind = iota
	editInsert
	editDelete
)

type edit struct {
	kind     editKind
	oldIndex int
	newIndex int
}

// splitLines splits data after every newline, so that joining the result
// reproduces data exactly.
func splitLines(data []byte) []string {
	lines := strings.SplitAfter(string(data), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// =============================================================================
// Myers
// =============================================================================

// diffLines returns the shortest edit script turning base into target.
func diffLines(base, target []string) []edit {
	n, m := len(base), len(target)

	if n == 0 {
		return allInserts(m)
	}
	if m == 0 {
		return allDeletes(n)
	}
	return myers(base, target)
}

func allInserts(m int) []edit {
	ops := make([]edit, m)
	for i := range m {
		ops[i] = edit{kind: editInsert, newIndex: i}
	}
	return ops
}

func allDeletes(n int) []edit {
	ops := make([]edit, n)
	for i := range n {
		ops[i] = edit{kind: editDelete, oldIndex: i}
	}
	return ops
}

func myers(base, target []string) []edit {
	n, m := len(base), len(target)
	max := n + m
	offset := max
	v := make([]int, 2*max+1)
	var trace [][]int

	for depth := 0; depth <= max; depth++ {
		snapshot := make([]int, len(v))
		copy(snapshot, v)
		trace = append(trace, snapshot)

		for k := -depth; k <= depth; k += 2 {
			x := nextX(v, offset, k, depth)
			y := x - k
			for x < n && y < m && base[x] == target[y] {
				x++
				y++
			}
			v[offset+k] = x
			if x >= n && y >= m {
				return backtrack(trace, n, m, offset)
			}
		}
	}
	return nil
}

func nextX(v []int, offset, k, depth int) int {
	if k == -depth || (k != depth && v[offset+k-1] < v[offset+k+1]) {
		return v[offset+k+1]
	}
	return v[offset+k-1] + 1
}

func prevK(v []int, offset, k, depth int) int {
	if k == -depth {
		return k + 1
	}
	if k == depth {
		return k - 1
	}
	if v[offset+k-1] < v[offset+k+1] {
		return k + 1
	}
	return k - 1
}

func backtrack(trace [][]int, n, m, offset int) []edit {
	ops := make([]edit, 0, n+m)
	x, y := n, m

	for depth := len(trace) - 1; depth > 0; depth-- {
		k := x - y
		v := trace[depth]

		pk := prevK(v, offset, k, depth)
		px := v[offset+pk]
		py := px - pk

		// position right after the single edit of this depth
		ax, ay := px, py+1
		if pk < k {
			ax, ay = px+1, py
		}
		ops = appendSnake(ops, x, y, ax, ay)
		x, y = ax, ay

		if pk < k {
			x--
			ops = append(ops, edit{kind: editDelete, oldIndex: x})
		} else {
			y--
			ops = append(ops, edit{kind: editInsert, newIndex: y})
		}
	}

	ops = appendSnake(ops, x, y, 0, 0)
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
	return ops
}

func appendSnake(ops []edit, x, y, toX, toY int) []edit {
	for x > toX && y > toY {
		x--
		y--
		ops = append(ops, edit{kind: editKeep, oldIndex: x, newIndex: y})
	}
	return ops
}

// matches maps every base line kept by the edit script to its index in the
// other side, and every other base line to -1.
func matches(base, other []string) []int {
	out := make([]int, len(base))
	for i := range out {
		out[i] = -1
	}
	for _, op := range diffLines(base, other) {
		if op.kind == editKeep {
			out[op.oldIndex] = op.newIndex
		}
	}
	return out
}
