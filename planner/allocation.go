package planner

import (
	"math"
	"sort"
)

// largestRemainder divides total into len(weights) integer shares proportional to weights.
// Shares sum exactly to total; leftover units go to the largest fractional parts, ties to the
// lower index.
func largestRemainder(total int, weights []float64) []int {
	shares := make([]int, len(weights))
	if total == 0 || len(weights) == 0 {
		return shares
	}
	var sum float64
	for _, w := range weights {
		sum += w
	}
	fracs := make([]float64, len(weights))
	assigned := 0
	for i, w := range weights {
		exact := float64(total) * w / sum
		shares[i] = int(math.Floor(exact))
		fracs[i] = exact - float64(shares[i])
		assigned += shares[i]
	}
	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return fracs[order[a]] > fracs[order[b]]
	})
	for i := 0; assigned < total; i = (i + 1) % len(order) {
		shares[order[i]]++
		assigned++
	}
	return shares
}

type cell struct {
	class, split int
	rem          int
}

// controlledRound distributes each class total across splits proportionally to the split
// totals, such that every row (class) and every column (split) of the result sums exactly to
// its target, and every cell is the floor or the ceiling of its exact share. Both target
// vectors must have the same sum.
//
// Cells start at their floor. Each class then owes one extra unit to as many of its
// fractional cells as its remainder sums to, and so does each split. Extra units are handed
// out greedily by decreasing remainder; a class left short afterwards takes a cell along an
// augmenting path, moving other classes' extra units between their fractional cells.
func controlledRound(classTotals []int, splitTotals []int) [][]int {
	total := 0
	for _, t := range splitTotals {
		total += t
	}
	alloc := make([][]int, len(classTotals))
	fractional := make([][]bool, len(classTotals))
	raised := make([][]bool, len(classTotals))
	classRes := make([]int, len(classTotals))
	splitRes := append([]int(nil), splitTotals...)
	var cells []cell
	for c, n := range classTotals {
		alloc[c] = make([]int, len(splitTotals))
		fractional[c] = make([]bool, len(splitTotals))
		raised[c] = make([]bool, len(splitTotals))
		classRes[c] = n
		if total == 0 {
			continue
		}
		for s, t := range splitTotals {
			num := n * t
			alloc[c][s] = num / total
			classRes[c] -= alloc[c][s]
			splitRes[s] -= alloc[c][s]
			if rem := num % total; rem > 0 {
				fractional[c][s] = true
				cells = append(cells, cell{class: c, split: s, rem: rem})
			}
		}
	}
	// cells are generated in class-then-split order, so a stable sort keeps that tie-break
	sort.SliceStable(cells, func(a, b int) bool {
		return cells[a].rem > cells[b].rem
	})
	for _, ce := range cells {
		if classRes[ce.class] > 0 && splitRes[ce.split] > 0 {
			raised[ce.class][ce.split] = true
			classRes[ce.class]--
			splitRes[ce.split]--
		}
	}

	var augment func(c int, seen []bool) bool
	augment = func(c int, seen []bool) bool {
		for s := range splitRes {
			if !fractional[c][s] || raised[c][s] || seen[s] {
				continue
			}
			seen[s] = true
			if splitRes[s] > 0 {
				raised[c][s] = true
				splitRes[s]--
				return true
			}
			for other := range raised {
				if raised[other][s] && augment(other, seen) {
					raised[other][s] = false
					raised[c][s] = true
					return true
				}
			}
		}
		return false
	}
	for c := range classRes {
		for classRes[c] > 0 && augment(c, make([]bool, len(splitRes))) {
			classRes[c]--
		}
	}

	for c := range alloc {
		for s := range alloc[c] {
			if raised[c][s] {
				alloc[c][s]++
			}
		}
	}
	return alloc
}
