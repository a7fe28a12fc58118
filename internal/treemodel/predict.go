package treemodel

import (
	"math"
	"regexp"
	"strconv"

	"churnwatch/internal/features"
)

const probEpsilon = 1e-12

var syntheticIndex = regexp.MustCompile(`^f(\d+)$`)

// Logit converts a probability to log-odds. The input is clamped into
// [1e-12, 1-1e-12] so ln never sees 0 or a negative number.
func Logit(p float64) float64 {
	if p < probEpsilon {
		p = probEpsilon
	}
	if p > 1-probEpsilon {
		p = 1 - probEpsilon
	}
	return math.Log(p / (1 - p))
}

// Sigmoid is the numerically stable inverse of Logit; it branches on the
// sign of the margin to keep exp from overflowing.
func Sigmoid(x float64) float64 {
	if x >= 0 {
		z := math.Exp(-x)
		return 1 / (1 + z)
	}
	z := math.Exp(x)
	return z / (1 + z)
}

// PredictProbability evaluates the ensemble against vec. The base score is
// converted to a margin via Logit, every tree contributes the leaf value its
// traversal reaches, and the accumulated margin is squashed back through
// Sigmoid.
func (m *Model) PredictProbability(vec features.Vector) float64 {
	margin := Logit(m.BaseScore)
	for i := range m.Trees {
		margin += traverse(&m.Trees[i], vec)
	}
	return Sigmoid(margin)
}

// traverse walks one tree iteratively over its node-id arena. The step bound
// guards corrupt models that cycle; well-formed trees always terminate at a
// leaf well before it.
func traverse(t *Tree, vec features.Vector) float64 {
	node, ok := t.Nodes[t.Root]
	if !ok {
		return 0
	}
	for steps := 0; steps <= len(t.Nodes); steps++ {
		if node.IsLeaf {
			return node.Value
		}
		childID, ok := nextChild(node, vec)
		if !ok {
			return 0
		}
		next, found := t.Nodes[childID]
		if !found {
			return 0
		}
		node = next
	}
	return 0
}

// nextChild resolves the child id to descend into. A missing feature value
// follows the explicit missing child, then the default-direction child, then
// the yes child. A resolved id absent from the node's listed children falls
// back to the first listed child; a childless split yields no step.
func nextChild(n Node, vec features.Vector) (int, bool) {
	val, present := lookup(n.Feature, vec)

	var target int
	switch {
	case !present && n.HasMissing:
		target = n.Missing
	case !present && n.DefaultLeft != nil:
		if *n.DefaultLeft && n.HasYes {
			target = n.Yes
		} else if !*n.DefaultLeft && n.HasNo {
			target = n.No
		} else if n.HasYes {
			target = n.Yes
		} else {
			return firstChild(n)
		}
	case !present:
		if !n.HasYes {
			return firstChild(n)
		}
		target = n.Yes
	case val < n.Threshold:
		if !n.HasYes {
			return firstChild(n)
		}
		target = n.Yes
	default:
		if !n.HasNo {
			return firstChild(n)
		}
		target = n.No
	}

	for _, id := range n.Children {
		if id == target {
			return target, true
		}
	}
	return firstChild(n)
}

func firstChild(n Node) (int, bool) {
	if len(n.Children) == 0 {
		return 0, false
	}
	return n.Children[0], true
}

// lookup resolves a feature by exact name, falling back to positional lookup
// for synthetic f<N> names with no exact key.
func lookup(name string, vec features.Vector) (float64, bool) {
	if v, ok := vec.Get(name); ok {
		return v, true
	}
	if m := syntheticIndex.FindStringSubmatch(name); m != nil {
		idx, err := strconv.Atoi(m[1])
		if err == nil {
			return vec.ByIndex(idx)
		}
	}
	return 0, false
}
