package dcore

import (
	"github.com/mundrapranay/dcore/algorithms/common"
	"github.com/mundrapranay/dcore/algorithms/skyline"
)

// Recompute derives the skyline of inner vertex v from its own committed
// skyline, which bounds the search, and the committed skylines of its
// neighbours. committed is indexed by vertex handle.
//
// For every k up to the largest recorded K, l walks down from the current
// out bound and the first (k,l) with at least k dominating in-neighbours
// and at least l dominating out-neighbours is kept. A pair with the same l
// as its predecessor replaces the predecessor's k.
func Recompute(frag common.Fragment, committed []skyline.Skyline, v common.Vertex) skyline.Skyline {
	own := committed[v]
	if len(own) == 0 {
		return skyline.Skyline{}
	}
	inMax := own.InMax()
	outMax := own.OutMax()

	in := frag.GetIncomingAdjList(v)
	out := frag.GetOutgoingAdjList(v)

	result := make(skyline.Skyline, 0, len(own))
	for k := int32(0); k <= inMax; k++ {
		for l := outMax; l >= 0; l-- {
			if !enough(committed, in, k, l, k) || !enough(committed, out, k, l, l) {
				continue
			}
			if n := len(result); n > 0 && result[n-1].L == l {
				result[n-1].K = k
			} else {
				result = append(result, skyline.Pair{K: k, L: l})
			}
			outMax = l
			break
		}
	}
	return result
}

// enough reports whether at least need of the neighbours dominate (k,l).
func enough(committed []skyline.Skyline, neighbours []common.Vertex, k, l, need int32) bool {
	if need <= 0 {
		return true
	}
	count := int32(0)
	for _, u := range neighbours {
		if skyline.Dominates(committed[u], k, l) {
			count++
			if count >= need {
				return true
			}
		}
	}
	return false
}
