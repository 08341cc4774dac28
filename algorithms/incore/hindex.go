package incore

import (
	"sort"

	"github.com/mundrapranay/dcore/algorithms/common"
)

// HIndex returns the largest h such that at least h in-neighbours of v hold
// a value >= h. buf is scratch space and is returned for reuse.
func HIndex(frag common.Fragment, values []int32, v common.Vertex, buf []int32) (int32, []int32) {
	buf = buf[:0]
	for _, u := range frag.GetIncomingAdjList(v) {
		buf = append(buf, values[u])
	}
	sort.Slice(buf, func(i, j int) bool { return buf[i] > buf[j] })

	h := int32(0)
	for i, x := range buf {
		if x < int32(i+1) {
			break
		}
		h = int32(i + 1)
	}
	return h, buf
}
