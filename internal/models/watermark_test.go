package models

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func toIDs(nums []uint8) []string {
	ids := make([]string, len(nums))
	for i, n := range nums {
		ids[i] = fmt.Sprint(n)
	}
	return ids
}

// distinctMinus is the reference definition: distinct(b) \ a in first-seen order
func distinctMinus(a, b []string) []string {
	out := []string{}
	for i, id := range b {
		inA := false
		for _, x := range a {
			if x == id {
				inA = true
				break
			}
		}
		seenBefore := false
		for _, x := range b[:i] {
			if x == id {
				seenBefore = true
				break
			}
		}
		if !inA && !seenBefore {
			out = append(out, id)
		}
	}
	return out
}

func TestWatermarkMissingProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// small id space so overlaps and duplicates are common
	properties.Property("missing equals distinct(B) minus A in order", prop.ForAll(
		func(a, b []uint8) bool {
			wm := NewWatermark("u", toIDs(a))
			got := wm.Missing(toIDs(b))
			want := distinctMinus(toIDs(a), toIDs(b))
			if len(got) != len(want) {
				return false
			}
			for i := range got {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt8Range(0, 30)),
		gen.SliceOf(gen.UInt8Range(0, 30)),
	))

	properties.Property("adding missing ids twice is a no-op", prop.ForAll(
		func(a, b []uint8) bool {
			wm := NewWatermark("u", toIDs(a))
			for _, id := range wm.Missing(toIDs(b)) {
				wm.Add(id)
			}
			size := wm.Len()
			for _, id := range wm.Missing(toIDs(b)) {
				wm.Add(id)
			}
			return wm.Len() == size && len(wm.Missing(toIDs(b))) == 0
		},
		gen.SliceOf(gen.UInt8Range(0, 30)),
		gen.SliceOf(gen.UInt8Range(0, 30)),
	))

	properties.TestingRun(t)
}

func TestWatermark(t *testing.T) {
	wm := NewWatermark("user", []string{"3", "1", "3", "2"})

	assert.Equal(t, 3, wm.Len())
	assert.Equal(t, []string{"3", "1", "2"}, wm.IDs())
	assert.True(t, wm.Contains("1"))
	assert.False(t, wm.Contains("9"))

	assert.True(t, wm.Add("9"))
	assert.False(t, wm.Add("9"))
	assert.Equal(t, []string{"5", "7"}, wm.Missing([]string{"5", "1", "7", "5", "9"}))

	ids := wm.IDs()
	ids[0] = "mutated"
	assert.True(t, wm.Contains("3"), "IDs must return a copy")
}
