package compiler

import (
	"bytes"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
)

// The reason the builder turned a range into a leaf.
type LeafReason uint8

const (
	// The range had at most LeafThreshold triangles.
	LeafThreshold LeafReason = iota
	// The maximum tree depth was reached.
	LeafMaxDepth
	// The bounds had zero surface area.
	LeafZeroArea
	// No split was cheaper than a leaf.
	LeafNoImprovement
	// No split could separate the triangles.
	LeafInseparable

	NumLeafReasons
)

func (r LeafReason) String() string {
	switch r {
	case LeafThreshold:
		return "threshold"
	case LeafMaxDepth:
		return "max depth"
	case LeafZeroArea:
		return "zero area"
	case LeafNoImprovement:
		return "no improvement"
	case LeafInseparable:
		return "inseparable"
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// Build statistics.
type Stats struct {
	// Number of input triangles.
	Triangles int

	// Interior nodes and leaves emitted. Empty kd-tree cells count as leaves
	// whether they get their own record or share the empty sentinel.
	Nodes  int
	Leaves int

	// Kd-tree leaves that reference no geometry.
	EmptyLeaves int

	// Geometry entries referencing triangles. A kd-tree may reference a
	// triangle from more than one leaf.
	LeafReferences int

	// Geometry entries duplicated to pad BVH leaves to a multiple of 4.
	PaddingReferences int

	LeavesByReason [NumLeafReasons]int

	// Kd-tree splits forced to isolate empty space.
	EmptySpaceCuts int

	MaxDepth int

	// Sum of all leaf depths.
	DepthSum int

	BuildTime time.Duration
}

// Get the average leaf depth.
func (s Stats) MeanLeafDepth() float64 {
	if s.Leaves == 0 {
		return 0
	}
	return float64(s.DepthSum) / float64(s.Leaves)
}

// Get the average number of geometry references per non-empty leaf.
func (s Stats) MeanLeafSize() float64 {
	full := s.Leaves - s.EmptyLeaves
	if full <= 0 {
		return 0
	}
	return float64(s.LeafReferences) / float64(full)
}

// Render the statistics as a text table.
func (s Stats) Table() string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetHeader([]string{"Metric", "Value"})
	table.AppendBulk([][]string{
		{"triangles", fmt.Sprintf("%d", s.Triangles)},
		{"interior nodes", fmt.Sprintf("%d", s.Nodes)},
		{"leaves", fmt.Sprintf("%d", s.Leaves)},
		{"empty leaves", fmt.Sprintf("%d", s.EmptyLeaves)},
		{"leaf references", fmt.Sprintf("%d", s.LeafReferences)},
		{"padding references", fmt.Sprintf("%d", s.PaddingReferences)},
		{"mean leaf size", fmt.Sprintf("%.2f", s.MeanLeafSize())},
		{"empty space cuts", fmt.Sprintf("%d", s.EmptySpaceCuts)},
		{"max depth", fmt.Sprintf("%d", s.MaxDepth)},
		{"mean leaf depth", fmt.Sprintf("%.2f", s.MeanLeafDepth())},
	})
	for reason := LeafReason(0); reason < NumLeafReasons; reason++ {
		table.Append([]string{"leaves: " + reason.String(), fmt.Sprintf("%d", s.LeavesByReason[reason])})
	}
	table.SetFooter([]string{"build time", s.BuildTime.String()})
	table.Render()
	return buf.String()
}
