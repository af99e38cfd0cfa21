package shaders

import (
	"strings"
	"testing"
)

func TestSourcesDeclareBlocks(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		blocks []string
	}{
		{"MeshVertexGL", MeshVertexGL, []string{"uniform Frame", "uniform Push"}},
		{"MeshFragmentGL", MeshFragmentGL, []string{"uniform Frame"}},
		{"MeshVertex", MeshVertex, []string{"uniform Frame", "push_constant"}},
		{"MeshFragment", MeshFragment, []string{"uniform Frame"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.HasPrefix(tt.src, "#version") {
				t.Fatalf("source does not start with #version")
			}
			for _, b := range tt.blocks {
				if !strings.Contains(tt.src, b) {
					t.Errorf("missing %q", b)
				}
			}
		})
	}
}

func TestVertexInputsMatchLayout(t *testing.T) {
	for loc := 0; loc <= 5; loc++ {
		want := "layout(location = " + string(rune('0'+loc)) + ") in"
		if !strings.Contains(MeshVertex, want) || !strings.Contains(MeshVertexGL, want) {
			t.Errorf("vertex input location %d missing", loc)
		}
	}
}
