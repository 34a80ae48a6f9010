package types

import (
	"image"
	"testing"
)

func TestRegionArea(t *testing.T) {
	tests := []struct {
		name string
		r    Region
		want int
	}{
		{"normal", Region{X: 1, Y: 2, W: 10, H: 5}, 50},
		{"zero width", Region{W: 0, H: 5}, 0},
		{"zero height", Region{W: 5, H: 0}, 0},
		{"negative", Region{W: -3, H: 5}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.Area(); got != tt.want {
				t.Errorf("Area() = %d, want %d", got, tt.want)
			}
			if tt.r.Empty() != (tt.want == 0) {
				t.Errorf("Empty() = %v for area %d", tt.r.Empty(), tt.want)
			}
		})
	}
}

func TestRegionClip(t *testing.T) {
	bounds := Region{W: 100, H: 80}

	got := Region{X: -10, Y: 70, W: 30, H: 30}.Clip(bounds)
	want := Region{X: 0, Y: 70, W: 20, H: 10}
	if got != want {
		t.Errorf("Clip() = %+v, want %+v", got, want)
	}

	if got := (Region{X: 200, Y: 200, W: 10, H: 10}).Clip(bounds); !got.Empty() {
		t.Errorf("Clip() outside bounds = %+v, want empty", got)
	}
}

func TestRegionPad(t *testing.T) {
	got := Region{X: 10, Y: 10, W: 5, H: 5}.Pad(2)
	want := Region{X: 8, Y: 8, W: 9, H: 9}
	if got != want {
		t.Errorf("Pad() = %+v, want %+v", got, want)
	}
}

func TestFrameBounds(t *testing.T) {
	f := Frame{Image: image.NewGray(image.Rect(0, 0, 64, 48))}
	if f.Width() != 64 || f.Height() != 48 {
		t.Fatalf("size = %dx%d", f.Width(), f.Height())
	}
	if got := f.Bounds(); got != (Region{W: 64, H: 48}) {
		t.Errorf("Bounds() = %+v", got)
	}

	var empty Frame
	if !empty.Bounds().Empty() {
		t.Errorf("nil image frame should have empty bounds")
	}
}
