package software

import (
	"encoding/binary"
	"fmt"
	"image"
	stdmath "math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/hellotriangle/engine/math"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

type vertexOut struct {
	position mgl32.Vec4
	color    mgl32.Vec4
}

// fetch assembles vertex id from the bound vertex buffers using the input layout.
func (e *executor) fetch(id uint32) (vertexOut, error) {
	out := vertexOut{color: mgl32.Vec4{1, 1, 1, 1}}
	for i, el := range e.pipeline.layout {
		if i != e.pipeline.position && i != e.pipeline.color {
			continue
		}
		vb, ok := e.vbs[el.InputSlot]
		if !ok {
			return out, fmt.Errorf("no vertex buffer bound to slot %d", el.InputSlot)
		}
		stride := vb.StrideInBytes
		if stride == 0 {
			stride = e.pipeline.stride
		}
		offset := uint64(id)*uint64(stride) + uint64(el.AlignedByteOffset)
		size := el.Format.Size()
		if offset+uint64(size) > uint64(vb.SizeInBytes) {
			return out, fmt.Errorf("vertex %d %s reads past the %d byte view", id, el.SemanticName, vb.SizeInBytes)
		}
		buf, base, ok := e.dev.lookup(vb.BufferLocation)
		if !ok {
			return out, fmt.Errorf("address %#x is not backed by a live buffer", vb.BufferLocation)
		}
		raw, ok := buf.read(base+offset, int(size))
		if !ok {
			return out, fmt.Errorf("vertex %d %s is outside %s", id, el.SemanticName, buf.name)
		}
		v := decode(el.Format, raw)
		if i == e.pipeline.position {
			out.position = mgl32.Vec4{v[0], v[1], v[2], 1}
		} else {
			out.color = v
		}
	}
	return out, nil
}

func decode(f hal.Format, raw []byte) mgl32.Vec4 {
	var v mgl32.Vec4
	switch f {
	case hal.FormatR32G32B32Float, hal.FormatR32G32B32A32Float:
		for i := 0; i < len(raw)/4; i++ {
			v[i] = stdmath.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case hal.FormatR8G8B8A8Unorm:
		for i := 0; i < 4; i++ {
			v[i] = float32(raw[i]) / 255
		}
	}
	return v
}

// rasterize fills a triangle given in clip space, interpolating colour.
// Pixel centres are sampled at +0.5. Both windings are drawn.
func rasterize(dst *image.RGBA, vp hal.Viewport, sc hal.Rect, tri [3]vertexOut) {
	var p [3]mgl32.Vec2
	for i, v := range tri {
		w := v.position.W()
		if w == 0 {
			return
		}
		ndc := v.position.Vec3().Mul(1 / w)
		p[i] = mgl32.Vec2{
			vp.TopLeftX + (ndc.X()+1)*0.5*vp.Width,
			vp.TopLeftY + (1-ndc.Y())*0.5*vp.Height,
		}
	}

	area := edge(p[0], p[1], p[2])
	if area == 0 {
		return
	}

	bounds := dst.Bounds()
	minX := math.Clamp(int(stdmath.Floor(float64(math.Min3(p[0].X(), p[1].X(), p[2].X())))), max(bounds.Min.X, int(sc.Left)), min(bounds.Max.X, int(sc.Right)))
	maxX := math.Clamp(int(stdmath.Ceil(float64(math.Max3(p[0].X(), p[1].X(), p[2].X())))), max(bounds.Min.X, int(sc.Left)), min(bounds.Max.X, int(sc.Right)))
	minY := math.Clamp(int(stdmath.Floor(float64(math.Min3(p[0].Y(), p[1].Y(), p[2].Y())))), max(bounds.Min.Y, int(sc.Top)), min(bounds.Max.Y, int(sc.Bottom)))
	maxY := math.Clamp(int(stdmath.Ceil(float64(math.Max3(p[0].Y(), p[1].Y(), p[2].Y())))), max(bounds.Min.Y, int(sc.Top)), min(bounds.Max.Y, int(sc.Bottom)))

	for y := minY; y < maxY; y++ {
		for x := minX; x < maxX; x++ {
			c := mgl32.Vec2{float32(x) + 0.5, float32(y) + 0.5}
			w0 := edge(p[1], p[2], c) / area
			w1 := edge(p[2], p[0], c) / area
			w2 := edge(p[0], p[1], c) / area
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			col := tri[0].color.Mul(w0).Add(tri[1].color.Mul(w1)).Add(tri[2].color.Mul(w2))
			i := dst.PixOffset(x, y)
			dst.Pix[i+0] = math.ToUnorm8(col.X())
			dst.Pix[i+1] = math.ToUnorm8(col.Y())
			dst.Pix[i+2] = math.ToUnorm8(col.Z())
			dst.Pix[i+3] = math.ToUnorm8(col.W())
		}
	}
}

func edge(a, b, c mgl32.Vec2) float32 {
	return (b.X()-a.X())*(c.Y()-a.Y()) - (b.Y()-a.Y())*(c.X()-a.X())
}
