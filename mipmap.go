package gputasks

import (
	"errors"
	"image"
	stddraw "image/draw"
	"math/bits"

	"golang.org/x/image/draw"
)

// MipLevels returns the number of mip levels for a base size, down to 1x1.
func MipLevels(width, height uint32) uint32 {
	m := max(width, height)
	if m == 0 {
		return 1
	}
	return uint32(bits.Len32(m))
}

// MipUploadTask uploads an image with a full mipmap chain into a texture.
//
// Level zero is written from the source image. The remaining levels are
// generated on the device when the channel supports it; otherwise each level
// is downsampled on the CPU (bilinear) and uploaded individually. Either
// way the task completes with every declared level of dst populated.
type MipUploadTask struct {
	TaskBase
	dst Texture
	src image.Image
}

// NewMipUploadTask creates a task uploading src into dst. The texture's
// declared dimensions and mip level count drive the chain; dst is expected
// to be an RGBA8 texture whose base level matches the source bounds.
func NewMipUploadTask(dst Texture, src image.Image) *MipUploadTask {
	t := &MipUploadTask{
		TaskBase: newTaskBase("MipUpload"),
		dst:      dst,
		src:      src,
	}
	t.release = func() { t.src = nil }
	return t
}

// Execute writes level zero and schedules generation of the rest.
func (t *MipUploadTask) Execute(ctx *TasksContext) {
	if !t.begin() {
		return
	}
	ch := ctx.Channel()

	base := toRGBA(t.src)
	if err := writeRGBALevel(ch, t.dst, 0, base); err != nil {
		t.fail(err)
		return
	}

	err := ch.GenerateMips(t.dst)
	if errors.Is(err, ErrMipsUnsupported) {
		err = t.uploadCPUChain(ch, base)
	}
	if err != nil {
		t.fail(err)
		return
	}
	t.deferCompletion(ctx)
}

// uploadCPUChain downsamples each level on the CPU and uploads it.
func (t *MipUploadTask) uploadCPUChain(ch CommandChannel, base *image.RGBA) error {
	prev := base
	for level := uint32(1); level < t.dst.MipLevelCount(); level++ {
		w := max(t.dst.Width()>>level, 1)
		h := max(t.dst.Height()>>level, 1)
		next := image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
		draw.BiLinear.Scale(next, next.Bounds(), prev, prev.Bounds(), draw.Src, nil)
		if err := writeRGBALevel(ch, t.dst, level, next); err != nil {
			return err
		}
		prev = next
	}
	return nil
}

// writeRGBALevel uploads one RGBA image as one mip level.
func writeRGBALevel(ch CommandChannel, dst Texture, level uint32, img *image.RGBA) error {
	b := img.Bounds()
	return ch.WriteTexture(dst, level, img.Pix, DataLayout{
		BytesPerRow:  uint32(img.Stride),
		RowsPerImage: uint32(b.Dy()),
	})
}

// toRGBA returns src as *image.RGBA, converting only if needed.
func toRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok {
		return rgba
	}
	b := src.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	stddraw.Draw(rgba, rgba.Bounds(), src, b.Min, stddraw.Src)
	return rgba
}
