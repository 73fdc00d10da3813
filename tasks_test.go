package gputasks

import (
	"errors"
	"image"
	"image/color"
	"testing"
)

func TestUploadBufferTask(t *testing.T) {
	dev := newStubDevice(1)
	ctx := mustContext(t, dev)
	defer ctx.Close()

	buf, err := dev.main.CreateBuffer(&BufferDescriptor{Size: 16})
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	task := NewUploadBufferTask(buf, 0, make([]byte, 16))
	ctx.Run(task)

	if got := dev.main.writes; got != 1 {
		t.Errorf("buffer writes = %d, want 1", got)
	}
	ctx.OnFrameBegin()
	if got := task.State(); got != TaskFinished {
		t.Errorf("State() = %v, want %v", got, TaskFinished)
	}
}

func TestUploadBufferTaskCancelReleasesData(t *testing.T) {
	buf := &stubBuffer{size: 16}
	task := NewUploadBufferTask(buf, 0, make([]byte, 16))
	task.CancelSync()
	if task.data != nil {
		t.Error("CancelSync() should drop the staged data")
	}
}

func TestUploadBufferTaskWriteFailure(t *testing.T) {
	dev := newStubDevice(1)
	dev.main.writeErr = errors.New("out of memory")
	ctx := mustContext(t, dev)
	defer ctx.Close()

	task := NewUploadBufferTask(&stubBuffer{size: 16}, 0, make([]byte, 16))
	ctx.Run(task)
	if got := task.State(); got != TaskFailed {
		t.Errorf("State() = %v, want %v", got, TaskFailed)
	}
}

func TestUploadTextureTask(t *testing.T) {
	dev := newStubDevice(1)
	ctx := mustContext(t, dev)
	defer ctx.Close()

	tex, err := dev.main.CreateTexture(&TextureDescriptor{Width: 4, Height: 4})
	if err != nil {
		t.Fatalf("CreateTexture() error = %v", err)
	}
	task := NewUploadTextureTask(tex, 0, make([]byte, 4*4*4), DataLayout{BytesPerRow: 16, RowsPerImage: 4})
	ctx.Run(task)

	if got := dev.main.texWrites; got != 1 {
		t.Errorf("texture writes = %d, want 1", got)
	}
	ctx.OnFrameBegin()
	if got := task.State(); got != TaskFinished {
		t.Errorf("State() = %v, want %v", got, TaskFinished)
	}
}

func TestCopyBufferTask(t *testing.T) {
	dev := newStubDevice(1)
	ctx := mustContext(t, dev)
	defer ctx.Close()

	task := NewCopyBufferTask(&stubBuffer{size: 32}, &stubBuffer{size: 32}, 0, 0, 32)
	ctx.Run(task)
	if got := dev.main.copies; got != 1 {
		t.Errorf("device copies = %d, want 1", got)
	}
	ctx.OnFrameBegin()
	if got := task.State(); got != TaskFinished {
		t.Errorf("State() = %v, want %v", got, TaskFinished)
	}
}

func TestReadbackBufferTask(t *testing.T) {
	dev := newStubDevice(1)
	ctx := mustContext(t, dev)
	defer ctx.Close()

	var gotData []byte
	var gotErr error
	task := NewReadbackBufferTask(&stubBuffer{size: 8}, 0, 8, func(data []byte, err error) {
		gotData, gotErr = data, err
	})

	if _, err := task.Result(); !errors.Is(err, ErrTaskNotExecuted) {
		t.Errorf("Result() before sync = %v, want %v", err, ErrTaskNotExecuted)
	}

	ctx.Run(task)
	if got := dev.main.reads; got != 0 {
		t.Errorf("reads before sync = %d, want 0: readback must wait for the point", got)
	}

	ctx.OnFrameBegin()
	if gotErr != nil {
		t.Fatalf("onDone error = %v", gotErr)
	}
	if len(gotData) != 8 || gotData[0] != 0x5A {
		t.Errorf("onDone data = % x, want 8 bytes of 5a", gotData)
	}
	data, err := task.Result()
	if err != nil {
		t.Fatalf("Result() = %v", err)
	}
	if len(data) != 8 {
		t.Errorf("Result() returned %d bytes, want 8", len(data))
	}
}

func TestReadbackBufferTaskCancel(t *testing.T) {
	var gotErr error
	task := NewReadbackBufferTask(&stubBuffer{size: 8}, 0, 8, func(data []byte, err error) {
		gotErr = err
	})
	task.CancelSync()

	if !errors.Is(gotErr, ErrTaskCanceled) {
		t.Errorf("onDone error = %v, want %v", gotErr, ErrTaskCanceled)
	}
	if _, err := task.Result(); !errors.Is(err, ErrTaskCanceled) {
		t.Errorf("Result() = %v, want %v", err, ErrTaskCanceled)
	}
}

func TestReadbackBufferTaskReadFailure(t *testing.T) {
	dev := newStubDevice(1)
	dev.main.readErr = errors.New("transfer failed")
	ctx := mustContext(t, dev)
	defer ctx.Close()

	task := NewReadbackBufferTask(&stubBuffer{size: 8}, 0, 8, nil)
	ctx.Run(task)
	ctx.OnFrameBegin()

	if got := task.State(); got != TaskFailed {
		t.Errorf("State() = %v, want %v", got, TaskFailed)
	}
	if _, err := task.Result(); err == nil {
		t.Error("Result() = nil error, want the recorded read failure")
	}
}

func TestMipLevels(t *testing.T) {
	tests := []struct {
		w, h uint32
		want uint32
	}{
		{1, 1, 1},
		{2, 2, 2},
		{4, 4, 3},
		{256, 256, 9},
		{256, 1, 9},
		{640, 480, 10},
		{0, 0, 1},
	}
	for _, tt := range tests {
		if got := MipLevels(tt.w, tt.h); got != tt.want {
			t.Errorf("MipLevels(%d, %d) = %d, want %d", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestMipUploadTaskDeviceMips(t *testing.T) {
	dev := newStubDevice(1)
	ctx := mustContext(t, dev)
	defer ctx.Close()

	tex := &stubTexture{w: 8, h: 8, mips: MipLevels(8, 8)}
	task := NewMipUploadTask(tex, image.NewRGBA(image.Rect(0, 0, 8, 8)))
	ctx.Run(task)

	if got := dev.main.texWrites; got != 1 {
		t.Errorf("texture writes = %d, want 1 (level zero only)", got)
	}
	if got := dev.main.mipGens; got != 1 {
		t.Errorf("device mip generations = %d, want 1", got)
	}
	ctx.OnFrameBegin()
	if got := task.State(); got != TaskFinished {
		t.Errorf("State() = %v, want %v", got, TaskFinished)
	}
}

func TestMipUploadTaskCPUFallback(t *testing.T) {
	dev := newStubDevice(1)
	dev.main.mipsErr = ErrMipsUnsupported
	ctx := mustContext(t, dev)
	defer ctx.Close()

	tex := &stubTexture{w: 8, h: 8, mips: MipLevels(8, 8)}
	task := NewMipUploadTask(tex, image.NewRGBA(image.Rect(0, 0, 8, 8)))
	ctx.Run(task)

	// Levels 8x8, 4x4, 2x2 and 1x1 each get their own upload.
	if got := dev.main.texWrites; got != 4 {
		t.Errorf("texture writes = %d, want 4 (full CPU chain)", got)
	}
	ctx.OnFrameBegin()
	if got := task.State(); got != TaskFinished {
		t.Errorf("State() = %v, want %v", got, TaskFinished)
	}
}

func TestToRGBAConverts(t *testing.T) {
	src := image.NewNRGBA(image.Rect(2, 2, 6, 6))
	src.SetNRGBA(2, 2, color.NRGBA{R: 255, A: 255})

	rgba := toRGBA(src)
	if b := rgba.Bounds(); b.Min.X != 0 || b.Min.Y != 0 || b.Dx() != 4 || b.Dy() != 4 {
		t.Fatalf("converted bounds = %v, want (0,0)-(4,4)", b)
	}
	if c := rgba.RGBAAt(0, 0); c.R != 255 || c.A != 255 {
		t.Errorf("pixel (0,0) = %+v, want opaque red", c)
	}

	// An image that already is *image.RGBA passes through untouched.
	direct := image.NewRGBA(image.Rect(0, 0, 2, 2))
	if toRGBA(direct) != direct {
		t.Error("toRGBA should return *image.RGBA inputs unchanged")
	}
}
