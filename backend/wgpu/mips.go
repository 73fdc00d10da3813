package wgpu

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

// copyPitchAlignment is the required BytesPerRow alignment for
// texture<->buffer copies.
const copyPitchAlignment = 256

// mipShaderSource downsamples one RGBA8 level into the next with a 2x2 box
// filter over packed u32 pixels. The taps are unrolled; naga's SPIR-V
// loop lowering is unreliable (gogpu/naga#5).
const mipShaderSource = `
struct Params {
    src_width: u32,
    src_height: u32,
    dst_width: u32,
    dst_height: u32,
    src_pitch: u32,
    dst_pitch: u32,
    pad0: u32,
    pad1: u32,
};

@group(0) @binding(0) var<uniform> params: Params;
@group(0) @binding(1) var<storage, read> src: array<u32>;
@group(0) @binding(2) var<storage, read_write> dst: array<u32>;

fn tap(x: u32, y: u32) -> vec4<f32> {
    let cx = min(x, params.src_width - 1u);
    let cy = min(y, params.src_height - 1u);
    return unpack4x8unorm(src[cy * params.src_pitch + cx]);
}

@compute @workgroup_size(8, 8, 1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x >= params.dst_width || gid.y >= params.dst_height) {
        return;
    }
    let x = gid.x * 2u;
    let y = gid.y * 2u;
    let sum = tap(x, y) + tap(x + 1u, y) + tap(x, y + 1u) + tap(x + 1u, y + 1u);
    dst[gid.y * params.dst_pitch + gid.x] = pack4x8unorm(sum * 0.25);
}
`

// mipGenerator owns the compute pipeline that builds mip chains on the
// device. Created lazily on the first GenerateMips call.
type mipGenerator struct {
	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
}

// newMipGenerator compiles the downsample shader and builds its pipeline.
func newMipGenerator(device hal.Device) (*mipGenerator, error) {
	spirvBytes, err := naga.Compile(mipShaderSource)
	if err != nil {
		return nil, fmt.Errorf("compile mip shader: %w", err)
	}
	// SPIR-V is little-endian 32-bit words.
	spirvCode := make([]uint32, len(spirvBytes)/4)
	for i := range spirvCode {
		spirvCode[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}

	g := &mipGenerator{}
	g.shader, err = device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "gputasks_mip",
		Source: hal.ShaderSource{SPIRV: spirvCode},
	})
	if err != nil {
		return nil, fmt.Errorf("create mip shader module: %w", err)
	}

	g.bindLayout, err = device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "gputasks_mip_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		g.destroy(device)
		return nil, fmt.Errorf("create mip bind group layout: %w", err)
	}

	g.pipeLayout, err = device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "gputasks_mip_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{g.bindLayout},
	})
	if err != nil {
		g.destroy(device)
		return nil, fmt.Errorf("create mip pipeline layout: %w", err)
	}

	g.pipeline, err = device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: "gputasks_mip_pipeline", Layout: g.pipeLayout,
		Compute: hal.ComputeState{Module: g.shader, EntryPoint: "main"},
	})
	if err != nil {
		g.destroy(device)
		return nil, fmt.Errorf("create mip compute pipeline: %w", err)
	}
	return g, nil
}

func (g *mipGenerator) destroy(device hal.Device) {
	if g.pipeline != nil {
		device.DestroyComputePipeline(g.pipeline)
		g.pipeline = nil
	}
	if g.pipeLayout != nil {
		device.DestroyPipelineLayout(g.pipeLayout)
		g.pipeLayout = nil
	}
	if g.bindLayout != nil {
		device.DestroyBindGroupLayout(g.bindLayout)
		g.bindLayout = nil
	}
	if g.shader != nil {
		device.DestroyShaderModule(g.shader)
		g.shader = nil
	}
}

// levelResources holds the transient buffers and bind group of one
// downsample pass.
type levelResources struct {
	params hal.Buffer
	src    hal.Buffer
	dst    hal.Buffer
	bind   hal.BindGroup
}

func (r *levelResources) free(device hal.Device) {
	if r.bind != nil {
		device.DestroyBindGroup(r.bind)
	}
	for _, buf := range []hal.Buffer{r.params, r.src, r.dst} {
		if buf != nil {
			device.DestroyBuffer(buf)
		}
	}
}

// generate builds levels 1..N-1 of t from level zero, in order, one bounded
// dispatch per level. Mip generation uses its own command buffers and fence,
// not the shared frame encoder, so transient buffers can be freed as each
// level completes.
func (g *mipGenerator) generate(queue hal.Queue, t *wgpuTexture) error {
	device := t.device
	fence, err := device.CreateFence()
	if err != nil {
		return fmt.Errorf("wgpu: create mip fence: %w", err)
	}
	defer device.DestroyFence(fence)

	for level := uint32(1); level < t.mipLevels; level++ {
		if err := g.generateLevel(queue, t, level, fence, uint64(level)); err != nil {
			return err
		}
	}
	return nil
}

// generateLevel produces one level: copy the previous level into a storage
// buffer, downsample on the device, wait, then read the result back and
// write it into the level. Levels run in order so each dispatch reads the
// level the previous one wrote.
func (g *mipGenerator) generateLevel(queue hal.Queue, t *wgpuTexture, level uint32, fence hal.Fence, value uint64) error {
	device := t.device
	sw := max(t.width>>(level-1), 1)
	sh := max(t.height>>(level-1), 1)
	dw := max(t.width>>level, 1)
	dh := max(t.height>>level, 1)
	srcPitch := alignPitch(sw)
	dstPitch := alignPitch(dw)

	srcSize := uint64(srcPitch) * 4 * uint64(sh)
	dstSize := uint64(dstPitch) * 4 * uint64(dh)

	res := &levelResources{}
	defer res.free(device)

	var err error
	res.src, err = device.CreateBuffer(&hal.BufferDescriptor{
		Label: "gputasks_mip_src", Size: srcSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create mip src buffer: %w", err)
	}
	res.dst, err = device.CreateBuffer(&hal.BufferDescriptor{
		Label: "gputasks_mip_dst", Size: dstSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create mip dst buffer: %w", err)
	}

	params := [8]uint32{sw, sh, dw, dh, srcPitch, dstPitch}
	paramsBytes := make([]byte, len(params)*4)
	for i, v := range params {
		binary.LittleEndian.PutUint32(paramsBytes[i*4:], v)
	}
	res.params, err = device.CreateBuffer(&hal.BufferDescriptor{
		Label: "gputasks_mip_params", Size: uint64(len(paramsBytes)),
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create mip params buffer: %w", err)
	}
	queue.WriteBuffer(res.params, 0, paramsBytes)

	res.bind, err = device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "gputasks_mip_bind", Layout: g.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: res.params.NativeHandle(), Offset: 0, Size: uint64(len(paramsBytes))}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: res.src.NativeHandle(), Offset: 0, Size: srcSize}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: res.dst.NativeHandle(), Offset: 0, Size: dstSize}},
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: create mip bind group: %w", err)
	}

	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "gputasks_mip_encoder"})
	if err != nil {
		return fmt.Errorf("wgpu: create mip encoder: %w", err)
	}
	if err := encoder.BeginEncoding("gputasks_mip"); err != nil {
		return fmt.Errorf("wgpu: begin mip encoding: %w", err)
	}

	encoder.CopyTextureToBuffer(t.tex, res.src, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: srcPitch * 4, RowsPerImage: sh},
		TextureBase:  hal.ImageCopyTexture{Texture: t.tex, MipLevel: level - 1},
		Size:         hal.Extent3D{Width: sw, Height: sh, DepthOrArrayLayers: 1},
	}})

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "gputasks_mip_pass"})
	pass.SetPipeline(g.pipeline)
	pass.SetBindGroup(0, res.bind, nil)
	pass.Dispatch((dw+7)/8, (dh+7)/8, 1)
	pass.End()

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end mip encoding: %w", err)
	}
	defer device.FreeCommandBuffer(cmdBuf)

	if err := queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, value); err != nil {
		return fmt.Errorf("wgpu: submit mip level %d: %w", level, err)
	}
	ok, err := device.Wait(fence, value, 5*time.Second)
	if err != nil {
		return fmt.Errorf("wgpu: wait for mip level %d: %w", level, err)
	}
	if !ok {
		return fmt.Errorf("wgpu: wait for mip level %d timed out", level)
	}

	// Pull the downsampled pixels out of the storage buffer, drop the row
	// padding, and write them into the level.
	padded := make([]byte, dstSize)
	if err := queue.ReadBuffer(res.dst, 0, padded); err != nil {
		return fmt.Errorf("wgpu: read mip level %d: %w", level, err)
	}
	rowBytes := int(dw) * 4
	tight := make([]byte, rowBytes*int(dh))
	for y := 0; y < int(dh); y++ {
		start := y * int(dstPitch) * 4
		copy(tight[y*rowBytes:(y+1)*rowBytes], padded[start:start+rowBytes])
	}
	queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: t.tex, MipLevel: level},
		tight,
		&hal.ImageDataLayout{Offset: 0, BytesPerRow: uint32(rowBytes), RowsPerImage: dh},
		&hal.Extent3D{Width: dw, Height: dh, DepthOrArrayLayers: 1},
	)
	return nil
}

// alignPitch returns the row pitch in texels satisfying the copy alignment.
func alignPitch(widthTexels uint32) uint32 {
	bytes := widthTexels * 4
	aligned := (bytes + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
	return aligned / 4
}
