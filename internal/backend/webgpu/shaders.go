package webgpu

// WGSL compute shaders. Every shader uses entry point main and a workgroup
// of workgroupSize invocations along x.

const workgroupSize = 256

// axpyShader computes y += alpha * x.
const axpyShader = `
@group(0) @binding(0) var<storage, read> x: array<f32>;
@group(0) @binding(1) var<storage, read_write> y: array<f32>;

struct Params {
    size: u32,
    alpha: f32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        y[idx] = y[idx] + params.alpha * x[idx];
    }
}
`

// rectifierShader computes result = x < 0 ? slope * x : x.
const rectifierShader = `
@group(0) @binding(0) var<storage, read> x: array<f32>;
@group(0) @binding(1) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
    slope: f32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        let v = x[idx];
        result[idx] = select(v, v * params.slope, v < 0.0);
    }
}
`

// rectifierBackwardShader adds the output error times the slope of the
// input into the input error.
const rectifierBackwardShader = `
@group(0) @binding(0) var<storage, read> x: array<f32>;
@group(0) @binding(1) var<storage, read> errors: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
    slope: f32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        let e = errors[idx];
        result[idx] = result[idx] + select(e, e * params.slope, x[idx] < 0.0);
    }
}
`

// subsamplingShader averages window neurons, feature maps and entries. One
// invocation computes one output neuron.
const subsamplingShader = `
@group(0) @binding(0) var<storage, read> x: array<f32>;
@group(0) @binding(1) var<storage, read> taps: array<i32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

struct Params {
    outputs: u32,
    out_size: u32,
    window_size: u32,
    out_fm: u32,
    fm_factor: u32,
    entry_factor: u32,
    in_size: u32,
    mult: f32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx >= params.outputs) {
        return;
    }
    let per_entry = params.out_fm * params.out_size;
    let e = idx / per_entry;
    let rem = idx % per_entry;
    let fo = rem / params.out_size;
    let pos = rem % params.out_size;
    let in_entry = params.out_fm * params.fm_factor * params.in_size;

    var sum = 0.0;
    for (var es = 0u; es < params.entry_factor; es = es + 1u) {
        for (var fs = 0u; fs < params.fm_factor; fs = fs + 1u) {
            let base = (e * params.entry_factor + es) * in_entry + (fo * params.fm_factor + fs) * params.in_size;
            for (var k = 0u; k < params.window_size; k = k + 1u) {
                sum = sum + x[base + u32(taps[pos * params.window_size + k])];
            }
        }
    }
    result[idx] = sum * params.mult;
}
`

// subsamplingBackwardShader spreads output errors evenly. One invocation
// handles one input neuron; owner maps an input position to the output
// position averaging it.
const subsamplingBackwardShader = `
@group(0) @binding(0) var<storage, read> errors: array<f32>;
@group(0) @binding(1) var<storage, read> owner: array<i32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

struct Params {
    inputs: u32,
    out_size: u32,
    out_fm: u32,
    fm_factor: u32,
    entry_factor: u32,
    in_size: u32,
    mult: f32,
    pad: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx >= params.inputs) {
        return;
    }
    let in_entry = params.out_fm * params.fm_factor * params.in_size;
    let e = idx / in_entry;
    let rem = idx % in_entry;
    let fi = rem / params.in_size;
    let s = rem % params.in_size;
    let target_idx = ((e / params.entry_factor) * params.out_fm + fi / params.fm_factor) * params.out_size + u32(owner[s]);
    result[idx] = result[idx] + errors[target_idx] * params.mult;
}
`
