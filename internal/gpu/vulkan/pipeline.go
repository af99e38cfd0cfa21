package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/Faultbox/midgard-vk/internal/gpu"
)

// maxUniformSets bounds the descriptor sets one pipeline hands out.
const maxUniformSets = 16

// Pipeline is a graphics pipeline with one uniform buffer at set 0, binding 0,
// and a push constant range visible to the vertex stage.
type Pipeline struct {
	dev       *Device
	pipeline  vk.Pipeline
	layout    vk.PipelineLayout
	setLayout vk.DescriptorSetLayout
	pool      vk.DescriptorPool
	uniform   uint64
}

// Destroy implements gpu.Pipeline. Uniform bindings made from the pipeline
// become invalid.
func (p *Pipeline) Destroy() {
	dev := p.dev.device
	if p.pipeline != vk.NullPipeline {
		vk.DestroyPipeline(dev, p.pipeline, nil)
		p.pipeline = vk.NullPipeline
	}
	if p.layout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(dev, p.layout, nil)
		p.layout = vk.NullPipelineLayout
	}
	if p.pool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(dev, p.pool, nil)
		p.pool = vk.NullDescriptorPool
	}
	if p.setLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(dev, p.setLayout, nil)
		p.setLayout = vk.NullDescriptorSetLayout
	}
}

func (d *Device) createShaderModule(code []byte) (vk.ShaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return vk.NullShaderModule, fmt.Errorf("vulkan: SPIR-V length %d is not a positive multiple of 4", len(code))
	}
	var module vk.ShaderModule
	ret := vk.CreateShaderModule(d.device, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    spirvWords(code),
	}, nil, &module)
	return module, check(ret, "vulkan: create shader module")
}

// CreatePipeline implements gpu.Device.
func (d *Device) CreatePipeline(desc gpu.PipelineDesc) (gpu.Pipeline, error) {
	pass, ok := desc.RenderPass.(*RenderPass)
	if !ok {
		return nil, errForeign
	}

	vert, err := d.createShaderModule(desc.VertexShader)
	if err != nil {
		return nil, fmt.Errorf("vertex shader: %w", err)
	}
	defer vk.DestroyShaderModule(d.device, vert, nil)
	frag, err := d.createShaderModule(desc.FragmentShader)
	if err != nil {
		return nil, fmt.Errorf("fragment shader: %w", err)
	}
	defer vk.DestroyShaderModule(d.device, frag, nil)

	p := &Pipeline{dev: d, uniform: desc.UniformSize}
	if err := p.createLayout(desc.PushConstantSize); err != nil {
		p.Destroy()
		return nil, err
	}

	attrs := make([]vk.VertexInputAttributeDescription, len(desc.Attributes))
	for i, a := range desc.Attributes {
		attrs[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  0,
			Format:   attributeFormat(a.Components),
			Offset:   a.Offset,
		}
	}
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                         vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount: 1,
		PVertexBindingDescriptions: []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    desc.VertexStride,
			InputRate: vk.VertexInputRateVertex,
		}},
		VertexAttributeDescriptionCount: uint32(len(attrs)),
		PVertexAttributeDescriptions:    attrs,
	}

	cull := vk.CullModeFlags(vk.CullModeNone)
	if desc.CullBackFaces {
		cull = vk.CullModeFlags(vk.CullModeBackBit)
	}
	dynamic := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}

	info := vk.GraphicsPipelineCreateInfo{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: 2,
		PStages: []vk.PipelineShaderStageCreateInfo{{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: vert,
			PName:  "main\x00",
		}, {
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: frag,
			PName:  "main\x00",
		}},
		PVertexInputState: &vertexInput,
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: vk.PrimitiveTopologyTriangleList,
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: vk.PolygonModeFill,
			CullMode:    cull,
			FrontFace:   vk.FrontFaceCounterClockwise,
			LineWidth:   1,
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: vk.SampleCount1Bit,
			MinSampleShading:     1,
		},
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			LogicOp:         vk.LogicOpCopy,
			AttachmentCount: 1,
			PAttachments: []vk.PipelineColorBlendAttachmentState{{
				ColorWriteMask: vk.ColorComponentFlags(
					vk.ColorComponentRBit | vk.ColorComponentGBit |
						vk.ColorComponentBBit | vk.ColorComponentABit),
			}},
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: uint32(len(dynamic)),
			PDynamicStates:    dynamic,
		},
		Layout:            p.layout,
		RenderPass:        pass.pass,
		BasePipelineIndex: -1,
	}
	if pass.depth {
		info.PDepthStencilState = &vk.PipelineDepthStencilStateCreateInfo{
			SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:  vk.True,
			DepthWriteEnable: vk.True,
			DepthCompareOp:   vk.CompareOpLessOrEqual,
		}
	}

	pipelines := make([]vk.Pipeline, 1)
	ret := vk.CreateGraphicsPipelines(d.device, vk.NullPipelineCache, 1,
		[]vk.GraphicsPipelineCreateInfo{info}, nil, pipelines)
	if err := check(ret, "vulkan: create graphics pipeline"); err != nil {
		p.Destroy()
		return nil, err
	}
	p.pipeline = pipelines[0]
	return p, nil
}

// createLayout builds the descriptor set layout, its pool and the pipeline
// layout.
func (p *Pipeline) createLayout(pushSize uint32) error {
	d := p.dev
	ret := vk.CreateDescriptorSetLayout(d.device, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: 1,
		PBindings: []vk.DescriptorSetLayoutBinding{{
			Binding:         0,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit),
		}},
	}, nil, &p.setLayout)
	if err := check(ret, "vulkan: create descriptor set layout"); err != nil {
		return err
	}

	ret = vk.CreateDescriptorPool(d.device, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       maxUniformSets,
		PoolSizeCount: 1,
		PPoolSizes: []vk.DescriptorPoolSize{{
			Type:            vk.DescriptorTypeUniformBuffer,
			DescriptorCount: maxUniformSets,
		}},
	}, nil, &p.pool)
	if err := check(ret, "vulkan: create descriptor pool"); err != nil {
		return err
	}

	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{p.setLayout},
	}
	if pushSize > 0 {
		layoutInfo.PushConstantRangeCount = 1
		layoutInfo.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit),
			Offset:     0,
			Size:       pushSize,
		}}
	}
	return check(vk.CreatePipelineLayout(d.device, &layoutInfo, nil, &p.layout), "vulkan: create pipeline layout")
}

// UniformBinding is a descriptor set pointing one pipeline's uniform slot at
// a buffer.
type UniformBinding struct {
	pipeline *Pipeline
	set      vk.DescriptorSet
}

// CreateUniformBinding implements gpu.Device.
func (d *Device) CreateUniformBinding(p gpu.Pipeline, buf gpu.Buffer) (gpu.UniformBinding, error) {
	pl, ok := p.(*Pipeline)
	if !ok {
		return nil, errForeign
	}
	b, ok := buf.(*Buffer)
	if !ok {
		return nil, errForeign
	}
	if !b.desc.Usage.Has(gpu.UsageUniform) {
		return nil, fmt.Errorf("vulkan: buffer %q lacks uniform usage", b.desc.Label)
	}
	if b.empty() {
		return nil, fmt.Errorf("vulkan: uniform buffer %q is empty: %w", b.desc.Label, gpu.ErrInvalidBuffer)
	}

	var set vk.DescriptorSet
	ret := vk.AllocateDescriptorSets(d.device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pl.pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{pl.setLayout},
	}, &set)
	if err := check(ret, "vulkan: allocate descriptor set"); err != nil {
		return nil, err
	}

	size := pl.uniform
	if size == 0 || size > b.desc.Size {
		size = b.desc.Size
	}
	vk.UpdateDescriptorSets(d.device, 1, []vk.WriteDescriptorSet{{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      0,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: b.buffer,
			Offset: 0,
			Range:  vk.DeviceSize(size),
		}},
	}}, 0, nil)
	return &UniformBinding{pipeline: pl, set: set}, nil
}

// Destroy implements gpu.UniformBinding.
func (u *UniformBinding) Destroy() {
	if u.set == vk.NullDescriptorSet || u.pipeline.pool == vk.NullDescriptorPool {
		return
	}
	vk.FreeDescriptorSets(u.pipeline.dev.device, u.pipeline.pool, 1, &u.set)
	u.set = vk.NullDescriptorSet
}
