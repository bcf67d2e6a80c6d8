package vulkan

import (
	"encoding/binary"
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hellotriangle/engine/renderer/hal"
)

// spirvMagic opens every SPIR-V module, in host byte order.
const spirvMagic = 0x07230203

/**
 * @brief Represents a single shader stage.
 */
type VulkanShaderStage struct {
	/** @brief Used in logs. */
	Name string
	/** @brief The internal shader module Handle. */
	Handle vk.ShaderModule
}

// repackUint32 reinterprets little-endian SPIR-V bytes as words.
func repackUint32(data []byte) ([]uint32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("shader bytecode of %d bytes is not a whole number of words: %w", len(data), hal.ErrInvalidCall)
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("shader bytecode starts with %#08x, not SPIR-V: %w", words[0], hal.ErrInvalidCall)
	}
	return words, nil
}

// shaderModuleInfo describes a SPIR-V blob. CodeSize is in bytes.
func shaderModuleInfo(code []byte) (vk.ShaderModuleCreateInfo, error) {
	words, err := repackUint32(code)
	if err != nil {
		return vk.ShaderModuleCreateInfo{}, err
	}
	return vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    words,
	}, nil
}

func createShaderModule(d *Device, name string, code []byte) (*VulkanShaderStage, error) {
	createInfo, err := shaderModuleInfo(code)
	if err != nil {
		return nil, fmt.Errorf("%s shader: %w", name, err)
	}
	stage := &VulkanShaderStage{Name: name}
	if err := resultError("vkCreateShaderModule", vk.CreateShaderModule(d.logical, &createInfo, d.allocator, &stage.Handle)); err != nil {
		return nil, d.check(fmt.Errorf("%s shader: %w", name, err))
	}
	return stage, nil
}

func (s *VulkanShaderStage) stage(flag vk.ShaderStageFlagBits) vk.PipelineShaderStageCreateInfo {
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  flag,
		Module: s.Handle,
		PName:  "main\x00",
	}
}

func (s *VulkanShaderStage) Destroy(d *Device) {
	if s.Handle != nil {
		vk.DestroyShaderModule(d.logical, s.Handle, d.allocator)
		s.Handle = nil
	}
}
