package models

import (
	"fmt"
	"strings"

	"github.com/sisoputnfrba/tp-2025-2c-aragveli/cpu/mmu"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/memoria/frame"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/memoria/paging"
	"github.com/sisoputnfrba/tp-2025-2c-aragveli/utils/status"
)

const (
	HeapBackingPaged = "paged"
	HeapBackingNone  = "none"
)

// WorkerConfig describe un hilo de la carga de demostración.
type WorkerConfig struct {
	Name       string `json:"name"`
	Priority   uint8  `json:"priority"`
	Iterations int    `json:"iterations"`
}

type Config struct {
	RamSize           uint32         `json:"ram_size"`
	KernelStart       uint32         `json:"kernel_start"`
	KernelEnd         uint32         `json:"kernel_end"`
	FramebufferAddr   uint32         `json:"framebuffer_addr"`
	FramebufferSize   uint32         `json:"framebuffer_size"`
	HeapBacking       string         `json:"heap_backing"`
	HeapMetadataPages int            `json:"heap_metadata_pages"`
	TlbEntries        int            `json:"tlb_entries"`
	TlbReplacement    string         `json:"tlb_replacement"`
	TimerHz           int            `json:"timer_hz"`
	PortKernel        int            `json:"port_kernel"`
	LogLevel          string         `json:"log_level"`
	Workers           []WorkerConfig `json:"workers"`
}

var KernelConfig *Config

// Validate completa los valores por defecto y rechaza layouts imposibles.
func (c *Config) Validate() error {
	if c.RamSize == 0 {
		c.RamSize = 32 << 20
	}
	if c.KernelStart == 0 {
		c.KernelStart = 0x100000
	}
	if c.KernelEnd == 0 {
		c.KernelEnd = 0x200000
	}
	if c.HeapBacking == "" {
		c.HeapBacking = HeapBackingNone
	}
	if c.HeapMetadataPages <= 0 {
		c.HeapMetadataPages = 1
	}
	if c.TlbReplacement == "" {
		c.TlbReplacement = "LRU"
	}
	if c.TimerHz <= 0 {
		c.TimerHz = 100
	}
	if c.PortKernel == 0 {
		c.PortKernel = 8001
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}

	c.HeapBacking = strings.ToLower(c.HeapBacking)
	c.TlbReplacement = strings.ToUpper(c.TlbReplacement)

	if c.HeapBacking != HeapBackingPaged && c.HeapBacking != HeapBackingNone {
		return fmt.Errorf("%w: heap_backing %q", status.ErrInvalidValue, c.HeapBacking)
	}
	if c.TlbReplacement != "FIFO" && c.TlbReplacement != "LRU" {
		return fmt.Errorf("%w: tlb_replacement %q", status.ErrInvalidValue, c.TlbReplacement)
	}
	if c.TlbEntries < 0 {
		return fmt.Errorf("%w: tlb_entries %d", status.ErrInvalidValue, c.TlbEntries)
	}
	if c.KernelStart < mmu.PageSize || c.KernelEnd <= c.KernelStart {
		return fmt.Errorf("%w: imagen del kernel [%#x, %#x)", status.ErrInvalidValue, c.KernelStart, c.KernelEnd)
	}

	layout := c.Layout()
	if uint64(layout.MetadataEnd) > uint64(c.RamSize&^mmu.PageMask) {
		return fmt.Errorf("%w: el kernel termina en %#x y la RAM en %#x", status.ErrNoMemory, layout.MetadataEnd, c.RamSize)
	}
	if uint64(layout.MetadataEnd) > uint64(paging.MirrorVaddr) {
		return fmt.Errorf("%w: el kernel pisa la ventana espejo", status.ErrInvalidValue)
	}

	if fb, ok := c.Framebuffer(); ok {
		if fb.Start < paging.MirrorVaddr+paging.MirrorSize && fb.End > paging.MirrorVaddr {
			return fmt.Errorf("%w: el framebuffer pisa la ventana espejo", status.ErrInvalidValue)
		}
		if fb.Start < layout.MetadataEnd && fb.End > layout.IdentityStart {
			return fmt.Errorf("%w: el framebuffer pisa la imagen del kernel", status.ErrInvalidValue)
		}
	}

	for i := range c.Workers {
		if c.Workers[i].Iterations <= 0 {
			c.Workers[i].Iterations = 1
		}
	}
	return nil
}

// Layout es la disposición de la memoria física al arrancar.
type Layout struct {
	IdentityStart uint32 // inicio de la imagen del kernel
	ImageEnd      uint32
	TableEnd      uint32 // la tabla de frames va después de la imagen
	MetadataEnd   uint32 // y después los metadatos del heap
}

func (c *Config) Layout() Layout {
	start := c.KernelStart &^ mmu.PageMask
	imageEnd := (c.KernelEnd + mmu.PageMask) &^ mmu.PageMask
	tableEnd := imageEnd + frame.TableSize(c.RamSize)
	return Layout{
		IdentityStart: start,
		ImageEnd:      imageEnd,
		TableEnd:      tableEnd,
		MetadataEnd:   tableEnd + uint32(c.HeapMetadataPages)*mmu.PageSize,
	}
}

// Framebuffer devuelve la región del framebuffer, si hay uno configurado.
func (c *Config) Framebuffer() (frame.Region, bool) {
	if c.FramebufferSize == 0 {
		return frame.Region{}, false
	}
	end := uint64(c.FramebufferAddr) + uint64(c.FramebufferSize)
	if end > 1<<32-1 {
		end = 1<<32 - 1
	}
	return frame.Region{Start: c.FramebufferAddr, End: uint32(end)}, true
}

func (c *Config) Machine() mmu.Config {
	return mmu.Config{
		RamSize:        c.RamSize,
		TlbEntries:     c.TlbEntries,
		TlbReplacement: c.TlbReplacement,
	}
}
