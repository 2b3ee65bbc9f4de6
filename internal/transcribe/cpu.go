package transcribe

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/cpu"
)

// checkCPUSupport verifies the CPU has the instruction sets whisper.cpp
// needs. Only x86 needs AVX; ARM always has NEON.
func checkCPUSupport() error {
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "386" {
		return nil
	}
	if cpu.X86.HasAVX {
		return nil
	}
	return fmt.Errorf("%w: CPU lacks AVX", ErrEngineUnavailable)
}

// cpuFeatures lists the SIMD features relevant to inference speed.
func cpuFeatures() []string {
	var out []string
	switch runtime.GOARCH {
	case "amd64", "386":
		for _, f := range []struct {
			name string
			ok   bool
		}{
			{"sse3", cpu.X86.HasSSE3},
			{"avx", cpu.X86.HasAVX},
			{"avx2", cpu.X86.HasAVX2},
			{"fma", cpu.X86.HasFMA},
			{"avx512f", cpu.X86.HasAVX512F},
		} {
			if f.ok {
				out = append(out, f.name)
			}
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			out = append(out, "neon")
		}
		if cpu.ARM64.HasFPHP {
			out = append(out, "fp16")
		}
	}
	return out
}
