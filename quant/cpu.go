package quant

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// HasSIMD meldet ob die CPU eine Vektor-Einheit hat, die der SIMD-Kernel nutzt.
func HasSIMD() bool {
	switch runtime.GOARCH {
	case "amd64":
		return cpu.X86.HasAVX2 || cpu.X86.HasAVX
	case "arm64":
		return cpu.ARM64.HasASIMD
	default:
		return false
	}
}

// Features listet die erkannten Vektor-Erweiterungen, fuer Logs und CLI.
func Features() []string {
	var fs []string
	switch runtime.GOARCH {
	case "amd64":
		if cpu.X86.HasAVX {
			fs = append(fs, "avx")
		}
		if cpu.X86.HasAVX2 {
			fs = append(fs, "avx2")
		}
		if cpu.X86.HasFMA {
			fs = append(fs, "fma")
		}
		if cpu.X86.HasAVX512F {
			fs = append(fs, "avx512f")
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			fs = append(fs, "neon")
		}
		if cpu.ARM64.HasFPHP {
			fs = append(fs, "fp16")
		}
	}
	return fs
}
