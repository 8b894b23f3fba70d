// Package capability detects a worker's hardware and reports it as
// fleet.Capabilities (spec §4.3): CPU/RAM/disk via gopsutil, GPU via
// nvidia-smi with a graceful has_gpu=false fallback. The public IP is not
// part of the returned Capabilities: DetectPublicIP probes a chain of
// echo services separately, and Detect does not call it. Grounded on
// original_source/.../worker_agent.py's detect_capabilities /
// detect_gpu_capabilities fallback chain.
package capability

import (
	"bufio"
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/dreamware/fleet/internal/fleet"
	"github.com/dreamware/fleet/internal/logging"
)

// publicIPEndpoints mirrors the original's chain of IP echo services,
// tried in order until one responds within ipProbeTimeout.
var publicIPEndpoints = []string{
	"https://api.ipify.org",
	"https://ifconfig.me/ip",
	"https://icanhazip.com",
}

const ipProbeTimeout = 5 * time.Second

// Options configures detection, primarily for tests to inject overrides
// without touching the host.
type Options struct {
	WorkerType      string
	ServiceTypes    []string
	DiskPath        string // defaults to "/"
	SkipPublicIP    bool
	GPUProbeCommand string // defaults to "nvidia-smi"; overridable for tests
}

// Detect gathers hardware capabilities for this host, per opts.
func Detect(ctx context.Context, opts Options) (fleet.Capabilities, error) {
	diskPath := opts.DiskPath
	if diskPath == "" {
		diskPath = "/"
	}

	caps := fleet.Capabilities{
		WorkerType:   opts.WorkerType,
		CPUCores:     runtime.NumCPU(),
		ServiceTypes: opts.ServiceTypes,
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		caps.RAMGB = int(vm.Total / (1024 * 1024 * 1024))
	}
	if du, err := disk.UsageWithContext(ctx, diskPath); err == nil {
		caps.StorageGB = int(du.Total / (1024 * 1024 * 1024))
	}

	hasGPU, model, memMB := detectGPU(ctx, opts.GPUProbeCommand)
	caps.HasGPU = hasGPU
	caps.GPUModel = model
	if hasGPU {
		caps.GPUMemoryMB = &memMB
	}

	return caps, nil
}

// detectGPU shells out to nvidia-smi, matching the original's subprocess
// approach (no Go ecosystem library wraps nvidia-smi); absence of the
// binary or a non-zero exit is treated as "no GPU", not an error, per
// spec §4.3's fallback requirement.
func detectGPU(ctx context.Context, command string) (hasGPU bool, model string, memMB int) {
	if command == "" {
		command = "nvidia-smi"
	}
	cmdCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, command,
		"--query-gpu=name,memory.total", "--format=csv,noheader,nounits")
	out, err := cmd.Output()
	if err != nil {
		return false, "", 0
	}

	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	if !scanner.Scan() {
		return false, "", 0
	}
	line := scanner.Text()
	parts := strings.SplitN(line, ",", 2)
	if len(parts) != 2 {
		return false, "", 0
	}
	name := strings.TrimSpace(parts[0])
	mb, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		logging.WithComponent("capability").Warn().Err(err).Msg("could not parse gpu memory from nvidia-smi")
		return false, "", 0
	}
	return true, name, mb
}

// DetectPublicIP tries each echo-service endpoint in turn, returning the
// first successful response, or "" if every probe fails or was skipped.
func DetectPublicIP(ctx context.Context, skip bool) string {
	if skip {
		return ""
	}
	for _, endpoint := range publicIPEndpoints {
		reqCtx, cancel := context.WithTimeout(ctx, ipProbeTimeout)
		ip, err := probeIP(reqCtx, endpoint)
		cancel()
		if err == nil && ip != "" {
			return ip
		}
	}
	return ""
}
