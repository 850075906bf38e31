package device

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"
)

type Kind string

const (
	CUDA Kind = "cuda"
	MPS  Kind = "mps"
	CPU  Kind = "cpu"
)

// Device is the compute target handed to inference engines.
type Device struct {
	Kind Kind
	Name string
}

func (d Device) String() string { return string(d.Kind) }

// Probe reports what the host offers.
type Probe interface {
	// CUDA returns the first GPU's name when a CUDA device is usable.
	CUDA() (string, bool)
	MPS() bool
	CPUName() string
}

// Select picks CUDA, then MPS, then the CPU. It never fails.
func Select(p Probe, log *zap.Logger) Device {
	return Resolve("", p, log)
}

// Resolve is Select with an optional pinned kind. A pin the host cannot
// satisfy is logged and autodetection continues.
func Resolve(pin Kind, p Probe, log *zap.Logger) Device {
	if log == nil {
		log = zap.NewNop()
	}
	d := resolve(pin, p, log)
	log.Info("using device", zap.String("device", string(d.Kind)), zap.String("name", d.Name))
	return d
}

func resolve(pin Kind, p Probe, log *zap.Logger) Device {
	switch pin {
	case CPU:
		return Device{Kind: CPU, Name: p.CPUName()}
	case CUDA:
		if name, ok := p.CUDA(); ok {
			return Device{Kind: CUDA, Name: name}
		}
		log.Warn("pinned device unavailable, autodetecting", zap.String("device", string(pin)))
	case MPS:
		if p.MPS() {
			return Device{Kind: MPS, Name: "Apple Silicon"}
		}
		log.Warn("pinned device unavailable, autodetecting", zap.String("device", string(pin)))
	}
	if name, ok := p.CUDA(); ok {
		return Device{Kind: CUDA, Name: name}
	}
	if p.MPS() {
		return Device{Kind: MPS, Name: "Apple Silicon"}
	}
	return Device{Kind: CPU, Name: p.CPUName()}
}

// HostProbe inspects the machine the process runs on.
type HostProbe struct{}

func (HostProbe) CUDA() (string, bool) {
	bin, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, bin, "--query-gpu=name", "--format=csv,noheader").Output()
	if err != nil {
		return "", false
	}
	name, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	if name == "" {
		return "", false
	}
	return name, true
}

func (HostProbe) MPS() bool { return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" }

func (HostProbe) CPUName() string {
	infos, err := cpu.Info()
	if err != nil || len(infos) == 0 || infos[0].ModelName == "" {
		return runtime.GOARCH
	}
	return infos[0].ModelName
}
