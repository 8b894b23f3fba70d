package agent

import (
	"context"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/dreamware/fleet/internal/logging"
)

// ServiceCommand describes how to launch a locally-assigned service
// subprocess (spec §4.4 "service supervision").
type ServiceCommand struct {
	Path string
	Args []string
}

// restartWindow bounds how often a service subprocess may restart before
// its service is declared degraded: "restarts a child at most once per
// minute on unexpected exit; a second exit within a minute transitions the
// worker's declared service to degraded" (spec §4.4).
const restartWindow = time.Minute

// shutdownGrace is how long Shutdown waits for a service subprocess to exit
// after SIGTERM before killing it (spec §4.4 shutdown sequence).
const shutdownGrace = 10 * time.Second

// serviceSupervisor launches and restarts one service subprocess, tracking
// exits within restartWindow to decide when to degrade instead of restart.
type serviceSupervisor struct {
	serviceType string
	cmd         ServiceCommand

	mu        sync.Mutex
	proc      *exec.Cmd
	cancel    context.CancelFunc
	lastExit  time.Time
	exitCount int
	degraded  bool
}

// startServiceSupervisors launches one serviceSupervisor per configured
// ServiceCommand (spec §4.4: "when a worker is assigned service
// subprocesses by the coordinator's registry").
func (a *Agent) startServiceSupervisors() {
	for svc, cmd := range a.cfg.ServiceCommands {
		s := &serviceSupervisor{serviceType: svc, cmd: cmd}
		a.supervisors = append(a.supervisors, s)
		s.start()
	}
}

// stopServiceSupervisors stops every running service subprocess (spec
// §4.4 shutdown sequence: 10s graceful window, then kill).
func (a *Agent) stopServiceSupervisors(ctx context.Context) {
	for _, s := range a.supervisors {
		s.stop()
	}
}

// serviceHealth reports, per declared service type, whether its subprocess
// is currently believed healthy, folded into heartbeat payloads as
// services_status (spec §4.4 step 5).
func (a *Agent) serviceHealth() map[string]bool {
	if len(a.supervisors) == 0 {
		return nil
	}
	health := make(map[string]bool, len(a.supervisors))
	for _, s := range a.supervisors {
		health[s.serviceType] = s.healthy()
	}
	return health
}

func (s *serviceSupervisor) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	go s.run(ctx)
}

func (s *serviceSupervisor) run(ctx context.Context) {
	log := logging.WithComponent("agent.supervisor").With().Str("service_type", s.serviceType).Logger()
	for {
		if ctx.Err() != nil {
			return
		}

		cmd := exec.CommandContext(ctx, s.cmd.Path, s.cmd.Args...)
		s.mu.Lock()
		s.proc = cmd
		s.mu.Unlock()

		if err := cmd.Start(); err != nil {
			log.Error().Err(err).Msg("failed to start service subprocess")
			s.markDegraded()
			return
		}
		log.Info().Msg("service subprocess started")

		err := cmd.Wait()
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Msg("service subprocess exited unexpectedly")

		if s.recordExitAndCheckDegrade() {
			log.Error().Msg("service subprocess exited twice within a minute, marking degraded")
			return
		}
	}
}

// recordExitAndCheckDegrade records an unexpected exit and reports whether
// this is the second such exit within restartWindow, in which case the
// caller stops restarting and the service is considered degraded.
func (s *serviceSupervisor) recordExitAndCheckDegrade() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if now.Sub(s.lastExit) <= restartWindow {
		s.exitCount++
	} else {
		s.exitCount = 1
	}
	s.lastExit = now
	if s.exitCount >= 2 {
		s.degraded = true
		return true
	}
	return false
}

func (s *serviceSupervisor) markDegraded() {
	s.mu.Lock()
	s.degraded = true
	s.mu.Unlock()
}

func (s *serviceSupervisor) healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.degraded && s.proc != nil
}

func (s *serviceSupervisor) stop() {
	s.mu.Lock()
	cancel := s.cancel
	proc := s.proc
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if proc == nil || proc.Process == nil {
		return
	}

	_ = proc.Process.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		_ = proc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		_ = proc.Process.Kill()
	}
}
