package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Process는 stdout을 파이프로 내보내는 실행 중인 외부 프로세스
type Process struct {
	ID        string
	Cmd       *exec.Cmd
	StartedAt time.Time

	stdout     *os.File
	cancelFunc context.CancelFunc
	done       chan struct{}
	exitErr    error
	closeOnce  sync.Once
}

// Manager는 카메라별 외부 프로세스(오디오 디먹서)를 관리합니다
type Manager struct {
	processes map[string]*Process
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewManager는 새로운 프로세스 매니저를 생성합니다
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		processes: make(map[string]*Process),
		logger:    logger,
	}
}

// Spawn은 프로세스를 시작하고 stdout을 읽을 수 있는 Process를 반환합니다.
// ctx가 취소되거나 Close가 호출되면 프로세스는 종료됩니다.
func (m *Manager) Spawn(ctx context.Context, id, name string, args ...string) (*Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.processes[id]; exists {
		return nil, fmt.Errorf("process %s is already running", id)
	}

	pctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(pctx, name, args...)
	cmd.Stdin = nil
	cmd.Stderr = nil

	// StdoutPipe는 Wait가 파이프를 닫으므로 os.Pipe를 직접 사용
	pr, pw, err := os.Pipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stdout = pw

	if err := cmd.Start(); err != nil {
		cancel()
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("failed to start process: %w", err)
	}
	pw.Close()

	proc := &Process{
		ID:         id,
		Cmd:        cmd,
		StartedAt:  time.Now(),
		stdout:     pr,
		cancelFunc: cancel,
		done:       make(chan struct{}),
	}
	m.processes[id] = proc

	m.logger.Info("Process started",
		zap.String("id", id),
		zap.String("command", name),
		zap.Int("pid", cmd.Process.Pid),
	)

	go m.monitorProcess(proc)

	return proc, nil
}

// monitorProcess는 프로세스 종료를 기다린 뒤 목록에서 제거합니다
func (m *Manager) monitorProcess(proc *Process) {
	err := proc.Cmd.Wait()

	m.mu.Lock()
	if m.processes[proc.ID] == proc {
		delete(m.processes, proc.ID)
	}
	m.mu.Unlock()

	proc.exitErr = err
	close(proc.done)

	m.logger.Info("Process exited",
		zap.String("id", proc.ID),
		zap.Duration("uptime", time.Since(proc.StartedAt)),
		zap.Error(err),
	)
}

// Read는 프로세스 stdout에서 읽습니다
func (p *Process) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

// Close는 프로세스를 종료하고 종료가 확인될 때까지 기다립니다. 여러 번 호출해도 안전합니다.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.cancelFunc()
		p.stdout.Close()
	})
	<-p.done
	return nil
}

// Done은 프로세스가 종료되면 닫히는 채널을 반환합니다
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitErr는 종료 후 Wait 결과를 반환합니다
func (p *Process) ExitErr() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

// Stop은 ID로 프로세스를 종료합니다
func (m *Manager) Stop(id string) error {
	m.mu.RLock()
	proc, exists := m.processes[id]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("process %s not found", id)
	}

	proc.Close()
	m.logger.Info("Process stopped", zap.String("id", id))
	return nil
}

// StopAll은 모든 프로세스를 종료합니다
func (m *Manager) StopAll() {
	m.mu.RLock()
	procs := make([]*Process, 0, len(m.processes))
	for _, proc := range m.processes {
		procs = append(procs, proc)
	}
	m.mu.RUnlock()

	for _, proc := range procs {
		proc.Close()
	}
}

// IsRunning은 프로세스가 실행 중인지 확인합니다
func (m *Manager) IsRunning(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.processes[id]
	return exists
}

// Count는 실행 중인 프로세스 수를 반환합니다
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.processes)
}
