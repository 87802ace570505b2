package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// cameraFile은 카메라 목록 파일의 최상위 구조
type cameraFile struct {
	Cameras []CameraDescriptor `yaml:"cameras"`
}

// CameraStore는 카메라 목록을 순서대로 보관하고 변경 시마다 파일 전체를 다시 씁니다
type CameraStore struct {
	cameras  []CameraDescriptor
	mu       sync.RWMutex
	filePath string
	logger   *zap.Logger
}

// NewCameraStore는 파일에서 카메라 목록을 읽어 CameraStore를 생성합니다.
// 파일이 없으면 빈 목록으로 시작합니다.
func NewCameraStore(filePath string, logger *zap.Logger) (*CameraStore, error) {
	store := &CameraStore{
		filePath: filePath,
		logger:   logger,
	}

	if err := store.load(); err != nil {
		return nil, err
	}

	return store, nil
}

// load는 카메라 목록 파일을 읽습니다
func (cs *CameraStore) load() error {
	data, err := os.ReadFile(cs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			// 파일이 없으면 정상 (처음 실행)
			return nil
		}
		return fmt.Errorf("failed to read camera list: %w", err)
	}

	var file cameraFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse camera list: %w", err)
	}

	cs.mu.Lock()
	cs.cameras = file.Cameras
	cs.mu.Unlock()

	cs.logger.Info("Camera list loaded",
		zap.String("path", cs.filePath),
		zap.Int("count", len(file.Cameras)),
	)
	return nil
}

// List는 저장된 카메라 목록의 복사본을 반환합니다
func (cs *CameraStore) List() []CameraDescriptor {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	result := make([]CameraDescriptor, len(cs.cameras))
	copy(result, cs.cameras)
	return result
}

// Replace는 목록 전체를 교체하고 파일에 저장합니다.
// 세션 레지스트리의 저장 콜백으로 사용됩니다.
func (cs *CameraStore) Replace(cameras []CameraDescriptor) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.cameras = make([]CameraDescriptor, len(cameras))
	copy(cs.cameras, cameras)

	if err := cs.saveToFileUnsafe(); err != nil {
		return fmt.Errorf("failed to save camera list: %w", err)
	}

	cs.logger.Debug("Camera list saved", zap.Int("count", len(cameras)))
	return nil
}

// saveToFileUnsafe는 mutex 없이 파일에 저장합니다 (내부용).
// 임시 파일에 쓴 뒤 rename 하므로 중간에 죽어도 이전 목록이 남습니다.
func (cs *CameraStore) saveToFileUnsafe() error {
	data, err := yaml.Marshal(cameraFile{Cameras: cs.cameras})
	if err != nil {
		return fmt.Errorf("failed to marshal camera list: %w", err)
	}

	if dir := filepath.Dir(cs.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create camera list directory: %w", err)
		}
	}

	tmp := cs.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write camera list: %w", err)
	}
	if err := os.Rename(tmp, cs.filePath); err != nil {
		return fmt.Errorf("failed to replace camera list: %w", err)
	}

	return nil
}
