package recording

import (
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"github.com/yourusername/rednvr/internal/core"
)

// SnapshotFileName은 snapshot_<name>_<YYYYMMDD_HHMMSS>.jpg 파일명을 만듭니다
func SnapshotFileName(cameraName string, t time.Time) string {
	return fmt.Sprintf("snapshot_%s_%s.jpg", SanitizeName(cameraName), t.Format(timestampLayout))
}

// SaveSnapshot은 프레임을 JPEG로 저장하고 경로를 반환합니다.
// 같은 초에 찍힌 스냅샷은 _N 접미사를 붙입니다. 프레임이 없으면 아무것도 쓰지 않고 ("", nil)을 반환합니다.
func SaveSnapshot(dir, cameraName string, frame *core.FrameBuffer, now time.Time, quality int) (string, error) {
	if frame == nil {
		return "", nil
	}
	if err := frame.Validate(); err != nil {
		return "", fmt.Errorf("invalid snapshot frame: %w", err)
	}
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: create snapshot directory: %w", core.ErrRecordingIO, err)
	}

	path := uniquePath(filepath.Join(dir, SnapshotFileName(cameraName, now)))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("%w: create %s: %w", core.ErrRecordingIO, path, err)
	}

	if err := jpeg.Encode(file, frame.Image(), &jpeg.Options{Quality: quality}); err != nil {
		file.Close()
		os.Remove(path)
		return "", fmt.Errorf("%w: encode %s: %w", core.ErrRecordingIO, path, err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("%w: close %s: %w", core.ErrRecordingIO, path, err)
	}

	return path, nil
}
