package core

import (
	"fmt"
	"net/url"
	"strings"
)

// CameraDescriptor는 카메라 한 대의 식별 정보와 접속 정보입니다.
// 세션이 실행 중일 때는 바꾸지 않고, 변경 시 스트림 소스를 다시 만듭니다.
type CameraDescriptor struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	URL      string `yaml:"url" json:"url"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

// Validate는 이름과 URL이 있는지 확인합니다
func (d CameraDescriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: camera name is required", ErrConfig)
	}
	if strings.TrimSpace(d.URL) == "" {
		return fmt.Errorf("%w: stream url is required", ErrConfig)
	}
	return nil
}

// StreamURL은 사용자명과 비밀번호가 모두 있으면 URL에 포함시켜 반환합니다.
// URL 형식이 잘못되면 ErrConnect로 감싼 에러를 돌려줍니다.
func (d CameraDescriptor) StreamURL() (string, error) {
	u, err := url.Parse(strings.TrimSpace(d.URL))
	if err != nil {
		return "", fmt.Errorf("%w: invalid stream url: %w", ErrConnect, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: stream url %q has no scheme or host", ErrConnect, MaskURL(d.URL))
	}

	if d.Username != "" && d.Password != "" {
		u.User = url.UserPassword(d.Username, d.Password)
	}

	return u.String(), nil
}

// MaskURL은 로그와 API 응답용으로 URL의 인증 정보를 가립니다
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User("***")
	return u.String()
}

// Masked는 비밀번호를 숨긴 복사본을 반환합니다
func (d CameraDescriptor) Masked() CameraDescriptor {
	out := d
	out.URL = MaskURL(d.URL)
	if out.Password != "" {
		out.Password = "***"
	}
	return out
}
