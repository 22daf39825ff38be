package shm

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// ModuleImage はワーカーが実体化するモジュールイメージ
type ModuleImage struct {
	Location string
	Digest   [sha256.Size]byte
}

// LoadImage はモジュールイメージを読み込む。
// location が読み取り可能なファイルなら内容を、そうでなければ location 自体をダイジェストする
func LoadImage(location string) (ModuleImage, error) {
	if location == "" {
		return ModuleImage{}, fmt.Errorf("empty module location")
	}

	data, err := os.ReadFile(location)
	switch {
	case err == nil:
		return ModuleImage{Location: location, Digest: sha256.Sum256(data)}, nil
	case errors.Is(err, fs.ErrNotExist):
		return ModuleImage{Location: location, Digest: sha256.Sum256([]byte(location))}, nil
	default:
		return ModuleImage{}, fmt.Errorf("failed to read module image %s: %w", location, err)
	}
}

// ImageFromBytes はバイト列からモジュールイメージを作成する
func ImageFromBytes(location string, data []byte) ModuleImage {
	return ModuleImage{Location: location, Digest: sha256.Sum256(data)}
}

// String は短縮ダイジェスト付きの表現を返す
func (m ModuleImage) String() string {
	return fmt.Sprintf("%s@%s", m.Location, hex.EncodeToString(m.Digest[:6]))
}
