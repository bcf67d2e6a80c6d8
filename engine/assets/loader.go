package assets

import (
	"io"
	"os"
)

type Loader interface {
	Load(path string) (*Asset, error)
}

// Asset is a loaded file. Data holds the raw bytes.
type Asset struct {
	Name     string
	FullPath string
	Type     AssetType
	Data     []byte
}

// BinaryLoader reads a file verbatim. Shader blobs are loaded this way.
type BinaryLoader struct{}

func (bl *BinaryLoader) Load(path string) (*Asset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &Asset{
		FullPath: path,
		Data:     buf,
	}, nil
}
