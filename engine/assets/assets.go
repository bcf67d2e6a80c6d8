package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/hellotriangle/engine/core"
)

type AssetType uint8

const (
	AssetTypeNone AssetType = iota
	// Compiled shader stage, loaded as is.
	AssetTypeShaderBinary
	// Shader source, compiled by the build into a binary.
	AssetTypeShaderSource
)

func (t AssetType) String() string {
	switch t {
	case AssetTypeShaderBinary:
		return "shader binary"
	case AssetTypeShaderSource:
		return "shader source"
	default:
		return "none"
	}
}

type AssetInfo struct {
	Path       string
	Type       AssetType
	LastLoaded time.Time
}

// AssetManager indexes a resource directory and, when watching, keeps the
// index current as files change on disk.
type AssetManager struct {
	root    string
	assets  map[string]AssetInfo
	loaders map[AssetType]Loader

	mutex sync.RWMutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	changes  chan AssetInfo
}

func NewAssetManager() *AssetManager {
	return &AssetManager{
		assets:  make(map[string]AssetInfo),
		loaders: make(map[AssetType]Loader),
		changes: make(chan AssetInfo, 16),
	}
}

// Initialize indexes dir and, if watch is set, starts following changes to it.
func (am *AssetManager) Initialize(dir string, watch bool) error {
	s, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("asset directory: %w", err)
	}
	if !s.IsDir() {
		return fmt.Errorf("asset directory %s is not a directory", dir)
	}
	am.root = dir

	am.registerLoader(AssetTypeShaderBinary, &BinaryLoader{})

	if watch {
		if am.fsnotify, err = fsnotify.NewWatcher(); err != nil {
			return err
		}
		am.done = make(chan struct{})
		am.stopped = make(chan struct{})
		go am.start()
	}
	return am.watchRecursive(dir)
}

func (am *AssetManager) registerLoader(assetType AssetType, loader Loader) {
	am.mutex.Lock()
	am.loaders[assetType] = loader
	am.mutex.Unlock()
}

// Changes reports files indexed or rewritten while watching. Changes are
// dropped when nobody reads them.
func (am *AssetManager) Changes() <-chan AssetInfo {
	return am.changes
}

// Assets lists the indexed files.
func (am *AssetManager) Assets() []AssetInfo {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	out := make([]AssetInfo, 0, len(am.assets))
	for _, a := range am.assets {
		out = append(out, a)
	}
	return out
}

// LoadAsset loads name, relative to the asset directory, with the loader of its type.
func (am *AssetManager) LoadAsset(name string) (*Asset, error) {
	path := filepath.Join(am.root, name)

	am.mutex.Lock()
	asset, exists := am.assets[path]
	if !exists {
		am.mutex.Unlock()
		return nil, fmt.Errorf("asset not found: %s", path)
	}
	asset.LastLoaded = time.Now()
	am.assets[path] = asset
	loader, loaderExists := am.loaders[asset.Type]
	am.mutex.Unlock()

	if !loaderExists {
		return nil, fmt.Errorf("no loader registered for %s %s", asset.Type, path)
	}
	a, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	a.Name = name
	a.Type = asset.Type
	return a, nil
}

// LoadShaders loads the vertex and pixel stage binaries. A missing or
// empty stage is ErrShaderMissing.
func (am *AssetManager) LoadShaders(vertex, pixel string) (vs, ps []byte, err error) {
	load := func(name string) ([]byte, error) {
		a, err := am.LoadAsset(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %v: %w", name, err, core.ErrShaderMissing)
		}
		if len(a.Data) == 0 {
			return nil, fmt.Errorf("%s is empty: %w", name, core.ErrShaderMissing)
		}
		return a.Data, nil
	}
	if vs, err = load(vertex); err != nil {
		return nil, nil, err
	}
	if ps, err = load(pixel); err != nil {
		return nil, nil, err
	}
	return vs, ps, nil
}

// Shutdown stops watching.
func (am *AssetManager) Shutdown() {
	if am.done == nil {
		return
	}
	close(am.done)
	<-am.stopped
	am.done = nil
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := am.watchRecursive(e.Name); err != nil {
						core.LogWarn("watching %s: %v", e.Name, err)
					}
				}
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if info, ok := am.handleFileEvent(e.Name); ok {
					core.LogInfo("%s %s changed; restart to pick it up", info.Type, info.Path)
					select {
					case am.changes <- info:
					default:
					}
				}
			}
			// A removed path cannot be stat'ed, so it is dropped from the
			// watch list whether or not it was a directory.
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				am.removeAsset(e.Name)
				_ = am.fsnotify.Remove(e.Name)
			}

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(err.Error())

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

// watchRecursive indexes every file under path and, when watching, adds
// each directory to the watch list.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if am.fsnotify != nil {
				if err := am.fsnotify.Add(walkPath); err != nil && !errors.Is(err, fsnotify.ErrClosed) {
					return err
				}
			}
			return nil
		}
		am.handleFileEvent(walkPath)
		return nil
	})
}

func (am *AssetManager) handleFileEvent(path string) (AssetInfo, bool) {
	assetType := determineAssetType(path)
	if assetType == AssetTypeNone {
		return AssetInfo{}, false
	}
	info := AssetInfo{
		Path: path,
		Type: assetType,
	}
	am.mutex.Lock()
	am.assets[path] = info
	am.mutex.Unlock()
	return info, true
}

func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	delete(am.assets, path)
}

func determineAssetType(path string) AssetType {
	switch filepath.Ext(path) {
	case ".bin", ".spv":
		return AssetTypeShaderBinary
	case ".vert", ".frag", ".hlsl":
		return AssetTypeShaderSource
	default:
		return AssetTypeNone
	}
}
