package config

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/ha1tch/mssqlengine/pkg/engine"
	"github.com/ha1tch/mssqlengine/pkg/errors"
	"github.com/ha1tch/mssqlengine/pkg/log"
)

// FileSecretStore resolves secrets from a JSON file on disk and watches
// it with fsnotify so an Azure credential rotation (a new client_secret
// written by whatever rotates it) takes effect on the next Resolve
// without restarting the process.
type FileSecretStore struct {
	path string

	mu      sync.RWMutex
	secrets map[string]map[string]string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileSecretStore loads path once and starts watching it for writes.
func NewFileSecretStore(path string) (*FileSecretStore, error) {
	s := &FileSecretStore{path: path, done: make(chan struct{})}
	if err := s.reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "starting secret file watcher").Build()
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "watching secret file").WithField("path", path).Build()
	}
	s.watcher = w
	go s.watchLoop()
	return s, nil
}

func (s *FileSecretStore) watchLoop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			// Kubernetes rotates a mounted Secret/ConfigMap by atomically
			// swapping the `..data` symlink, which the kernel reports as
			// Remove or Rename of the watched path rather than Write. The
			// inotify watch on the old inode is now dead, so it must be
			// re-added against the (now different) path before reloading,
			// or every rotation after the first would go unnoticed.
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				if err := s.watcher.Add(s.path); err != nil {
					log.Default().Auth().Error("re-adding secret file watch failed", err, "path", s.path)
				}
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.reload(); err != nil {
				log.Default().Auth().Error("secret file reload failed", err, "path", s.path)
			} else {
				log.Default().Auth().Info("secret file reloaded", "path", s.path)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Default().Auth().Error("secret file watcher error", err, "path", s.path)
		case <-s.done:
			return
		}
	}
}

func (s *FileSecretStore) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigMissing, "reading secret file").WithField("path", s.path).Build()
	}
	var parsed map[string]map[string]string
	if err := json.Unmarshal(data, &parsed); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigParse, "parsing secret file").WithField("path", s.path).Build()
	}
	s.mu.Lock()
	s.secrets = parsed
	s.mu.Unlock()
	return nil
}

// Resolve implements engine.SecretStore.
func (s *FileSecretStore) Resolve(ctx context.Context, name string) (*engine.Secret, error) {
	s.mu.RLock()
	raw, ok := s.secrets[name]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.ErrCodeConfigMissing, "no secret named "+name).WithField("name", name).Build()
	}
	return ParseSecret(raw)
}

// Close stops the watcher goroutine and releases the underlying fsnotify
// handle.
func (s *FileSecretStore) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
