package local

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/capra-ai/capra/exec"
	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/streams"
)

// session is a persistent workspace rooted in a temp directory. Uploaded
// files survive across runs; Close removes the directory.
type session struct {
	adapter *Adapter
	id      string
	root    string

	mu      sync.Mutex
	workdir string
	closed  bool
}

func (a *Adapter) NewSession(ctx context.Context) (exec.Session, error) {
	root, err := os.MkdirTemp("", "capra-session-")
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "create session directory")
	}
	return &session{adapter: a, id: uuid.NewString(), root: root}, nil
}

func (s *session) ID() string { return s.id }

func (s *session) guard() error {
	if s.closed {
		return fault.NotFound("session %s is closed", s.id)
	}
	return nil
}

func (s *session) Upload(name string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	if err := exec.ValidateFiles([]exec.File{{Name: name, Content: content}}, s.adapter.settings.MaxFileSizeBytes); err != nil {
		return err
	}
	return writeFiles(s.root, []exec.File{{Name: name, Content: content}})
}

func (s *session) Download(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	if err := exec.ValidatePath(name); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(name)))
	if os.IsNotExist(err) {
		return nil, fault.NotFound("file %s", name)
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "read %s", name)
	}
	return content, nil
}

func (s *session) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	var names []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "list session files")
	}
	sort.Strings(names)
	return names, nil
}

func (s *session) SetWorkingDir(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	if err := exec.ValidatePath(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(s.root, filepath.FromSlash(dir)), 0o755); err != nil {
		return fault.Wrap(fault.KindInternal, err, "create working directory %s", dir)
	}
	s.workdir = dir
	return nil
}

// prepare stages the request's files into the session and resolves the
// entry point against everything present in the workspace.
func (s *session) prepare(req exec.RunRequest) (dir, entry string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return "", "", err
	}
	if len(req.Files) > 0 {
		for _, f := range req.Files {
			if err := exec.ValidateFiles([]exec.File{f}, s.adapter.settings.MaxFileSizeBytes); err != nil {
				return "", "", err
			}
		}
		if err := writeFiles(s.root, req.Files); err != nil {
			return "", "", err
		}
	}
	present := req
	present.Files = nil
	walkErr := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		present.Files = append(present.Files, exec.File{Name: filepath.ToSlash(rel)})
		return nil
	})
	if walkErr != nil {
		return "", "", fault.Wrap(fault.KindInternal, walkErr, "list session files")
	}
	sort.Slice(present.Files, func(i, j int) bool { return present.Files[i].Name < present.Files[j].Name })
	entry, err = exec.EntryPoint(present)
	if err != nil {
		return "", "", err
	}
	dir = filepath.Join(s.root, filepath.FromSlash(s.workdir))
	// The interpreter resolves the entry relative to the working directory,
	// which may sit below the workspace root.
	entry, err = filepath.Rel(dir, filepath.Join(s.root, filepath.FromSlash(entry)))
	if err != nil {
		return "", "", fault.Wrap(fault.KindInternal, err, "resolve entry point %s", entry)
	}
	return dir, entry, nil
}

func (s *session) Run(ctx context.Context, req exec.RunRequest) (*exec.RunResult, error) {
	dir, entry, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	run := req
	run.Files = nil
	return s.adapter.runIn(ctx, dir, run, entry)
}

func (s *session) RunStreaming(ctx context.Context, req exec.RunRequest) (*streams.Buffer, error) {
	dir, entry, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	run := req
	run.Files = nil
	// The session owns its directory; nothing to clean up after the run.
	return s.adapter.streamIn(ctx, dir, run, entry, func() {})
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := os.RemoveAll(s.root); err != nil {
		return fault.Wrap(fault.KindInternal, err, "remove session directory")
	}
	return nil
}
