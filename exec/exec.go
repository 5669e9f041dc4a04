// Package exec defines the sandboxed code-execution capability contract and
// provider registry. Requests carry the full file set; validation of file
// names and sizes happens before any process is spawned.
package exec

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/internal/conf"
	"github.com/capra-ai/capra/streams"
)

// Language selects the runtime interpreting the submitted files.
type Language string

const (
	LanguageJavaScript Language = "javascript"
	LanguagePython     Language = "python"
)

// File is one source or data file submitted for execution. Name is a
// relative path inside the execution directory.
type File struct {
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

// RunRequest is one execution. Entry names the file to run; when empty the
// entry point is inferred from the language's conventional names.
type RunRequest struct {
	Language Language          `json:"language"`
	Files    []File            `json:"files,omitempty"`
	Entry    string            `json:"entry,omitempty"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Stdin    []byte            `json:"stdin,omitempty"`
}

// RunResult is the outcome of a completed execution. A non-zero exit code is
// a result, not an error.
type RunResult struct {
	Stdout   []byte        `json:"stdout,omitempty"`
	Stderr   []byte        `json:"stderr,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Session is a reusable execution workspace. Uploaded files persist across
// runs until Close; operations on a closed session answer NotFound.
type Session interface {
	ID() string
	Upload(name string, content []byte) error
	Download(name string) ([]byte, error)
	List() ([]string, error)
	SetWorkingDir(dir string) error
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
	RunStreaming(ctx context.Context, req RunRequest) (*streams.Buffer, error)
	Close() error
}

// Provider is the code-execution capability contract.
type Provider interface {
	Name() string
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
	RunStreaming(ctx context.Context, req RunRequest) (*streams.Buffer, error)
	NewSession(ctx context.Context) (Session, error)
}

// Deps are the shared runtime pieces handed to adapter factories.
type Deps struct {
	Conf     *conf.Resolver
	Override map[string]string
}

type Factory func(Deps) (Provider, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("exec provider %s already registered", name))
	}
	factories[name] = f
}

func New(name string, deps Deps) (Provider, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("exec provider not found: %s", name)
	}
	return f(deps)
}

// ValidatePath rejects names that would escape the execution directory.
func ValidatePath(name string) error {
	if name == "" {
		return fault.Validation("file name is empty")
	}
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "\\") {
		return fault.Validation(fmt.Sprintf("path traversal: %q is absolute", name))
	}
	for _, part := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return fault.Validation(fmt.Sprintf("path traversal: %q", name))
		}
	}
	return nil
}

// ValidateFiles checks the file set against the configured size limit.
func ValidateFiles(files []File, maxFileSize int64) error {
	if len(files) == 0 {
		return fault.Validation("no files provided")
	}
	for _, f := range files {
		if err := ValidatePath(f.Name); err != nil {
			return err
		}
		if int64(len(f.Content)) > maxFileSize {
			return fault.Validation(fmt.Sprintf(
				"file-size exceeded: %s is %d bytes, limit is %d", f.Name, len(f.Content), maxFileSize))
		}
	}
	return nil
}

var entryCandidates = map[Language][]string{
	LanguageJavaScript: {"main.js", "index.js", "app.js"},
	LanguagePython:     {"main.py", "__main__.py", "app.py"},
}

var entryExtensions = map[Language][]string{
	LanguageJavaScript: {".js", ".mjs"},
	LanguagePython:     {".py"},
}

// EntryPoint resolves the file to run. An explicit Entry must name a
// submitted file; otherwise the language's conventional names are tried,
// then any file with a matching extension, then the first file.
func EntryPoint(req RunRequest) (string, error) {
	if req.Entry != "" {
		for _, f := range req.Files {
			if f.Name == req.Entry {
				return req.Entry, nil
			}
		}
		return "", fault.Validation(fmt.Sprintf("entry point %q is not among the submitted files", req.Entry))
	}
	for _, candidate := range entryCandidates[req.Language] {
		for _, f := range req.Files {
			if f.Name == candidate {
				return candidate, nil
			}
		}
	}
	for _, ext := range entryExtensions[req.Language] {
		for _, f := range req.Files {
			if strings.HasSuffix(f.Name, ext) {
				return f.Name, nil
			}
		}
	}
	if len(req.Files) == 0 {
		return "", fault.Validation("no files provided")
	}
	return req.Files[0].Name, nil
}
