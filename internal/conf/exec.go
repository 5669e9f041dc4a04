package conf

import "time"

// Environment keys understood by the code-execution family.
const (
	EnvExecTimeoutMS        = "EXEC_TIMEOUT_MS"
	EnvExecMemoryLimitMB    = "EXEC_MEMORY_LIMIT_MB"
	EnvExecMaxFileSizeBytes = "EXEC_MAX_FILE_SIZE_BYTES"
	EnvExecMaxProcesses     = "EXEC_MAX_PROCESSES"

	EnvExecJSQuickJSPath = "EXEC_JS_QUICKJS_PATH"
	EnvExecJSExecutable  = "EXEC_JS_EXECUTABLE"
	EnvExecJSModules     = "EXEC_JS_ENABLE_MODULES"
	EnvExecJSBigInt      = "EXEC_JS_ENABLE_BIGINT"

	EnvExecPythonWASIPath   = "EXEC_PYTHON_WASI_PATH"
	EnvExecPythonExecutable = "EXEC_PYTHON_EXECUTABLE"
	EnvExecPythonVersion    = "EXEC_PYTHON_VERSION"
	EnvExecPythonOptimize   = "EXEC_PYTHON_ENABLE_OPTIMIZATION"

	EnvExecDebug = "EXEC_DEBUG"
)

var execKeys = []string{
	EnvExecTimeoutMS, EnvExecMemoryLimitMB, EnvExecMaxFileSizeBytes,
	EnvExecMaxProcesses, EnvExecJSQuickJSPath, EnvExecJSExecutable,
	EnvExecJSModules, EnvExecJSBigInt, EnvExecPythonWASIPath,
	EnvExecPythonExecutable, EnvExecPythonVersion, EnvExecPythonOptimize,
	EnvExecDebug,
}

// ExecSettings are the resource limits and runtime knobs for sandboxed
// execution. All limits must be positive; a zero limit is a configuration
// error, not "unlimited".
type ExecSettings struct {
	Timeout          time.Duration `validate:"gt=0"`
	MemoryLimitMB    int64         `validate:"gt=0"`
	MaxFileSizeBytes int64         `validate:"gt=0"`
	MaxProcesses     int           `validate:"gt=0"`

	JS     JSRuntimeSettings
	Python PythonRuntimeSettings

	Debug bool
}

type JSRuntimeSettings struct {
	QuickJSPath   string
	Executable    string
	EnableModules bool
	EnableBigInt  bool
}

type PythonRuntimeSettings struct {
	WASIPath           string
	Executable         string
	Version            string
	EnableOptimization bool
}

// Exec resolves and eagerly validates the execution settings. Validation
// happens here, before any process is spawned.
func (r *Resolver) Exec(overrides map[string]string) (ExecSettings, error) {
	v := r.View(execKeys, overrides)
	s := ExecSettings{
		Timeout:          v.Millis(EnvExecTimeoutMS, 30*time.Second),
		MemoryLimitMB:    v.Int64(EnvExecMemoryLimitMB, 512),
		MaxFileSizeBytes: v.Int64(EnvExecMaxFileSizeBytes, 10<<20),
		MaxProcesses:     v.Int(EnvExecMaxProcesses, 16),
		JS: JSRuntimeSettings{
			QuickJSPath:   v.String(EnvExecJSQuickJSPath, ""),
			Executable:    v.String(EnvExecJSExecutable, "qjs"),
			EnableModules: v.Bool(EnvExecJSModules, true),
			EnableBigInt:  v.Bool(EnvExecJSBigInt, true),
		},
		Python: PythonRuntimeSettings{
			WASIPath:           v.String(EnvExecPythonWASIPath, ""),
			Executable:         v.String(EnvExecPythonExecutable, "python3"),
			Version:            v.String(EnvExecPythonVersion, ""),
			EnableOptimization: v.Bool(EnvExecPythonOptimize, false),
		},
		Debug: v.Bool(EnvExecDebug, false),
	}
	if err := r.check(s); err != nil {
		return ExecSettings{}, err
	}
	return s, nil
}
