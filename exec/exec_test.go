package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capra-ai/capra/fault"
)

func TestValidateFiles_EmptyList(t *testing.T) {
	err := ValidateFiles(nil, 1024)
	require.Error(t, err)
	f := fault.As(err)
	require.NotNil(t, f)
	assert.Equal(t, fault.KindValidation, f.Kind)
	assert.Contains(t, f.Details, "no files provided")
}

func TestValidateFiles_Oversize(t *testing.T) {
	err := ValidateFiles([]File{{Name: "big.js", Content: make([]byte, 11)}}, 10)
	require.Error(t, err)
	f := fault.As(err)
	assert.Equal(t, fault.KindValidation, f.Kind)
	assert.Contains(t, f.Details, "file-size exceeded")
	assert.Contains(t, f.Details, "big.js")
}

func TestValidatePath_Traversal(t *testing.T) {
	for _, name := range []string{
		"../escape.js",
		"a/../../escape.js",
		"/etc/passwd",
		"\\windows\\system32",
		"",
	} {
		err := ValidatePath(name)
		require.Error(t, err, "name %q", name)
		assert.Equal(t, fault.KindValidation, fault.As(err).Kind, "name %q", name)
	}
}

func TestValidatePath_AllowsNestedNames(t *testing.T) {
	for _, name := range []string{"main.js", "lib/util.js", "data/in.txt", "a.b/c.d"} {
		assert.NoError(t, ValidatePath(name), "name %q", name)
	}
}

func TestEntryPoint_Explicit(t *testing.T) {
	req := RunRequest{
		Language: LanguageJavaScript,
		Files:    []File{{Name: "one.js"}, {Name: "two.js"}},
		Entry:    "two.js",
	}
	entry, err := EntryPoint(req)
	require.NoError(t, err)
	assert.Equal(t, "two.js", entry)

	req.Entry = "missing.js"
	_, err = EntryPoint(req)
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.As(err).Kind)
}

func TestEntryPoint_ConventionalNames(t *testing.T) {
	entry, err := EntryPoint(RunRequest{
		Language: LanguageJavaScript,
		Files:    []File{{Name: "util.js"}, {Name: "index.js"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "index.js", entry)

	entry, err = EntryPoint(RunRequest{
		Language: LanguagePython,
		Files:    []File{{Name: "helper.py"}, {Name: "__main__.py"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "__main__.py", entry)
}

func TestEntryPoint_ExtensionFallback(t *testing.T) {
	entry, err := EntryPoint(RunRequest{
		Language: LanguageJavaScript,
		Files:    []File{{Name: "README"}, {Name: "script.mjs"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "script.mjs", entry)

	// Nothing matches the language; the first file wins.
	entry, err = EntryPoint(RunRequest{
		Language: LanguagePython,
		Files:    []File{{Name: "run.sh"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "run.sh", entry)
}
