package loader

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nauu/lightingbi/pkg/engine"
	"github.com/nauu/lightingbi/pkg/formula"
	"github.com/nauu/lightingbi/pkg/storage"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newLoader(t *testing.T) (*Loader, *engine.Engine, string) {
	t.Helper()
	dir := t.TempDir()
	eng := engine.New(storage.NewMemoryStore())
	return NewLoader(dir, eng, quietLogger()), eng, dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestParseFile(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    int
		wantErr string
	}{
		{name: "empty document", data: "", want: 0},
		{name: "text and statements", data: `
formulas:
  - id: a
    text: "x=1;y=[x]+1"
  - id: b
    output: y
    statements: ["x=1", "y=[x]+1"]
`, want: 2},
		{name: "missing id", data: "formulas:\n  - text: x=1\n", wantErr: "id is required"},
		{name: "duplicate id", data: "formulas:\n  - {id: a, text: x=1}\n  - {id: a, text: x=2}\n", wantErr: "duplicate id"},
		{name: "no source", data: "formulas:\n  - id: a\n", wantErr: "text or statements is required"},
		{name: "both sources", data: "formulas:\n  - {id: a, text: x=1, statements: [x=2]}\n", wantErr: "mutually exclusive"},
		{name: "unknown key", data: "formulas:\n  - {id: a, txt: x=1}\n", wantErr: "invalid formula file"},
		{name: "not yaml", data: "formulas: [", wantErr: "invalid formula file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFile([]byte(tt.data))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, f.Formulas, tt.want)
		})
	}
}

func TestDefinitionSource(t *testing.T) {
	assert.Equal(t, "x=1", Definition{Text: "x=1"}.Source())
	assert.Equal(t, "x=1;y=[x]", Definition{Statements: []string{"x=1", "y=[x]"}}.Source())
}

func TestIsFormulaFile(t *testing.T) {
	assert.True(t, IsFormulaFile("a/b.yaml"))
	assert.True(t, IsFormulaFile("b.YML"))
	assert.False(t, IsFormulaFile("b.json"))
	assert.False(t, IsFormulaFile("yaml"))
}

func TestLoadAll(t *testing.T) {
	l, eng, dir := newLoader(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(dir, "sales.yaml"), `
formulas:
  - id: sales
    text: "a=10;b=20;c=[a]+[b]"
`)
	writeFile(t, filepath.Join(dir, "nested", "kpi.yml"), `
formulas:
  - id: kpi
    output: f
    statements:
      - a=10
      - b=20
      - f=avg([a],[b],4)+1
      - g=[f]*100
`)
	writeFile(t, filepath.Join(dir, "README.md"), "not a formula file")

	n, err := l.LoadAll(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, n)

	value, err := eng.Run(ctx, "sales", nil)
	require.NoError(t, err)
	assert.Equal(t, "30", value)

	value, err = eng.Run(ctx, "kpi", nil)
	require.NoError(t, err)
	assert.Equal(t, engine.FormatValue((10.0+20+4)/3+1), value)
}

func TestLoadAll_ReportsBadFiles(t *testing.T) {
	l, eng, dir := newLoader(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(dir, "good.yaml"), "formulas:\n  - {id: good, text: x=1}\n")
	writeFile(t, filepath.Join(dir, "bad.yaml"), "formulas:\n  - {id: bad, text: \"x=1;y\"}\n")

	n, err := l.LoadAll(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, formula.ErrParse)
	assert.Equal(t, 1, n)
	_, err = eng.Get(ctx, "good")
	assert.NoError(t, err)
	_, err = eng.Get(ctx, "bad")
	assert.ErrorIs(t, err, formula.ErrNotFound)
}

func TestLoadFile_DropsRemovedEntries(t *testing.T) {
	l, eng, dir := newLoader(t)
	ctx := context.Background()
	path := filepath.Join(dir, "sets.yaml")
	writeFile(t, path, "formulas:\n  - {id: one, text: x=1}\n  - {id: two, text: x=2}\n")

	ids, err := l.LoadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, ids)

	writeFile(t, path, "formulas:\n  - {id: one, text: x=5}\n")
	ids, err = l.LoadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, ids)
	assert.Equal(t, []string{"one"}, l.Owned(path))

	value, err := eng.Run(ctx, "one", nil)
	require.NoError(t, err)
	assert.Equal(t, "5", value)
	_, err = eng.Get(ctx, "two")
	assert.ErrorIs(t, err, formula.ErrNotFound)
}

func TestLoadFile_FailedEditKeepsPrevious(t *testing.T) {
	l, eng, dir := newLoader(t)
	ctx := context.Background()
	path := filepath.Join(dir, "sets.yaml")
	writeFile(t, path, "formulas:\n  - {id: one, text: x=1}\n")
	_, err := l.LoadFile(ctx, path)
	require.NoError(t, err)

	writeFile(t, path, "formulas:\n  - {id: one, text: \"x=(1\"}\n")
	_, err = l.LoadFile(ctx, path)
	require.Error(t, err)

	value, err := eng.Run(ctx, "one", nil)
	require.NoError(t, err)
	assert.Equal(t, "1", value)
	assert.Equal(t, []string{"one"}, l.Owned(path))
}

func TestLoadFile_RejectsIDOwnedElsewhere(t *testing.T) {
	l, eng, dir := newLoader(t)
	ctx := context.Background()
	first := filepath.Join(dir, "first.yaml")
	second := filepath.Join(dir, "second.yaml")
	writeFile(t, first, "formulas:\n  - {id: shared, text: x=1}\n")
	writeFile(t, second, "formulas:\n  - {id: shared, text: x=2}\n")

	_, err := l.LoadFile(ctx, first)
	require.NoError(t, err)
	_, err = l.LoadFile(ctx, second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already defined in")

	value, err := eng.Run(ctx, "shared", nil)
	require.NoError(t, err)
	assert.Equal(t, "1", value)
}

func TestRemoveFile(t *testing.T) {
	l, eng, dir := newLoader(t)
	ctx := context.Background()
	path := filepath.Join(dir, "sets.yaml")
	writeFile(t, path, "formulas:\n  - {id: one, text: x=1}\n")
	_, err := l.LoadFile(ctx, path)
	require.NoError(t, err)

	// a set deleted out of band is not an error
	require.NoError(t, eng.Delete(ctx, "one"))
	require.NoError(t, l.RemoveFile(ctx, path))
	assert.Empty(t, l.Owned(path))

	writeFile(t, path, "formulas:\n  - {id: one, text: x=1}\n")
	_, err = l.LoadFile(ctx, path)
	require.NoError(t, err)
	require.NoError(t, l.RemoveFile(ctx, path))
	_, err = eng.Get(ctx, "one")
	assert.ErrorIs(t, err, formula.ErrNotFound)
}

func TestWatch(t *testing.T) {
	l, eng, dir := newLoader(t)
	l.SetDebounce(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, l.Start(ctx))
	defer l.Close()

	runs := func(id, want string) func() bool {
		return func() bool {
			v, err := eng.Run(ctx, id, nil)
			return err == nil && v == want
		}
	}

	path := filepath.Join(dir, "live.yaml")
	writeFile(t, path, "formulas:\n  - {id: live, text: \"a=1;b=[a]+1\"}\n")
	assert.Eventually(t, runs("live", "2"), 5*time.Second, 20*time.Millisecond)

	writeFile(t, path, "formulas:\n  - {id: live, text: \"a=1;b=[a]+41\"}\n")
	assert.Eventually(t, runs("live", "42"), 5*time.Second, 20*time.Millisecond)

	nested := filepath.Join(dir, "team", "nested.yaml")
	writeFile(t, nested, "formulas:\n  - {id: nested, text: x=7}\n")
	assert.Eventually(t, runs("nested", "7"), 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool {
		_, err := eng.Get(ctx, "live")
		return err != nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestClose_WithoutStart(t *testing.T) {
	l, _, _ := newLoader(t)
	assert.NoError(t, l.Close())
}
