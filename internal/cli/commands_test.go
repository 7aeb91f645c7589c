package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyneme/maggtomic/internal/export"
	"github.com/polyneme/maggtomic/internal/testutil"
)

// cliEnv runs commands against one store the way successive shell
// invocations would, with a clock shared across them.
type cliEnv struct {
	t      *testing.T
	dir    string
	config string
	clock  *testutil.DeterministicClock
	labels *testutil.SequenceLabels
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	t.Setenv("MAGGTOMIC_DB", "")

	dir := t.TempDir()
	cfg := filepath.Join(dir, "maggtomic.yaml")
	data := fmt.Sprintf("path: %s\nid_block: 1\n", filepath.Join(dir, "store.db"))
	require.NoError(t, os.WriteFile(cfg, []byte(data), 0o644))

	return &cliEnv{
		t:      t,
		dir:    dir,
		config: cfg,
		clock:  testutil.NewDeterministicClock(time.Time{}, 0),
		labels: testutil.NewSequenceLabels(""),
	}
}

func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	cmd := newRootCommand(&RootOptions{Now: e.clock.Now, Labels: e.labels})
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, out)
	return out
}

func (e *cliEnv) file(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// xThenY commits a name X and then changes it to Y.
func (e *cliEnv) xThenY() {
	e.t.Helper()
	e.mustRun("init")
	e.mustRun("transact", "-f", e.file("x.yaml", "datoms:\n  - [assert, $a, name, X]\n"))
	e.mustRun("transact", "-f", e.file("y.yaml", "datoms:\n  - [retract, 8796093022209, name, X]\n  - [assert, 8796093022209, name, Y]\n"))
}

func TestInit(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun("init")
	assert.Equal(t, fmt.Sprintf("store %s ready at basis 4398046511105 (5 attributes)\n", filepath.Join(env.dir, "store.db")), out)

	out = env.mustRun("--format", "json", "init")
	var resp struct {
		Status string     `json:"status"`
		Data   InitResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, int64(4398046511105), resp.Data.Basis)
}

func TestTransact(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun("transact", "-f", env.file("x.yaml", "datoms:\n  - [assert, $a, name, X]\n"))
	assert.Equal(t, "tx 4398046511106: 3 datoms\n  $a = 8796093022209\n", out)

	out = env.mustRun("--format", "json", "transact", "-f", env.file("y.yaml", `
metadata:
  tx/source: cli
datoms:
  - [retract, 8796093022209, name, X]
  - [assert, 8796093022209, name, Y]
`))
	var resp struct {
		Data TransactResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, int64(4398046511107), resp.Data.Tx)
	assert.Equal(t, int64(4398046511106), resp.Data.Basis)
	assert.Empty(t, resp.Data.Tempids)
	assert.Contains(t, resp.Data.Datoms, `[8796093022209 :name "X" 4398046511107 retract]`)
	assert.Contains(t, resp.Data.Datoms, `[4398046511107 :tx/source "cli" 4398046511107 assert]`)
}

func TestTransact_Stdin(t *testing.T) {
	env := newCLIEnv(t)

	cmd := newRootCommand(&RootOptions{Now: env.clock.Now, Labels: env.labels})
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader("datoms:\n  - [assert, _, name, Anon]\n"))
	cmd.SetArgs([]string{"--config", env.config, "transact", "-f", "-"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "tx 4398046511106: 3 datoms\n  $anon-1 = 8796093022209\n", out.String())
}

func TestTransact_Rejected(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("transact", "-f", env.file("bad.yaml", "datoms:\n  - [retract, $a, name, X]\n"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, strings.HasPrefix(out, "Error [TEMPID_CONFLICT]: "), out)

	out, err = env.run("transact", "-f", env.file("conflict.yaml", `
datoms:
  - [assert, $a, name, X]
  - [assert, $a, name, Y]
`))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(out, "Error [DATOM_CONFLICT]: "), out)

	_, err = env.run("transact", "-f", filepath.Join(env.dir, "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = env.run("transact", "-f", env.file("short.yaml", "datoms:\n  - [assert, $a, name]\n"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestQuery(t *testing.T) {
	env := newCLIEnv(t)
	env.xThenY()

	out := env.mustRun("query", "--as-of", "4398046511106", "#8796093022209 :name ?v ?t")
	assert.Equal(t, "?v   ?t\n\"X\"  #4398046511106\n", out)

	out = env.mustRun("query", "--find", "?v", "#8796093022209 :name ?v")
	assert.Equal(t, "?v\n\"Y\"\n", out)

	out = env.mustRun("--format", "json", "query", "--prefix", "my=na", "?e :my:me \"Y\"")
	var resp struct {
		Data QueryResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, int64(4398046511107), resp.Data.AsOf)
	assert.Equal(t, []string{"?e"}, resp.Data.Columns)
	assert.Equal(t, []map[string]string{{"?e": "#8796093022209"}}, resp.Data.Rows)
}

func TestQuery_Errors(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("init")

	out, err := env.run("query", "?e :missing ?v")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, strings.HasPrefix(out, "Error [QUERY_PATTERN]: "), out)

	_, err = env.run("query", "?e :name")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = env.run("query")
	assert.Error(t, err)
}

func TestCurrent(t *testing.T) {
	env := newCLIEnv(t)
	env.xThenY()

	assert.Equal(t, "\"Y\"\n", env.mustRun("current", "8796093022209", "name"))
	assert.Equal(t, "\"X\"\n", env.mustRun("current", "--as-of", "4398046511106", "80000-00010-7", ":name"))
	assert.Equal(t, "8796093022209 :name has no value as of 4398046511105\n",
		env.mustRun("current", "--as-of", "4398046511105", "#8796093022209", "name"))

	out, err := env.run("current", "8796093022209", "missing")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(out, "Error [QUERY_PATTERN]: "), out)

	_, err = env.run("current", "not-an-id", "name")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCurrent_Many(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("transact", "-f", env.file("schema.yaml", `
datoms:
  - [assert, $tag, db/ident, tag]
  - [assert, $tag, db/cardinality, many]
  - [assert, $e, tag, red]
  - [assert, $e, tag, blue]
`))

	assert.Equal(t, "\"blue\"\n\"red\"\n", sortedLines(env.mustRun("current", "8796093022210", "tag")))
}

func TestLog(t *testing.T) {
	env := newCLIEnv(t)
	env.xThenY()

	out := env.mustRun("log", "--after", "4398046511105")
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "log_x_then_y", []byte(out))

	out = env.mustRun("log", "--tx", "4398046511107")
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 3)

	out = env.mustRun("--format", "json", "log", "--after", "4398046511106")
	var resp struct {
		Data []export.Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 3)
	assert.Equal(t, "db/txInstant", resp.Data[0].Ident)
	assert.Equal(t, "X", resp.Data[1].V)
	assert.False(t, resp.Data[1].Op)
}

func TestExport(t *testing.T) {
	env := newCLIEnv(t)
	env.xThenY()

	names := func(out string) []string {
		var vs []string
		sc := bufio.NewScanner(strings.NewReader(out))
		for sc.Scan() {
			var r export.Record
			require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
			if r.Ident == "name" {
				vs = append(vs, fmt.Sprintf("%v/%t", r.V, r.Op))
			}
		}
		return vs
	}

	assert.Equal(t, []string{"Y/true"}, names(env.mustRun("export")))
	assert.Equal(t, []string{"X/true"}, names(env.mustRun("export", "--family", "aevt", "--as-of", "4398046511106")))
	assert.ElementsMatch(t, []string{"X/true", "X/false", "Y/true"}, names(env.mustRun("export", "--history")))

	path := filepath.Join(env.dir, "out.jsonl")
	assert.Empty(t, env.mustRun("export", "-o", path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Y/true"}, names(string(data)))

	_, err = env.run("export", "--family", "TEAV")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCheck(t *testing.T) {
	env := newCLIEnv(t)
	env.xThenY()

	out := env.mustRun("check")
	assert.True(t, strings.HasPrefix(out, "consistent as of 4398046511107\n"), out)

	out = env.mustRun("--format", "json", "check", "--as-of", "4398046511106")
	var resp struct {
		Data CheckResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Data.Consistent)
	assert.Equal(t, int64(4398046511106), resp.Data.AsOf)
	assert.Empty(t, resp.Data.Problems)
}

func TestStats(t *testing.T) {
	env := newCLIEnv(t)
	env.xThenY()

	out := env.mustRun("--format", "json", "stats")
	var resp struct {
		Data StatsResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, int64(4398046511107), resp.Data.Basis)
	assert.Equal(t, map[string]int64{"tx": 3, "entity": 2}, resp.Data.Reserved)
	assert.Greater(t, resp.Data.Rows["EAVT"], int64(0))
	assert.Equal(t, resp.Data.Rows["EAVT"], resp.Data.Rows["AEVT"])
	require.Len(t, resp.Data.Attributes, 6)
	assert.Equal(t, AttributeRow{ID: 1, Ident: "db/ident", Indexed: true}, resp.Data.Attributes[0])
	assert.Equal(t, AttributeRow{ID: 8796093022210, Ident: "name"}, resp.Data.Attributes[5])

	out = env.mustRun("stats")
	assert.Contains(t, out, "  8796093022210  :name  \n")
	assert.Contains(t, out, "reserved tx ids: 3\n")
}

func TestID(t *testing.T) {
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"id", "8796093022209", "80000-00020-4", "#1"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "8796093022209\t80000-00010-7\tuser\n8796093022210\t80000-00020-4\tuser\n1\t195\tdb\n", out.String())

	cmd = NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"id", "80000-00020-5"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestOpen_BadConfig(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", "testdata/missing.yaml", "init"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func sortedLines(s string) string {
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	slices.Sort(lines)
	return strings.Join(lines, "\n") + "\n"
}
