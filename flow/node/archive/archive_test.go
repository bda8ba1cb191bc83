package archive_test

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/flow/flow/app"
	"github.com/coachpo/flow/flow/node/archive"
)

type stubLifecycle struct{}

func (stubLifecycle) Init(a *app.App) error  { return nil }
func (stubLifecycle) Start(a *app.App) error { return nil }

func init() {
	archive.RegisterAppClass("archivetest.Stub", func(name string) *app.App {
		return app.New(name, stubLifecycle{})
	})
}

func writeArchive(t *testing.T, dir, filename, manifestYAML string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("manifest.yaml")
	require.NoError(t, err)
	_, err = w.Write([]byte(manifestYAML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return path
}

func TestLoadResolvesRegisteredAppClass(t *testing.T) {
	dir := t.TempDir()
	path := writeArchive(t, dir, "demo.s4r", "app_class: archivetest.Stub\nname: demo\n")

	loaded, err := archive.Load(path)
	require.NoError(t, err)
	require.Equal(t, "demo", loaded.App.Name())
}

func TestLoadUnregisteredClassErrors(t *testing.T) {
	dir := t.TempDir()
	path := writeArchive(t, dir, "demo.s4r", "app_class: nonexistent.Class\nname: demo\n")

	_, err := archive.Load(path)
	require.Error(t, err)
}

func TestLoadMissingManifestErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.s4r")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	_, err = archive.Load(path)
	require.Error(t, err)
}

func TestScanAndLoadSkipsBrokenArchivesButLoadsOthers(t *testing.T) {
	dir := t.TempDir()
	writeArchive(t, dir, "good.s4r", "app_class: archivetest.Stub\nname: good\n")
	writeArchive(t, dir, "bad.s4r", "app_class: nonexistent.Class\nname: bad\n")

	loaded, err := archive.ScanAndLoad(dir)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, "good", loaded[0].App.Name())
}
