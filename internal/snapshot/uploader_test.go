package snapshot

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourceplane/mlpipe/internal/model"
	"github.com/sourceplane/mlpipe/internal/testutil"
)

type recordingUploader struct {
	blobs map[string]string
	fail  bool
}

func (r *recordingUploader) UploadFile(_ context.Context, container, blob string, f *os.File, _ *azblob.UploadFileOptions) (azblob.UploadFileResponse, error) {
	if r.fail {
		return azblob.UploadFileResponse{}, errors.New("storage unavailable")
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return azblob.UploadFileResponse{}, err
	}
	r.blobs[container+"/"+blob] = string(data)
	return azblob.UploadFileResponse{}, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newWorkspace() *testutil.FakeWorkspace {
	ws := testutil.NewFakeWorkspace()
	ws.Datastores["workspaceblobstore"] = &model.Datastore{
		Name: "workspaceblobstore", Type: model.DatastoreBlob,
		AccountName: "stml", Container: "azureml-blobstore", IsDefault: true,
	}
	return ws
}

func TestUpload(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "clean", "clean.py"), "print('clean')")
	writeFile(t, filepath.Join(root, "src", "clean", "utils", "io.py"), "def read(): pass")
	writeFile(t, filepath.Join(root, "src", "clean", "__pycache__", "io.cpython-38.pyc"), "bytecode")
	writeFile(t, filepath.Join(root, "src", "train", "train.py"), "print('train')")

	rec := &recordingUploader{blobs: make(map[string]string)}
	var accounts []string
	factory := func(account string) (BlobUploader, error) {
		accounts = append(accounts, account)
		return rec, nil
	}

	u := NewUploader(newWorkspace(), factory, root, nil)
	ids := []string{"snap-1", "snap-2"}
	u.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	snapshots, err := u.Upload(context.Background(), []string{"src/clean", "src/train", "src/clean"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"src/clean": "snap-1", "src/train": "snap-2"}, snapshots)
	assert.Equal(t, []string{"stml"}, accounts)

	names := make([]string, 0, len(rec.blobs))
	for name := range rec.blobs {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"azureml-blobstore/snapshots/snap-1/clean.py",
		"azureml-blobstore/snapshots/snap-1/utils/io.py",
		"azureml-blobstore/snapshots/snap-2/train.py",
	}, names)
	assert.Equal(t, "print('train')", rec.blobs["azureml-blobstore/snapshots/snap-2/train.py"])
}

func TestUpload_Errors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "clean", "clean.py"), "x")

	t.Run("missing directory", func(t *testing.T) {
		rec := &recordingUploader{blobs: make(map[string]string)}
		u := NewUploader(newWorkspace(), func(string) (BlobUploader, error) { return rec, nil }, root, nil)
		_, err := u.Upload(context.Background(), []string{"src/missing"})
		assert.ErrorContains(t, err, "failed to access source directory src/missing")
	})

	t.Run("upload failure", func(t *testing.T) {
		rec := &recordingUploader{blobs: make(map[string]string), fail: true}
		u := NewUploader(newWorkspace(), func(string) (BlobUploader, error) { return rec, nil }, root, nil)
		_, err := u.Upload(context.Background(), []string{"src/clean"})
		assert.ErrorContains(t, err, "storage unavailable")
	})

	t.Run("no default datastore", func(t *testing.T) {
		u := NewUploader(testutil.NewFakeWorkspace(), nil, root, nil)
		_, err := u.Upload(context.Background(), []string{"src/clean"})
		assert.ErrorContains(t, err, "failed to resolve snapshot datastore")
	})

	t.Run("nothing to upload", func(t *testing.T) {
		ws := testutil.NewFakeWorkspace()
		u := NewUploader(ws, nil, root, nil)
		snapshots, err := u.Upload(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, snapshots)
		assert.Empty(t, ws.Calls)
	})
}
