// Package snapshot uploads step source directories to the workspace default
// datastore so published steps reference an immutable copy of their code.
package snapshot

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/google/uuid"

	"github.com/sourceplane/mlpipe/internal/model"
)

// Prefix is the blob prefix under which snapshots are stored.
const Prefix = "snapshots"

// Compile-time check: the SDK client satisfies BlobUploader.
var _ BlobUploader = (*azblob.Client)(nil)

// skipDirs are never part of a snapshot.
var skipDirs = map[string]bool{
	".git":               true,
	"__pycache__":        true,
	".ipynb_checkpoints": true,
}

// BlobUploader uploads one local file to a container.
type BlobUploader interface {
	UploadFile(ctx context.Context, containerName, blobName string, file *os.File, o *azblob.UploadFileOptions) (azblob.UploadFileResponse, error)
}

// DatastoreResolver finds the workspace default datastore.
type DatastoreResolver interface {
	DefaultDatastore(ctx context.Context) (*model.Datastore, error)
}

// BlobFactory returns an uploader for a storage account.
type BlobFactory func(accountName string) (BlobUploader, error)

// AzureBlobFactory returns a BlobFactory authenticating with cred.
func AzureBlobFactory(cred azcore.TokenCredential, opts *azblob.ClientOptions) BlobFactory {
	return func(accountName string) (BlobUploader, error) {
		serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
		client, err := azblob.NewClient(serviceURL, cred, opts)
		if err != nil {
			return nil, fmt.Errorf("create Azure blob client: %w", err)
		}
		return client, nil
	}
}

// Uploader snapshots source directories.
type Uploader struct {
	datastores DatastoreResolver
	blobs      BlobFactory
	workDir    string
	logger     *slog.Logger
	newID      func() string
}

// NewUploader creates an uploader. Relative directories resolve against workDir.
func NewUploader(datastores DatastoreResolver, blobs BlobFactory, workDir string, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		datastores: datastores,
		blobs:      blobs,
		workDir:    workDir,
		logger:     logger,
		newID:      func() string { return uuid.New().String() },
	}
}

// Upload copies each distinct directory once and returns directory -> snapshot id.
func (u *Uploader) Upload(ctx context.Context, dirs []string) (map[string]string, error) {
	unique := make(map[string]bool)
	for _, d := range dirs {
		unique[d] = true
	}
	ordered := make([]string, 0, len(unique))
	for d := range unique {
		ordered = append(ordered, d)
	}
	sort.Strings(ordered)

	if len(ordered) == 0 {
		return map[string]string{}, nil
	}

	store, err := u.datastores.DefaultDatastore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve snapshot datastore: %w", err)
	}
	if store.AccountName == "" || store.Container == "" {
		return nil, fmt.Errorf("default datastore %s is not blob backed", store.Name)
	}
	client, err := u.blobs(store.AccountName)
	if err != nil {
		return nil, err
	}

	snapshots := make(map[string]string, len(ordered))
	for _, dir := range ordered {
		id := u.newID()
		count, err := u.uploadDir(ctx, client, store.Container, dir, path.Join(Prefix, id))
		if err != nil {
			return nil, err
		}
		u.logger.Info("uploaded source snapshot", "dir", dir, "snapshot", id, "files", count, "container", store.Container)
		snapshots[dir] = id
	}
	return snapshots, nil
}

func (u *Uploader) uploadDir(ctx context.Context, client BlobUploader, container, dir, prefix string) (int, error) {
	root := dir
	if !filepath.IsAbs(root) && u.workDir != "" {
		root = filepath.Join(u.workDir, root)
	}
	info, err := os.Stat(root)
	if err != nil {
		return 0, fmt.Errorf("failed to access source directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("source path is not a directory: %s", dir)
	}

	count := 0
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		blobName := path.Join(prefix, filepath.ToSlash(rel))

		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", p, err)
		}
		defer f.Close()

		if _, err := client.UploadFile(ctx, container, blobName, f, nil); err != nil {
			return fmt.Errorf("failed to upload %s: %w", blobName, err)
		}
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to snapshot %s: %w", dir, err)
	}
	return count, nil
}
