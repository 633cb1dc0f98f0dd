//go:build integration

package downloader_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/hfslurp/internal/downloader"
	hfhttp "github.com/ligustah/hfslurp/internal/http"
	"github.com/ligustah/hfslurp/internal/hub"
	"github.com/ligustah/hfslurp/internal/state"
	"github.com/ligustah/hfslurp/internal/testutils"
)

const (
	repo     = "org/model"
	revision = "main"
)

func fixtures(t *testing.T) []testutils.TestFile {
	return []testutils.TestFile{
		{Name: "config.json", Data: testutils.GenerateTestData(t, 1024)},
		{Name: "weights/part-1.bin", Data: testutils.GenerateTestData(t, 1024*1024)},
		{Name: "weights/part-2.bin", Data: testutils.GenerateTestData(t, 12*1024*1024)},
	}
}

func verifyFiles(t *testing.T, dir string, files []testutils.TestFile) {
	t.Helper()
	for _, f := range files {
		got, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(f.Name)))
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		if !bytes.Equal(got, f.Data) {
			t.Fatalf("%s: content mismatch (%d bytes, want %d)", f.Name, len(got), len(f.Data))
		}
	}
}

// TestIntegrationResumeAgainstNginx runs against a server with native Range
// support and resumes a truncated file without a prior record.
func TestIntegrationResumeAgainstNginx(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	files := fixtures(t)
	env := testutils.StartNginxContainer(t, ctx, repo, revision, files)
	defer func() {
		if err := env.Close(ctx); err != nil {
			t.Logf("failed to terminate nginx container: %v", err)
		}
	}()

	dir := t.TempDir()
	opts := downloader.Options{
		RepoID:   repo,
		Revision: revision,
		SaveDir:  dir,
		Workers:  2,
		Resume:   true,
		URLs:     hub.ResolveURLs{Endpoint: env.BaseURL},
		Bucket:   memblob.OpenBucket(nil),
	}

	summary, err := downloader.Run(ctx, testutils.Names(files), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Downloaded != len(files) {
		t.Fatalf("downloaded = %d, want %d", summary.Downloaded, len(files))
	}
	verifyFiles(t, dir, files)

	// Interrupt one file and forget every record.
	big := filepath.Join(dir, "weights", "part-2.bin")
	testutils.TruncateFile(t, big, 5*1024*1024)
	opts.Bucket = memblob.OpenBucket(nil)

	summary, err = downloader.Run(ctx, testutils.Names(files), opts)
	if err != nil {
		t.Fatalf("resume Run: %v", err)
	}
	if summary.Resumed != len(files) {
		t.Fatalf("resumed = %d, want %d (failed: %v)", summary.Resumed, len(files), summary.Errors)
	}
	if want := int64(12*1024*1024 - 5*1024*1024); summary.Bytes != want {
		t.Fatalf("transferred %d bytes, want %d", summary.Bytes, want)
	}
	verifyFiles(t, dir, files)
}

// TestIntegrationStateInS3 keeps the state record in an S3 bucket.
func TestIntegrationStateInS3(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	files := fixtures(t)
	srv := testutils.StartRepoServer(t, repo, revision, files)

	minio := testutils.StartMinioContainer(t, ctx, "hfslurp-state")
	defer func() {
		if err := minio.Close(ctx); err != nil {
			t.Logf("failed to terminate minio container: %v", err)
		}
	}()

	bucket, err := minio.OpenBucket(ctx)
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	lister := &hub.APILister{Client: hfhttp.NewClient(hfhttp.DefaultOptions()), Endpoint: srv.URL}
	names, err := lister.ListFiles(ctx, repo, revision)
	if err != nil {
		t.Fatalf("list files: %v", err)
	}

	dir := t.TempDir()
	opts := downloader.Options{
		RepoID:   repo,
		Revision: revision,
		SaveDir:  dir,
		Resume:   true,
		URLs:     hub.ResolveURLs{Endpoint: srv.URL},
		Bucket:   bucket,
	}

	if _, err := downloader.Run(ctx, names, opts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	verifyFiles(t, dir, files)

	s, err := state.Load(ctx, bucket, state.StateKey(repo))
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if len(s.Files) != len(files) {
		t.Fatalf("state has %d records, want %d", len(s.Files), len(files))
	}

	summary, err := downloader.Run(ctx, names, opts)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if summary.Skipped != len(files) {
		t.Fatalf("skipped = %d, want %d", summary.Skipped, len(files))
	}
}
