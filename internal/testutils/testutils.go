//go:build integration

// Package testutils provides shared test infrastructure for integration tests.
package testutils

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"
)

// TestFile is a repository file served by the test environments.
type TestFile struct {
	Name string // repository relative path, "/" separated
	Data []byte
}

// GenerateTestData generates test data of the given size.
// For files <= 10MB, uses deterministic pattern. For larger files, uses random data.
func GenerateTestData(t *testing.T, size int64) []byte {
	t.Helper()
	data := make([]byte, size)
	if size <= 10*1024*1024 {
		for i := range data {
			data[i] = byte(i % 253)
		}
	} else if _, err := rand.Read(data); err != nil {
		t.Fatalf("generate random data: %v", err)
	}
	return data
}

// ResolvePath returns the URL path a file is served at.
func ResolvePath(repo, revision, name string) string {
	return path.Join("/", repo, "resolve", revision, name)
}

// StartRepoServer serves files the way the Hub does: file contents under
// /{repo}/resolve/{revision}/{name} with Range support, and the file listing
// under /api/models/{repo}/revision/{revision}.
func StartRepoServer(t *testing.T, repo, revision string, files []TestFile) *httptest.Server {
	t.Helper()

	contents := make(map[string][]byte, len(files))
	siblings := make([]map[string]string, 0, len(files))
	for _, f := range files {
		contents[ResolvePath(repo, revision, f.Name)] = f.Data
		siblings = append(siblings, map[string]string{"rfilename": f.Name})
	}
	listing, err := json.Marshal(map[string]any{"id": repo, "siblings": siblings})
	if err != nil {
		t.Fatalf("marshal listing: %v", err)
	}
	listPath := fmt.Sprintf("/api/models/%s/revision/%s", repo, revision)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == listPath {
			w.Header().Set("Content-Type", "application/json")
			w.Write(listing)
			return
		}
		data, ok := contents[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("ETag", fmt.Sprintf(`"%s"`, path.Base(r.URL.Path)))
		http.ServeContent(w, r, path.Base(r.URL.Path), time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// NginxEnv is an nginx container serving repository files.
type NginxEnv struct {
	Container testcontainers.Container
	BaseURL   string
}

// Close terminates the container.
func (e *NginxEnv) Close(ctx context.Context) error {
	if e.Container != nil {
		return e.Container.Terminate(ctx)
	}
	return nil
}

// StartNginxContainer serves files from an nginx container at the same paths
// StartRepoServer uses. nginx answers Range requests natively, including 416
// for offsets at the end of a file.
func StartNginxContainer(t *testing.T, ctx context.Context, repo, revision string, files []TestFile) *NginxEnv {
	t.Helper()

	dir := t.TempDir()
	var containerFiles []testcontainers.ContainerFile
	for i, f := range files {
		host := filepath.Join(dir, fmt.Sprintf("file-%d", i))
		if err := os.WriteFile(host, f.Data, 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
		containerFiles = append(containerFiles, testcontainers.ContainerFile{
			HostFilePath:      host,
			ContainerFilePath: "/usr/share/nginx/html" + ResolvePath(repo, revision, f.Name),
			FileMode:          0o644,
		})
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nginx:alpine",
			ExposedPorts: []string{"80/tcp"},
			Files:        containerFiles,
			WaitingFor:   wait.ForHTTP("/").WithPort("80/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start nginx container: %v", err)
	}

	endpoint, err := c.PortEndpoint(ctx, "80/tcp", "http")
	if err != nil {
		t.Fatalf("get nginx endpoint: %v", err)
	}
	return &NginxEnv{Container: c, BaseURL: endpoint}
}

// MinioEnv contains connection information for a Minio test environment.
type MinioEnv struct {
	Container testcontainers.Container
	BucketURL string
	Endpoint  string
}

// Close terminates the Minio container.
func (e *MinioEnv) Close(ctx context.Context) error {
	if e.Container != nil {
		return e.Container.Terminate(ctx)
	}
	return nil
}

// OpenBucket opens a gocloud bucket connection to the Minio environment.
// The caller must import gocloud.dev/blob/s3blob.
func (e *MinioEnv) OpenBucket(ctx context.Context) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, e.BucketURL)
}

// StartMinioContainer starts a Minio container with a pre-created bucket and
// exports the AWS credentials gocloud reads.
func StartMinioContainer(t *testing.T, ctx context.Context, bucketName string) *MinioEnv {
	t.Helper()

	const (
		accessKey = "minioadmin"
		secretKey = "minioadmin"
	)

	net, err := network.New(ctx)
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { net.Remove(context.Background()) })

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:          "minio/minio:latest",
			ExposedPorts:   []string{"9000/tcp"},
			Networks:       []string{net.Name},
			NetworkAliases: map[string][]string{net.Name: {"minio"}},
			Env: map[string]string{
				"MINIO_ROOT_USER":     accessKey,
				"MINIO_ROOT_PASSWORD": secretKey,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}

	// mc runs once, creates the bucket, then exits
	mc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      "minio/mc:latest",
			Networks:   []string{net.Name},
			Entrypoint: []string{"/bin/sh", "-c"},
			Cmd: []string{fmt.Sprintf(
				"/usr/bin/mc alias set local http://minio:9000 %s %s && /usr/bin/mc mb local/%s",
				accessKey, secretKey, bucketName)},
			WaitingFor: wait.ForExit(),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start mc container: %v", err)
	}
	defer mc.Terminate(ctx)

	endpoint, err := c.PortEndpoint(ctx, "9000/tcp", "")
	if err != nil {
		t.Fatalf("get minio endpoint: %v", err)
	}

	t.Setenv("AWS_ACCESS_KEY_ID", accessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", secretKey)

	return &MinioEnv{
		Container: c,
		Endpoint:  endpoint,
		BucketURL: fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1",
			bucketName, endpoint),
	}
}

// TruncateFile cuts the file at p down to n bytes to simulate an
// interrupted transfer.
func TruncateFile(t *testing.T, p string, n int64) {
	t.Helper()
	if err := os.Truncate(p, n); err != nil {
		t.Fatalf("truncate %s: %v", p, err)
	}
}

// Names returns the repository paths of files.
func Names(files []TestFile) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = strings.TrimPrefix(f.Name, "/")
	}
	return names
}
