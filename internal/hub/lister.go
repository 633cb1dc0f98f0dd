package hub

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	hfhttp "github.com/ligustah/hfslurp/internal/http"
)

// ErrRepoNotFound is returned when the repository or revision does not exist.
var ErrRepoNotFound = errors.New("hub: repository or revision not found")

// Lister returns the file paths of a repository revision.
type Lister interface {
	ListFiles(ctx context.Context, repoID, revision string) ([]string, error)
}

// Getter is the subset of the HTTP client used for API calls.
type Getter interface {
	GetFrom(ctx context.Context, url string, offset int64) (*hfhttp.Response, error)
}

// APILister lists files through the Hub revision API.
type APILister struct {
	Client   Getter
	Endpoint string
	RepoType RepoType
}

type revisionInfo struct {
	ID       string    `json:"id"`
	SHA      string    `json:"sha"`
	Siblings []sibling `json:"siblings"`
}

type sibling struct {
	RFilename string `json:"rfilename"`
}

// ListFiles fetches the revision metadata and returns its sibling file names.
func (l *APILister) ListFiles(ctx context.Context, repoID, revision string) ([]string, error) {
	resp, err := l.Client.GetFrom(ctx, l.revisionURL(repoID, revision), 0)
	if err != nil {
		if errors.Is(err, hfhttp.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s@%s", ErrRepoNotFound, repoID, revision)
		}
		return nil, fmt.Errorf("hub: list %s@%s: %w", repoID, revision, err)
	}
	defer resp.Body.Close()

	var info revisionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("hub: decode revision info: %w", err)
	}

	files := make([]string, 0, len(info.Siblings))
	for _, s := range info.Siblings {
		if s.RFilename != "" {
			files = append(files, s.RFilename)
		}
	}
	return files, nil
}

func (l *APILister) revisionURL(repoID, revision string) string {
	kind := "models"
	if l.RepoType == RepoTypeDataset {
		kind = "datasets"
	}
	return fmt.Sprintf("%s/api/%s/%s/revision/%s",
		strings.TrimRight(endpointOrDefault(l.Endpoint), "/"), kind,
		escapeSegments(repoID), url.PathEscape(revision))
}

// StaticLister returns a fixed file list regardless of repository.
type StaticLister []string

func (s StaticLister) ListFiles(context.Context, string, string) ([]string, error) {
	return append([]string(nil), s...), nil
}

// ReadList parses a newline separated file list. Blank lines and lines
// starting with '#' are ignored.
func ReadList(r io.Reader) (StaticLister, error) {
	var files StaticLister
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		files = append(files, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("hub: read file list: %w", err)
	}
	return files, nil
}

// ReadListFile reads a file list from path, or from stdin when path is "-".
func ReadListFile(path string) (StaticLister, error) {
	if path == "-" {
		return ReadList(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hub: open file list: %w", err)
	}
	defer f.Close()
	return ReadList(f)
}
