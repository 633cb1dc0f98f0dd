package hub

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultEndpoint is the public Hugging Face Hub.
const DefaultEndpoint = "https://huggingface.co"

// RepoType selects the repository namespace.
type RepoType string

const (
	RepoTypeModel   RepoType = "model"
	RepoTypeDataset RepoType = "dataset"
)

// ParseRepoType validates a repository type string. Empty means model.
func ParseRepoType(s string) (RepoType, error) {
	switch RepoType(strings.ToLower(s)) {
	case "", RepoTypeModel:
		return RepoTypeModel, nil
	case RepoTypeDataset:
		return RepoTypeDataset, nil
	default:
		return "", fmt.Errorf("hub: unknown repo type %q", s)
	}
}

// URLBuilder maps a repository file to its download URL.
type URLBuilder interface {
	FileURL(repoID, revision, path string) (string, error)
}

// ResolveURLs builds Hub "resolve" URLs.
type ResolveURLs struct {
	Endpoint string
	RepoType RepoType
}

// FileURL returns the URL of path at revision. Percent-encoded input is
// decoded first, then every segment is escaped so non-ASCII names survive.
func (u ResolveURLs) FileURL(repoID, revision, path string) (string, error) {
	raw, err := url.PathUnescape(path)
	if err != nil {
		return "", fmt.Errorf("hub: invalid path %q: %w", path, err)
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(endpointOrDefault(u.Endpoint), "/"))
	if u.RepoType == RepoTypeDataset {
		b.WriteString("/datasets")
	}
	b.WriteString("/")
	b.WriteString(escapeSegments(repoID))
	b.WriteString("/resolve/")
	b.WriteString(url.PathEscape(revision))
	b.WriteString("/")
	b.WriteString(escapeSegments(raw))
	return b.String(), nil
}

// escapeSegments escapes each "/" separated segment of p.
func escapeSegments(p string) string {
	segs := strings.Split(p, "/")
	for i := range segs {
		segs[i] = url.PathEscape(segs[i])
	}
	return strings.Join(segs, "/")
}

func endpointOrDefault(e string) string {
	if e == "" {
		return DefaultEndpoint
	}
	return e
}
