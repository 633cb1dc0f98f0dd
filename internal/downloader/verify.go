package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gocloud.dev/blob"

	"github.com/ligustah/hfslurp/internal/checksum"
	"github.com/ligustah/hfslurp/internal/state"
)

// ErrNoState is returned by Verify when no state is recorded for the repository.
var ErrNoState = errors.New("downloader: no state recorded for repository")

// VerifyReport lists recorded files by their current local condition.
type VerifyReport struct {
	OK         []string
	Missing    []string
	Mismatched []string
}

// Clean reports whether every recorded file is intact.
func (r *VerifyReport) Clean() bool {
	return len(r.Missing) == 0 && len(r.Mismatched) == 0
}

// Verify re-digests every file recorded for repoID under saveDir without
// touching the network. An empty revision accepts any recorded revision.
func Verify(ctx context.Context, bucket *blob.Bucket, repoID, revision, saveDir string) (*VerifyReport, error) {
	s, err := state.Load(ctx, bucket, state.StateKey(repoID))
	if err != nil {
		return nil, err
	}
	if s.Repo != repoID || (revision != "" && s.Revision != revision) {
		return nil, fmt.Errorf("%w: %s", ErrNoState, repoID)
	}

	report := &VerifyReport{}
	for _, p := range sortedKeys(s.Files) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rec := s.Files[p]
		localPath, err := LocalPath(saveDir, p)
		if err != nil {
			report.Mismatched = append(report.Mismatched, p)
			continue
		}
		info, err := os.Stat(localPath)
		if err != nil {
			report.Missing = append(report.Missing, p)
			continue
		}
		if info.Size() != rec.Size {
			report.Mismatched = append(report.Mismatched, p)
			continue
		}
		digest, err := checksum.File(localPath)
		if err != nil || !checksum.Equal(digest, rec.MD5) {
			report.Mismatched = append(report.Mismatched, p)
			continue
		}
		report.OK = append(report.OK, p)
	}
	return report, nil
}
