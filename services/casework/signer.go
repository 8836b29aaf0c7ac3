package casework

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xscopehub/consultd/internal/metrics"
	"github.com/xscopehub/consultd/internal/model"
)

// IssueOne mints a retrieval URL for path. It checks only that the caller
// is authenticated; per-file access belongs to the caller.
func (s *Service) IssueOne(ctx context.Context, p model.Principal, path string) (string, error) {
	if p.Anonymous() {
		return "", model.ErrUnauthenticated
	}
	u, err := s.storage.SignURL(ctx, path, s.ttl)
	s.metrics.SignedURL(metrics.Result(err))
	if err != nil {
		return "", s.report(ctx, "sign_url", uuid.Nil, upstream("sign url", err))
	}
	return u, nil
}

// IssueBatch mints URLs for every distinct path concurrently. Paths whose
// minting fails are left out of the result rather than failing the batch.
func (s *Service) IssueBatch(ctx context.Context, p model.Principal, paths []string) (map[string]string, error) {
	if p.Anonymous() {
		return nil, model.ErrUnauthenticated
	}

	var (
		mu  sync.Mutex
		out = make(map[string]string, len(paths))
		g   errgroup.Group
	)
	for _, path := range dedupe(paths) {
		path := path
		g.Go(func() error {
			u, err := s.storage.SignURL(ctx, path, s.ttl)
			s.metrics.SignedURL(metrics.Result(err))
			if err != nil {
				s.logger.WarnContext(ctx, "sign url failed", "path", path, "error", err)
				return nil
			}
			mu.Lock()
			out[path] = u
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// FileURL mints a URL for one file of a case the principal may view.
func (s *Service) FileURL(ctx context.Context, p model.Principal, fileID uuid.UUID) (string, error) {
	f, err := s.loadFile(ctx, fileID)
	if err != nil {
		return "", s.report(ctx, "file_url", fileID, err)
	}
	if _, _, err := s.viewCase(ctx, p, f.CaseID); err != nil {
		return "", s.report(ctx, "file_url", fileID, err)
	}
	return s.IssueOne(ctx, p, f.StoragePath)
}

// CaseFileURLs mints URLs for files of one case. Requested paths that are
// not files of the case are dropped; no paths means every file.
func (s *Service) CaseFileURLs(ctx context.Context, p model.Principal, caseID uuid.UUID, paths []string) (map[string]string, error) {
	files, err := s.ListFiles(ctx, p, caseID)
	if err != nil {
		return nil, err
	}
	owned := make(map[string]bool, len(files))
	for _, f := range files {
		owned[f.StoragePath] = true
	}

	var allowed []string
	if len(paths) == 0 {
		for path := range owned {
			allowed = append(allowed, path)
		}
		sort.Strings(allowed)
	} else {
		for _, path := range paths {
			if owned[path] {
				allowed = append(allowed, path)
			}
		}
	}
	return s.IssueBatch(ctx, p, allowed)
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0:0]
	for _, path := range paths {
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		out = append(out, path)
	}
	return out
}

