package git

import (
	"context"
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrNotRepository is returned when no repository encloses the path.
var ErrNotRepository = errors.New("not a git repository")

// Status describes the checked-out revision of a working tree.
type Status struct {
	Hash   string
	Branch string
	Dirty  bool
}

// Short returns the abbreviated commit hash.
func (s Status) Short() string {
	if len(s.Hash) > 7 {
		return s.Hash[:7]
	}
	return s.Hash
}

// Describe inspects the repository enclosing path. It never writes.
func Describe(ctx context.Context, path string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return Status{}, ErrNotRepository
		}
		return Status{}, fmt.Errorf("open repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return Status{}, fmt.Errorf("repository has no commits: %w", err)
		}
		return Status{}, fmt.Errorf("resolve HEAD: %w", err)
	}
	status := Status{Hash: head.Hash().String()}
	if head.Name().IsBranch() {
		status.Branch = head.Name().Short()
	}
	if wt, err := repo.Worktree(); err == nil {
		if st, err := wt.Status(); err == nil {
			status.Dirty = !st.IsClean()
		}
	}
	return status, nil
}
