package silo

import (
	"fmt"

	"github.com/silo-vc/silo/pkg/errs"
	"github.com/silo-vc/silo/pkg/types"
)

// CreateBranch implements `branch <name> [--from rev]`, creating name at
// the current HEAD commit, or at rev's commit if given.
func (r *Repository) CreateBranch(name, from string) error {
	target := from
	commit, err := r.resolveCommit(target)
	if err != nil {
		return err
	}
	return r.Refs.CreateBranch(name, commit)
}

// ListBranches implements `branch --list`.
func (r *Repository) ListBranches() ([]string, error) {
	return r.Refs.ListBranches()
}

// DeleteBranch implements `branch -d <name>`, refusing a branch that is
// currently checked out or locked.
func (r *Repository) DeleteBranch(name string) error {
	head, err := r.Head.GetHead()
	if err != nil {
		return err
	}
	if head.Branch == name {
		return errs.At(errs.Invalid, name, fmt.Errorf("silo: cannot delete the currently checked out branch"))
	}
	locked, holder, err := r.Refs.IsLocked(name)
	if err != nil {
		return err
	}
	if locked {
		return errs.At(errs.Conflict, name, fmt.Errorf("silo: branch locked by %s", holder))
	}
	return r.Refs.DeleteBranch(name)
}

// SwitchBranch attaches HEAD to an existing branch without touching the
// working tree, the non-materializing half of what Checkout does when
// ref names a branch and force is irrelevant (no tree change to refuse).
func (r *Repository) SwitchBranch(name string) error {
	return r.Head.SetHeadToBranch(name)
}

// CurrentBranch returns HEAD's attached branch name, or "" if detached.
func (r *Repository) CurrentBranch() (string, error) {
	head, err := r.Head.GetHead()
	if err != nil {
		return "", err
	}
	return head.Branch, nil
}

// AddRemote implements `remote add <name> <url>`.
func (r *Repository) AddRemote(name, url string) error {
	return r.Refs.AddRemote(name, url)
}

// ListRemotes implements `remote --list`.
func (r *Repository) ListRemotes() ([]types.Remote, error) {
	return r.Refs.ListRemotes()
}

// RemoveRemote implements `remote remove <name>`.
func (r *Repository) RemoveRemote(name string) error {
	return r.Refs.RemoveRemote(name)
}

// LockBranch acquires the commit lock on the named branch for holder
// (a session or process identifier), so only one writer at a time can
// advance the branch.
func (r *Repository) LockBranch(branch, holder string) error {
	return r.Refs.Lock(branch, holder)
}

// UnlockBranch releases branch's commit lock.
func (r *Repository) UnlockBranch(branch string) error {
	return r.Refs.Unlock(branch)
}
