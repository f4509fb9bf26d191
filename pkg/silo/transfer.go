package silo

import (
	"context"

	"github.com/silo-vc/silo/internal/config"
	"github.com/silo-vc/silo/pkg/errs"
	"github.com/silo-vc/silo/pkg/transfer"
	"github.com/silo-vc/silo/pkg/types"
)

// RemoteDialer resolves a remote's URL to a live transfer.RemoteClient.
// No concrete HTTP transport is implemented in this repository; a CLI or
// server embedding Repository supplies its own dialer (e.g. one backed
// by net/http), keeping pkg/transfer's wire protocol free of any
// transport dependency.
type RemoteDialer func(url string) (transfer.RemoteClient, error)

// newTransferSession builds a transfer.Session wired against this
// repository's stores, with HashesFor supplying the tree walk only the
// repository root can provide (see pkg/transfer's doc comment on that
// field).
func (r *Repository) newTransferSession() *transfer.Session {
	s := transfer.NewSession(r.Commits, r.Trees, r.Versions)
	s.HashesFor = r.VersionHashesFor
	return s
}

// Push implements `push [remote] [branch]`: advances the named remote
// branch to the local branch's current commit, uploading everything the
// remote lacks. The push is serialized per (remote, branch) by the local
// branch's commit lock, since a concurrent local commit
// must not advance the branch while a push is reading it.
func (r *Repository) Push(ctx context.Context, dial RemoteDialer, remoteName, branch string) error {
	client, err := r.dial(dial, remoteName)
	if err != nil {
		return err
	}
	if err := r.Refs.Lock(branch, "push:"+remoteName); err != nil {
		return err
	}
	defer r.Refs.Unlock(branch)

	local, err := r.Refs.GetBranch(branch)
	if err != nil {
		return err
	}
	s := r.newTransferSession()
	return s.Push(ctx, client, branch, local, r.VersionHashesFor)
}

// Pull implements `pull [remote] [branch] [--all]`: fetches commits and
// (unless shallow) version files the local repository lacks, then
// advances the local branch to the remote's head.
func (r *Repository) Pull(ctx context.Context, dial RemoteDialer, remoteName, branch string, shallow bool) (types.Hash, error) {
	client, err := r.dial(dial, remoteName)
	if err != nil {
		return types.Hash{}, err
	}
	s := r.newTransferSession()
	head, err := s.Pull(ctx, client, branch, shallow)
	if err != nil {
		return types.Hash{}, err
	}
	if head.IsZero() {
		return head, nil
	}
	if err := r.advanceBranch(branch, head); err != nil {
		return types.Hash{}, err
	}
	return head, nil
}

// Fetch implements `fetch`: downloads commits and content for the named
// remote's branches without moving any local branch pointer, the
// inspect-without-merge half of Pull.
func (r *Repository) Fetch(ctx context.Context, dial RemoteDialer, remoteName string, branches []string) error {
	client, err := r.dial(dial, remoteName)
	if err != nil {
		return err
	}
	s := r.newTransferSession()
	for _, branch := range branches {
		if _, err := s.Pull(ctx, client, branch, false); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) dial(dial RemoteDialer, remoteName string) (transfer.RemoteClient, error) {
	remote, err := r.Refs.GetRemote(remoteName)
	if err != nil {
		return nil, err
	}
	client, err := dial(remote.URL)
	if err != nil {
		return nil, errs.New(errs.Transient, err)
	}
	return client, nil
}

// Clone implements `clone <url> [--shallow|--all] [-b branch]`: inits a
// fresh repository at workDir, registers url as "origin", and pulls
// branch from it.
func Clone(ctx context.Context, workDir, url, branch string, dial RemoteDialer, shallow bool) (*Repository, error) {
	r, err := Init(workDir, branch)
	if err != nil {
		return nil, err
	}
	if shallow {
		r.Config.Shallow = true
		if err := config.Save(config.LoadPath(r.DataDir), r.Config); err != nil {
			return nil, err
		}
	}
	if err := r.Refs.AddRemote("origin", url); err != nil {
		return nil, err
	}
	if _, err := r.Pull(ctx, dial, "origin", branch, shallow); err != nil {
		return nil, err
	}
	if err := r.Head.SetHeadToBranch(branch); err != nil {
		return nil, err
	}
	// HEAD already points at the pulled tip, so a diff-driven checkout
	// would see nothing to do; materialize the tree from scratch instead.
	// A shallow clone defers content, so its working tree stays empty
	// until version files are fetched.
	if !shallow {
		root, err := r.ResolveTree(branch)
		if err != nil {
			return nil, err
		}
		if !root.IsZero() {
			if err := r.CheckoutEngine.Materialize(root); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}
