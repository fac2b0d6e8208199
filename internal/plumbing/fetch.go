package plumbing

import (
	"context"

	"github.com/go-git/go-git/v5/config"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/pkg/errors"
)

// FetchSha fetches a single commit object from url if it is not already
// present locally. Idempotent: a sha already in the object database is a
// no-op. The actual network transport is outside this module's scope
// (spec's non-goals list it explicitly); this wraps go-git's remote fetch
// with a throwaway anonymous remote and the broadest refspec go-git
// supports, which is the closest its public API gets to "fetch one sha".
func (r *Repo) FetchSha(ctx context.Context, url string, sha plumbing.Hash) error {
	if _, err := r.Repository.CommitObject(sha); err == nil {
		return nil
	}

	remote := gogit.NewRemote(r.Repository.Storer, &config.RemoteConfig{
		Name: "metarepo-fetch-tmp",
		URLs: []string{url},
	})

	err := remote.FetchContext(ctx, &gogit.FetchOptions{
		RefSpecs: []config.RefSpec{"+refs/*:refs/metarepo-fetch-tmp/*"},
		Tags:     gogit.NoTags,
		Depth:    0,
	})
	if err != nil && err != gogit.NoErrAlreadyUpToDate {
		return errors.Wrapf(err, "plumbing: fetch from %s", url)
	}

	if _, err := r.Repository.CommitObject(sha); err != nil {
		return errors.Wrapf(err, "plumbing: %s not found at %s after fetch", sha, url)
	}
	return nil
}
