package remote

import (
	"errors"
	"fmt"
	"strings"

	"gitlab.com/grit-scm/grit/internal/git"
	"gitlab.com/grit-scm/grit/internal/gitconfig"
)

// Rename renames a remote: its configuration section, the branch
// configuration pointing at it, its remote-tracking references (including
// symbolic references inside the namespace) and its default fetch refspec.
// Fetch refspecs that do not match the default cannot be migrated
// automatically and are returned for the caller to reconcile.
func Rename(repo *Repository, name, newName string) ([]string, error) {
	r, err := Lookup(repo, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	if err := ensureNameIsValid(newName); err != nil {
		return nil, err
	}

	if err := ensureDoesNotExist(repo, newName); err != nil {
		return nil, err
	}

	if err := repo.Config.RenameSection("remote."+name, "remote."+newName); err != nil {
		return nil, fmt.Errorf("rename config section: %w", err)
	}

	if err := updateBranchRemoteConfig(repo, name, newName); err != nil {
		return nil, err
	}

	if err := renameRemoteReferences(repo, name, newName); err != nil {
		return nil, err
	}

	return migrateFetchRefspecs(repo, r, newName)
}

// updateBranchRemoteConfig rewrites every branch.<name>.remote entry whose
// value is the renamed remote.
func updateBranchRemoteConfig(repo *Repository, name, newName string) error {
	return repo.Config.ForEachMatch(`^branch\..+\.remote$`, func(entry gitconfig.Entry) error {
		if entry.Value != name {
			return nil
		}

		return repo.Config.SetString(entry.Key, newName)
	})
}

// renameRemoteReferences moves every reference under the remote's tracking
// namespace, rewriting symbolic targets that fall inside the namespace the
// way origin/HEAD points at origin/main.
func renameRemoteReferences(repo *Repository, name, newName string) error {
	oldNamespace := refsRemotesPrefix + name + "/"
	newNamespace := refsRemotesPrefix + newName + "/"
	logMessage := fmt.Sprintf("renamed remote %s to %s", name, newName)

	var refs []git.Reference
	if err := repo.Refs.ForEachGlob(oldNamespace+"*", func(ref git.Reference) error {
		refs = append(refs, ref)
		return nil
	}); err != nil {
		return err
	}

	for _, ref := range refs {
		renamed := git.ReferenceName(newNamespace + strings.TrimPrefix(ref.Name.String(), oldNamespace))

		if err := repo.Refs.Rename(ref.Name, renamed, true, logMessage); err != nil {
			return fmt.Errorf("rename reference %q: %w", ref.Name, err)
		}

		if !ref.IsSymbolic {
			continue
		}

		target, ok := strings.CutPrefix(ref.Target, oldNamespace)
		if !ok {
			continue
		}

		if err := repo.Refs.SetSymbolicTarget(renamed, git.ReferenceName(newNamespace+target), logMessage); err != nil {
			return fmt.Errorf("retarget reference %q: %w", renamed, err)
		}
	}

	return nil
}

// migrateFetchRefspecs rewrites the default fetch refspec for the new name
// and collects every non-default fetch refspec as a problem string.
func migrateFetchRefspecs(repo *Repository, r *Remote, newName string) ([]string, error) {
	base := DefaultFetchSpec(r.Name())
	problems := []string{}

	for _, spec := range r.refspecs {
		if spec.IsPush() {
			continue
		}

		if spec.String() != base {
			problems = append(problems, spec.String())
			continue
		}

		if err := repo.Config.SetString(configKey(newName, "fetch"), DefaultFetchSpec(newName)); err != nil {
			return nil, fmt.Errorf("migrate fetch refspec: %w", err)
		}
	}

	return problems, nil
}

// Delete removes a remote: the branch configuration referring to it, its
// remote-tracking references and its configuration section.
func Delete(repo *Repository, name string) error {
	if err := ensureNameIsValid(name); err != nil {
		return err
	}

	if err := removeBranchConfigEntries(repo, name); err != nil {
		return err
	}

	if err := removeRemoteTracking(repo, name); err != nil {
		return err
	}

	if err := repo.Config.RenameSection("remote."+name, ""); err != nil {
		return fmt.Errorf("delete config section: %w", err)
	}

	return nil
}

// removeBranchConfigEntries drops the upstream configuration of every branch
// tracking the deleted remote.
func removeBranchConfigEntries(repo *Repository, name string) error {
	var branches []string

	if err := repo.Config.ForEachMatch(`^branch\..+\.remote$`, func(entry gitconfig.Entry) error {
		if entry.Value != name {
			return nil
		}

		branches = append(branches, strings.TrimSuffix(strings.TrimPrefix(entry.Key, "branch."), ".remote"))

		return nil
	}); err != nil {
		return err
	}

	for _, branch := range branches {
		for _, field := range []string{"merge", "remote"} {
			key := fmt.Sprintf("branch.%s.%s", branch, field)
			if err := repo.Config.DeleteEntry(key); err != nil && !errors.Is(err, gitconfig.ErrNotFound) {
				return fmt.Errorf("delete %s: %w", key, err)
			}
		}
	}

	return nil
}

// removeRemoteTracking deletes every local reference matching a destination
// pattern of the remote's configured refspecs. The configuration state wins
// over any in-memory remote instance.
func removeRemoteTracking(repo *Repository, name string) error {
	r, err := Lookup(repo, name)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	for _, spec := range r.refspecs {
		refs, err := repo.Refs.List()
		if err != nil {
			return err
		}

		for _, ref := range refs {
			if !spec.DstMatches(ref.Name.String()) {
				continue
			}

			if err := repo.Refs.Delete(ref.Name); err != nil && !errors.Is(err, git.ErrReferenceNotFound) {
				return fmt.Errorf("delete reference %q: %w", ref.Name, err)
			}
		}
	}

	return nil
}
