package remote

import (
	"errors"
	"fmt"
	"strings"

	"gitlab.com/grit-scm/grit/internal/fetchhead"
	"gitlab.com/grit-scm/grit/internal/git"
	"gitlab.com/grit-scm/grit/internal/git/refspec"
	"gitlab.com/grit-scm/grit/internal/gitconfig"
)

// zeroOID returns the null object ID of the same width as the given one.
func zeroOID(like git.ObjectID) git.ObjectID {
	return git.ObjectID(strings.Repeat("0", len(like)))
}

// UpdateTips reconciles local reference storage with the peer's last
// advertisement: it creates or moves remote-tracking branches, follows tags
// according to the effective policy, writes FETCH_HEAD and performs
// opportunistic updates when the fetch used caller-supplied refspecs. After a
// push it instead delegates to the push engine's bookkeeping.
func (r *Remote) UpdateTips(callbacks *Callbacks, updateFetchHead bool, downloadTags TagFetchMode, reflogMessage string) error {
	// A push carries its own per-reference results.
	if r.push != nil {
		return r.push.UpdateTips(callbacks)
	}

	if r.repo == nil {
		return DetachedOperationError{Operation: "update tips for"}
	}

	tagspec, err := refspec.Parse(refspec.TagsRefspec, true)
	if err != nil {
		return err
	}

	heads, err := r.Ls()
	if err != nil {
		return err
	}

	tagopt := downloadTags
	if tagopt == TagFetchUnspecified {
		tagopt = r.downloadTags
	}

	if err := r.repo.FetchHead.Truncate(); err != nil {
		return err
	}

	if tagopt == TagFetchAll {
		if err := r.updateTipsForSpec(callbacks, updateFetchHead, tagopt, tagspec, heads, reflogMessage); err != nil {
			return err
		}
	}

	for _, spec := range r.activeRefspecs {
		if spec.IsPush() {
			continue
		}

		if err := r.updateTipsForSpec(callbacks, updateFetchHead, tagopt, spec, heads, reflogMessage); err != nil {
			return err
		}
	}

	// Opportunistic updates only happen when the refspec lists can differ,
	// i.e. when this fetch used caller-supplied refspecs.
	if r.passedRefspecs {
		return r.opportunisticUpdates(callbacks, heads, reflogMessage)
	}

	return nil
}

// updateTipsForSpec applies one refspec against the peer's advertisement.
func (r *Remote) updateTipsForSpec(
	callbacks *Callbacks,
	updateFetchHead bool,
	tagopt TagFetchMode,
	spec refspec.Refspec,
	heads []Head,
	logMessage string,
) error {
	tagspec, err := refspec.Parse(refspec.TagsRefspec, true)
	if err != nil {
		return err
	}

	var updateHeads []Head

	for _, head := range heads {
		// Malformed names never reach local storage. This also drops peeled
		// tag entries like "refs/tags/v1^{}".
		if git.ValidateReferenceName(head.Name) != nil {
			continue
		}

		autotag := false
		refname := ""

		if tagspec.SrcMatches(head.Name) {
			if tagopt == TagFetchNone {
				continue
			}

			if tagopt == TagFetchAuto {
				autotag = true
			}

			refname = head.Name
		}

		if !autotag && spec.SrcMatches(head.Name) {
			if spec.Destination() != "" {
				transformed, err := spec.Transform(head.Name)
				if err != nil {
					return err
				}

				refname = transformed
			} else {
				// Without a destination the reference only shows up in
				// FETCH_HEAD.
				updateHeads = append(updateHeads, head)
				continue
			}
		}

		if refname == "" {
			continue
		}

		// Auto-followed tags are only created for objects that made it into
		// the local object database. The tag is still recorded for
		// FETCH_HEAD.
		if autotag && !r.repo.Objects.Exists(head.ObjectID) {
			updateHeads = append(updateHeads, head)
			continue
		}

		if !autotag {
			updateHeads = append(updateHeads, head)
		}

		old, err := r.repo.Refs.NameToID(git.ReferenceName(refname))
		if err != nil {
			if !errors.Is(err, git.ErrReferenceNotFound) {
				return err
			}

			old = zeroOID(head.ObjectID)

			if autotag {
				updateHeads = append(updateHeads, head)
			}
		}

		if old == head.ObjectID {
			continue
		}

		// Auto-followed tags never overwrite a locally-existing tag; the
		// existing one silently wins.
		err = r.repo.Refs.Create(git.ReferenceName(refname), head.ObjectID, !autotag, logMessage)
		if errors.Is(err, git.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return err
		}

		r.logger.WithFields(map[string]any{
			"reference": refname,
			"old":       old.String(),
			"new":       head.ObjectID.String(),
		}).Debug("updated reference")

		if callbacks != nil && callbacks.UpdateTips != nil {
			if err := callbacks.UpdateTips(refname, old, head.ObjectID); err != nil {
				return err
			}
		}
	}

	if updateFetchHead {
		if err := r.writeFetchHead(spec, updateHeads); err != nil {
			return err
		}
	}

	return nil
}

// writeFetchHead emits the FETCH_HEAD entries for the refspec that drove the
// fetch.
func (r *Remote) writeFetchHead(spec refspec.Refspec, updateHeads []Head) error {
	if len(updateHeads) == 0 {
		return nil
	}

	// Only a fetch of every branch includes entries beyond the refspec's own
	// matches, e.g. auto-followed tags.
	includeAll := spec.Source() == "refs/heads/*"

	var mergeHead *Head
	var err error

	if spec.IsWildcard() {
		// A wildcard fetch merges whatever the current branch tracks.
		mergeHead, err = r.headForCurrentBranch(spec, updateHeads)
		if err != nil {
			return err
		}
	} else {
		// A single-refspec fetch merges exactly the reference it names.
		mergeHead = headForSource(updateHeads, spec.Source())
	}

	var entries []fetchhead.Entry
	for i := range updateHeads {
		head := &updateHeads[i]

		isMerge := mergeHead != nil && head.Name == mergeHead.Name
		if !includeAll && !spec.SrcMatches(head.Name) && !isMerge {
			continue
		}

		entries = append(entries, fetchhead.Entry{
			ObjectID:  head.ObjectID,
			IsMerge:   isMerge,
			RefName:   head.Name,
			RemoteURL: r.url,
		})
	}

	return r.repo.FetchHead.Write(entries)
}

// headForCurrentBranch finds the advertised head corresponding to the
// upstream of the currently checked out branch, if that upstream belongs to
// this remote and falls under the given refspec.
func (r *Remote) headForCurrentBranch(spec refspec.Refspec, updateHeads []Head) (*Head, error) {
	if r.name == "" {
		return nil, nil
	}

	headRef, err := r.repo.Refs.Lookup(git.HeadRef)
	if err != nil {
		if errors.Is(err, git.ErrReferenceNotFound) {
			return nil, nil
		}

		return nil, err
	}

	refName := ""
	resolved, err := r.repo.Refs.Resolve(git.HeadRef)
	if err != nil {
		// An unborn branch still names the branch it will become.
		if errors.Is(err, git.ErrReferenceNotFound) && headRef.IsSymbolic {
			refName = headRef.Target
		} else {
			return nil, err
		}
	} else {
		refName = resolved.Name.String()
	}

	branch, ok := git.ReferenceName(refName).Branch()
	if !ok {
		return nil, nil
	}

	upstreamRemote, err := r.repo.Config.GetString(fmt.Sprintf("branch.%s.remote", branch))
	if err != nil {
		if errors.Is(err, gitconfig.ErrNotFound) {
			return nil, nil
		}

		return nil, err
	}
	if upstreamRemote != r.name {
		return nil, nil
	}

	merge, err := r.repo.Config.GetString(fmt.Sprintf("branch.%s.merge", branch))
	if err != nil {
		if errors.Is(err, gitconfig.ErrNotFound) {
			return nil, nil
		}

		return nil, err
	}

	if !spec.SrcMatches(merge) {
		return nil, nil
	}

	return headForSource(updateHeads, merge), nil
}

// headForSource finds the advertised head with the given name.
func headForSource(updateHeads []Head, source string) *Head {
	for i := range updateHeads {
		if updateHeads[i].Name == source {
			return &updateHeads[i]
		}
	}

	return nil
}

// opportunisticUpdates moves remote-tracking branches for every advertised
// reference a configured fetch refspec covers, even though the current fetch
// asked for a narrower set. These updates never show up in FETCH_HEAD. The
// reference write is guarded against concurrent movement with a
// compare-and-set on the previously observed value.
func (r *Remote) opportunisticUpdates(callbacks *Callbacks, heads []Head, logMessage string) error {
	for _, head := range heads {
		if git.ValidateReferenceName(head.Name) != nil {
			continue
		}

		for _, passive := range r.passiveRefspecs {
			if passive.IsPush() || !passive.SrcMatches(head.Name) {
				continue
			}

			refname, err := passive.Transform(head.Name)
			if err != nil {
				return err
			}

			old, err := r.repo.Refs.NameToID(git.ReferenceName(refname))
			known := err == nil
			if err != nil && !errors.Is(err, git.ErrReferenceNotFound) {
				return err
			}
			if !known {
				old = zeroOID(head.ObjectID)
			}

			if old == head.ObjectID {
				continue
			}

			if known {
				err = r.repo.Refs.CreateMatching(git.ReferenceName(refname), head.ObjectID, old, logMessage)
			} else {
				err = r.repo.Refs.Create(git.ReferenceName(refname), head.ObjectID, true, logMessage)
			}
			// Losing the race means somebody else already moved the
			// reference; that is not this fetch's problem.
			if errors.Is(err, git.ErrAlreadyExists) {
				continue
			}
			if err != nil {
				return err
			}

			if callbacks != nil && callbacks.UpdateTips != nil {
				if err := callbacks.UpdateTips(refname, old, head.ObjectID); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// Prune deletes local references that track a reference the peer no longer
// advertises. Symbolic references are never pruned. Every deletion is
// reported through the update tips hook with a zero new object ID.
func (r *Remote) Prune(callbacks *Callbacks) error {
	if r.repo == nil {
		return DetachedOperationError{Operation: "prune"}
	}

	heads, err := r.Ls()
	if err != nil {
		return err
	}

	advertised := make(map[string]bool, len(heads))
	for _, head := range heads {
		advertised[head.Name] = true
	}

	refs, err := r.repo.Refs.List()
	if err != nil {
		return err
	}

	var candidates []string
	for _, ref := range refs {
		if _, ok := r.MatchingDstRefspec(ref.Name.String()); !ok {
			continue
		}

		candidates = append(candidates, ref.Name.String())
	}

	for _, refname := range candidates {
		// The candidate survives if any refspec maps it back onto a
		// reference the peer still has.
		keep := false
		for _, spec := range r.activeRefspecs {
			if spec.IsPush() || !spec.DstMatches(refname) {
				continue
			}

			source, err := spec.Rtransform(refname)
			if err != nil {
				return err
			}

			if advertised[source] {
				keep = true
				break
			}
		}
		if keep {
			continue
		}

		ref, err := r.repo.Refs.Lookup(git.ReferenceName(refname))
		if err != nil {
			// Already gone is exactly what pruning wants.
			if errors.Is(err, git.ErrReferenceNotFound) {
				continue
			}

			return err
		}

		if ref.IsSymbolic {
			continue
		}

		oid := git.ObjectID(ref.Target)

		if err := r.repo.Refs.Delete(ref.Name); err != nil {
			return err
		}

		r.logger.WithField("reference", refname).Debug("pruned stale remote-tracking reference")

		if callbacks != nil && callbacks.UpdateTips != nil {
			if err := callbacks.UpdateTips(refname, oid, zeroOID(oid)); err != nil {
				return err
			}
		}
	}

	return nil
}

// DefaultBranch determines the peer's default branch from its advertisement:
// the target of the HEAD symref if the peer announced one, otherwise a branch
// pointing at the same object as HEAD, preferring master.
func (r *Remote) DefaultBranch() (string, error) {
	heads, err := r.Ls()
	if err != nil {
		return "", err
	}

	if len(heads) == 0 || heads[0].Name != git.HeadRef.String() {
		return "", fmt.Errorf("%w: cannot determine the default branch", git.ErrNotFound)
	}

	if heads[0].SymrefTarget != "" {
		return heads[0].SymrefTarget, nil
	}

	// Without symref information, guess: the first branch pointing at the
	// same object as HEAD wins unless master is among the candidates.
	headOID := heads[0].ObjectID

	var guess *Head
	for i := 1; i < len(heads); i++ {
		head := &heads[i]

		if head.ObjectID != headOID || !strings.HasPrefix(head.Name, "refs/heads/") {
			continue
		}

		if guess == nil {
			guess = head
			continue
		}

		if head.Name == "refs/heads/master" {
			guess = head
			break
		}
	}

	if guess == nil {
		return "", fmt.Errorf("%w: cannot determine the default branch", git.ErrNotFound)
	}

	return guess.Name, nil
}
