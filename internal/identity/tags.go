package identity

import (
	"sort"
	"strings"
)

// IsReservedTag reports whether text may only be assigned by the system.
func IsReservedTag(text string) bool {
	_, ok := reservedTagText[strings.ToLower(strings.TrimSpace(text))]
	return ok
}

// SetTag assigns a tag to target on behalf of requester. Reserved text is
// refused, a target that rejects tagging can only tag itself, and a locked
// or elevated tag can only be changed by an elevated requester.
func (r *Registry) SetTag(requester, target, text, color string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyTag
	}
	if IsReservedTag(text) {
		return ErrReservedTag
	}
	if color == "" {
		color = DefaultTagColor
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.ensure(target)
	if requester != target && t.RejectsTagging {
		return ErrRejectsTagging
	}
	if err := r.checkLockLocked(requester, t); err != nil {
		return err
	}
	t.Tag = &Tag{Text: text, Color: color}
	return nil
}

// ClearTag removes target's tag under the same lock rule as SetTag.
func (r *Registry) ClearTag(requester, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.users[target]
	if !ok || t.Tag == nil {
		return ErrNoTag
	}
	if err := r.checkLockLocked(requester, t); err != nil {
		return err
	}
	t.Tag = nil
	return nil
}

func (r *Registry) checkLockLocked(requester string, target *Identity) error {
	if !target.TagLocked && !Elevated(*target) {
		return nil
	}
	if req, ok := r.users[requester]; ok && Elevated(*req) {
		return nil
	}
	if Elevated(*target) {
		return ErrElevatedTag
	}
	return ErrTagLocked
}

// SetTagLock locks or unlocks target's tag. Only elevated requesters may.
func (r *Registry) SetTagLock(requester, target string, locked bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.users[requester]
	if !ok || !Elevated(*req) {
		return ErrNotElevated
	}
	r.ensure(target).TagLocked = locked
	return nil
}

// SetRejectsTagging opts name out of (or back into) being tagged by others.
func (r *Registry) SetRejectsTagging(name string, rejects bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ensure(name).RejectsTagging = rejects
}

// Tags returns the active tags of the given names.
func (r *Registry) Tags(names []string) map[string]Tag {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Tag, len(names))
	for _, n := range names {
		if id, ok := r.users[n]; ok && id.Tag != nil {
			out[n] = *id.Tag
		}
	}
	return out
}

// Admins returns the sorted subset of names that are effective admins.
func (r *Registry) Admins(names []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0)
	for _, n := range names {
		if id, ok := r.users[n]; ok && EffectiveAdmin(*id) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}
