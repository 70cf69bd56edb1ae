package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"alumnihub.org/internal/obs"
)

var (
	ErrInvalidInput = errors.New("rbac: invalid input")
	ErrNotFound     = errors.New("rbac: not found")
)

const reasonInsufficient = "insufficient permissions"

// Store persists role definitions. Implementations must be safe for
// concurrent use; the in-memory maps remain the source of truth for
// checks.
type Store interface {
	LoadRoles(ctx context.Context) ([]Role, error)
	SaveRole(ctx context.Context, role Role) error
	DeleteRole(ctx context.Context, roleID string) error
}

// userEntry keeps one user's record behind its own lock, so a write for
// one user never contends with reads for another.
type userEntry struct {
	mu  sync.RWMutex
	rec UserPermissions
}

// Service is the access-control engine. Role mutations are admin-triggered
// and rare; checks are hot-path reads.
type Service struct {
	rolesMu sync.RWMutex
	roles   map[string]Role

	users sync.Map // userID -> *userEntry

	store Store
}

// NewService constructs the engine. store may be nil for a purely
// in-memory deployment (tests, single instance without persistence).
func NewService(store Store) *Service {
	return &Service{
		roles: make(map[string]Role),
		store: store,
	}
}

// Load hydrates role definitions from the store. Call once at startup,
// before the service starts answering checks.
func (s *Service) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	roles, err := s.store.LoadRoles(ctx)
	if err != nil {
		return fmt.Errorf("rbac: load roles: %w", err)
	}
	s.rolesMu.Lock()
	defer s.rolesMu.Unlock()
	for _, role := range roles {
		s.roles[role.ID] = role
	}
	return nil
}

// EnsureRoles adds any of the given roles that do not exist yet. Used to
// seed built-in roles without clobbering admin-edited definitions.
func (s *Service) EnsureRoles(ctx context.Context, roles []Role) error {
	for _, role := range roles {
		s.rolesMu.RLock()
		_, exists := s.roles[role.ID]
		s.rolesMu.RUnlock()
		if exists {
			continue
		}
		if err := s.AddRole(ctx, role); err != nil {
			return err
		}
	}
	return nil
}

// AddRole upserts a role definition. Users already holding the role have
// their effective permissions recomputed.
func (s *Service) AddRole(ctx context.Context, role Role) error {
	role.ID = strings.TrimSpace(role.ID)
	role.Name = strings.TrimSpace(role.Name)
	if role.ID == "" {
		return fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	if role.Name == "" {
		return fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	for _, p := range role.Permissions {
		if strings.TrimSpace(p.Resource) == "" || strings.TrimSpace(p.Action) == "" {
			return fmt.Errorf("%w: permission resource and action are required", ErrInvalidInput)
		}
	}
	if s.store != nil {
		if err := s.store.SaveRole(ctx, role); err != nil {
			return err
		}
	}

	s.rolesMu.Lock()
	s.roles[role.ID] = role
	s.rolesMu.Unlock()

	s.recomputeUsersWithRole(role.ID)
	return nil
}

// Role returns a role definition by ID.
func (s *Service) Role(roleID string) (Role, bool) {
	s.rolesMu.RLock()
	defer s.rolesMu.RUnlock()
	role, ok := s.roles[roleID]
	return role, ok
}

// Roles lists all role definitions.
func (s *Service) Roles() []Role {
	s.rolesMu.RLock()
	defer s.rolesMu.RUnlock()
	out := make([]Role, 0, len(s.roles))
	for _, role := range s.roles {
		out = append(out, role)
	}
	return out
}

// RemoveRole deletes a role and cascades: the role is stripped from every
// user holding it and their effective permissions recomputed.
func (s *Service) RemoveRole(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}

	s.rolesMu.Lock()
	_, ok := s.roles[roleID]
	if !ok {
		s.rolesMu.Unlock()
		return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	delete(s.roles, roleID)
	s.rolesMu.Unlock()

	if s.store != nil {
		if err := s.store.DeleteRole(ctx, roleID); err != nil {
			return err
		}
	}

	s.users.Range(func(_, v any) bool {
		entry := v.(*userEntry)
		entry.mu.Lock()
		filtered := entry.rec.Roles[:0:0]
		for _, id := range entry.rec.Roles {
			if id != roleID {
				filtered = append(filtered, id)
			}
		}
		if len(filtered) != len(entry.rec.Roles) {
			entry.rec.Roles = filtered
			entry.rec.EffectivePermissions = s.computeEffective(entry.rec)
		}
		entry.mu.Unlock()
		return true
	})
	return nil
}

// AssignRoles grants the given roles to a user. Unknown roles are
// rejected so a typo cannot silently create an empty grant.
func (s *Service) AssignRoles(ctx context.Context, userID string, roleIDs []string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	roleIDs = dedupeStrings(roleIDs)
	if len(roleIDs) == 0 {
		return fmt.Errorf("%w: at least one role id is required", ErrInvalidInput)
	}
	s.rolesMu.RLock()
	for _, id := range roleIDs {
		if _, ok := s.roles[id]; !ok {
			s.rolesMu.RUnlock()
			return fmt.Errorf("%w: role %s", ErrNotFound, id)
		}
	}
	s.rolesMu.RUnlock()

	entry := s.entry(userID)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.rec.Roles = dedupeStrings(append(entry.rec.Roles, roleIDs...))
	entry.rec.EffectivePermissions = s.computeEffective(entry.rec)
	return nil
}

// RemoveRoles revokes the given roles from a user.
func (s *Service) RemoveRoles(ctx context.Context, userID string, roleIDs []string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	drop := make(map[string]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		drop[id] = struct{}{}
	}

	entry := s.entry(userID)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	filtered := entry.rec.Roles[:0:0]
	for _, id := range entry.rec.Roles {
		if _, gone := drop[id]; !gone {
			filtered = append(filtered, id)
		}
	}
	entry.rec.Roles = filtered
	entry.rec.EffectivePermissions = s.computeEffective(entry.rec)
	return nil
}

// GrantPermissions adds direct permissions to a user.
func (s *Service) GrantPermissions(ctx context.Context, userID string, perms []Permission) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	for _, p := range perms {
		if strings.TrimSpace(p.Resource) == "" || strings.TrimSpace(p.Action) == "" {
			return fmt.Errorf("%w: permission resource and action are required", ErrInvalidInput)
		}
	}

	entry := s.entry(userID)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.rec.DirectPermissions = dedupePermissions(append(entry.rec.DirectPermissions, perms...))
	entry.rec.EffectivePermissions = s.computeEffective(entry.rec)
	return nil
}

// RevokePermissions removes direct permissions matching the given
// (resource, action) pairs.
func (s *Service) RevokePermissions(ctx context.Context, userID string, perms []Permission) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	drop := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		drop[p.pairKey()] = struct{}{}
	}

	entry := s.entry(userID)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	filtered := entry.rec.DirectPermissions[:0:0]
	for _, p := range entry.rec.DirectPermissions {
		if _, gone := drop[p.pairKey()]; !gone {
			filtered = append(filtered, p)
		}
	}
	entry.rec.DirectPermissions = filtered
	entry.rec.EffectivePermissions = s.computeEffective(entry.rec)
	return nil
}

// ClearUser drops a user's authorization record entirely.
func (s *Service) ClearUser(userID string) {
	s.users.Delete(userID)
}

// Check resolves an authorization request. Resolution order, first match
// wins: direct permissions, assigned-role permissions, ancestor-role
// permissions via each role's hierarchy. It walks live role definitions
// rather than the cached effective set, so a just-mutated role is honored
// immediately.
func (s *Service) Check(req CheckRequest) CheckResult {
	required := []Permission{{Resource: req.Resource, Action: req.Action}}

	v, ok := s.users.Load(req.UserID)
	if !ok {
		obs.AuthzCheck("denied")
		return CheckResult{
			Allowed:             false,
			Reason:              reasonInsufficient,
			RequiredPermissions: required,
		}
	}
	entry := v.(*userEntry)

	entry.mu.RLock()
	rec := cloneRecord(entry.rec)
	entry.mu.RUnlock()

	for _, p := range rec.DirectPermissions {
		if p.Matches(req.Resource, req.Action, req.Context) {
			obs.AuthzCheck("allowed")
			return CheckResult{Allowed: true, UserPermissions: &rec}
		}
	}

	s.rolesMu.RLock()
	defer s.rolesMu.RUnlock()

	for _, roleID := range rec.Roles {
		role, ok := s.roles[roleID]
		if !ok {
			continue
		}
		for _, p := range role.Permissions {
			if p.Matches(req.Resource, req.Action, req.Context) {
				obs.AuthzCheck("allowed")
				return CheckResult{Allowed: true, UserPermissions: &rec}
			}
		}
	}

	for _, roleID := range rec.Roles {
		role, ok := s.roles[roleID]
		if !ok {
			continue
		}
		for _, parentID := range role.Hierarchy {
			parent, ok := s.roles[parentID]
			if !ok {
				continue
			}
			for _, p := range parent.Permissions {
				if p.Matches(req.Resource, req.Action, req.Context) {
					obs.AuthzCheck("allowed")
					return CheckResult{Allowed: true, UserPermissions: &rec}
				}
			}
		}
	}

	obs.AuthzCheck("denied")
	return CheckResult{
		Allowed:             false,
		Reason:              reasonInsufficient,
		RequiredPermissions: required,
		UserPermissions:     &rec,
	}
}

// UserPermissions returns the precomputed record for display. The
// effective set is exactly as of the last mutation.
func (s *Service) UserPermissions(userID string) (UserPermissions, bool) {
	v, ok := s.users.Load(userID)
	if !ok {
		return UserPermissions{}, false
	}
	entry := v.(*userEntry)
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return cloneRecord(entry.rec), true
}

func (s *Service) entry(userID string) *userEntry {
	if v, ok := s.users.Load(userID); ok {
		return v.(*userEntry)
	}
	v, _ := s.users.LoadOrStore(userID, &userEntry{rec: UserPermissions{UserID: userID}})
	return v.(*userEntry)
}

// computeEffective unions direct, role and ancestor-role permissions and
// deduplicates by (resource, action). Caller holds the entry lock.
func (s *Service) computeEffective(rec UserPermissions) []Permission {
	s.rolesMu.RLock()
	defer s.rolesMu.RUnlock()

	union := make([]Permission, 0, len(rec.DirectPermissions))
	union = append(union, rec.DirectPermissions...)
	for _, roleID := range rec.Roles {
		role, ok := s.roles[roleID]
		if !ok {
			continue
		}
		union = append(union, role.Permissions...)
		for _, parentID := range role.Hierarchy {
			if parent, ok := s.roles[parentID]; ok {
				union = append(union, parent.Permissions...)
			}
		}
	}
	return dedupePermissions(union)
}

// recomputeUsersWithRole refreshes effective sets after a role definition
// changed under users already holding it.
func (s *Service) recomputeUsersWithRole(roleID string) {
	s.users.Range(func(_, v any) bool {
		entry := v.(*userEntry)
		entry.mu.Lock()
		for _, id := range entry.rec.Roles {
			if id == roleID {
				entry.rec.EffectivePermissions = s.computeEffective(entry.rec)
				break
			}
		}
		entry.mu.Unlock()
		return true
	})
}

func cloneRecord(rec UserPermissions) UserPermissions {
	out := UserPermissions{UserID: rec.UserID}
	out.Roles = append([]string(nil), rec.Roles...)
	out.DirectPermissions = append([]Permission(nil), rec.DirectPermissions...)
	out.EffectivePermissions = append([]Permission(nil), rec.EffectivePermissions...)
	return out
}

func dedupePermissions(perms []Permission) []Permission {
	seen := make(map[string]struct{}, len(perms))
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		key := p.pairKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
