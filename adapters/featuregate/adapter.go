// Package flowsgate connects the signed in user to go-featuregate. It
// derives actor claims from the user stored in the request context and
// provides a config driven gate for the signup and password reset flows.
package flowsgate

import (
	"context"
	"strings"

	auth "github.com/goliatone/go-auth-flows"
	"github.com/goliatone/go-featuregate/gate"
)

const defaultActorRefType = "user"

var roleOrder = []auth.UserRole{auth.RoleGuest, auth.RoleMember, auth.RoleAdmin, auth.RoleOwner}

// UserExtractor returns the user signed in for ctx
type UserExtractor func(context.Context) (*auth.User, bool)

// RoleMapper builds role identifiers for a user
type RoleMapper func(user *auth.User) []string

type Option func(*ClaimsProvider)

// ClaimsProvider derives feature claims from the request user
type ClaimsProvider struct {
	extractor  UserExtractor
	roleMapper RoleMapper
}

func NewClaimsProvider(opts ...Option) *ClaimsProvider {
	provider := &ClaimsProvider{
		extractor:  auth.FromContext,
		roleMapper: ImpliedRoles,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	if provider.extractor == nil {
		provider.extractor = auth.FromContext
	}
	if provider.roleMapper == nil {
		provider.roleMapper = ImpliedRoles
	}
	return provider
}

func WithUserExtractor(extractor UserExtractor) Option {
	return func(provider *ClaimsProvider) {
		provider.extractor = extractor
	}
}

func WithRoleMapper(mapper RoleMapper) Option {
	return func(provider *ClaimsProvider) {
		provider.roleMapper = mapper
	}
}

// ClaimsFromContext implements gate.ClaimsProvider. Anonymous requests
// get empty claims.
func (p *ClaimsProvider) ClaimsFromContext(ctx context.Context) (gate.ActorClaims, error) {
	if p == nil || p.extractor == nil {
		return gate.ActorClaims{}, nil
	}
	user, ok := p.extractor(ctx)
	if !ok || user == nil {
		return gate.ActorClaims{}, nil
	}
	return claimsFromUser(user, p.roleMapper), nil
}

// ClaimsFromUser builds claims with the default role mapper
func ClaimsFromUser(user *auth.User) gate.ActorClaims {
	return claimsFromUser(user, ImpliedRoles)
}

func claimsFromUser(user *auth.User, roleMapper RoleMapper) gate.ActorClaims {
	if user == nil {
		return gate.ActorClaims{}
	}
	claims := gate.ActorClaims{SubjectID: user.GetID()}
	if roleMapper != nil {
		claims.Roles = roleMapper(user)
	}
	return claims
}

// ImpliedRoles lists the user's role and every role below it, lowest
// first. An admin is also a member and a guest.
func ImpliedRoles(user *auth.User) []string {
	if user == nil || user.Role == "" {
		return nil
	}
	var roles []string
	for _, role := range roleOrder {
		if auth.RoleIsAtLeast(user.Role, role) {
			roles = append(roles, role)
		}
	}
	return roles
}

func ActorRefFromUser(user *auth.User) gate.ActorRef {
	if user == nil {
		return gate.ActorRef{}
	}
	return gate.ActorRef{
		ID:   user.GetID(),
		Type: defaultActorRefType,
		Name: user.DisplayName(),
	}
}

// ActorRefFromContext extracts an ActorRef for the signed in user
func ActorRefFromContext(ctx context.Context) (gate.ActorRef, bool) {
	user, ok := auth.FromContext(ctx)
	if !ok || user == nil {
		return gate.ActorRef{}, false
	}
	return ActorRefFromUser(user), true
}

// Rule toggles a single feature, e.g. users.signup
type Rule struct {
	Feature string `koanf:"feature"`
	Enabled bool   `koanf:"enabled"`
	// MinRole restricts an enabled feature to users holding at least this role
	MinRole string `koanf:"min_role"`
}

type GateOption func(*Gate)

// Gate is a gate.FeatureGate backed by static rules. Features without a
// rule resolve to the default, which is enabled.
type Gate struct {
	rules    map[string]Rule
	claims   gate.ClaimsProvider
	fallback bool
}

var _ gate.FeatureGate = (*Gate)(nil)
var _ gate.ClaimsProvider = (*ClaimsProvider)(nil)

// NewGate builds a gate from rules. A later rule for the same feature
// replaces an earlier one.
func NewGate(rules []Rule, opts ...GateOption) *Gate {
	g := &Gate{
		rules:    map[string]Rule{},
		claims:   NewClaimsProvider(),
		fallback: true,
	}
	for _, rule := range rules {
		if key := normalizeKey(rule.Feature); key != "" {
			g.rules[key] = rule
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// WithClaimsProvider changes how role restricted rules find the actor
func WithClaimsProvider(provider gate.ClaimsProvider) GateOption {
	return func(g *Gate) {
		if provider != nil {
			g.claims = provider
		}
	}
}

// WithDefault sets the result for features without a rule
func WithDefault(enabled bool) GateOption {
	return func(g *Gate) {
		g.fallback = enabled
	}
}

func (g *Gate) Enabled(ctx context.Context, key string, _ ...gate.ResolveOption) (bool, error) {
	rule, ok := g.rules[normalizeKey(key)]
	if !ok {
		return g.fallback, nil
	}
	if !rule.Enabled {
		return false, nil
	}
	if rule.MinRole == "" {
		return true, nil
	}

	claims, err := g.claims.ClaimsFromContext(ctx)
	if err != nil {
		return false, err
	}
	for _, role := range claims.Roles {
		if role == rule.MinRole {
			return true, nil
		}
	}
	return false, nil
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
