package realtime

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Membership is the authorization boundary for group access. The gateway
// queries it at connect time and again at every receive, so a sender who
// lost membership mid-session is cut off at the next message.
type Membership interface {
	// IsMember returns true if userID is an accepted member of groupID.
	IsMember(ctx context.Context, userID, groupID string) (bool, error)
}

// PostgresMembership checks membership via chatnform.members.
type PostgresMembership struct {
	pool   *pgxpool.Pool
	schema string
}

// MembershipOption configures PostgresMembership behavior.
type MembershipOption func(*PostgresMembership) error

// WithMembershipSchema sets the DB schema used by the membership store
// (default: "chatnform").
func WithMembershipSchema(schema string) MembershipOption {
	return func(s *PostgresMembership) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresMembership constructs a membership store backed by PostgreSQL.
func NewPostgresMembership(pool *pgxpool.Pool, opts ...MembershipOption) (*PostgresMembership, error) {
	st := &PostgresMembership{
		pool:   pool,
		schema: "chatnform",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// IsMember checks if userID is an accepted member of groupID.
func (s *PostgresMembership) IsMember(ctx context.Context, userID, groupID string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, errors.New("realtime: nil membership store")
	}
	userID = strings.TrimSpace(userID)
	groupID = strings.TrimSpace(groupID)
	if userID == "" || groupID == "" {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	members := pgIdent(s.schema, "members")

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+members+` WHERE group_id = $1 AND member_id = $2`,
		groupID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// StaticMembership is a fixed membership table for dev and tests.
type StaticMembership map[string][]string // groupID -> member userIDs

// IsMember reports whether userID appears in the group's member list.
func (m StaticMembership) IsMember(_ context.Context, userID, groupID string) (bool, error) {
	for _, u := range m[groupID] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
