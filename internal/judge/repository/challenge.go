package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	"codejudge/internal/judge/model"
)

const (
	defaultChallengeTTL      = 30 * time.Minute
	defaultChallengeEmptyTTL = 5 * time.Minute
	challengeKeyPrefix       = "challenge:meta:"
)

var (
	ErrChallengeNotFound = errors.New("challenge not found")
)

// ChallengeRepository reads challenge metadata and test cases. Challenges
// are written by the authoring service; this side only consumes them.
type ChallengeRepository interface {
	GetByID(ctx context.Context, tx db.Transaction, id string) (*model.Challenge, error)
	ListTestCases(ctx context.Context, tx db.Transaction, challengeID string) ([]model.TestCase, error)
}

type PostgresChallengeRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewChallengeRepository(database db.Database, cacheClient cache.Cache) ChallengeRepository {
	return NewChallengeRepositoryWithTTL(database, cacheClient, defaultChallengeTTL, defaultChallengeEmptyTTL)
}

func NewChallengeRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) ChallengeRepository {
	if ttl <= 0 {
		ttl = defaultChallengeTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultChallengeEmptyTTL
	}
	return &PostgresChallengeRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

func (r *PostgresChallengeRepository) GetByID(ctx context.Context, tx db.Transaction, id string) (*model.Challenge, error) {
	if r.cache != nil && tx == nil {
		challenge, err := cache.GetWithCached[model.Challenge](
			ctx,
			r.cache,
			challengeKey(id),
			r.ttl,
			r.emptyTTL,
			func(c model.Challenge) bool { return c.ID == "" },
			marshalChallenge,
			unmarshalChallenge,
			func(ctx context.Context) (model.Challenge, error) {
				challenge, err := r.getFromDB(ctx, nil, id)
				if err != nil {
					if errors.Is(err, ErrChallengeNotFound) {
						return model.Challenge{}, nil
					}
					return model.Challenge{}, err
				}
				return *challenge, nil
			},
		)
		if err != nil {
			return nil, err
		}
		if challenge.ID == "" {
			return nil, ErrChallengeNotFound
		}
		return &challenge, nil
	}
	return r.getFromDB(ctx, tx, id)
}

func (r *PostgresChallengeRepository) ListTestCases(ctx context.Context, tx db.Transaction, challengeID string) ([]model.TestCase, error) {
	query := `
		SELECT id, challenge_id, input, expected_output, is_hidden, order_index
		FROM test_cases
		WHERE challenge_id = $1
		ORDER BY order_index ASC`
	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, challengeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []model.TestCase
	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(&tc.ID, &tc.ChallengeID, &tc.Input, &tc.ExpectedOutput, &tc.IsHidden, &tc.OrderIndex); err != nil {
			return nil, err
		}
		cases = append(cases, tc)
	}
	return cases, rows.Err()
}

func (r *PostgresChallengeRepository) getFromDB(ctx context.Context, tx db.Transaction, id string) (*model.Challenge, error) {
	query := `
		SELECT id, title, description, difficulty, time_limit_ms, memory_limit_mb, status
		FROM challenges
		WHERE id = $1`
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, id)

	var c model.Challenge
	var status string
	err := row.Scan(&c.ID, &c.Title, &c.Description, &c.Difficulty, &c.TimeLimitMS, &c.MemoryLimitMB, &status)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}
	c.Status = model.ChallengeStatus(status)
	return &c, nil
}

func challengeKey(id string) string {
	return challengeKeyPrefix + id
}

func marshalChallenge(c model.Challenge) string {
	payload, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(payload)
}

func unmarshalChallenge(data string) (model.Challenge, error) {
	if data == "" {
		return model.Challenge{}, nil
	}
	var c model.Challenge
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return model.Challenge{}, err
	}
	return c, nil
}
