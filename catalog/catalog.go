/*
Package catalog loads seed data (rewards, eco-store items and opening
point grants) from YAML and writes it through the normal services.

FORMAT:
  rewards:
    - title: "10% off at GreenMart"
      reward_type: discount
      points_required: 100
      max_redemptions: 50   # optional, omit for unlimited
      expiry_days: 30       # optional
  utilities:
    - name: "Kitchen compost bin"
      category: composting
      price_points: 300
  grants:
    - user_id: demo-user
      points: 500
      description: "Welcome bonus"

RE-RUNNABLE:
  Records get name-derived UUIDs, so applying the same file twice updates
  the same rows. Grants are bonus entries carrying an idempotency key, so
  a second run does not credit anyone twice.
*/
package catalog

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/warp/wastewise/ledger"
	"github.com/warp/wastewise/rewards"
)

// namespace scopes the name-derived record ids.
var namespace = uuid.MustParse("6f1c2d4e-8a3b-4c5d-9e7f-0a1b2c3d4e5f")

type Seed struct {
	Rewards   []RewardSeed  `yaml:"rewards"`
	Utilities []UtilitySeed `yaml:"utilities"`
	Grants    []GrantSeed   `yaml:"grants"`
}

type RewardSeed struct {
	Title          string `yaml:"title"`
	Description    string `yaml:"description"`
	RewardType     string `yaml:"reward_type"`
	PointsRequired int64  `yaml:"points_required"`
	MaxRedemptions *int   `yaml:"max_redemptions"`
	ExpiryDays     int    `yaml:"expiry_days"`
	Inactive       bool   `yaml:"inactive"`
}

type UtilitySeed struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	Category     string `yaml:"category"`
	PricePoints  int64  `yaml:"price_points"`
	Availability string `yaml:"availability"`
	Inactive     bool   `yaml:"inactive"`
}

type GrantSeed struct {
	UserID      string `yaml:"user_id"`
	Points      int64  `yaml:"points"`
	Description string `yaml:"description"`
	// Key distinguishes several grants to the same user. Defaults to the
	// description.
	Key string `yaml:"key"`
}

// Load parses a seed document. Unknown fields are rejected.
func Load(r io.Reader) (*Seed, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var seed Seed
	if err := dec.Decode(&seed); err != nil {
		if err == io.EOF {
			return &seed, nil
		}
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &seed, nil
}

// LoadFile reads and parses the seed at path.
func LoadFile(path string) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Deps are the services Apply writes through.
type Deps struct {
	Catalog *rewards.Catalog
	Ledger  *ledger.Ledger
}

// Result counts what Apply wrote.
type Result struct {
	Rewards   int `json:"rewards"`
	Utilities int `json:"utilities"`
	Grants    int `json:"grants"`
}

// Apply writes every record in the seed. It stops at the first error.
func (s *Seed) Apply(ctx context.Context, deps Deps) (Result, error) {
	var res Result

	for i, rs := range s.Rewards {
		_, err := deps.Catalog.CreateReward(ctx, ledger.Reward{
			ID:             RecordID("reward", rs.Title),
			Title:          rs.Title,
			Description:    rs.Description,
			Type:           ledger.RewardType(rs.RewardType),
			PointsRequired: ledger.Points(rs.PointsRequired),
			MaxRedemptions: rs.MaxRedemptions,
			ExpiryDays:     rs.ExpiryDays,
			Active:         !rs.Inactive,
		})
		if err != nil {
			return res, fmt.Errorf("rewards[%d] %q: %w", i, rs.Title, err)
		}
		res.Rewards++
	}

	for i, us := range s.Utilities {
		_, err := deps.Catalog.CreateUtility(ctx, ledger.Utility{
			ID:           RecordID("utility", us.Name),
			Name:         us.Name,
			Description:  us.Description,
			Category:     us.Category,
			PricePoints:  ledger.Points(us.PricePoints),
			Availability: ledger.Availability(us.Availability),
			Active:       !us.Inactive,
		})
		if err != nil {
			return res, fmt.Errorf("utilities[%d] %q: %w", i, us.Name, err)
		}
		res.Utilities++
	}

	for i, g := range s.Grants {
		key := g.Key
		if key == "" {
			key = g.Description
		}
		_, err := deps.Ledger.Append(ctx, ledger.Entry{
			UserID:         ledger.UserID(g.UserID),
			Kind:           ledger.EntryBonus,
			Points:         ledger.Points(g.Points),
			Description:    g.Description,
			IdempotencyKey: "seed:" + strings.ToLower(strings.TrimSpace(key)),
		})
		if err != nil {
			return res, fmt.Errorf("grants[%d] %q: %w", i, g.UserID, err)
		}
		res.Grants++
	}

	return res, nil
}

// RecordID derives a stable id from a record kind and its name.
func RecordID(kind, name string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(kind+":"+strings.ToLower(strings.TrimSpace(name))))
}
