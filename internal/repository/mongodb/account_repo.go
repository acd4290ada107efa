package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/backoffice/internal/errs"
	"github.com/and161185/backoffice/internal/model"
	"github.com/and161185/backoffice/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type accountDoc struct {
	ID                  string     `bson:"_id"`
	Identifier          string     `bson:"identifier"`
	PasswordHash        string     `bson:"passwordHash"`
	Role                string     `bson:"role,omitempty"`
	ResetTokenHash      *string    `bson:"resetTokenHash,omitempty"`
	ResetTokenExpiresAt *time.Time `bson:"resetTokenExpiresAt,omitempty"`
	LastLoginAt         *time.Time `bson:"lastLoginAt,omitempty"`
	CreatedAt           time.Time  `bson:"createdAt"`
	UpdatedAt           time.Time  `bson:"updatedAt"`
}

func toDoc(a *model.Account) accountDoc {
	return accountDoc{
		ID:                  a.ID.String(),
		Identifier:          a.Identifier,
		PasswordHash:        a.PasswordHash,
		Role:                string(a.Role.OrDefault()),
		ResetTokenHash:      a.ResetTokenHash,
		ResetTokenExpiresAt: a.ResetTokenExpiresAt,
		LastLoginAt:         a.LastLoginAt,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
}

func fromDoc(d accountDoc) (*model.Account, error) {
	id, err := uuid.FromString(d.ID)
	if err != nil {
		return nil, err
	}
	return &model.Account{
		ID:                  id,
		Identifier:          d.Identifier,
		PasswordHash:        d.PasswordHash,
		Role:                model.Role(d.Role).OrDefault(),
		ResetTokenHash:      d.ResetTokenHash,
		ResetTokenExpiresAt: d.ResetTokenExpiresAt,
		LastLoginAt:         d.LastLoginAt,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}, nil
}

// AccountRepo implements AccountRepository on a MongoDB collection.
type AccountRepo struct {
	coll *mongo.Collection
	now  func() time.Time
}

var _ repository.AccountRepository = (*AccountRepo)(nil)

// NewAccountRepo constructs an account repository over db.
func NewAccountRepo(db *mongo.Database) *AccountRepo {
	return &AccountRepo{coll: db.Collection(accountsCollection), now: time.Now}
}

// Create inserts a new account document.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	now := r.now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	if _, err := r.coll.InsertOne(ctx, toDoc(a)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errs.ErrDuplicateAccount
		}
		return err
	}
	return nil
}

// GetByID loads an account by ID.
func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	return r.findOne(ctx, byID(id))
}

// GetByIdentifier loads an account by login identifier.
func (r *AccountRepo) GetByIdentifier(ctx context.Context, identifier string) (*model.Account, error) {
	return r.findOne(ctx, bson.D{{Key: "identifier", Value: identifier}})
}

func (r *AccountRepo) findOne(ctx context.Context, filter bson.D) (*model.Account, error) {
	var d accountDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return fromDoc(d)
}

// List returns all accounts ordered by identifier.
func (r *AccountRepo) List(ctx context.Context) ([]model.Account, error) {
	cur, err := r.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "identifier", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []accountDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.Account, 0, len(docs))
	for _, d := range docs {
		a, err := fromDoc(d)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

// UpdatePassword sets a new hash and drops any outstanding reset.
func (r *AccountRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return r.updateOne(ctx, byID(id), passwordUpdate(passwordHash, r.now()))
}

// SetRole changes the account role.
func (r *AccountRepo) SetRole(ctx context.Context, id uuid.UUID, role model.Role) error {
	return r.updateOne(ctx, byID(id), bson.D{{Key: "$set", Value: bson.D{
		{Key: "role", Value: string(role)},
		{Key: "updatedAt", Value: r.now().UTC()},
	}}})
}

// TouchLastLogin records a successful login.
func (r *AccountRepo) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.updateOne(ctx, byID(id), bson.D{{Key: "$set", Value: bson.D{{Key: "lastLoginAt", Value: at.UTC()}}}})
}

// SetResetToken stores the reset digest and expiry.
func (r *AccountRepo) SetResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	return r.updateOne(ctx, byID(id), bson.D{{Key: "$set", Value: bson.D{
		{Key: "resetTokenHash", Value: tokenHash},
		{Key: "resetTokenExpiresAt", Value: expiresAt.UTC()},
		{Key: "updatedAt", Value: r.now().UTC()},
	}}})
}

// ClearResetToken removes the reset pair if it still holds tokenHash.
func (r *AccountRepo) ClearResetToken(ctx context.Context, id uuid.UUID, tokenHash string) error {
	filter := bson.D{{Key: "_id", Value: id.String()}, {Key: "resetTokenHash", Value: tokenHash}}
	return r.updateOne(ctx, filter, bson.D{
		{Key: "$unset", Value: resetFields()},
		{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: r.now().UTC()}}},
	})
}

// ConsumeResetToken relies on the single-document atomicity of
// findAndModify: a second caller no longer matches the filter. On a miss
// an expired pair with the same digest is unset.
func (r *AccountRepo) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (uuid.UUID, error) {
	var d struct {
		ID string `bson:"_id"`
	}
	err := r.coll.FindOneAndUpdate(ctx,
		consumeFilter(tokenHash, now),
		passwordUpdate(passwordHash, r.now()),
		options.FindOneAndUpdate().SetProjection(bson.D{{Key: "_id", Value: 1}}),
	).Decode(&d)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return uuid.Nil, err
		}
		_, err = r.coll.UpdateOne(ctx, expiredFilter(tokenHash, now), bson.D{
			{Key: "$unset", Value: resetFields()},
			{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: r.now().UTC()}}},
		})
		if err != nil {
			return uuid.Nil, fmt.Errorf("clear expired reset: %w", err)
		}
		return uuid.Nil, errs.ErrNotFound
	}
	return uuid.FromString(d.ID)
}

func (r *AccountRepo) updateOne(ctx context.Context, filter, update bson.D) error {
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func byID(id uuid.UUID) bson.D { return bson.D{{Key: "_id", Value: id.String()}} }

func resetFields() bson.D {
	return bson.D{{Key: "resetTokenHash", Value: ""}, {Key: "resetTokenExpiresAt", Value: ""}}
}

func consumeFilter(tokenHash string, now time.Time) bson.D {
	return bson.D{
		{Key: "resetTokenHash", Value: tokenHash},
		{Key: "resetTokenExpiresAt", Value: bson.D{{Key: "$gt", Value: now.UTC()}}},
	}
}

func expiredFilter(tokenHash string, now time.Time) bson.D {
	return bson.D{
		{Key: "resetTokenHash", Value: tokenHash},
		{Key: "resetTokenExpiresAt", Value: bson.D{{Key: "$lte", Value: now.UTC()}}},
	}
}

func passwordUpdate(passwordHash string, now time.Time) bson.D {
	return bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "passwordHash", Value: passwordHash},
			{Key: "updatedAt", Value: now.UTC()},
		}},
		{Key: "$unset", Value: resetFields()},
	}
}
