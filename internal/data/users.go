// Package data provides MongoDB models and stores.
package data

import (
	"context"
	"errors"

	"github.com/koomind/koomind-backend/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// UsersStore performs user DB operations.
type UsersStore struct {
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// CreateUser inserts a new user with an already-hashed password.
func (u *UsersStore) CreateUser(ctx context.Context, name, email, hashedPassword, role string) (*User, error) {
	now := timestamp()
	user := &User{
		Name:      name,
		Email:     normalize.Email(email),
		Role:      role,
		Password:  hashedPassword,
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := u.coll.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	user.ID = result.InsertedID.(bson.ObjectID)
	return user, nil
}

// GetUserByEmail finds a user by (normalized) email.
func (u *UsersStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"email": normalize.Email(email)}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByID finds a user by ObjectID.
func (u *UsersStore) GetUserByID(ctx context.Context, id bson.ObjectID) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUsersByIDs resolves many users in one round trip. Unknown ids are
// simply absent from the result.
func (u *UsersStore) GetUsersByIDs(ctx context.Context, ids []bson.ObjectID) (map[bson.ObjectID]*User, error) {
	out := make(map[bson.ObjectID]*User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	opts := options.Find().SetProjection(bson.M{"password": 0})
	cursor, err := u.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []*User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	for _, user := range users {
		out[user.ID] = user
	}
	return out, nil
}

// ListUsers returns every user ordered by name, without password hashes.
func (u *UsersStore) ListUsers(ctx context.Context) ([]*User, error) {
	return u.list(ctx, bson.M{})
}

// ListUsersByRole returns the users holding role, ordered by name.
func (u *UsersStore) ListUsersByRole(ctx context.Context, role string) ([]*User, error) {
	return u.list(ctx, bson.M{"role": role})
}

func (u *UsersStore) list(ctx context.Context, filter bson.M) ([]*User, error) {
	opts := options.Find().
		SetProjection(bson.M{"password": 0}).
		SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := u.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	users := []*User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateProfile replaces the user's self-service profile.
func (u *UsersStore) UpdateProfile(ctx context.Context, id bson.ObjectID, p Profile) (*User, error) {
	return u.findAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"profile":    p,
		"updated_at": timestamp(),
	}})
}

// UpdateUser applies an admin edit. A taken email yields ErrDuplicate.
func (u *UsersStore) UpdateUser(ctx context.Context, id bson.ObjectID, upd UserUpdate) (*User, error) {
	set := bson.M{"updated_at": timestamp()}
	if upd.Name != nil {
		set["name"] = *upd.Name
	}
	if upd.Email != nil {
		set["email"] = normalize.Email(*upd.Email)
	}
	return u.findAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set})
}

// SetPasswordByEmail stores a new password hash and revokes the user's
// refresh token.
func (u *UsersStore) SetPasswordByEmail(ctx context.Context, email, hashedPassword string) error {
	_, err := u.findAndUpdate(ctx, bson.M{"email": normalize.Email(email)}, bson.M{
		"$set":   bson.M{"password": hashedPassword, "updated_at": timestamp()},
		"$unset": bson.M{"refresh_token_id": ""},
	})
	return err
}

// SetRefreshTokenID records the jti of the user's current refresh token.
func (u *UsersStore) SetRefreshTokenID(ctx context.Context, id bson.ObjectID, jti string) error {
	res, err := u.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"refresh_token_id": jti}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes a user document.
func (u *UsersStore) DeleteUser(ctx context.Context, id bson.ObjectID) error {
	res, err := u.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (u *UsersStore) findAndUpdate(ctx context.Context, filter, update bson.M) (*User, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"password": 0})
	var user User
	err := u.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return &user, nil
}
