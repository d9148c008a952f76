package aliases

import (
	"context"

	"github.com/seventv/common/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionNameChannelAliases = mongo.CollectionName("channel_aliases")

// Instance persists one channel-name string per user. The relay resolves
// direct publish targets through it; users without a stored alias get
// the canonical channel name.
type Instance interface {
	GetChannelAlias(ctx context.Context, userID string) (string, error)
	SetChannelAlias(ctx context.Context, userID string, channel string) error
}

type Options struct {
	Mongo mongo.Instance

	// Canonical builds the default channel name for a user without an
	// alias on record.
	Canonical func(userID string) string
}

func New(opt Options) Instance {
	return &inst{
		mongo:     opt.Mongo,
		canonical: opt.Canonical,
	}
}

type inst struct {
	mongo     mongo.Instance
	canonical func(userID string) string
}

type aliasDocument struct {
	UserID  string `bson:"user_id"`
	Channel string `bson:"channel"`
}

func (a *inst) GetChannelAlias(ctx context.Context, userID string) (string, error) {
	doc := aliasDocument{}

	err := a.mongo.Collection(collectionNameChannelAliases).FindOne(ctx, bson.M{
		"user_id": userID,
	}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return a.canonical(userID), nil
		}

		return "", err
	}

	if doc.Channel == "" {
		return a.canonical(userID), nil
	}

	return doc.Channel, nil
}

func (a *inst) SetChannelAlias(ctx context.Context, userID string, channel string) error {
	_, err := a.mongo.Collection(collectionNameChannelAliases).UpdateOne(ctx, bson.M{
		"user_id": userID,
	}, bson.M{"$set": aliasDocument{
		UserID:  userID,
		Channel: channel,
	}}, options.Update().SetUpsert(true))

	return err
}
