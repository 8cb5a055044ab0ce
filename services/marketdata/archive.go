package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const newsCollection = "news_articles"

// NewsArchive keeps fetched articles so the news feed survives provider outages
type NewsArchive interface {
	Save(ctx context.Context, articles []Article) error
	Latest(ctx context.Context, topic string, limit int) ([]Article, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// MongoNewsArchive stores articles in MongoDB keyed by URL
type MongoNewsArchive struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// ConnectNewsArchive connects to uri and prepares the articles collection
func ConnectNewsArchive(ctx context.Context, uri, database string) (*MongoNewsArchive, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	archive := &MongoNewsArchive{
		client:     client,
		collection: client.Database(database).Collection(newsCollection),
	}

	_, err = archive.collection.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "topic", Value: 1}, {Key: "published_at", Value: -1}},
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create news archive index")
	}

	log.Info().Str("database", database).Msg("News archive connected")
	return archive, nil
}

// Save upserts articles by URL
func (a *MongoNewsArchive) Save(ctx context.Context, articles []Article) error {
	if len(articles) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(articles))
	for _, article := range articles {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": article.URL}).
			SetReplacement(article).
			SetUpsert(true))
	}

	_, err := a.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("archive %d articles: %w", len(articles), err)
	}
	return nil
}

// Latest returns up to limit articles for topic, newest first
func (a *MongoNewsArchive) Latest(ctx context.Context, topic string, limit int) ([]Article, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "published_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := a.collection.Find(ctx, bson.M{"topic": topic}, opts)
	if err != nil {
		return nil, fmt.Errorf("find archived news: %w", err)
	}
	defer cursor.Close(ctx)

	var articles []Article
	if err := cursor.All(ctx, &articles); err != nil {
		return nil, fmt.Errorf("decode archived news: %w", err)
	}
	return articles, nil
}

// PurgeOlderThan deletes articles published before cutoff
func (a *MongoNewsArchive) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := a.collection.DeleteMany(ctx, bson.M{"published_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("purge archived news: %w", err)
	}
	return result.DeletedCount, nil
}

func (a *MongoNewsArchive) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}
