package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

type document interface {
	CollectionName() string
}

// Page is one slice of a filtered collection plus the size of the whole
// filter.
type Page[D any] struct {
	Total int64 `json:"total"`
	Data  []D   `json:"data"`
}

type collection[D document] struct {
	coll *mongo.Collection
}

func collectionOf[D document](db *mongo.Database) collection[D] {
	var d D
	return collection[D]{coll: db.Collection(d.CollectionName())}
}

func (c collection[D]) insert(ctx context.Context, doc D) error {
	if _, err := c.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert into %s: %w", c.coll.Name(), err)
	}
	return nil
}

// page runs the find and the count concurrently.
func (c collection[D]) page(ctx context.Context, filter bson.M, sort bson.D, limit, skip int64) (*Page[D], error) {
	g, gctx := errgroup.WithContext(ctx)
	res := &Page[D]{Data: []D{}}

	g.Go(func() error {
		opts := options.Find().SetSort(sort).SetSkip(skip)
		if limit > 0 {
			opts.SetLimit(limit)
		}
		cur, err := c.coll.Find(gctx, filter, opts)
		if err != nil {
			return fmt.Errorf("find in %s: %w", c.coll.Name(), err)
		}
		return cur.All(gctx, &res.Data)
	})
	g.Go(func() (err error) {
		res.Total, err = c.coll.CountDocuments(gctx, filter)
		if err != nil {
			return fmt.Errorf("count in %s: %w", c.coll.Name(), err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}
